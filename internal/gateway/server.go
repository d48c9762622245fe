package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/wudi/edgegateway/internal/config"
	gwlistener "github.com/wudi/edgegateway/internal/listener"
)

// httpListener binds one configured Listener to its service's handler. TLS
// certificates are loaded once at bind time and held behind an atomic
// pointer so a future reload never interrupts an in-flight handshake.
type httpListener struct {
	id       string
	address  string
	protocol string
	server   *http.Server
	certPtr  atomic.Pointer[tls.Certificate]
	tlsCfg   *tls.Config
	ln       net.Listener
}

func newHTTPListener(l *config.Listener, handler http.Handler) (*httpListener, error) {
	hl := &httpListener{id: l.Name, address: l.Address, protocol: string(l.Protocol)}

	server := &http.Server{
		Addr:              l.Address,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if l.Protocol == config.ProtocolHTTPS {
		cert, err := tls.LoadX509KeyPair(l.SSLConfig.CertPath, l.SSLConfig.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("listener %q: load tls keypair: %w", l.Name, err)
		}
		hl.certPtr.Store(&cert)
		hl.tlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
			GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
				return hl.certPtr.Load(), nil
			},
		}
		server.TLSConfig = hl.tlsCfg
	}

	hl.server = server
	return hl, nil
}

func (h *httpListener) ID() string       { return h.id }
func (h *httpListener) Protocol() string { return h.protocol }
func (h *httpListener) Addr() string     { return h.address }

func (h *httpListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.address, err)
	}
	h.ln = ln
	if h.tlsCfg != nil {
		h.ln = tls.NewListener(ln, h.tlsCfg)
	}
	if err := h.server.Serve(h.ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *httpListener) Stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// ReloadTLSCert hot-swaps this listener's certificate without dropping
// established connections.
func (h *httpListener) ReloadTLSCert(certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("reload tls keypair: %w", err)
	}
	h.certPtr.Store(&cert)
	return nil
}

var _ gwlistener.Listener = (*httpListener)(nil)

// Gateway owns the assembled ServiceSet and the listener manager bound to
// it. Build one with NewGateway, then Start/Stop it from the process's
// main loop.
type Gateway struct {
	set     *ServiceSet
	manager *gwlistener.Manager
}

// NewGateway assembles cfg into a ServiceSet and binds every configured
// listener to its service's handler.
func NewGateway(cfg *config.Config) (*Gateway, error) {
	set, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	manager := gwlistener.NewManager()
	for _, b := range set.bindings {
		hl, err := newHTTPListener(b.listener, http.HandlerFunc(b.svc.ServeHTTP))
		if err != nil {
			return nil, err
		}
		if err := manager.Add(hl); err != nil {
			return nil, err
		}
	}
	return &Gateway{set: set, manager: manager}, nil
}

// Start begins accepting connections on every bound listener.
func (g *Gateway) Start(ctx context.Context) error {
	return g.manager.StartAll(ctx)
}

// Stop gracefully shuts down every listener and releases the service
// set's cluster resolvers.
func (g *Gateway) Stop(ctx context.Context) error {
	err := g.manager.StopAll(ctx)
	g.set.Close()
	return err
}

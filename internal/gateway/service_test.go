package gateway

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wudi/edgegateway/internal/config"
	gwplugin "github.com/wudi/edgegateway/internal/plugin"

	_ "github.com/wudi/edgegateway/internal/plugins/echo"
)

func echoPlugin(t *testing.T, statusCode int, body string) gwplugin.Plugin {
	t.Helper()
	ctor, ok := gwplugin.Default.Lookup("echo")
	if !ok {
		t.Fatal("echo plugin not registered")
	}
	cfg := []byte(fmt.Sprintf(`{"status_code": %d, "body": %q}`, statusCode, body))
	pl, err := ctor(cfg)
	if err != nil {
		t.Fatalf("echo.New: %v", err)
	}
	return pl
}

func TestServiceServeHTTPShortCircuitsOnEchoRoute(t *testing.T) {
	route := &config.Route{
		Name:       "root",
		Match:      config.MatchRule{Kind: config.MatchPrefix, Literal: "/"},
		ClusterRef: "backend",
		RoutePlugins: []*config.PluginInstance{
			{Name: "echo", Plugin: echoPlugin(t, 200, "hello")},
		},
	}
	cfg := &config.Service{
		Name:     "demo",
		Routes:   []*config.Route{route},
		Clusters: map[string]*config.Cluster{},
	}
	svc, err := newService(cfg)
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	defer svc.Close()

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", rec.Body.String())
	}
}

func TestServiceServeHTTPReturns404OnNoRouteMatch(t *testing.T) {
	cfg := &config.Service{Name: "demo", Clusters: map[string]*config.Cluster{}}
	svc, err := newService(cfg)
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	defer svc.Close()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServiceServeHTTPRoundTripsThroughStaticCluster(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ping" {
			t.Errorf("unexpected upstream path %q", r.URL.Path)
		}
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	}))
	defer upstream.Close()

	addr := strings.TrimPrefix(upstream.URL, "http://")

	route := &config.Route{
		Name:       "api",
		Match:      config.MatchRule{Kind: config.MatchPrefix, Literal: "/api"},
		ClusterRef: "backend",
	}
	cfg := &config.Service{
		Name:   "demo",
		Routes: []*config.Route{route},
		Clusters: map[string]*config.Cluster{
			"backend": {
				Name:     "backend",
				Resolver: config.ResolverStatic,
				LbPolicy: config.LbRoundRobin,
				Static:   config.StaticResolverConfig{Addresses: []string{addr}},
			},
		},
	}
	svc, err := newService(cfg)
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	defer svc.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Upstream"); got != "yes" {
		t.Fatalf("expected upstream header to be forwarded, got %q", got)
	}
	if rec.Body.String() != "pong" {
		t.Fatalf("expected body %q, got %q", "pong", rec.Body.String())
	}
}

func TestServiceServeHTTPReturns503WhenUpstreamDialFails(t *testing.T) {
	route := &config.Route{
		Name:       "api",
		Match:      config.MatchRule{Kind: config.MatchPrefix, Literal: "/"},
		ClusterRef: "backend",
	}
	cfg := &config.Service{
		Name:   "demo",
		Routes: []*config.Route{route},
		Clusters: map[string]*config.Cluster{
			"backend": {
				Name:     "backend",
				Resolver: config.ResolverStatic,
				LbPolicy: config.LbRoundRobin,
				Static:   config.StaticResolverConfig{Addresses: []string{"127.0.0.1:1"}},
			},
		},
	}
	svc, err := newService(cfg)
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	defer svc.Close()

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the upstream dial fails, got %d", rec.Code)
	}
}

package cluster

import (
	"context"
	"fmt"
	"net"

	"github.com/wudi/edgegateway/internal/config"
)

// dnsResolver resolves {host, port} via system DNS on each refresh.
type dnsResolver struct {
	host string
	port int

	lookup func(ctx context.Context, host string) ([]string, error)
}

func newDNSResolver(cfg config.DnsResolverConfig) *dnsResolver {
	var resolver net.Resolver
	return &dnsResolver{
		host:   cfg.Host,
		port:   cfg.Port,
		lookup: resolver.LookupHost,
	}
}

func (r *dnsResolver) Resolve(ctx context.Context) ([]string, error) {
	addrs, err := r.lookup(ctx, r.host)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", r.host, err)
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, net.JoinHostPort(a, fmt.Sprintf("%d", r.port)))
	}
	return out, nil
}

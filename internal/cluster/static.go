package cluster

import (
	"context"

	"github.com/wudi/edgegateway/internal/config"
)

// staticResolver returns a fixed endpoint list set at config load. Its
// snapshot never changes.
type staticResolver struct {
	addresses []string
}

func newStaticResolver(cfg config.StaticResolverConfig) *staticResolver {
	return &staticResolver{addresses: cfg.Addresses}
}

func (r *staticResolver) Resolve(context.Context) ([]string, error) {
	out := make([]string, len(r.addresses))
	copy(out, r.addresses)
	return out, nil
}

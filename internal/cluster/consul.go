package cluster

import (
	"context"
	"fmt"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/wudi/edgegateway/internal/config"
)

// consulResolver resolves a cluster's endpoints from a Consul catalog
// entry, using the Health API so only (optionally) passing instances are
// returned.
type consulResolver struct {
	client      *consulapi.Client
	serviceName string
	tag         string
	onlyPassing bool
}

func newConsulResolver(cfg config.ConsulResolverConfig) (*consulResolver, error) {
	consulCfg := consulapi.DefaultConfig()
	if cfg.Address != "" {
		consulCfg.Address = cfg.Address
	}
	client, err := consulapi.NewClient(consulCfg)
	if err != nil {
		return nil, fmt.Errorf("consul: %w", err)
	}
	return &consulResolver{
		client:      client,
		serviceName: cfg.ServiceName,
		tag:         cfg.Tag,
		onlyPassing: cfg.OnlyPassing,
	}, nil
}

func (r *consulResolver) Resolve(context.Context) ([]string, error) {
	entries, _, err := r.client.Health().Service(r.serviceName, r.tag, r.onlyPassing, nil)
	if err != nil {
		return nil, fmt.Errorf("consul: discover %s: %w", r.serviceName, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		addr := e.Service.Address
		if addr == "" {
			addr = e.Node.Address
		}
		out = append(out, addr+":"+strconv.Itoa(e.Service.Port))
	}
	return out, nil
}

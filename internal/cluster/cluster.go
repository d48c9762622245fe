// Package cluster owns per-cluster endpoint resolution and selection: an
// atomically swappable EndpointSet snapshot refreshed by a pluggable
// Resolver, and endpoint selection delegated to a loadbalancer.Policy.
package cluster

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/edgegateway/internal/config"
	"github.com/wudi/edgegateway/internal/gwerrors"
	"github.com/wudi/edgegateway/internal/loadbalancer"
	"github.com/wudi/edgegateway/internal/logging"
)

// Resolver produces a cluster's current endpoint list. Static returns a
// fixed list once; Dns, Consul, and Etcd poll an external source on
// demand from the background refresh loop.
type Resolver interface {
	Resolve(ctx context.Context) ([]string, error)
}

// Cluster owns a live, atomically swappable EndpointSet and the
// load-balancing policy used to pick from it. Reads never block on the
// background refresher.
type Cluster struct {
	name     string
	resolver Resolver
	policy   loadbalancer.Policy

	snapshot atomic.Pointer[[]string]

	refreshInterval time.Duration
	stop            chan struct{}
	done            chan struct{}
}

// New builds a Cluster from its validated config, performs the first
// synchronous resolution, and starts the background refresher for
// resolvers that support periodic refresh (Dns, Consul, Etcd). Static
// clusters never refresh.
func New(cfg *config.Cluster) (*Cluster, error) {
	resolver, interval, err := buildResolver(cfg)
	if err != nil {
		return nil, err
	}

	var policy loadbalancer.Policy
	switch cfg.LbPolicy {
	case config.LbRandom:
		policy = loadbalancer.NewRandom()
	default:
		policy = loadbalancer.NewRoundRobin()
	}

	c := &Cluster{
		name:            cfg.Name,
		resolver:        resolver,
		policy:          policy,
		refreshInterval: interval,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}

	empty := []string{}
	c.snapshot.Store(&empty)

	initial, err := resolver.Resolve(context.Background())
	if err != nil {
		logging.Warn("initial cluster resolution failed", zap.String("cluster", cfg.Name), zap.Error(err))
	} else {
		c.snapshot.Store(&initial)
	}

	if cfg.Resolver != config.ResolverStatic {
		go c.refreshLoop()
	}

	return c, nil
}

func buildResolver(cfg *config.Cluster) (Resolver, time.Duration, error) {
	switch cfg.Resolver {
	case config.ResolverStatic:
		return newStaticResolver(cfg.Static), 0, nil
	case config.ResolverDNS:
		interval := cfg.Dns.RefreshInterval
		if interval == 0 {
			interval = 10 * time.Second
		}
		return newDNSResolver(cfg.Dns), interval, nil
	case config.ResolverConsul:
		interval := cfg.Consul.RefreshInterval
		if interval == 0 {
			interval = 10 * time.Second
		}
		r, err := newConsulResolver(cfg.Consul)
		return r, interval, err
	case config.ResolverEtcd:
		interval := cfg.Etcd.RefreshInterval
		if interval == 0 {
			interval = 10 * time.Second
		}
		r, err := newEtcdResolver(cfg.Etcd)
		return r, interval, err
	default:
		return nil, 0, &gwerrors.ConfigError{Message: "unknown resolver kind"}
	}
}

// refreshLoop periodically re-resolves the cluster's endpoints and
// publishes a new snapshot. A failed refresh keeps the prior snapshot in
// place and logs a ResolveError; the snapshot is never replaced with an
// empty list unless the resolver itself reports an empty list
// successfully.
func (c *Cluster) refreshLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			endpoints, err := c.resolver.Resolve(context.Background())
			if err != nil {
				logging.Warn("cluster refresh failed, keeping prior snapshot",
					zap.String("cluster", c.name), zap.Error(&gwerrors.ResolveError{Cluster: c.name, Cause: err}))
				continue
			}
			c.snapshot.Store(&endpoints)
		}
	}
}

// Close stops the background refresher, if any. Safe to call on a Static
// cluster, which never started one.
func (c *Cluster) Close() {
	select {
	case <-c.stop:
		return
	default:
		close(c.stop)
	}
}

// PickEndpoint selects one endpoint from the current snapshot, observing
// exactly one atomic load for the decision.
func (c *Cluster) PickEndpoint() (string, error) {
	snap := c.snapshot.Load()
	if snap == nil || len(*snap) == 0 {
		return "", &gwerrors.NoEndpointsAvailable{Cluster: c.name}
	}
	return c.policy.Pick(*snap), nil
}

// Snapshot returns the current endpoint list, mainly for tests and
// diagnostics.
func (c *Cluster) Snapshot() []string {
	snap := c.snapshot.Load()
	if snap == nil {
		return nil
	}
	out := make([]string, len(*snap))
	copy(out, *snap)
	return out
}

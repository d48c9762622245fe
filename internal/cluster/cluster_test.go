package cluster

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wudi/edgegateway/internal/config"
	"github.com/wudi/edgegateway/internal/gwerrors"
	"github.com/wudi/edgegateway/internal/loadbalancer"
)

func TestStaticClusterPicksConfiguredEndpoints(t *testing.T) {
	c, err := New(&config.Cluster{
		Name:     "static",
		Resolver: config.ResolverStatic,
		Static:   config.StaticResolverConfig{Addresses: []string{"10.0.0.1:80"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	got, err := c.PickEndpoint()
	if err != nil {
		t.Fatalf("PickEndpoint: %v", err)
	}
	if got != "10.0.0.1:80" {
		t.Fatalf("expected 10.0.0.1:80, got %s", got)
	}
}

func TestPickEndpointFailsWhenSnapshotEmpty(t *testing.T) {
	c := &Cluster{name: "empty", policy: loadbalancer.NewRoundRobin()}
	empty := []string{}
	c.snapshot.Store(&empty)

	_, err := c.PickEndpoint()
	if err == nil {
		t.Fatal("expected NoEndpointsAvailable")
	}
	if _, ok := err.(*gwerrors.NoEndpointsAvailable); !ok {
		t.Fatalf("expected *gwerrors.NoEndpointsAvailable, got %T", err)
	}
}

// flakyResolver fails until told to succeed, simulating a DNS cluster that
// starts with no healthy answer and recovers on a later refresh.
type flakyResolver struct {
	mu      sync.Mutex
	healthy bool
	calls   atomic.Int32
}

func (r *flakyResolver) Resolve(context.Context) ([]string, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.healthy {
		return nil, context.DeadlineExceeded
	}
	return []string{"10.0.0.5:80"}, nil
}

func (r *flakyResolver) setHealthy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy = true
}

func TestClusterRecoversAfterResolverFailsThenSucceeds(t *testing.T) {
	resolver := &flakyResolver{}
	c := &Cluster{
		name:            "dns",
		resolver:        resolver,
		policy:          loadbalancer.NewRoundRobin(),
		refreshInterval: 10 * time.Millisecond,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	empty := []string{}
	c.snapshot.Store(&empty)

	if _, err := c.PickEndpoint(); err == nil {
		t.Fatal("expected no endpoints available before the resolver has succeeded")
	}

	go c.refreshLoop()
	defer c.Close()

	resolver.setHealthy()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := c.PickEndpoint(); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected cluster to recover an endpoint after the resolver became healthy")
}

func TestClusterKeepsPriorSnapshotOnRefreshFailure(t *testing.T) {
	resolver := &flakyResolver{healthy: true}
	c := &Cluster{
		name:            "dns",
		resolver:        resolver,
		policy:          loadbalancer.NewRoundRobin(),
		refreshInterval: 10 * time.Millisecond,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	snap, err := resolver.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	c.snapshot.Store(&snap)

	go c.refreshLoop()
	defer c.Close()

	resolver.mu.Lock()
	resolver.healthy = false
	resolver.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	got, err := c.PickEndpoint()
	if err != nil {
		t.Fatalf("expected prior snapshot to be retained, got error: %v", err)
	}
	if got != "10.0.0.5:80" {
		t.Fatalf("expected prior endpoint retained, got %s", got)
	}
}

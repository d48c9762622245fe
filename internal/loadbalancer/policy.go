// Package loadbalancer implements the two load-balancing policies a
// cluster may select over its current endpoint snapshot: round-robin and
// random. Both operate purely on a slice of addresses handed to them at
// selection time; a cluster owns the atomic endpoint snapshot itself (see
// internal/cluster), so a Policy never touches shared state except its
// own per-policy counter.
package loadbalancer

import (
	"math/rand/v2"
	"sync/atomic"
)

// Policy picks one endpoint out of a non-empty snapshot. Callers must not
// pass an empty slice; the cluster layer is responsible for returning
// NoEndpointsAvailable before calling Pick.
type Policy interface {
	Pick(endpoints []string) string
}

// RoundRobin selects endpoints in turn using a monotonically incrementing
// atomic counter, matching the counter-and-modulo pattern used for the
// teacher's own round-robin balancer. The counter is never reset when the
// snapshot changes; a stale counter value modulo a new length still
// yields a valid index.
type RoundRobin struct {
	counter atomic.Uint64
}

// NewRoundRobin returns a fresh round-robin policy with its counter at
// zero.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

// Pick returns endpoints[counter mod len(endpoints)] and advances the
// counter. Safe for concurrent use.
func (rr *RoundRobin) Pick(endpoints []string) string {
	idx := rr.counter.Add(1) - 1
	return endpoints[idx%uint64(len(endpoints))]
}

// Random selects uniformly from the snapshot using a goroutine-safe PRNG.
type Random struct{}

// NewRandom returns a random policy. It carries no state: math/rand/v2's
// top-level functions are already safe for concurrent use.
func NewRandom() *Random { return &Random{} }

// Pick returns a uniformly random endpoint from the snapshot.
func (Random) Pick(endpoints []string) string {
	return endpoints[rand.IntN(len(endpoints))]
}

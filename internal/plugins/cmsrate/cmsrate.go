// Package cmsrate implements the "cms_rate" reference plugin: a
// count-min-sketch based rate limiter keyed by a fingerprint of the
// request (client IP by default). It hashes fingerprints with xxhash,
// and reuses the atomic snapshot-swap publication pattern used for
// cluster endpoint sets to roll the sketch over at window boundaries
// without locking request-path readers.
package cmsrate

import (
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-yaml"

	"github.com/wudi/edgegateway/internal/plugin"
)

func init() {
	plugin.MustRegister("cms_rate", New)
}

const (
	defaultWidth = 2048
	defaultDepth = 4
)

// Config is the cms_rate plugin's YAML schema.
type Config struct {
	Total    uint32 `yaml:"total"`
	Interval string `yaml:"interval"`
	Width    uint32 `yaml:"width"`
	Depth    uint32 `yaml:"depth"`
	// HeaderKey, if set, fingerprints requests by this header's value
	// instead of the client IP.
	HeaderKey string `yaml:"header_key"`
}

// Plugin is the constructed cms_rate plugin value.
type Plugin struct {
	plugin.Base

	total     uint32
	interval  time.Duration
	width     uint32
	depth     uint32
	headerKey string

	window atomic.Pointer[windowState]
}

type windowState struct {
	startedAt time.Time
	sketch    *sketch
}

// New constructs a cms_rate plugin from its raw YAML config fragment.
func New(raw yaml.RawMessage) (plugin.Plugin, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("cms_rate: %w", err)
	}
	if cfg.Total == 0 {
		return nil, fmt.Errorf("cms_rate: total must be > 0")
	}
	if cfg.Interval == "" {
		return nil, fmt.Errorf("cms_rate: interval is required")
	}
	interval, err := time.ParseDuration(cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("cms_rate: invalid interval %q: %w", cfg.Interval, err)
	}
	width, depth := cfg.Width, cfg.Depth
	if width == 0 {
		width = defaultWidth
	}
	if depth == 0 {
		depth = defaultDepth
	}

	p := &Plugin{
		total:     cfg.Total,
		interval:  interval,
		width:     width,
		depth:     depth,
		headerKey: cfg.HeaderKey,
	}
	p.window.Store(&windowState{startedAt: time.Now(), sketch: newSketch(width, depth)})
	return p, nil
}

// RequestFilter increments the sketch for the request's fingerprint and
// short-circuits with 429 once the estimate exceeds the configured total
// within the current window.
func (p *Plugin) RequestFilter(sess plugin.Session, _ *plugin.Ctx) (plugin.FilterResult, error) {
	st := p.currentWindow()
	key := p.fingerprint(sess.Request())
	estimate := st.sketch.incrementAndEstimate(key)
	if estimate > p.total {
		sess.Respond(http.StatusTooManyRequests, nil, []byte("rate limit exceeded"))
		return plugin.Responded, nil
	}
	return plugin.Continue, nil
}

// currentWindow returns the active window, rolling over to a fresh sketch
// if the interval has elapsed. Concurrent callers race harmlessly on the
// CompareAndSwap; exactly one installs the new window, the rest observe it.
func (p *Plugin) currentWindow() *windowState {
	st := p.window.Load()
	if time.Since(st.startedAt) < p.interval {
		return st
	}
	fresh := &windowState{startedAt: time.Now(), sketch: newSketch(p.width, p.depth)}
	if p.window.CompareAndSwap(st, fresh) {
		return fresh
	}
	return p.window.Load()
}

func (p *Plugin) fingerprint(r *http.Request) string {
	if p.headerKey != "" {
		if v := r.Header.Get(p.headerKey); v != "" {
			return v
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		host = "unknown"
	}
	return host
}

// sketch is a count-min sketch of depth independent rows of width cells
// each, updated with atomic increments so it is safe for concurrent use
// across requests without locking.
type sketch struct {
	width, depth uint32
	cells        []atomic.Uint32 // depth*width cells, row-major
}

func newSketch(width, depth uint32) *sketch {
	return &sketch{
		width: width,
		depth: depth,
		cells: make([]atomic.Uint32, uint64(width)*uint64(depth)),
	}
}

// incrementAndEstimate increments the counter for key in every row and
// returns the minimum of the post-increment counts across rows, the
// standard count-min-sketch point estimate. The estimate only ever
// overestimates the true count, which is the expected and acceptable
// behavior for this limiter.
func (s *sketch) incrementAndEstimate(key string) uint32 {
	h1 := xxhash.Sum64String(key)
	h2 := xxhash.Sum64String(key + "\x00cms")

	var min uint32
	for row := uint32(0); row < s.depth; row++ {
		idx := s.cellIndex(row, h1, h2)
		v := s.cells[idx].Add(1)
		if row == 0 || v < min {
			min = v
		}
	}
	return min
}

// cellIndex derives the column for a row via double hashing (h1 + row*h2),
// avoiding the need for depth independent hash functions.
func (s *sketch) cellIndex(row uint32, h1, h2 uint64) uint64 {
	col := (h1 + uint64(row)*h2) % uint64(s.width)
	return uint64(row)*uint64(s.width) + col
}

// Package circuitbreak implements an optional "circuit_break" plugin: it
// rejects requests with 503 while the breaker is open, and records
// upstream outcomes from response_filter to drive the breaker's state
// machine. Built on sony/gobreaker/v2.
package circuitbreak

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/sony/gobreaker/v2"

	gwplugin "github.com/wudi/edgegateway/internal/plugin"
)

func init() {
	gwplugin.MustRegister("circuit_break", New)
}

// Config is the circuit_break plugin's YAML schema.
type Config struct {
	FailureThreshold uint32 `yaml:"failure_threshold"`
	MaxRequests      uint32 `yaml:"max_requests"`
	OpenTimeout      string `yaml:"open_timeout"`
}

// Plugin is the constructed circuit_break plugin value. It uses a
// two-step breaker because admission (request_filter) and outcome
// recording (response_filter) happen in two different hooks of the same
// request rather than inside one synchronous call.
type Plugin struct {
	gwplugin.Base
	cb *gobreaker.TwoStepCircuitBreaker[struct{}]
}

// New constructs a circuit_break plugin from its raw YAML config
// fragment.
func New(raw yaml.RawMessage) (gwplugin.Plugin, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("circuit_break: %w", err)
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := 30 * time.Second
	if cfg.OpenTimeout != "" {
		d, err := time.ParseDuration(cfg.OpenTimeout)
		if err != nil {
			return nil, fmt.Errorf("circuit_break: invalid open_timeout: %w", err)
		}
		timeout = d
	}
	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}

	settings := gobreaker.Settings{
		MaxRequests: maxRequests,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}
	return &Plugin{cb: gobreaker.NewTwoStepCircuitBreaker[struct{}](settings)}, nil
}

// RequestFilter rejects the request immediately if the breaker will not
// allow a call through right now, and otherwise stashes the "done"
// callback for ResponseFilter to invoke with the real outcome.
func (p *Plugin) RequestFilter(sess gwplugin.Session, ctx *gwplugin.Ctx) (gwplugin.FilterResult, error) {
	done, err := p.cb.Allow()
	if err != nil {
		sess.Respond(http.StatusServiceUnavailable, nil, []byte("circuit breaker open"))
		return gwplugin.Responded, nil
	}
	ctx.Set("circuit_break.done", done)
	return gwplugin.Continue, nil
}

// ResponseFilter records the upstream outcome: a 5xx status counts as a
// breaker failure, anything else a success.
func (p *Plugin) ResponseFilter(sess gwplugin.Session, _ http.Header, ctx *gwplugin.Ctx) error {
	v, ok := ctx.Get("circuit_break.done")
	if !ok {
		return nil
	}
	done := v.(func(error))
	resp := sess.UpstreamResponse()
	var outcome error
	switch {
	case resp == nil:
		outcome = errors.New("no upstream response")
	case resp.StatusCode >= 500:
		outcome = fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	done(outcome)
	return nil
}

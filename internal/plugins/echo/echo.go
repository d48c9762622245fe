// Package echo implements the "echo" reference plugin: it answers every
// request directly from request_filter with a configured status, body,
// and header set, short-circuiting the pipeline before the upstream is
// ever contacted.
package echo

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-yaml"

	"github.com/wudi/edgegateway/internal/plugin"
)

func init() {
	plugin.MustRegister("echo", New)
}

// Config is the echo plugin's YAML schema.
type Config struct {
	Body       string            `yaml:"body"`
	StatusCode int               `yaml:"status_code"`
	Headers    map[string]string `yaml:"headers"`
}

// Plugin is the constructed echo plugin value.
type Plugin struct {
	plugin.Base
	body    []byte
	status  int
	headers http.Header
}

// New constructs an echo plugin from its raw YAML config fragment.
func New(raw yaml.RawMessage) (plugin.Plugin, error) {
	cfg, err := pluginconfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.StatusCode == 0 {
		cfg.StatusCode = http.StatusOK
	}
	if cfg.StatusCode < 100 || cfg.StatusCode > 599 {
		return nil, fmt.Errorf("status_code %d out of range 100-599", cfg.StatusCode)
	}
	h := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		h.Set(k, v)
	}
	return &Plugin{body: []byte(cfg.Body), status: cfg.StatusCode, headers: h}, nil
}

func pluginconfig(raw yaml.RawMessage) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("echo: %w", err)
	}
	return cfg, nil
}

// RequestFilter answers the request directly and short-circuits.
func (p *Plugin) RequestFilter(sess plugin.Session, _ *plugin.Ctx) (plugin.FilterResult, error) {
	sess.Respond(p.status, p.headers, p.body)
	return plugin.Responded, nil
}

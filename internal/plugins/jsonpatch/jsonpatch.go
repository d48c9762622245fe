// Package jsonpatch implements an optional "json_patch" plugin that
// applies a small set of field set/delete operations to a JSON response
// body once it is fully buffered. Built on tidwall/gjson and
// tidwall/sjson for path-based JSON rewriting without a full
// unmarshal/marshal round trip.
package jsonpatch

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	gwplugin "github.com/wudi/edgegateway/internal/plugin"
)

func init() {
	gwplugin.MustRegister("json_patch", New)
}

// Config is the json_patch plugin's YAML schema.
type Config struct {
	Set    map[string]string `yaml:"set"`    // path -> literal string value
	Delete []string          `yaml:"delete"` // paths to remove
}

// Plugin is the constructed json_patch plugin value.
type Plugin struct {
	gwplugin.Base
	set    map[string]string
	delete []string
}

// New constructs a json_patch plugin from its raw YAML config fragment.
func New(raw yaml.RawMessage) (gwplugin.Plugin, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("json_patch: %w", err)
	}
	if len(cfg.Set) == 0 && len(cfg.Delete) == 0 {
		return nil, fmt.Errorf("json_patch: at least one of set or delete is required")
	}
	return &Plugin{set: cfg.Set, delete: cfg.Delete}, nil
}

const ctxBufField = "json_patch.buf"

// ResponseBodyFilter buffers the response body and, once complete,
// rewrites it in place if it is valid JSON. Non-JSON bodies pass through
// untouched.
func (p *Plugin) ResponseBodyFilter(sess gwplugin.Session, chunk []byte, endOfStream bool, ctx *gwplugin.Ctx) ([]byte, error) {
	raw, _ := ctx.Get(ctxBufField)
	b, _ := raw.(*bytes.Buffer)
	if b == nil {
		b = &bytes.Buffer{}
		ctx.Set(ctxBufField, b)
	}
	b.Write(chunk)
	if !endOfStream {
		return nil, nil
	}
	if !gjson.ValidBytes(b.Bytes()) {
		return b.Bytes(), nil
	}

	body := b.Bytes()
	var err error
	for path, value := range p.set {
		body, err = sjson.SetBytes(body, path, value)
		if err != nil {
			return nil, fmt.Errorf("json_patch: set %q: %w", path, err)
		}
	}
	for _, path := range p.delete {
		body, err = sjson.DeleteBytes(body, path)
		if err != nil {
			return nil, fmt.Errorf("json_patch: delete %q: %w", path, err)
		}
	}
	return body, nil
}

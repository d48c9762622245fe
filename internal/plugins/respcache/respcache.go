// Package respcache implements an optional "resp_cache" plugin: it serves
// a cached response by request key from request_filter, and captures a
// fresh response into the cache from response_body_filter once the
// upstream answers. Built on hashicorp/golang-lru/v2 for the underlying
// bounded cache.
package respcache

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/goccy/go-yaml"

	gwplugin "github.com/wudi/edgegateway/internal/plugin"
)

func init() {
	gwplugin.MustRegister("resp_cache", New)
}

// Config is the resp_cache plugin's YAML schema.
type Config struct {
	MaxEntries int    `yaml:"max_entries"`
	TTL        string `yaml:"ttl"`
}

type entry struct {
	status    int
	header    http.Header
	body      []byte
	expiresAt time.Time
}

// Plugin is the constructed resp_cache plugin value.
type Plugin struct {
	gwplugin.Base
	cache *lru.Cache[string, entry]
	ttl   time.Duration
}

// New constructs a resp_cache plugin from its raw YAML config fragment.
func New(raw yaml.RawMessage) (gwplugin.Plugin, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("resp_cache: %w", err)
	}
	maxEntries := cfg.MaxEntries
	if maxEntries == 0 {
		maxEntries = 1024
	}
	ttl := 30 * time.Second
	if cfg.TTL != "" {
		d, err := time.ParseDuration(cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("resp_cache: invalid ttl: %w", err)
		}
		ttl = d
	}
	c, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("resp_cache: %w", err)
	}
	return &Plugin{cache: c, ttl: ttl}, nil
}

const ctxKeyField = "resp_cache.key"

func cacheKey(r *http.Request) string {
	return r.Method + " " + r.URL.String()
}

// RequestFilter serves a cached entry directly if one exists and has not
// expired, otherwise lets the request continue and remembers the cache
// key for ResponseBodyFilter.
func (p *Plugin) RequestFilter(sess gwplugin.Session, ctx *gwplugin.Ctx) (gwplugin.FilterResult, error) {
	key := cacheKey(sess.Request())
	if e, ok := p.cache.Get(key); ok {
		if time.Now().Before(e.expiresAt) {
			sess.Respond(e.status, e.header, e.body)
			return gwplugin.Responded, nil
		}
		p.cache.Remove(key)
	}
	ctx.Set(ctxKeyField, key)
	return gwplugin.Continue, nil
}

const ctxBufField = "resp_cache.buf"

// ResponseBodyFilter accumulates the response body and, once complete,
// stores it in the cache alongside the response's status and headers.
// Responses with status 400 or above, or with no upstream response, are
// not stored.
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
	keyVal, ok := ctx.Get(ctxKeyField)
	if !ok {
		return b.Bytes(), nil
	}
	resp := sess.UpstreamResponse()
	if resp == nil || resp.StatusCode >= 400 {
		return b.Bytes(), nil
	}
	p.cache.Add(keyVal.(string), entry{
		status:    resp.StatusCode,
		header:    resp.Header.Clone(),
		body:      append([]byte(nil), b.Bytes()...),
		expiresAt: time.Now().Add(p.ttl),
	})
	return b.Bytes(), nil
}

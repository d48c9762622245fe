// Package jwtauth implements an optional "jwt_auth" plugin that validates
// a Bearer JWT on request_filter and short-circuits with 401 on failure.
// Authentication is left to plugins rather than the core, so this is one
// of several reference plugins enriching the default catalog.
package jwtauth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goccy/go-yaml"

	gwplugin "github.com/wudi/edgegateway/internal/plugin"
)

func init() {
	gwplugin.MustRegister("jwt_auth", New)
}

// Config is the jwt_auth plugin's YAML schema.
type Config struct {
	Secret       string   `yaml:"secret"`
	Audience     string   `yaml:"audience"`
	Issuer       string   `yaml:"issuer"`
	AllowedAlgs  []string `yaml:"allowed_algs"`
}

// Plugin is the constructed jwt_auth plugin value.
type Plugin struct {
	gwplugin.Base
	secret   []byte
	audience string
	issuer   string
	algs     []string
}

// New constructs a jwt_auth plugin from its raw YAML config fragment.
func New(raw yaml.RawMessage) (gwplugin.Plugin, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("jwt_auth: %w", err)
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt_auth: secret is required")
	}
	algs := cfg.AllowedAlgs
	if len(algs) == 0 {
		algs = []string{"HS256"}
	}
	return &Plugin{secret: []byte(cfg.Secret), audience: cfg.Audience, issuer: cfg.Issuer, algs: algs}, nil
}

// RequestFilter validates the request's Bearer token and stores its
// claims in the PluginCtx under "claims" for downstream plugins.
func (p *Plugin) RequestFilter(sess gwplugin.Session, ctx *gwplugin.Ctx) (gwplugin.FilterResult, error) {
	auth := sess.Request().Header.Get("Authorization")
	tokenStr, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || tokenStr == "" {
		sess.Respond(http.StatusUnauthorized, nil, []byte("missing bearer token"))
		return gwplugin.Responded, nil
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(p.algs)}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		sess.Respond(http.StatusUnauthorized, nil, []byte("invalid token"))
		return gwplugin.Responded, nil
	}

	ctx.Set("claims", claims)
	return gwplugin.Continue, nil
}

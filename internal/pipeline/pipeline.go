// Package pipeline composes a route's effective plugin chain
// (service_plugins ++ route_plugins) and drives the five lifecycle hooks
// in that order for every stage, honoring request_filter short-circuit
// and aborting on any hook error. The composition idiom generalizes the
// teacher's ordered http.Handler chain builder from wrapping a single
// handler to dispatching a named multi-hook contract.
package pipeline

import (
	"net/http"

	"github.com/wudi/edgegateway/internal/config"
	"github.com/wudi/edgegateway/internal/gwerrors"
	"github.com/wudi/edgegateway/internal/plugin"
)

// Pipeline is the compiled, ordered plugin chain for one bound route.
type Pipeline struct {
	instances []*config.PluginInstance
}

// Build concatenates a service's plugins with a route's plugins, in that
// order, per the effective chain rule.
func Build(servicePlugins, routePlugins []*config.PluginInstance) *Pipeline {
	chain := make([]*config.PluginInstance, 0, len(servicePlugins)+len(routePlugins))
	chain = append(chain, servicePlugins...)
	chain = append(chain, routePlugins...)
	return &Pipeline{instances: chain}
}

// RunRequestFilter runs request_filter across the chain in order. It
// stops and returns immediately once a plugin responds or errors.
func (p *Pipeline) RunRequestFilter(sess plugin.Session, ctx *plugin.Ctx) error {
	for _, inst := range p.instances {
		pl := inst.Plugin.(plugin.Plugin)
		result, err := pl.RequestFilter(sess, ctx)
		if err != nil {
			return &gwerrors.PluginRuntimeError{Plugin: inst.Name, Hook: "request_filter", Cause: err}
		}
		if result == plugin.Responded {
			return nil
		}
	}
	return nil
}

// RunRequestBodyFilter runs request_body_filter across the chain in
// order for one body chunk.
func (p *Pipeline) RunRequestBodyFilter(sess plugin.Session, chunk []byte, endOfStream bool, ctx *plugin.Ctx) error {
	for _, inst := range p.instances {
		pl := inst.Plugin.(plugin.Plugin)
		if err := pl.RequestBodyFilter(sess, chunk, endOfStream, ctx); err != nil {
			return &gwerrors.PluginRuntimeError{Plugin: inst.Name, Hook: "request_body_filter", Cause: err}
		}
	}
	return nil
}

// RunUpstreamRequestFilter runs upstream_request_filter across the chain
// in order, just before the request is sent upstream.
func (p *Pipeline) RunUpstreamRequestFilter(sess plugin.Session, header http.Header, ctx *plugin.Ctx) error {
	for _, inst := range p.instances {
		pl := inst.Plugin.(plugin.Plugin)
		if err := pl.UpstreamRequestFilter(sess, header, ctx); err != nil {
			return &gwerrors.PluginRuntimeError{Plugin: inst.Name, Hook: "upstream_request_filter", Cause: err}
		}
	}
	return nil
}

// RunResponseFilter runs response_filter across the chain in
// configuration order (not reversed).
func (p *Pipeline) RunResponseFilter(sess plugin.Session, header http.Header, ctx *plugin.Ctx) error {
	for _, inst := range p.instances {
		pl := inst.Plugin.(plugin.Plugin)
		if err := pl.ResponseFilter(sess, header, ctx); err != nil {
			return &gwerrors.PluginRuntimeError{Plugin: inst.Name, Hook: "response_filter", Cause: err}
		}
	}
	return nil
}

// RunResponseBodyFilter runs response_body_filter across the chain in
// configuration order for one response body chunk, threading each
// plugin's output forward as the next plugin's input. It returns the
// chunk to write downstream.
func (p *Pipeline) RunResponseBodyFilter(sess plugin.Session, chunk []byte, endOfStream bool, ctx *plugin.Ctx) ([]byte, error) {
	for _, inst := range p.instances {
		pl := inst.Plugin.(plugin.Plugin)
		out, err := pl.ResponseBodyFilter(sess, chunk, endOfStream, ctx)
		if err != nil {
			return nil, &gwerrors.PluginRuntimeError{Plugin: inst.Name, Hook: "response_body_filter", Cause: err}
		}
		chunk = out
	}
	return chunk, nil
}

// Package gateway assembles a validated config.Config into live, routable
// services and binds them to listeners, composing the route matcher,
// plugin pipeline, and cluster packages into the end-to-end request
// lifecycle.
package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wudi/edgegateway/internal/cluster"
	"github.com/wudi/edgegateway/internal/config"
	"github.com/wudi/edgegateway/internal/gwerrors"
	"github.com/wudi/edgegateway/internal/logging"
	"github.com/wudi/edgegateway/internal/pipeline"
	gwplugin "github.com/wudi/edgegateway/internal/plugin"
	"github.com/wudi/edgegateway/internal/router"
)

// service is one configured service's live runtime: its compiled matcher,
// its resolved clusters by name, and the HTTP client used to reach
// upstream endpoints.
type service struct {
	name           string
	matcher        *router.Matcher
	servicePlugins []*config.PluginInstance
	clusters       map[string]*cluster.Cluster
	upstream       *http.Client
}

func newService(cfg *config.Service) (*service, error) {
	clusters := make(map[string]*cluster.Cluster, len(cfg.Clusters))
	for name, ccfg := range cfg.Clusters {
		c, err := cluster.New(ccfg)
		if err != nil {
			return nil, err
		}
		clusters[name] = c
	}
	return &service{
		name:           cfg.Name,
		matcher:        router.Build(cfg.Routes),
		servicePlugins: cfg.ServicePlugins,
		clusters:       clusters,
		upstream: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Close releases the background resources owned by the service's
// clusters (resolver refresh loops).
func (s *service) Close() {
	for _, c := range s.clusters {
		c.Close()
	}
}

// ServeHTTP drives the full request lifecycle for one listener: route
// binding, request-side plugin hooks, endpoint selection, upstream
// dispatch, and response-side plugin hooks.
func (s *service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get("X-Request-Id")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", reqID)

	route := s.matcher.MatchRequest(r.URL.Path, r.Method, r.Header)
	if route == nil {
		gwerrors.WriteJSON(w, &gwerrors.NoRouteMatched{Path: r.URL.Path})
		return
	}

	chain := pipeline.Build(s.servicePlugins, route.RoutePlugins)
	sess := newSession(r, w)
	ctx := gwplugin.NewCtx()

	if err := chain.RunRequestFilter(sess, ctx); err != nil {
		gwerrors.WriteJSON(w, err)
		return
	}
	if sess.Responded() {
		return
	}

	reqBody, err := io.ReadAll(r.Body)
	if err != nil {
		gwerrors.WriteJSON(w, &gwerrors.PluginRuntimeError{Plugin: "engine", Hook: "request_body_filter", Cause: err})
		return
	}
	if err := chain.RunRequestBodyFilter(sess, reqBody, true, ctx); err != nil {
		gwerrors.WriteJSON(w, err)
		return
	}
	if sess.Responded() {
		return
	}

	c, ok := s.clusters[route.ClusterRef]
	if !ok {
		gwerrors.WriteJSON(w, &gwerrors.NoEndpointsAvailable{Cluster: route.ClusterRef})
		return
	}
	endpoint, err := c.PickEndpoint()
	if err != nil {
		gwerrors.WriteJSON(w, err)
		return
	}

	upstreamReq, err := buildUpstreamRequest(r.Context(), r, endpoint, reqBody)
	if err != nil {
		gwerrors.WriteJSON(w, &gwerrors.PluginRuntimeError{Plugin: "engine", Hook: "upstream_request_filter", Cause: err})
		return
	}
	if err := chain.RunUpstreamRequestFilter(sess, upstreamReq.Header, ctx); err != nil {
		gwerrors.WriteJSON(w, err)
		return
	}

	resp, err := s.upstream.Do(upstreamReq)
	if err != nil {
		logging.Warn("upstream request failed",
			zap.String("service", s.name), zap.String("endpoint", endpoint),
			zap.String("request_id", reqID), zap.Error(err))
		gwerrors.WriteJSON(w, &gwerrors.NoEndpointsAvailable{Cluster: route.ClusterRef})
		return
	}
	defer resp.Body.Close()
	sess.upstreamResp = resp

	if err := chain.RunResponseFilter(sess, resp.Header, ctx); err != nil {
		gwerrors.WriteJSON(w, err)
		return
	}
	if sess.Responded() {
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		gwerrors.WriteJSON(w, &gwerrors.PluginRuntimeError{Plugin: "engine", Hook: "response_body_filter", Cause: err})
		return
	}
	finalBody, err := chain.RunResponseBodyFilter(sess, respBody, true, ctx)
	if err != nil {
		gwerrors.WriteJSON(w, err)
		return
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Write(finalBody)
}

func buildUpstreamRequest(ctx context.Context, r *http.Request, endpoint string, body []byte) (*http.Request, error) {
	u := *r.URL
	u.Scheme = "http"
	u.Host = endpoint
	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), newBodyReader(body))
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	req.Host = r.Host
	return req, nil
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

package gateway

import (
	"net/http"

	gwplugin "github.com/wudi/edgegateway/internal/plugin"
)

// httpSession is the concrete Session implementation backed by a
// *http.Request and http.ResponseWriter pair. It buffers request and
// response bodies as a single chunk, so every body hook sees exactly one
// call with end_of_stream=true, a valid if coarse-grained chunking
// policy that leaves finer chunk granularity to future engine work.
type httpSession struct {
	req          *http.Request
	w            http.ResponseWriter
	responded    bool
	upstreamResp *http.Response
}

func newSession(r *http.Request, w http.ResponseWriter) *httpSession {
	return &httpSession{req: r, w: w}
}

func (s *httpSession) Request() *http.Request { return s.req }

func (s *httpSession) Respond(statusCode int, headers http.Header, body []byte) {
	for k, vs := range headers {
		for _, v := range vs {
			s.w.Header().Add(k, v)
		}
	}
	s.w.WriteHeader(statusCode)
	if len(body) > 0 {
		s.w.Write(body)
	}
	s.responded = true
}

func (s *httpSession) Responded() bool { return s.responded }

func (s *httpSession) UpstreamResponse() *http.Response { return s.upstreamResp }

var _ gwplugin.Session = (*httpSession)(nil)

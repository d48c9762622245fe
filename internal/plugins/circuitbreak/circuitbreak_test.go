package circuitbreak

import (
	"net/http"
	"net/http/httptest"
	"testing"

	gwplugin "github.com/wudi/edgegateway/internal/plugin"
)

type fakeSession struct {
	req          *http.Request
	responded    bool
	status       int
	upstreamResp *http.Response
}

func (s *fakeSession) Request() *http.Request { return s.req }
func (s *fakeSession) Respond(statusCode int, _ http.Header, _ []byte) {
	s.responded = true
	s.status = statusCode
}
func (s *fakeSession) Responded() bool                  { return s.responded }
func (s *fakeSession) UpstreamResponse() *http.Response { return s.upstreamResp }

var _ gwplugin.Session = (*fakeSession)(nil)

func newSession() *fakeSession {
	return &fakeSession{req: httptest.NewRequest(http.MethodGet, "/", nil)}
}

func TestCircuitBreakOpensAfterConsecutiveFailures(t *testing.T) {
	pl, err := New([]byte(`{"failure_threshold": 2, "open_timeout": "1h"}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 2; i++ {
		sess := newSession()
		ctx := gwplugin.NewCtx()
		result, err := pl.RequestFilter(sess, ctx)
		if err != nil || result != gwplugin.Continue {
			t.Fatalf("request %d: expected Continue, got %v/%v", i, result, err)
		}
		sess.upstreamResp = &http.Response{StatusCode: http.StatusInternalServerError}
		if err := pl.ResponseFilter(sess, nil, ctx); err != nil {
			t.Fatalf("ResponseFilter: %v", err)
		}
	}

	sess := newSession()
	result, err := pl.RequestFilter(sess, gwplugin.NewCtx())
	if err != nil {
		t.Fatalf("RequestFilter: %v", err)
	}
	if result != gwplugin.Responded || sess.status != http.StatusServiceUnavailable {
		t.Fatalf("expected breaker to be open (503/Responded), got %v/%d", result, sess.status)
	}
}

func TestCircuitBreakStaysClosedOnSuccess(t *testing.T) {
	pl, err := New([]byte(`{"failure_threshold": 1}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 5; i++ {
		sess := newSession()
		ctx := gwplugin.NewCtx()
		result, err := pl.RequestFilter(sess, ctx)
		if err != nil || result != gwplugin.Continue {
			t.Fatalf("request %d: expected Continue, got %v/%v", i, result, err)
		}
		sess.upstreamResp = &http.Response{StatusCode: http.StatusOK}
		if err := pl.ResponseFilter(sess, nil, ctx); err != nil {
			t.Fatalf("ResponseFilter: %v", err)
		}
	}
}

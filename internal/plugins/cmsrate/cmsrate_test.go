package cmsrate

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-yaml"

	gwplugin "github.com/wudi/edgegateway/internal/plugin"
)

type fakeSession struct {
	req       *http.Request
	responded bool
	status    int
}

func (s *fakeSession) Request() *http.Request { return s.req }
func (s *fakeSession) Respond(statusCode int, _ http.Header, _ []byte) {
	s.responded = true
	s.status = statusCode
}
func (s *fakeSession) Responded() bool                  { return s.responded }
func (s *fakeSession) UpstreamResponse() *http.Response { return nil }

var _ gwplugin.Session = (*fakeSession)(nil)

func TestCmsRateTripsAfterTotalExceeded(t *testing.T) {
	raw, err := yaml.Marshal(Config{Total: 3, Interval: "1m"})
	if err != nil {
		t.Fatal(err)
	}
	pl, err := New(raw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 1; i <= 3; i++ {
		sess := &fakeSession{req: httptest.NewRequest(http.MethodGet, "/", nil)}
		sess.req.RemoteAddr = "10.0.0.1:1234"
		result, err := pl.RequestFilter(sess, gwplugin.NewCtx())
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if result != gwplugin.Continue {
			t.Fatalf("request %d: expected Continue, got tripped early", i)
		}
	}

	sess := &fakeSession{req: httptest.NewRequest(http.MethodGet, "/", nil)}
	sess.req.RemoteAddr = "10.0.0.1:1234"
	result, err := pl.RequestFilter(sess, gwplugin.NewCtx())
	if err != nil {
		t.Fatalf("4th request: %v", err)
	}
	if result != gwplugin.Responded {
		t.Fatal("expected the 4th request from the same client to trip the limit")
	}
	if sess.status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", sess.status)
	}
}

func TestCmsRateDistinctFingerprintsDoNotShareBudget(t *testing.T) {
	raw, _ := yaml.Marshal(Config{Total: 1, Interval: "1m"})
	pl, err := New(raw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		sess := &fakeSession{req: httptest.NewRequest(http.MethodGet, "/", nil)}
		sess.req.RemoteAddr = addr
		result, err := pl.RequestFilter(sess, gwplugin.NewCtx())
		if err != nil {
			t.Fatalf("%s: %v", addr, err)
		}
		if result != gwplugin.Continue {
			t.Fatalf("%s: expected first request from a distinct client to pass", addr)
		}
	}
}

func TestCmsRateHeaderKeyOverridesFingerprint(t *testing.T) {
	raw, _ := yaml.Marshal(Config{Total: 1, Interval: "1m", HeaderKey: "X-Client-ID"})
	pl, err := New(raw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	newReq := func(clientID string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:1" // same remote addr, different header
		r.Header.Set("X-Client-ID", clientID)
		return r
	}

	sess1 := &fakeSession{req: newReq("client-a")}
	if result, err := pl.RequestFilter(sess1, gwplugin.NewCtx()); err != nil || result != gwplugin.Continue {
		t.Fatalf("client-a first request: result=%v err=%v", result, err)
	}

	sess2 := &fakeSession{req: newReq("client-b")}
	if result, err := pl.RequestFilter(sess2, gwplugin.NewCtx()); err != nil || result != gwplugin.Continue {
		t.Fatalf("client-b first request should not share client-a's budget: result=%v err=%v", result, err)
	}
}

func TestCmsRateRejectsMissingInterval(t *testing.T) {
	raw, _ := yaml.Marshal(Config{Total: 1})
	if _, err := New(raw); err == nil {
		t.Fatal("expected error for missing interval")
	}
}

func TestCmsRateWindowRollsOver(t *testing.T) {
	raw, _ := yaml.Marshal(Config{Total: 1, Interval: "10ms"})
	pl, err := New(raw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := func() *fakeSession {
		s := &fakeSession{req: httptest.NewRequest(http.MethodGet, "/", nil)}
		s.req.RemoteAddr = "10.0.0.1:1"
		return s
	}

	if result, _ := pl.RequestFilter(req(), gwplugin.NewCtx()); result != gwplugin.Continue {
		t.Fatal("expected first request to pass")
	}
	if result, _ := pl.RequestFilter(req(), gwplugin.NewCtx()); result != gwplugin.Responded {
		t.Fatal("expected second request in the same window to trip")
	}

	time.Sleep(20 * time.Millisecond)

	if result, _ := pl.RequestFilter(req(), gwplugin.NewCtx()); result != gwplugin.Continue {
		t.Fatal("expected a request in a new window to pass again")
	}
}

package compress

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	gwplugin "github.com/wudi/edgegateway/internal/plugin"
)

type fakeSession struct {
	req          *http.Request
	upstreamResp *http.Response
}

func (s *fakeSession) Request() *http.Request            { return s.req }
func (s *fakeSession) Respond(int, http.Header, []byte)  {}
func (s *fakeSession) Responded() bool                   { return false }
func (s *fakeSession) UpstreamResponse() *http.Response  { return s.upstreamResp }

var _ gwplugin.Session = (*fakeSession)(nil)

func sessionWithAcceptEncoding(enc string) *fakeSession {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if enc != "" {
		req.Header.Set("Accept-Encoding", enc)
	}
	return &fakeSession{req: req, upstreamResp: &http.Response{Header: http.Header{}}}
}

func TestCompressPassesThroughBelowMinBytes(t *testing.T) {
	pl, err := New([]byte(`{"min_bytes": 1024}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess := sessionWithAcceptEncoding("gzip")
	out, err := pl.ResponseBodyFilter(sess, []byte("tiny"), true, gwplugin.NewCtx())
	if err != nil {
		t.Fatalf("ResponseBodyFilter: %v", err)
	}
	if string(out) != "tiny" {
		t.Fatalf("expected passthrough for a body below min_bytes, got %q", out)
	}
}

func TestCompressGzipsWhenAcceptEncodingMatches(t *testing.T) {
	pl, err := New([]byte(`{"min_bytes": 1}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess := sessionWithAcceptEncoding("gzip, deflate")
	body := strings.Repeat("x", 64)

	out, err := pl.ResponseBodyFilter(sess, []byte(body), true, gwplugin.NewCtx())
	if err != nil {
		t.Fatalf("ResponseBodyFilter: %v", err)
	}
	if sess.upstreamResp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected Content-Encoding: gzip to be set")
	}

	r, err := gzip.NewReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer r.Close()
	var decoded bytes.Buffer
	if _, err := decoded.ReadFrom(r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.String() != body {
		t.Fatalf("expected round trip to recover original body, got %q", decoded.String())
	}
}

func TestCompressPassesThroughWhenNoAcceptableEncoding(t *testing.T) {
	pl, err := New([]byte(`{"min_bytes": 1}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess := sessionWithAcceptEncoding("identity")
	body := strings.Repeat("y", 64)

	out, err := pl.ResponseBodyFilter(sess, []byte(body), true, gwplugin.NewCtx())
	if err != nil {
		t.Fatalf("ResponseBodyFilter: %v", err)
	}
	if string(out) != body {
		t.Fatalf("expected passthrough when no acceptable encoding is offered, got %q", out)
	}
}

func TestCompressBuffersUntilEndOfStream(t *testing.T) {
	pl, err := New([]byte(`{"min_bytes": 1}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess := sessionWithAcceptEncoding("gzip")
	ctx := gwplugin.NewCtx()

	out, err := pl.ResponseBodyFilter(sess, []byte("partial"), false, ctx)
	if err != nil {
		t.Fatalf("ResponseBodyFilter: %v", err)
	}
	if out != nil {
		t.Fatalf("expected no output before end_of_stream, got %q", out)
	}
}

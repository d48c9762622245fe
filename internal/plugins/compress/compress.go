// Package compress implements an optional "compress" plugin that
// compresses the buffered response body in response_body_filter according
// to the downstream's Accept-Encoding header. Built on
// klauspost/compress (gzip/zstd) and andybalholm/brotli.
package compress

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/goccy/go-yaml"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	gwplugin "github.com/wudi/edgegateway/internal/plugin"
)

func init() {
	gwplugin.MustRegister("compress", New)
}

// Config is the compress plugin's YAML schema.
type Config struct {
	MinBytes int `yaml:"min_bytes"`
}

// Plugin is the constructed compress plugin value. Because
// response_body_filter is invoked per chunk, the plugin buffers the full
// body per request in the PluginCtx and only compresses once
// end_of_stream arrives, then rewrites the response in one shot on the
// final chunk.
type Plugin struct {
	gwplugin.Base
	minBytes int
}

// New constructs a compress plugin from its raw YAML config fragment.
func New(raw yaml.RawMessage) (gwplugin.Plugin, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 256
	}
	return &Plugin{minBytes: cfg.MinBytes}, nil
}

const ctxBufKey = "compress.buf"

// ResponseBodyFilter accumulates chunks in the PluginCtx and, once the
// stream ends, compresses the accumulated body in place and adjusts the
// response headers accordingly. The session implementation is expected to
// treat a non-nil returned buffer on end_of_stream as the final body.
func (p *Plugin) ResponseBodyFilter(sess gwplugin.Session, chunk []byte, endOfStream bool, ctx *gwplugin.Ctx) ([]byte, error) {
	buf, _ := ctx.Get(ctxBufKey)
	b, _ := buf.(*bytes.Buffer)
	if b == nil {
		b = &bytes.Buffer{}
		ctx.Set(ctxBufKey, b)
	}
	b.Write(chunk)
	if !endOfStream {
		return nil, nil
	}
	if b.Len() < p.minBytes {
		return b.Bytes(), nil
	}

	resp := sess.UpstreamResponse()
	var header http.Header
	if resp != nil {
		header = resp.Header
	}
	encoding := pickEncoding(sess.Request().Header.Get("Accept-Encoding"))
	if encoding == "" {
		return b.Bytes(), nil
	}

	compressed, err := compressBytes(encoding, b.Bytes())
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if header != nil {
		header.Set("Content-Encoding", encoding)
		header.Del("Content-Length")
	}
	return compressed, nil
}

func pickEncoding(acceptEncoding string) string {
	for _, want := range []string{"br", "zstd", "gzip"} {
		if strings.Contains(acceptEncoding, want) {
			return want
		}
	}
	return ""
}

func compressBytes(encoding string, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch encoding {
	case "br":
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "zstd":
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "gzip":
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	return buf.Bytes(), nil
}

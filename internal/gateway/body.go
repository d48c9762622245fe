package gateway

import (
	"bytes"
	"io"
)

// newBodyReader returns an io.Reader for an upstream request body, or nil
// when empty so http.NewRequestWithContext leaves Content-Length at zero
// rather than sending an empty chunked body.
func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}

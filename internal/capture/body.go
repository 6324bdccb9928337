package capture

import (
	"bytes"
	"io"
	"net/http"
)

// RequestBody reads up to limit bytes of r.Body and puts them back in front of
// the unread rest, so the handler still sees the full body.
func RequestBody(r *http.Request, limit int64) []byte {
	if r.Body == nil || r.Body == http.NoBody || limit <= 0 {
		return nil
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil && len(buf) == 0 {
		return nil
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	return buf
}

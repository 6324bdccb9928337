// Package capture records what a handler sends without changing what the client receives.
package capture

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
)

// MaxBody caps the bytes kept from a request or response body.
const MaxBody = 1 << 20

// Recorder decorates an http.ResponseWriter and keeps a copy of the first
// MaxBody bytes of the body.
type Recorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        []byte
	limit       int
	written     int64
}

func NewRecorder(w http.ResponseWriter) *Recorder {
	return &Recorder{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		limit:          MaxBody,
	}
}

// Write captures b and then delegates, returning the delegate's result unchanged.
func (r *Recorder) Write(b []byte) (int, error) {
	if room := r.limit - len(r.body); room > 0 {
		r.body = append(r.body, b[:min(room, len(b))]...)
	}
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

func (r *Recorder) WriteHeader(statusCode int) {
	if !r.wroteHeader {
		r.statusCode = statusCode
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *Recorder) StatusCode() int {
	return r.statusCode
}

func (r *Recorder) Body() []byte {
	return r.body
}

// ContentLength prefers the Content-Length header set by the handler over the bytes written.
func (r *Recorder) ContentLength() int64 {
	if v := r.Header().Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return r.written
}

func (r *Recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *Recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *Recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

package capture

import "github.com/gofiber/fiber/v2"

// Response is a copy of a fiber response taken once the handler chain is done.
type Response struct {
	StatusCode    int
	ContentLength int64
	Body          []byte
}

// Snapshot copies the response out of c, at most MaxBody bytes of it. fasthttp
// recycles its buffers after the handler returns, so nothing here may alias
// them. Streamed bodies are not read.
func Snapshot(c *fiber.Ctx) Response {
	resp := c.Response()
	length := int64(resp.Header.ContentLength())
	if resp.IsBodyStream() {
		return Response{StatusCode: resp.StatusCode(), ContentLength: max(length, 0)}
	}

	raw := resp.Body()
	body := append([]byte(nil), raw[:min(len(raw), MaxBody)]...)
	if length <= 0 {
		length = int64(len(raw))
	}
	return Response{
		StatusCode:    resp.StatusCode(),
		ContentLength: length,
		Body:          body,
	}
}

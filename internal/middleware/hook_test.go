package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuncerburak97/bugatlas/internal/classify"
	"github.com/tuncerburak97/bugatlas/internal/model"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	errors []model.ErrorRecord
	logs   []model.LogPayload
	panics bool
}

func (f *fakeDispatcher) DispatchError(rec model.ErrorRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, rec)
}

func (f *fakeDispatcher) DispatchLog(p model.LogPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("collector exploded")
	}
	f.logs = append(f.logs, p)
}

func newHook(d Dispatcher) *Hook {
	logger := zerolog.Nop()
	return New(classify.NewClassifier(&logger, nil), d, nil, &logger)
}

func newApp(h *Hook) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: h.ErrorHandler(nil)})
	app.Use(h.Handler())
	app.Post("/widgets", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"message": "created"})
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("database offline")
	})
	app.Get("/forbidden", func(c *fiber.Ctx) error {
		return fiber.ErrForbidden
	})
	return app
}

func TestHandlerRecordsSuccess(t *testing.T) {
	d := &fakeDispatcher{}
	app := newApp(newHook(d))

	req := httptest.NewRequest(http.MethodPost, "/widgets?debug=1", strings.NewReader(`{"sku":"widget-7"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderUserAgent, "curl/8.0")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.Len(t, d.logs, 1)
	rec, ok := d.logs[0].(model.RequestLogRecord)
	require.True(t, ok)
	assert.Equal(t, model.RecordTypeSuccess, rec.Type())
	assert.Equal(t, "POST", rec.Method)
	assert.Equal(t, "/widgets?debug=1", rec.URL)
	assert.Equal(t, "curl/8.0", rec.UserAgent)
	assert.Equal(t, map[string]any{"sku": "widget-7"}, rec.Payload)
	assert.Equal(t, "created", rec.ResponseMessage)
	assert.Equal(t, "OK", rec.StatusMessage)
	assert.Empty(t, d.errors)
}

func TestHandlerRecordsFailure(t *testing.T) {
	d := &fakeDispatcher{}
	app := newApp(newHook(d))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	require.Len(t, d.logs, 1)
	rec, ok := d.logs[0].(model.FailedRequestRecord)
	require.True(t, ok)
	assert.Equal(t, "/missing", rec.RequestURL)
	assert.Equal(t, map[string]any{"error": "not found"}, rec.Meta.Meta)
}

func TestHandlerReportsChainError(t *testing.T) {
	d := &fakeDispatcher{}
	app := newApp(newHook(d))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	require.Len(t, d.errors, 1)
	assert.Equal(t, "database offline", d.errors[0].ErrorMessage)
	require.Len(t, d.logs, 1)
	_, failed := d.logs[0].(model.FailedRequestRecord)
	assert.True(t, failed)
}

func TestErrorHandlerSkipsClientErrors(t *testing.T) {
	d := &fakeDispatcher{}
	app := newApp(newHook(d))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/forbidden", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Empty(t, d.errors)
	assert.Len(t, d.logs, 1)
}

func TestHandlerSurvivesDispatchFailure(t *testing.T) {
	d := &fakeDispatcher{panics: true}
	app := newApp(newHook(d))

	req := httptest.NewRequest(http.MethodPost, "/widgets", strings.NewReader(`{}`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"created"}`, string(body))
}

func TestHTTPDeliversAndRecords(t *testing.T) {
	d := &fakeDispatcher{}
	h := newHook(d)
	var seen string
	handler := h.HTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))

	req := httptest.NewRequest(http.MethodPut, "/widgets/7", strings.NewReader(`{"qty":3}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, `{"qty":3}`, seen)
	assert.Equal(t, `{"message":"ok"}`, w.Body.String())
	require.Len(t, d.logs, 1)
	rec, ok := d.logs[0].(model.RequestLogRecord)
	require.True(t, ok)
	assert.Equal(t, "ok", rec.ResponseMessage)
	assert.Equal(t, "203.0.113.9", rec.ClientIP)
	assert.Equal(t, "16 bytes", rec.ContentLength)
	assert.Equal(t, map[string]any{"qty": float64(3)}, rec.Payload)
}

func TestHTTPReportsPanic(t *testing.T) {
	d := &fakeDispatcher{}
	handler := newHook(d).HTTP(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("nil pointer"))
	}))

	assert.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
	require.Len(t, d.errors, 1)
	assert.Equal(t, "nil pointer", d.errors[0].ErrorMessage)
	assert.Empty(t, d.logs)
}

func TestHTTPIgnoresAbortHandler(t *testing.T) {
	d := &fakeDispatcher{}
	handler := newHook(d).HTTP(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Empty(t, d.errors)
}

func TestCaughtError(t *testing.T) {
	d := &fakeDispatcher{}

	newHook(d).CaughtError(&classify.ValidationError{Fields: []classify.FieldError{{Field: "userId", Kind: classify.KindObjectID}}})

	require.Len(t, d.errors, 1)
	assert.Equal(t, "ValidationError", d.errors[0].ErrorType)
	assert.Equal(t, "Invalid userId ID provided!", d.errors[0].ErrorMessage)
}

func TestHandlerReportsPanicAndRaisesIt(t *testing.T) {
	d := &fakeDispatcher{}
	app := fiber.New()
	app.Use(fiberrecover.New())
	app.Use(newHook(d).Handler())
	app.Get("/crash", func(c *fiber.Ctx) error {
		var counts map[string]int
		counts[c.Path()]++
		return nil
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/crash", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	require.Len(t, d.errors, 1)
	assert.Equal(t, model.DefaultErrorType, d.errors[0].ErrorType)
	assert.Contains(t, d.errors[0].ErrorMessage, "assignment to entry in nil map")
	assert.Contains(t, d.errors[0].Meta.Trace, "goroutine")
	assert.Empty(t, d.logs)
}

func TestHandlerPanicHandler(t *testing.T) {
	d := &fakeDispatcher{}
	logger := zerolog.Nop()
	var (
		mu    sync.Mutex
		value any
		stack []byte
	)
	h := New(classify.NewClassifier(&logger, nil), d, nil, &logger, WithPanicHandler(func(v any, s []byte) {
		mu.Lock()
		defer mu.Unlock()
		value, stack = v, s
	}))
	app := fiber.New()
	app.Use(h.Handler())
	app.Get("/crash", func(*fiber.Ctx) error { panic("worker crashed") })

	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/crash", nil))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "worker crashed", value)
	assert.NotEmpty(t, stack)
	assert.Empty(t, d.errors)
}

func TestHTTPPanicHandler(t *testing.T) {
	d := &fakeDispatcher{}
	logger := zerolog.Nop()
	var value any
	h := New(classify.NewClassifier(&logger, nil), d, nil, &logger, WithPanicHandler(func(v any, _ []byte) { value = v }))
	handler := h.HTTP(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))

	assert.NotPanics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, "boom", value)
	assert.Empty(t, d.errors)
}

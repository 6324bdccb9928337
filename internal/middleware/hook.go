// Package middleware instruments request handling: every completed request
// becomes a log record and every reported error an error record.
package middleware

import (
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tuncerburak97/bugatlas/internal/capture"
	"github.com/tuncerburak97/bugatlas/internal/classify"
	"github.com/tuncerburak97/bugatlas/internal/fault"
	"github.com/tuncerburak97/bugatlas/internal/metrics"
	"github.com/tuncerburak97/bugatlas/internal/model"
	"github.com/tuncerburak97/bugatlas/internal/record"
)

// Dispatcher queues records for upload. It is implemented by service.Dispatcher.
type Dispatcher interface {
	DispatchError(rec model.ErrorRecord)
	DispatchLog(p model.LogPayload)
}

type Hook struct {
	classifier *classify.Classifier
	dispatcher Dispatcher
	metrics    *metrics.MetricsCollector
	logger     *zerolog.Logger
	onPanic    func(v any, stack []byte)
}

type Option func(*Hook)

// WithPanicHandler hands a handler panic to fn, typically
// fault.Listener.HandleUncaught. Without it the panic is queued as an error
// record and raised again.
func WithPanicHandler(fn func(v any, stack []byte)) Option {
	return func(h *Hook) {
		h.onPanic = fn
	}
}

func New(classifier *classify.Classifier, dispatcher Dispatcher, m *metrics.MetricsCollector, logger *zerolog.Logger, opts ...Option) *Hook {
	if logger == nil {
		logger = &log.Logger
	}
	h := &Hook{
		classifier: classifier,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler records every request once the rest of the chain has run. An error
// from the chain goes through the app's ErrorHandler first so the record
// carries the final status. Panics are handled as in HTTP.
func (h *Hook) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		defer func() {
			if v := recover(); v != nil {
				h.panicked(v, debug.Stack())
			}
		}()

		if chainErr := c.Next(); chainErr != nil {
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		elapsed := time.Since(start)
		h.completeFiber(c, elapsed)
		return nil
	}
}

func (h *Hook) completeFiber(c *fiber.Ctx, elapsed time.Duration) {
	defer h.recoverRecord()

	req := record.RequestMeta{
		UserAgent:     utils.CopyString(c.Get(fiber.HeaderUserAgent)),
		Origin:        utils.CopyString(c.Get(fiber.HeaderOrigin)),
		Host:          utils.CopyString(c.Hostname()),
		Method:        utils.CopyString(c.Method()),
		Protocol:      utils.CopyString(c.Protocol()),
		URL:           utils.CopyString(c.OriginalURL()),
		RemoteAddress: c.Context().RemoteAddr().String(),
		ClientIP:      utils.CopyString(c.IP()),
		Body:          append([]byte(nil), c.Body()...),
	}
	resp := capture.Snapshot(c)

	h.complete(req, record.ResponseMeta{StatusCode: resp.StatusCode, ContentLength: resp.ContentLength}, resp.Body, elapsed)
}

// HTTP is the net/http form of Handler. A panic in next goes to the panic
// handler, or is reported and re-raised when there is none.
func (h *Hook) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		body := capture.RequestBody(r, capture.MaxBody)
		rec := capture.NewRecorder(w)

		defer func() {
			if v := recover(); v != nil {
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}
				h.panicked(v, debug.Stack())
			}
		}()

		next.ServeHTTP(rec, r)

		h.completeHTTP(r, body, rec, time.Since(start))
	})
}

func (h *Hook) completeHTTP(r *http.Request, body []byte, rec *capture.Recorder, elapsed time.Duration) {
	defer h.recoverRecord()

	protocol := "http"
	if r.TLS != nil {
		protocol = "https"
	}
	req := record.RequestMeta{
		UserAgent:     r.UserAgent(),
		Origin:        r.Header.Get("Origin"),
		Host:          r.Host,
		Method:        r.Method,
		Protocol:      protocol,
		URL:           r.URL.RequestURI(),
		RemoteAddress: r.RemoteAddr,
		ClientIP:      clientIP(r),
		Body:          body,
	}

	h.complete(req, record.ResponseMeta{StatusCode: rec.StatusCode(), ContentLength: rec.ContentLength()}, rec.Body(), elapsed)
}

func (h *Hook) complete(req record.RequestMeta, resp record.ResponseMeta, body []byte, elapsed time.Duration) {
	if h.metrics != nil {
		h.metrics.ObserveRequest(req.Method, resp.StatusCode, elapsed)
	}
	h.dispatcher.DispatchLog(record.BuildLogPayload(req, resp, body, elapsed))
}

func (h *Hook) panicked(v any, stack []byte) {
	if h.onPanic != nil {
		h.onPanic(v, stack)
		return
	}
	h.CaughtError(fault.NewPanicError(v, stack))
	panic(v)
}

func (h *Hook) recoverRecord() {
	if r := recover(); r != nil {
		h.logger.Error().Interface("panic", r).Msg("Error creating logs")
	}
}

// ErrorHandler reports err and then delegates to next, or to
// fiber.DefaultErrorHandler when next is nil. Client errors raised as
// *fiber.Error are not reported.
func (h *Hook) ErrorHandler(next fiber.ErrorHandler) fiber.ErrorHandler {
	if next == nil {
		next = fiber.DefaultErrorHandler
	}
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if !errors.As(err, &fe) || fe.Code >= fiber.StatusInternalServerError {
			h.CaughtError(err)
		}
		return next(c, err)
	}
}

// CaughtError classifies err and queues the resulting records.
func (h *Hook) CaughtError(err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Msg("Failed to report error")
		}
	}()
	for _, rec := range record.ErrorRecords(h.classifier.Classify(err)) {
		h.dispatcher.DispatchError(rec)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

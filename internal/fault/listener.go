// Package fault reports panics and unobserved goroutine errors, the Go
// counterparts of uncaught exceptions and unhandled rejections.
package fault

import (
	"context"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tuncerburak97/bugatlas/internal/classify"
	"github.com/tuncerburak97/bugatlas/internal/model"
	"github.com/tuncerburak97/bugatlas/internal/record"
)

// Reporter delivers error records. It is implemented by service.Dispatcher.
type Reporter interface {
	DispatchError(rec model.ErrorRecord)
	SendErrorNow(ctx context.Context, rec model.ErrorRecord) error
}

type Listener struct {
	classifier   *classify.Classifier
	reporter     Reporter
	flushTimeout time.Duration
	exit         func(code int)
	logger       *zerolog.Logger
}

type Option func(*Listener)

// WithExit replaces os.Exit, which runs after a fatal fault has been reported.
func WithExit(exit func(code int)) Option {
	return func(l *Listener) {
		l.exit = exit
	}
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

func NewListener(classifier *classify.Classifier, reporter Reporter, flushTimeout time.Duration, opts ...Option) *Listener {
	if flushTimeout <= 0 {
		flushTimeout = 5 * time.Second
	}
	l := &Listener{
		classifier:   classifier,
		reporter:     reporter,
		flushTimeout: flushTimeout,
		exit:         os.Exit,
		logger:       &log.Logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Recover must be deferred directly. A recovered panic is reported and the
// process exits with status 1.
func (l *Listener) Recover() {
	if v := recover(); v != nil {
		l.HandleUncaught(v, debug.Stack())
	}
}

// HandleUncaught reports a fatal fault synchronously, bounded by the flush
// timeout, and then terminates the process.
func (l *Listener) HandleUncaught(v any, stack []byte) {
	defer l.exit(1)
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("Failed to report uncaught panic")
		}
	}()

	err := NewPanicError(v, stack)
	l.logger.Error().Err(err).Str("stack", err.Stack()).Msg("uncaughtException")

	ctx, cancel := context.WithTimeout(context.Background(), l.flushTimeout)
	defer cancel()
	for _, rec := range record.ErrorRecords(l.classifier.Classify(err)) {
		if sendErr := l.reporter.SendErrorNow(ctx, rec); sendErr != nil {
			l.logger.Error().Err(sendErr).Str("error_type", rec.ErrorType).Msg("Failed to report uncaught panic")
		}
	}
}

// HandleRejection reports an error nobody observed. The process keeps running.
func (l *Listener) HandleRejection(err error) {
	if err == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("Failed to report unhandled rejection")
		}
	}()

	l.logger.Warn().Err(err).Msg("unhandledRejection")
	for _, rec := range record.ErrorRecords(l.classifier.Classify(err)) {
		l.reporter.DispatchError(rec)
	}
}

// Go runs fn in a new goroutine. A panic is fatal; a returned error is reported
// as an unhandled rejection.
func (l *Listener) Go(fn func() error) {
	go func() {
		defer l.Recover()
		if err := fn(); err != nil {
			l.HandleRejection(err)
		}
	}()
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tuncerburak97/bugatlas/internal/metrics"
	"github.com/tuncerburak97/bugatlas/internal/model"
)

const (
	KindError = "error"
	KindLog   = "log"
)

// Sender uploads records. It is implemented by transport.Client.
type Sender interface {
	SendError(ctx context.Context, rec model.ErrorRecord) error
	SendLog(ctx context.Context, payload model.LogPayload) error
}

// Throttle limits repeated error records.
type Throttle interface {
	Allow(ctx context.Context, rec model.ErrorRecord) bool
}

// Transformer rewrites a log payload before upload.
type Transformer interface {
	Apply(p model.LogPayload) (model.LogPayload, error)
}

type Options struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
	Throttle    Throttle
	Transformer Transformer
	Logger      *zerolog.Logger
}

type errorJob struct {
	id  string
	rec model.ErrorRecord
}

type logJob struct {
	id      string
	payload model.LogPayload
}

// Dispatcher moves records off the request path and uploads them from a pool
// of workers. Enqueueing never blocks.
type Dispatcher struct {
	sender      Sender
	credentials model.Credentials
	opts        Options
	errorChan   chan errorJob
	logChan     chan logJob
	wg          sync.WaitGroup
	done        chan struct{}
	stopOnce    sync.Once
	metrics     *metrics.MetricsCollector
	logger      *zerolog.Logger
}

// NewDispatcher starts the workers. With incomplete credentials nothing is
// uploaded; records only reach the local log. m may be nil.
func NewDispatcher(sender Sender, creds model.Credentials, m *metrics.MetricsCollector, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.Logger
	}

	d := &Dispatcher{
		sender:      sender,
		credentials: creds,
		opts:        opts,
		errorChan:   make(chan errorJob, opts.QueueSize),
		logChan:     make(chan logJob, opts.QueueSize),
		done:        make(chan struct{}),
		metrics:     m,
		logger:      logger,
	}

	for _, missing := range creds.Missing() {
		logger.Warn().Str("setting", missing).Msg("Please provide " + missing + ", records will only be logged locally")
	}

	d.startWorkers()
	return d
}

func (d *Dispatcher) Enabled() bool {
	return d.credentials.Complete()
}

func (d *Dispatcher) startWorkers() {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(2)
		go d.processErrors(i)
		go d.processLogs(i)
	}

	go d.monitorBuffers()
}

// DispatchError queues rec for upload.
func (d *Dispatcher) DispatchError(rec model.ErrorRecord) {
	job := errorJob{id: uuid.New().String(), rec: rec}
	select {
	case d.errorChan <- job:
	default:
		d.metrics.IncRecord(KindError, metrics.OutcomeDropped)
		d.logger.Warn().
			Str("job_id", job.id).
			Str("error_type", rec.ErrorType).
			Msg("Error queue full, record dropped")
	}
}

// DispatchLog queues p for upload.
func (d *Dispatcher) DispatchLog(p model.LogPayload) {
	job := logJob{id: uuid.New().String(), payload: p}
	select {
	case d.logChan <- job:
	default:
		d.metrics.IncRecord(KindLog, metrics.OutcomeDropped)
		d.logger.Warn().Str("job_id", job.id).Msg("Log queue full, record dropped")
	}
}

// SendErrorNow uploads rec on the calling goroutine. It is meant for fatal
// faults, where the process exits right after.
func (d *Dispatcher) SendErrorNow(ctx context.Context, rec model.ErrorRecord) (err error) {
	job := errorJob{id: uuid.New().String(), rec: rec}
	defer func() {
		if r := recover(); r != nil {
			d.jobPanicked(KindError, job.id, r)
			err = fmt.Errorf("send error record %s: panic: %v", job.id, r)
		}
	}()
	return d.sendError(ctx, job)
}

func (d *Dispatcher) processErrors(workerID int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			for {
				select {
				case job := <-d.errorChan:
					d.handleError(job)
				default:
					return
				}
			}
		case job := <-d.errorChan:
			d.handleError(job)
		}
	}
}

func (d *Dispatcher) processLogs(workerID int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			for {
				select {
				case job := <-d.logChan:
					d.handleLog(job)
				default:
					return
				}
			}
		case job := <-d.logChan:
			d.handleLog(job)
		}
	}
}

func (d *Dispatcher) handleError(job errorJob) {
	defer func() {
		if r := recover(); r != nil {
			d.jobPanicked(KindError, job.id, r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.SendTimeout)
	defer cancel()
	// Failures are already logged and counted.
	_ = d.sendError(ctx, job)
}

func (d *Dispatcher) sendError(ctx context.Context, job errorJob) error {
	if !d.Enabled() {
		d.metrics.IncRecord(KindError, metrics.OutcomeInert)
		d.logger.Debug().
			Str("job_id", job.id).
			Str("error_type", job.rec.ErrorType).
			Str("error_message", job.rec.ErrorMessage).
			Msg("Error record not uploaded, credentials missing")
		return nil
	}
	if d.opts.Throttle != nil && !d.opts.Throttle.Allow(ctx, job.rec) {
		d.metrics.IncRecord(KindError, metrics.OutcomeThrottled)
		d.logger.Debug().Str("job_id", job.id).Str("error_type", job.rec.ErrorType).Msg("Error record throttled")
		return nil
	}

	start := time.Now()
	err := d.sender.SendError(ctx, job.rec)
	d.metrics.ObserveDispatch(KindError, time.Since(start))
	if err != nil {
		d.metrics.IncRecord(KindError, metrics.OutcomeFailed)
		d.metrics.LogError("send_error")
		d.logger.Error().
			Err(err).
			Str("job_id", job.id).
			Str("error_type", job.rec.ErrorType).
			Msg("Error sending error to API")
		return err
	}
	d.metrics.IncRecord(KindError, metrics.OutcomeSent)
	return nil
}

func (d *Dispatcher) handleLog(job logJob) {
	defer func() {
		if r := recover(); r != nil {
			d.jobPanicked(KindLog, job.id, r)
		}
	}()
	if !d.Enabled() {
		d.metrics.IncRecord(KindLog, metrics.OutcomeInert)
		if e := d.logger.Debug(); e.Enabled() {
			data, err := json.Marshal(job.payload)
			if err != nil {
				data = []byte("null")
			}
			e.Str("job_id", job.id).RawJSON("record", data).Msg("Log record not uploaded, credentials missing")
		}
		return
	}

	payload := job.payload
	if d.opts.Transformer != nil {
		transformed, err := d.opts.Transformer.Apply(payload)
		if err != nil {
			d.metrics.LogError("transform")
			d.logger.Warn().Err(err).Str("job_id", job.id).Msg("Failed to transform log record, sending it unchanged")
		} else {
			payload = transformed
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.SendTimeout)
	defer cancel()

	start := time.Now()
	err := d.sender.SendLog(ctx, payload)
	d.metrics.ObserveDispatch(KindLog, time.Since(start))
	if err != nil {
		d.metrics.IncRecord(KindLog, metrics.OutcomeFailed)
		d.metrics.LogError("send_log")
		d.logger.Error().Err(err).Str("job_id", job.id).Msg("Error creating logs")
		return
	}
	d.metrics.IncRecord(KindLog, metrics.OutcomeSent)
}

// jobPanicked drops the record; a worker outlives any panic in a Throttle,
// Transformer or Sender.
func (d *Dispatcher) jobPanicked(kind, id string, r any) {
	d.metrics.IncRecord(kind, metrics.OutcomeFailed)
	d.metrics.LogError("panic")
	d.logger.Error().
		Interface("panic", r).
		Str("job_id", id).
		Str("kind", kind).
		Msg("Record pipeline panicked, record dropped")
}

func (d *Dispatcher) monitorBuffers() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.metrics.ObserveQueueSize(KindError, float64(len(d.errorChan)))
			d.metrics.ObserveQueueSize(KindLog, float64(len(d.logChan)))
		}
	}
}

// Shutdown stops the workers once the queued records are handled, or when ctx ends.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.done) })

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuncerburak97/bugatlas/internal/metrics"
	"github.com/tuncerburak97/bugatlas/internal/model"
)

type fakeSender struct {
	mu     sync.Mutex
	errs   []model.ErrorRecord
	logs   []model.LogPayload
	fail   error
	block  chan struct{}
	called chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{called: make(chan struct{}, 100)}
}

func (f *fakeSender) SendError(ctx context.Context, rec model.ErrorRecord) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.errs = append(f.errs, rec)
	f.mu.Unlock()
	f.called <- struct{}{}
	return f.fail
}

func (f *fakeSender) SendLog(ctx context.Context, p model.LogPayload) error {
	f.mu.Lock()
	f.logs = append(f.logs, p)
	f.mu.Unlock()
	f.called <- struct{}{}
	return f.fail
}

func (f *fakeSender) errorCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

var creds = model.Credentials{APIKey: "k", APISecret: "s"}

func newDispatcher(t *testing.T, sender Sender, c model.Credentials, opts Options) (*Dispatcher, *metrics.MetricsCollector) {
	t.Helper()
	m := metrics.NewMetricsCollector("test", "app", prometheus.NewRegistry())
	logger := zerolog.Nop()
	opts.Logger = &logger
	d := NewDispatcher(sender, c, m, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
		m.Close()
	})
	return d, m
}

func waitCalls(t *testing.T, f *fakeSender, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.called:
		case <-time.After(2 * time.Second):
			t.Fatalf("sender called %d times, want %d", i, n)
		}
	}
}

func TestDispatchUploads(t *testing.T) {
	sender := newFakeSender()
	d, m := newDispatcher(t, sender, creds, Options{Workers: 2})

	d.DispatchError(model.ErrorRecord{ErrorType: "TypeError", ErrorMessage: "x"})
	d.DispatchLog(model.RequestLogRecord{StatusCode: 200})
	waitCalls(t, sender, 2)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.RecordsTotal.WithLabelValues("app", KindError, metrics.OutcomeSent)) == 1 &&
			testutil.ToFloat64(m.RecordsTotal.WithLabelValues("app", KindLog, metrics.OutcomeSent)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatchFailureIsContained(t *testing.T) {
	sender := newFakeSender()
	sender.fail = errors.New("connection reset")
	d, m := newDispatcher(t, sender, creds, Options{})

	assert.NotPanics(t, func() {
		d.DispatchError(model.ErrorRecord{ErrorType: "Error", ErrorMessage: "x"})
		d.DispatchLog(model.FailedRequestRecord{RequestURL: "/x"})
	})
	waitCalls(t, sender, 2)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ErrorCounter.WithLabelValues("app", "send_error")) == 1 &&
			testutil.ToFloat64(m.ErrorCounter.WithLabelValues("app", "send_log")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatchInertWithoutCredentials(t *testing.T) {
	sender := newFakeSender()
	d, m := newDispatcher(t, sender, model.Credentials{APIKey: "k"}, Options{})

	assert.False(t, d.Enabled())
	d.DispatchError(model.ErrorRecord{ErrorType: "Error", ErrorMessage: "x"})
	d.DispatchLog(model.RequestLogRecord{StatusCode: 200})

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.RecordsTotal.WithLabelValues("app", KindError, metrics.OutcomeInert)) == 1 &&
			testutil.ToFloat64(m.RecordsTotal.WithLabelValues("app", KindLog, metrics.OutcomeInert)) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, sender.called)
}

func TestDispatchNeverBlocks(t *testing.T) {
	sender := newFakeSender()
	sender.block = make(chan struct{})
	d, m := newDispatcher(t, sender, creds, Options{Workers: 1, QueueSize: 1})
	defer close(sender.block)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.DispatchError(model.ErrorRecord{ErrorType: "Error", ErrorMessage: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("DispatchError blocked")
	}
	assert.Greater(t, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("app", KindError, metrics.OutcomeDropped)), 0.0)
}

type denyAll struct{}

func (denyAll) Allow(context.Context, model.ErrorRecord) bool { return false }

func TestDispatchThrottled(t *testing.T) {
	sender := newFakeSender()
	d, m := newDispatcher(t, sender, creds, Options{Throttle: denyAll{}})

	require.NoError(t, d.SendErrorNow(context.Background(), model.ErrorRecord{ErrorType: "Error", ErrorMessage: "x"}))

	assert.Equal(t, 0, sender.errorCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("app", KindError, metrics.OutcomeThrottled)))
}

type upperTransformer struct{}

func (upperTransformer) Apply(p model.LogPayload) (model.LogPayload, error) {
	rec := p.(model.RequestLogRecord)
	rec.Payload = "redacted"
	return rec, nil
}

func TestDispatchTransformsLogs(t *testing.T) {
	sender := newFakeSender()
	d, _ := newDispatcher(t, sender, creds, Options{Transformer: upperTransformer{}})

	d.DispatchLog(model.RequestLogRecord{StatusCode: 200, Payload: map[string]any{"password": "x"}})
	waitCalls(t, sender, 1)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.logs, 1)
	assert.Equal(t, "redacted", sender.logs[0].(model.RequestLogRecord).Payload)
}

func TestSendErrorNowReturnsFailure(t *testing.T) {
	sender := newFakeSender()
	sender.fail = errors.New("timeout")
	d, _ := newDispatcher(t, sender, creds, Options{})

	err := d.SendErrorNow(context.Background(), model.ErrorRecord{ErrorType: "Error", ErrorMessage: "x"})

	assert.EqualError(t, err, "timeout")
}

func TestShutdownDrainsQueue(t *testing.T) {
	sender := newFakeSender()
	d, _ := newDispatcher(t, sender, creds, Options{Workers: 1})

	for i := 0; i < 5; i++ {
		d.DispatchError(model.ErrorRecord{ErrorType: "Error", ErrorMessage: "x"})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	assert.Equal(t, 5, sender.errorCount())
}

func TestDispatchWithoutMetrics(t *testing.T) {
	sender := newFakeSender()
	logger := zerolog.Nop()
	d := NewDispatcher(sender, model.Credentials{}, nil, Options{Workers: 1, QueueSize: 1, Logger: &logger})

	assert.NotPanics(t, func() {
		d.DispatchError(model.ErrorRecord{ErrorType: "Error", ErrorMessage: "x"})
		d.DispatchError(model.ErrorRecord{ErrorType: "Error", ErrorMessage: "y"})
		d.DispatchLog(model.RequestLogRecord{StatusCode: 200})
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
}

type failedRecordPanics struct{}

func (failedRecordPanics) Apply(p model.LogPayload) (model.LogPayload, error) {
	if _, ok := p.(model.FailedRequestRecord); ok {
		panic("script host crashed")
	}
	return p, nil
}

func TestWorkerSurvivesPanic(t *testing.T) {
	sender := newFakeSender()
	d, m := newDispatcher(t, sender, creds, Options{Workers: 1, Transformer: failedRecordPanics{}})

	d.DispatchLog(model.FailedRequestRecord{RequestURL: "/x"})
	d.DispatchLog(model.RequestLogRecord{StatusCode: 200, URL: "/y"})
	waitCalls(t, sender, 1)

	sender.mu.Lock()
	require.Len(t, sender.logs, 1)
	assert.Equal(t, "/y", sender.logs[0].(model.RequestLogRecord).URL)
	sender.mu.Unlock()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorCounter.WithLabelValues("app", "panic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("app", KindLog, metrics.OutcomeFailed)))
}

type panickyThrottle struct{}

func (panickyThrottle) Allow(context.Context, model.ErrorRecord) bool { panic("redis client closed") }

func TestSendErrorNowRecoversPanic(t *testing.T) {
	sender := newFakeSender()
	d, _ := newDispatcher(t, sender, creds, Options{Throttle: panickyThrottle{}})

	var err error
	assert.NotPanics(t, func() {
		err = d.SendErrorNow(context.Background(), model.ErrorRecord{ErrorType: "Error", ErrorMessage: "x"})
	})
	assert.ErrorContains(t, err, "redis client closed")
	assert.Equal(t, 0, sender.errorCount())
}

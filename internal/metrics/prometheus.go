package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSent      = "sent"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
	OutcomeThrottled = "throttled"
	OutcomeInert     = "inert"
)

var (
	defaultCollector *MetricsCollector
	once             sync.Once
)

// GetMetricsCollector returns the singleton collector registered with the default registry
func GetMetricsCollector(namespace, appName string) *MetricsCollector {
	once.Do(func() {
		defaultCollector = NewMetricsCollector(namespace, appName, prometheus.DefaultRegisterer)
	})
	return defaultCollector
}

// MetricsCollector methods are no-ops on a nil collector.
type MetricsCollector struct {
	AppName          string
	RequestDuration  *prometheus.HistogramVec
	RecordsTotal     *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	ClassifiedTotal  *prometheus.CounterVec
	ErrorCounter     *prometheus.CounterVec
	QueueSize        *prometheus.GaugeVec
	bufferChan       chan requestEvent
	done             chan struct{}
	closeOnce        sync.Once
}

type requestEvent struct {
	labels   prometheus.Labels
	duration time.Duration
}

func NewMetricsCollector(namespace, appName string, reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)
	m := &MetricsCollector{
		AppName: appName,
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of instrumented requests in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"app", "method", "status"},
		),

		RecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Records handed to the dispatcher by kind and outcome",
			},
			[]string{"app", "kind", "outcome"},
		),

		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Time spent uploading a record",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"app", "kind"},
		),

		ClassifiedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classified_errors_total",
				Help:      "Errors classified by category",
			},
			[]string{"app", "category"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Internal pipeline errors",
			},
			[]string{"app", "type"},
		),

		QueueSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_size",
				Help:      "Current size of the dispatch queue",
			},
			[]string{"app", "queue"},
		),
		bufferChan: make(chan requestEvent, 100),
		done:       make(chan struct{}),
	}

	m.startCollector()
	return m
}

func (m *MetricsCollector) startCollector() {
	go func() {
		batch := make([]requestEvent, 0, 100)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case event := <-m.bufferChan:
				batch = append(batch, event)
				if len(batch) >= 100 {
					m.processBatch(batch)
					batch = batch[:0]
				}
			case <-ticker.C:
				if len(batch) > 0 {
					m.processBatch(batch)
					batch = batch[:0]
				}
			case <-m.done:
				m.processBatch(batch)
				return
			}
		}
	}()
}

func (m *MetricsCollector) processBatch(batch []requestEvent) {
	for _, event := range batch {
		m.RequestDuration.With(event.labels).Observe(event.duration.Seconds())
	}
}

// ObserveRequest records an instrumented request off the request path. Events
// are dropped when the buffer is full.
func (m *MetricsCollector) ObserveRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	event := requestEvent{
		labels: prometheus.Labels{
			"app":    m.AppName,
			"method": method,
			"status": strconv.Itoa(status),
		},
		duration: duration,
	}
	select {
	case m.bufferChan <- event:
	default:
	}
}

func (m *MetricsCollector) IncRecord(kind, outcome string) {
	if m == nil {
		return
	}
	m.RecordsTotal.With(prometheus.Labels{
		"app":     m.AppName,
		"kind":    kind,
		"outcome": outcome,
	}).Inc()
}

func (m *MetricsCollector) ObserveDispatch(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DispatchDuration.With(prometheus.Labels{
		"app":  m.AppName,
		"kind": kind,
	}).Observe(duration.Seconds())
}

func (m *MetricsCollector) IncClassified(category string) {
	if m == nil {
		return
	}
	m.ClassifiedTotal.With(prometheus.Labels{
		"app":      m.AppName,
		"category": category,
	}).Inc()
}

func (m *MetricsCollector) LogError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.With(prometheus.Labels{
		"app":  m.AppName,
		"type": errorType,
	}).Inc()
}

func (m *MetricsCollector) ObserveQueueSize(queue string, size float64) {
	if m == nil {
		return
	}
	m.QueueSize.With(prometheus.Labels{
		"app":   m.AppName,
		"queue": queue,
	}).Set(size)
}

func (m *MetricsCollector) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() { close(m.done) })
}

package ingestion

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahrav/mot-ingest/internal/domain/mot"
)

// PrometheusMetrics reports the ingestion instruments to a Prometheus
// registry so they can be scraped from the metrics server.
type PrometheusMetrics struct {
	pagesFetched    *prometheus.CounterVec
	notFound        prometheus.Counter
	retries         prometheus.Counter
	fetchFailures   prometheus.Counter
	recordsWritten  prometheus.Counter
	entriesSkipped  *prometheus.CounterVec
	writeErrors     prometheus.Counter
	pageProcessTime prometheus.Histogram
}

var _ Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the ingestion collectors on reg. Collectors
// already registered by an earlier call are reused.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := new(PrometheusMetrics)
	var err error

	if m.pagesFetched, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pages_fetched_total",
		Help:      "Total number of pages fetched, labelled by emptiness",
	}, []string{"empty"})); err != nil {
		return nil, err
	}

	if m.notFound, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pages_not_found_total",
		Help:      "Total number of pages the API reported as not found",
	})); err != nil {
		return nil, err
	}

	if m.retries, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_retries_total",
		Help:      "Total number of page fetch retries",
	})); err != nil {
		return nil, err
	}

	if m.fetchFailures, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_failures_total",
		Help:      "Total number of pages whose fetch exhausted all attempts",
	})); err != nil {
		return nil, err
	}

	if m.recordsWritten, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_written_total",
		Help:      "Total number of motdata rows committed",
	})); err != nil {
		return nil, err
	}

	if m.entriesSkipped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entries_skipped_total",
		Help:      "Total number of malformed entries skipped during flattening",
	}, []string{"reason"})); err != nil {
		return nil, err
	}

	if m.writeErrors, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "write_errors_total",
		Help:      "Total number of failed batch writes",
	})); err != nil {
		return nil, err
	}

	if m.pageProcessTime, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "page_process_duration_seconds",
		Help:      "Time taken to fetch, flatten and write one page",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})); err != nil {
		return nil, err
	}

	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func (m *PrometheusMetrics) IncPagesFetched(_ context.Context, empty bool) {
	m.pagesFetched.WithLabelValues(strconv.FormatBool(empty)).Inc()
}

func (m *PrometheusMetrics) IncNotFound(context.Context) { m.notFound.Inc() }

func (m *PrometheusMetrics) IncRetries(context.Context) { m.retries.Inc() }

func (m *PrometheusMetrics) IncFetchFailures(context.Context) { m.fetchFailures.Inc() }

func (m *PrometheusMetrics) AddRecordsWritten(_ context.Context, n int) {
	m.recordsWritten.Add(float64(n))
}

func (m *PrometheusMetrics) AddEntriesSkipped(_ context.Context, reason mot.SkipReason, n int) {
	m.entriesSkipped.WithLabelValues(string(reason)).Add(float64(n))
}

func (m *PrometheusMetrics) IncWriteErrors(context.Context) { m.writeErrors.Inc() }

func (m *PrometheusMetrics) ObservePageDuration(_ context.Context, d time.Duration) {
	m.pageProcessTime.Observe(d.Seconds())
}

// multiMetrics forwards every observation to each of its sinks.
type multiMetrics []Metrics

// TeeMetrics returns a Metrics that reports to every non-nil m.
func TeeMetrics(ms ...Metrics) Metrics {
	var out multiMetrics
	for _, m := range ms {
		if m != nil {
			out = append(out, m)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (mm multiMetrics) IncPagesFetched(ctx context.Context, empty bool) {
	for _, m := range mm {
		m.IncPagesFetched(ctx, empty)
	}
}

func (mm multiMetrics) IncNotFound(ctx context.Context) {
	for _, m := range mm {
		m.IncNotFound(ctx)
	}
}

func (mm multiMetrics) IncRetries(ctx context.Context) {
	for _, m := range mm {
		m.IncRetries(ctx)
	}
}

func (mm multiMetrics) IncFetchFailures(ctx context.Context) {
	for _, m := range mm {
		m.IncFetchFailures(ctx)
	}
}

func (mm multiMetrics) AddRecordsWritten(ctx context.Context, n int) {
	for _, m := range mm {
		m.AddRecordsWritten(ctx, n)
	}
}

func (mm multiMetrics) AddEntriesSkipped(ctx context.Context, reason mot.SkipReason, n int) {
	for _, m := range mm {
		m.AddEntriesSkipped(ctx, reason, n)
	}
}

func (mm multiMetrics) IncWriteErrors(ctx context.Context) {
	for _, m := range mm {
		m.IncWriteErrors(ctx)
	}
}

func (mm multiMetrics) ObservePageDuration(ctx context.Context, d time.Duration) {
	for _, m := range mm {
		m.ObservePageDuration(ctx, d)
	}
}

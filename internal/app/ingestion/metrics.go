package ingestion

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/mot-ingest/internal/domain/mot"
)

// Metrics defines the instruments the ingestion loop reports to.
type Metrics interface {
	IncPagesFetched(ctx context.Context, empty bool)
	IncNotFound(ctx context.Context)
	IncRetries(ctx context.Context)
	IncFetchFailures(ctx context.Context)
	AddRecordsWritten(ctx context.Context, n int)
	AddEntriesSkipped(ctx context.Context, reason mot.SkipReason, n int)
	IncWriteErrors(ctx context.Context)
	ObservePageDuration(ctx context.Context, d time.Duration)
}

type ingestionMetrics struct {
	pagesFetched    metric.Int64Counter
	notFound        metric.Int64Counter
	retries         metric.Int64Counter
	fetchFailures   metric.Int64Counter
	recordsWritten  metric.Int64Counter
	entriesSkipped  metric.Int64Counter
	writeErrors     metric.Int64Counter
	pageProcessTime metric.Float64Histogram
}

const namespace = "mot_ingest"

// NewIngestionMetrics creates the ingestion instruments on the given provider.
func NewIngestionMetrics(mp metric.MeterProvider) (*ingestionMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(ingestionMetrics)
	var err error

	if m.pagesFetched, err = meter.Int64Counter(
		"pages_fetched_total",
		metric.WithDescription("Total number of pages fetched, labelled by emptiness"),
	); err != nil {
		return nil, err
	}

	if m.notFound, err = meter.Int64Counter(
		"pages_not_found_total",
		metric.WithDescription("Total number of pages the API reported as not found"),
	); err != nil {
		return nil, err
	}

	if m.retries, err = meter.Int64Counter(
		"fetch_retries_total",
		metric.WithDescription("Total number of page fetch retries"),
	); err != nil {
		return nil, err
	}

	if m.fetchFailures, err = meter.Int64Counter(
		"fetch_failures_total",
		metric.WithDescription("Total number of pages whose fetch exhausted all attempts"),
	); err != nil {
		return nil, err
	}

	if m.recordsWritten, err = meter.Int64Counter(
		"records_written_total",
		metric.WithDescription("Total number of motdata rows committed"),
	); err != nil {
		return nil, err
	}

	if m.entriesSkipped, err = meter.Int64Counter(
		"entries_skipped_total",
		metric.WithDescription("Total number of malformed entries skipped during flattening"),
	); err != nil {
		return nil, err
	}

	if m.writeErrors, err = meter.Int64Counter(
		"write_errors_total",
		metric.WithDescription("Total number of failed batch writes"),
	); err != nil {
		return nil, err
	}

	if m.pageProcessTime, err = meter.Float64Histogram(
		"page_process_duration_seconds",
		metric.WithDescription("Time taken to fetch, flatten and write one page"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *ingestionMetrics) IncPagesFetched(ctx context.Context, empty bool) {
	m.pagesFetched.Add(ctx, 1, metric.WithAttributes(attribute.Bool("empty", empty)))
}

func (m *ingestionMetrics) IncNotFound(ctx context.Context) { m.notFound.Add(ctx, 1) }

func (m *ingestionMetrics) IncRetries(ctx context.Context) { m.retries.Add(ctx, 1) }

func (m *ingestionMetrics) IncFetchFailures(ctx context.Context) { m.fetchFailures.Add(ctx, 1) }

func (m *ingestionMetrics) AddRecordsWritten(ctx context.Context, n int) {
	m.recordsWritten.Add(ctx, int64(n))
}

func (m *ingestionMetrics) AddEntriesSkipped(ctx context.Context, reason mot.SkipReason, n int) {
	m.entriesSkipped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", string(reason))))
}

func (m *ingestionMetrics) IncWriteErrors(ctx context.Context) { m.writeErrors.Add(ctx, 1) }

func (m *ingestionMetrics) ObservePageDuration(ctx context.Context, d time.Duration) {
	m.pageProcessTime.Record(ctx, d.Seconds())
}

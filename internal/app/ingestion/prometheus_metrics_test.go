package ingestion

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"

	"github.com/ahrav/mot-ingest/internal/domain/mot"
	"github.com/ahrav/mot-ingest/pkg/common"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPrometheusMetrics_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)

	ctx := context.Background()
	m.IncPagesFetched(ctx, true)
	m.IncPagesFetched(ctx, false)
	m.IncNotFound(ctx)
	m.IncRetries(ctx)
	m.AddRecordsWritten(ctx, 7)
	m.AddEntriesSkipped(ctx, mot.SkipReason("missing_registration"), 2)
	m.ObservePageDuration(ctx, 120*time.Millisecond)

	body := scrape(t, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	assert.Contains(t, body, `mot_ingest_pages_fetched_total{empty="true"} 1`)
	assert.Contains(t, body, `mot_ingest_pages_fetched_total{empty="false"} 1`)
	assert.Contains(t, body, "mot_ingest_pages_not_found_total 1")
	assert.Contains(t, body, "mot_ingest_fetch_retries_total 1")
	assert.Contains(t, body, "mot_ingest_records_written_total 7")
	assert.Contains(t, body, `mot_ingest_entries_skipped_total{reason="missing_registration"} 2`)
	assert.Contains(t, body, "mot_ingest_page_process_duration_seconds_count 1")
}

func TestPrometheusMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)
	second, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)

	first.AddRecordsWritten(context.Background(), 3)
	second.AddRecordsWritten(context.Background(), 4)

	body := scrape(t, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	assert.Contains(t, body, "mot_ingest_records_written_total 7")
}

func TestPrometheusMetrics_ServedByMetricsServer(t *testing.T) {
	m, err := NewPrometheusMetrics(prometheus.DefaultRegisterer)
	require.NoError(t, err)

	otelMetrics, err := NewIngestionMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	tee := TeeMetrics(otelMetrics, m)
	tee.IncPagesFetched(context.Background(), false)
	tee.AddRecordsWritten(context.Background(), 7)

	body := scrape(t, common.NewMetricsServer(":0", "test-build").Handler)

	assert.Contains(t, body, "mot_ingest_pages_fetched_total")
	assert.Contains(t, body, "mot_ingest_records_written_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestTeeMetrics_SkipsNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)

	tee := TeeMetrics(nil, m)
	assert.Same(t, m, tee)
}

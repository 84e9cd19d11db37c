// Package progressreporter makes ingestion progress externally visible. Every
// page start, retry, completion and the final run summary is written as a
// structured log record and mirrored as an event on the active span, so an
// operator can follow a run either from the logs or from a trace.
package progressreporter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/mot-ingest/internal/app/ingestion"
	"github.com/ahrav/mot-ingest/internal/domain/mot"
	"github.com/ahrav/mot-ingest/pkg/common/logger"
)

var _ ingestion.ProgressReporter = (*LogProgressReporter)(nil)

// LogProgressReporter reports progress through the logger and span events.
type LogProgressReporter struct {
	logger *logger.Logger
}

// New creates a new LogProgressReporter.
func New(log *logger.Logger) *LogProgressReporter {
	return &LogProgressReporter{logger: log.With("component", "progress_reporter")}
}

// PageStarted reports that a page fetch is about to begin.
func (r *LogProgressReporter) PageStarted(ctx context.Context, runID uuid.UUID, cursor mot.Cursor) {
	trace.SpanFromContext(ctx).AddEvent("page_started", trace.WithAttributes(
		attribute.Int("page", cursor.Page),
	))
	r.logger.Info(ctx, "start get page",
		"run_id", runID.String(),
		"page", cursor.Page,
		"cursor", cursor.String(),
	)
}

// PageRetrying reports a failed attempt that will be retried after next.
func (r *LogProgressReporter) PageRetrying(
	ctx context.Context,
	runID uuid.UUID,
	cursor mot.Cursor,
	attempt int,
	err error,
	next time.Duration,
) {
	trace.SpanFromContext(ctx).AddEvent("page_retrying", trace.WithAttributes(
		attribute.Int("page", cursor.Page),
		attribute.Int("attempt", attempt),
		attribute.String("backoff", next.String()),
	))
	r.logger.Warn(ctx, "retrying page fetch",
		"run_id", runID.String(),
		"page", cursor.Page,
		"attempt", attempt,
		"backoff", next.String(),
		"error", err,
	)
}

// PageCompleted reports a page whose rows were committed.
func (r *LogProgressReporter) PageCompleted(ctx context.Context, p ingestion.PageProgress) {
	trace.SpanFromContext(ctx).AddEvent("page_completed", trace.WithAttributes(
		attribute.Int("page", p.Cursor.Page),
		attribute.Int("records", p.RecordsWritten),
		attribute.Int("empty_streak", p.EmptyStreak),
	))
	r.logger.Info(ctx, "end get page",
		"run_id", p.RunID.String(),
		"page", p.Cursor.Page,
		"attempts", p.Attempts,
		"vehicles", p.Vehicles,
		"not_found", p.NotFound,
		"empty_streak", p.EmptyStreak,
		"duration", p.Duration.String(),
	)
	r.logger.Info(ctx, "insert rows",
		"run_id", p.RunID.String(),
		"page", p.Cursor.Page,
		"rows", p.RecordsWritten,
		"skipped", p.Skipped,
	)
}

// RunFinished reports the run summary. A non-nil err is logged at error level.
func (r *LogProgressReporter) RunFinished(ctx context.Context, s ingestion.Summary, err error) {
	args := []any{
		"run_id", s.RunID.String(),
		"mode", s.Mode,
		"start_page", s.StartPage,
		"last_page", s.LastPage,
		"pages_processed", s.PagesProcessed,
		"records_written", s.RecordsWritten,
		"entries_skipped", s.EntriesSkipped,
		"retries", s.Retries,
		"stop_reason", string(s.StopReason),
		"duration", s.Duration.String(),
	}

	trace.SpanFromContext(ctx).AddEvent("run_finished", trace.WithAttributes(
		attribute.String("stop_reason", string(s.StopReason)),
		attribute.Int("pages_processed", s.PagesProcessed),
	))

	if err != nil {
		r.logger.Error(ctx, "ingestion run failed", append(args, "error", err)...)
		return
	}
	r.logger.Info(ctx, "ingestion run finished", args...)
}

// Package ingestion drives the MOT ingestion loop: it walks the remote API
// page by page, retries transient fetch failures, flattens each page into
// rows and commits them one page per transaction.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/mot-ingest/internal/domain/mot"
	"github.com/ahrav/mot-ingest/pkg/common/logger"
	"github.com/ahrav/mot-ingest/pkg/common/timeutil"
)

// State is a step of the per-page state machine.
type State string

const (
	StateFetching   State = "FETCHING"
	StateFlattening State = "FLATTENING"
	StateWriting    State = "WRITING"
	StateAdvancing  State = "ADVANCING"
	StateStopped    State = "STOPPED"
)

// run holds the mutable state of a single Run call. It is owned by the
// goroutine executing Run and never shared.
type run struct {
	id        uuid.UUID
	cfg       RunConfig
	policy    terminationPolicy
	cursor    mot.Cursor
	state     State
	startedAt time.Time

	emptyStreak    int
	pagesProcessed int
	lastPage       int
	recordsWritten int
	entriesSkipped int
	retries        int
	stopReason     StopReason
}

func (r *run) summary(now time.Time) Summary {
	return Summary{
		RunID:          r.id,
		Mode:           r.cfg.Label(),
		StartPage:      r.cfg.StartPage,
		LastPage:       r.lastPage,
		PagesProcessed: r.pagesProcessed,
		RecordsWritten: r.recordsWritten,
		EntriesSkipped: r.entriesSkipped,
		Retries:        r.retries,
		StopReason:     r.stopReason,
		Duration:       now.Sub(r.startedAt),
	}
}

// Orchestrator runs the ingestion loop. Pages are processed strictly in
// sequence so the cursor, the empty streak and the commit order always
// agree.
type Orchestrator struct {
	fetcher mot.PageFetcher
	writer  mot.BatchWriter
	retry   *RetryGovernor

	progress     ProgressReporter
	timeProvider timeutil.Provider

	logger  *logger.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	fetcher mot.PageFetcher,
	writer mot.BatchWriter,
	retry *RetryGovernor,
	progress ProgressReporter,
	timeProvider timeutil.Provider,
	logger *logger.Logger,
	metrics Metrics,
	tracer trace.Tracer,
) *Orchestrator {
	return &Orchestrator{
		fetcher:      fetcher,
		writer:       writer,
		retry:        retry,
		progress:     progress,
		timeProvider: timeProvider,
		logger:       logger.With("component", "ingestion_orchestrator"),
		metrics:      metrics,
		tracer:       tracer,
	}
}

// Run executes one ingestion run until its termination policy fires, a
// fatal error occurs or ctx is canceled. The returned Summary is populated
// in every case; the error is nil only when the policy stopped the run.
func (o *Orchestrator) Run(ctx context.Context, rc RunConfig) (Summary, error) {
	if err := rc.validate(); err != nil {
		return Summary{}, fmt.Errorf("invalid run config: %w", err)
	}

	cursor, err := mot.NewCursor(rc.StartPage, rc.dateFilter())
	if err != nil {
		return Summary{}, err
	}

	r := &run{
		id:        uuid.New(),
		cfg:       rc,
		policy:    rc.policy(),
		cursor:    cursor,
		lastPage:  rc.StartPage - 1,
		startedAt: o.timeProvider.Now(),
	}

	ctx, span := o.tracer.Start(ctx, "ingestion.run",
		trace.WithAttributes(
			attribute.String("run_id", r.id.String()),
			attribute.String("mode", rc.Label()),
			attribute.Int("start_page", rc.StartPage),
		))
	defer span.End()

	log := o.logger.With("run_id", r.id.String(), "mode", rc.Label())
	log.Info(ctx, "ingestion run started",
		"start_page", rc.StartPage,
		"cursor", r.cursor.String(),
		"page_delay", rc.PageDelay.String(),
	)

	runErr := o.loop(ctx, r, log)
	r.state = StateStopped

	summary := r.summary(o.timeProvider.Now())
	o.progress.RunFinished(ctx, summary, runErr)

	span.SetAttributes(
		attribute.Int("pages_processed", summary.PagesProcessed),
		attribute.Int("records_written", summary.RecordsWritten),
		attribute.String("stop_reason", string(summary.StopReason)),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "ingestion run stopped with error")
	}

	return summary, runErr
}

func (o *Orchestrator) loop(ctx context.Context, r *run, log *logger.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			r.stopReason = StopCanceled
			return err
		}

		if err := o.processPage(ctx, r, log); err != nil {
			return err
		}

		o.transition(ctx, r, log, StateAdvancing)
		r.cursor = r.cursor.Next()

		// Pacing is fixed and applies after every page, including empty and
		// not found ones, to stay inside the API's rate limits.
		if err := o.timeProvider.Sleep(ctx, r.cfg.PageDelay); err != nil {
			r.stopReason = StopCanceled
			return err
		}

		if stop, reason := r.policy.shouldStop(r); stop {
			r.stopReason = reason
			log.Info(ctx, "ingestion run complete",
				"reason", string(reason),
				"empty_streak", r.emptyStreak,
				"pages_processed", r.pagesProcessed,
			)
			return nil
		}
	}
}

func (o *Orchestrator) processPage(ctx context.Context, r *run, log *logger.Logger) error {
	start := o.timeProvider.Now()
	cursor := r.cursor

	ctx, span := o.tracer.Start(ctx, "ingestion.process_page",
		trace.WithAttributes(attribute.Int("page", cursor.Page)))
	defer span.End()

	pageLog := logger.NewLoggerContext(log.With("page", cursor.Page))

	o.transition(ctx, r, log, StateFetching)
	o.progress.PageStarted(ctx, r.id, cursor)

	page, attempts, err := o.fetchWithRetry(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "page fetch failed")
		if ctx.Err() != nil {
			r.stopReason = StopCanceled
			return ctx.Err()
		}
		o.metrics.IncFetchFailures(ctx)
		r.stopReason = StopError
		pageLog.Error(ctx, "page fetch failed", "attempts", attempts, "error", err)
		return fmt.Errorf("failed to fetch page %d: %w", cursor.Page, err)
	}
	if page == nil {
		page = &mot.Page{Number: cursor.Page}
	}

	empty := page.Empty()
	if empty {
		r.emptyStreak++
	} else {
		r.emptyStreak = 0
	}
	if page.NotFound {
		o.metrics.IncNotFound(ctx)
	}
	o.metrics.IncPagesFetched(ctx, empty)
	pageLog.Add("vehicles", len(page.Vehicles), "not_found", page.NotFound, "empty_streak", r.emptyStreak)

	o.transition(ctx, r, log, StateFlattening)
	res := mot.Flatten(page.Vehicles, cursor.Date)
	for reason, n := range res.Skipped {
		o.metrics.AddEntriesSkipped(ctx, reason, n)
	}
	if skipped := res.SkippedTotal(); skipped > 0 {
		pageLog.Warn(ctx, "skipped malformed entries", "skipped", skipped)
	}

	o.transition(ctx, r, log, StateWriting)
	if err := o.writer.WriteBatch(ctx, res.Records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "page write failed")
		o.metrics.IncWriteErrors(ctx)
		if ctx.Err() != nil {
			r.stopReason = StopCanceled
		} else {
			r.stopReason = StopError
		}
		pageLog.Error(ctx, "page write failed", "rows", len(res.Records), "error", err)
		return fmt.Errorf("failed to write page %d: %w", cursor.Page, err)
	}

	r.pagesProcessed++
	r.lastPage = cursor.Page
	r.recordsWritten += len(res.Records)
	r.entriesSkipped += res.SkippedTotal()
	o.metrics.AddRecordsWritten(ctx, len(res.Records))

	duration := o.timeProvider.Now().Sub(start)
	o.metrics.ObservePageDuration(ctx, duration)

	span.SetAttributes(
		attribute.Int("vehicles", len(page.Vehicles)),
		attribute.Int("records", len(res.Records)),
		attribute.Bool("not_found", page.NotFound),
	)

	o.progress.PageCompleted(ctx, PageProgress{
		RunID:          r.id,
		Cursor:         cursor,
		Attempts:       attempts,
		Vehicles:       len(page.Vehicles),
		NotFound:       page.NotFound,
		RecordsWritten: len(res.Records),
		Skipped:        res.SkippedTotal(),
		EmptyStreak:    r.emptyStreak,
		Duration:       duration,
	})

	return nil
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context, r *run) (*mot.Page, int, error) {
	var page *mot.Page

	attempts, err := o.retry.Do(ctx, func(ctx context.Context) error {
		p, err := o.fetcher.FetchPage(ctx, r.cursor)
		if err != nil {
			return err
		}
		page = p
		return nil
	}, func(attempt int, err error, next time.Duration) {
		r.retries++
		o.metrics.IncRetries(ctx)
		o.progress.PageRetrying(ctx, r.id, r.cursor, attempt, err, next)
	})

	return page, attempts, err
}

func (o *Orchestrator) transition(ctx context.Context, r *run, log *logger.Logger, next State) {
	log.Debug(ctx, "state transition", "from", string(r.state), "to", string(next), "page", r.cursor.Page)
	r.state = next
}

package ingestion

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/mot-ingest/internal/domain/mot"
)

// StopReason explains why a run reached the STOPPED state.
type StopReason string

const (
	StopEmptyStreak StopReason = "empty_streak"
	StopPageLimit   StopReason = "page_limit"
	StopCanceled    StopReason = "canceled"
	StopError       StopReason = "error"
)

// PageProgress describes one processed page.
type PageProgress struct {
	RunID          uuid.UUID
	Cursor         mot.Cursor
	Attempts       int
	Vehicles       int
	NotFound       bool
	RecordsWritten int
	Skipped        int
	EmptyStreak    int
	Duration       time.Duration
}

// Summary describes a finished run.
type Summary struct {
	RunID          uuid.UUID
	Mode           string
	StartPage      int
	LastPage       int
	PagesProcessed int
	RecordsWritten int
	EntriesSkipped int
	Retries        int
	StopReason     StopReason
	Duration       time.Duration
}

// ProgressReporter makes every page attempt, retry and completion externally
// visible.
type ProgressReporter interface {
	PageStarted(ctx context.Context, runID uuid.UUID, cursor mot.Cursor)
	PageRetrying(ctx context.Context, runID uuid.UUID, cursor mot.Cursor, attempt int, err error, next time.Duration)
	PageCompleted(ctx context.Context, p PageProgress)
	RunFinished(ctx context.Context, s Summary, err error)
}

package ingestion

import (
	"fmt"
	"time"

	"github.com/ahrav/mot-ingest/internal/domain/mot"
)

// Mode selects the termination policy of a run.
type Mode string

const (
	// ModeUnbounded pages forward until the empty-page streak exceeds its
	// limit. Starting at a non-zero page makes it a resumed run.
	ModeUnbounded Mode = "unbounded"
	// ModeDateBounded pages through a single day's tests and stops after a
	// fixed number of pages.
	ModeDateBounded Mode = "date_bounded"
)

const (
	// DefaultEmptyStreakLimit is the largest tolerated run of consecutive
	// empty pages; the run stops on the next one (the 6th).
	DefaultEmptyStreakLimit = 5
	// DefaultMaxDatePages is the assumed upper bound of pages per day.
	DefaultMaxDatePages = 1440
	// DefaultPageDelay is the fixed pause between pages.
	DefaultPageDelay = time.Second
)

// RunConfig parameterizes one ingestion run.
type RunConfig struct {
	Mode      Mode
	StartPage int
	// Date is required in ModeDateBounded and ignored otherwise.
	Date             *mot.CalendarDate
	PageDelay        time.Duration
	EmptyStreakLimit int
	MaxPages         int
}

// UnboundedRun returns the config for ingest-all, optionally resuming at
// startPage.
func UnboundedRun(startPage int, pageDelay time.Duration) RunConfig {
	return RunConfig{
		Mode:             ModeUnbounded,
		StartPage:        startPage,
		PageDelay:        pageDelay,
		EmptyStreakLimit: DefaultEmptyStreakLimit,
	}
}

// DateRun returns the config for ingest-date.
func DateRun(date mot.CalendarDate, pageDelay time.Duration) RunConfig {
	return RunConfig{
		Mode:      ModeDateBounded,
		Date:      &date,
		PageDelay: pageDelay,
		MaxPages:  DefaultMaxDatePages,
	}
}

// Label names the run for logs: unbounded, resumable or date_bounded.
func (rc RunConfig) Label() string {
	if rc.Mode == ModeUnbounded && rc.StartPage > 0 {
		return "resumable"
	}
	return string(rc.Mode)
}

func (rc RunConfig) validate() error {
	if rc.StartPage < 0 {
		return fmt.Errorf("start page must be non-negative, got %d", rc.StartPage)
	}
	if rc.PageDelay < 0 {
		return fmt.Errorf("page delay must be non-negative, got %s", rc.PageDelay)
	}

	switch rc.Mode {
	case ModeUnbounded:
		if rc.EmptyStreakLimit < 0 {
			return fmt.Errorf("empty streak limit must be non-negative, got %d", rc.EmptyStreakLimit)
		}
	case ModeDateBounded:
		if rc.Date == nil {
			return fmt.Errorf("date bounded run requires a date")
		}
		if rc.MaxPages < 1 {
			return fmt.Errorf("date bounded run requires a positive page limit, got %d", rc.MaxPages)
		}
	default:
		return fmt.Errorf("unknown run mode %q", rc.Mode)
	}
	return nil
}

// dateFilter returns the filter applied to the cursor and the flattener.
func (rc RunConfig) dateFilter() *mot.CalendarDate {
	if rc.Mode != ModeDateBounded {
		return nil
	}
	return rc.Date
}

func (rc RunConfig) policy() terminationPolicy {
	if rc.Mode == ModeDateBounded {
		return pageLimitPolicy{maxPages: rc.MaxPages}
	}
	return emptyStreakPolicy{limit: rc.EmptyStreakLimit}
}

// terminationPolicy is evaluated once per page, after the cursor advanced.
type terminationPolicy interface {
	shouldStop(r *run) (bool, StopReason)
}

type emptyStreakPolicy struct{ limit int }

func (p emptyStreakPolicy) shouldStop(r *run) (bool, StopReason) {
	if r.emptyStreak > p.limit {
		return true, StopEmptyStreak
	}
	return false, ""
}

// pageLimitPolicy ignores the empty streak entirely.
type pageLimitPolicy struct{ maxPages int }

func (p pageLimitPolicy) shouldStop(r *run) (bool, StopReason) {
	if r.pagesProcessed >= p.maxPages {
		return true, StopPageLimit
	}
	return false, ""
}

package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/mot-ingest/internal/domain/mot"
	"github.com/ahrav/mot-ingest/pkg/common/logger"
	"github.com/ahrav/mot-ingest/pkg/common/timeutil"
)

type mockFetcher struct{ mock.Mock }

func (m *mockFetcher) FetchPage(ctx context.Context, cursor mot.Cursor) (*mot.Page, error) {
	args := m.Called(ctx, cursor)
	if p := args.Get(0); p != nil {
		return p.(*mot.Page), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockWriter struct {
	mock.Mock

	mu      sync.Mutex
	batches [][]mot.Record
}

func (m *mockWriter) WriteBatch(ctx context.Context, records []mot.Record) error {
	args := m.Called(ctx, records)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.batches = append(m.batches, records)
		m.mu.Unlock()
	}
	return args.Error(0)
}

type recordingReporter struct {
	started   []int
	retries   []int
	completed []PageProgress
	summary   *Summary
	runErr    error
}

func (r *recordingReporter) PageStarted(_ context.Context, _ uuid.UUID, c mot.Cursor) {
	r.started = append(r.started, c.Page)
}

func (r *recordingReporter) PageRetrying(_ context.Context, _ uuid.UUID, _ mot.Cursor, attempt int, _ error, _ time.Duration) {
	r.retries = append(r.retries, attempt)
}

func (r *recordingReporter) PageCompleted(_ context.Context, p PageProgress) {
	r.completed = append(r.completed, p)
}

func (r *recordingReporter) RunFinished(_ context.Context, s Summary, err error) {
	r.summary = &s
	r.runErr = err
}

const testPageDelay = 250 * time.Millisecond

type orchestratorFixture struct {
	orch     *Orchestrator
	fetcher  *mockFetcher
	writer   *mockWriter
	reporter *recordingReporter
	clock    *timeutil.Mock
}

func newFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	metrics, err := NewIngestionMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	f := &orchestratorFixture{
		fetcher:  new(mockFetcher),
		writer:   new(mockWriter),
		reporter: new(recordingReporter),
		clock:    timeutil.NewMock(time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)),
	}
	f.orch = NewOrchestrator(
		f.fetcher,
		f.writer,
		NewRetryGovernor(fastPolicy(3)),
		f.reporter,
		f.clock,
		logger.Noop(),
		metrics,
		tracenoop.NewTracerProvider().Tracer("test"),
	)
	return f
}

func (f *orchestratorFixture) page(n int, date *mot.CalendarDate, p *mot.Page, err error) {
	f.fetcher.On("FetchPage", mock.Anything, mot.Cursor{Page: n, Date: date}).Return(p, err).Once()
}

func (f *orchestratorFixture) writesSucceed() {
	f.writer.On("WriteBatch", mock.Anything, mock.Anything).Return(nil)
}

func passingVehicle(reg, date string) mot.Vehicle {
	return mot.Vehicle{
		Registration: reg,
		Make:         "VAUXHALL",
		Model:        "CORSA",
		MotTests:     []mot.Test{{CompletedDate: date, TestResult: mot.ResultPassed}},
	}
}

func nonEmpty(n int) *mot.Page {
	return &mot.Page{Number: n, Vehicles: []mot.Vehicle{passingVehicle("AB12CDE", "2023.06.15 10:00:00")}}
}

func emptyPage(n int) *mot.Page { return &mot.Page{Number: n, Vehicles: []mot.Vehicle{}} }

func notFound(n int) *mot.Page { return &mot.Page{Number: n, NotFound: true} }

func TestOrchestrator_UnboundedStopsAfterSixthConsecutiveEmptyPage(t *testing.T) {
	f := newFixture(t)
	f.writesSucceed()

	for p := 0; p <= 2; p++ {
		f.page(p, nil, nonEmpty(p), nil)
	}
	// Pages 3-8 are six consecutive empties; 404s count as empty too.
	f.page(3, nil, emptyPage(3), nil)
	f.page(4, nil, notFound(4), nil)
	f.page(5, nil, emptyPage(5), nil)
	f.page(6, nil, notFound(6), nil)
	f.page(7, nil, emptyPage(7), nil)
	f.page(8, nil, notFound(8), nil)

	summary, err := f.orch.Run(context.Background(), UnboundedRun(0, testPageDelay))
	require.NoError(t, err)

	f.fetcher.AssertExpectations(t)
	f.fetcher.AssertNotCalled(t, "FetchPage", mock.Anything, mot.Cursor{Page: 9})

	assert.Equal(t, StopEmptyStreak, summary.StopReason)
	assert.Equal(t, 9, summary.PagesProcessed)
	assert.Equal(t, 8, summary.LastPage)
	assert.Equal(t, 3, summary.RecordsWritten)
	assert.Equal(t, "unbounded", summary.Mode)

	// Every page is written, even the empty ones.
	f.writer.AssertNumberOfCalls(t, "WriteBatch", 9)

	// Pacing applies after every page.
	assert.Len(t, f.clock.Sleeps(), 9)
	for _, d := range f.clock.Sleeps() {
		assert.Equal(t, testPageDelay, d)
	}

	require.Len(t, f.reporter.completed, 9)
	assert.Equal(t, 6, f.reporter.completed[8].EmptyStreak)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, f.reporter.started)
	require.NotNil(t, f.reporter.summary)
	assert.NoError(t, f.reporter.runErr)
}

func TestOrchestrator_NonEmptyPageResetsStreak(t *testing.T) {
	f := newFixture(t)
	f.writesSucceed()

	// Five empties, then data, then six empties.
	for p := 0; p <= 4; p++ {
		f.page(p, nil, emptyPage(p), nil)
	}
	f.page(5, nil, nonEmpty(5), nil)
	for p := 6; p <= 11; p++ {
		f.page(p, nil, notFound(p), nil)
	}

	summary, err := f.orch.Run(context.Background(), UnboundedRun(0, testPageDelay))
	require.NoError(t, err)

	f.fetcher.AssertExpectations(t)
	assert.Equal(t, 12, summary.PagesProcessed)
	assert.Equal(t, 11, summary.LastPage)
	assert.Equal(t, 5, f.reporter.completed[4].EmptyStreak)
	assert.Equal(t, 0, f.reporter.completed[5].EmptyStreak)
}

func TestOrchestrator_ResumesFromStartPage(t *testing.T) {
	f := newFixture(t)
	f.writesSucceed()

	f.page(10, nil, nonEmpty(10), nil)
	for p := 11; p <= 16; p++ {
		f.page(p, nil, emptyPage(p), nil)
	}

	summary, err := f.orch.Run(context.Background(), UnboundedRun(10, testPageDelay))
	require.NoError(t, err)

	f.fetcher.AssertExpectations(t)
	assert.Equal(t, "resumable", summary.Mode)
	assert.Equal(t, 10, summary.StartPage)
	assert.Equal(t, 16, summary.LastPage)
	assert.Equal(t, 7, summary.PagesProcessed)
	assert.Equal(t, 10, f.reporter.started[0])
}

func TestOrchestrator_DateBoundedIgnoresEmptyStreak(t *testing.T) {
	f := newFixture(t)
	f.writesSucceed()

	date := mot.CalendarDate{Year: 2023, Month: time.June, Day: 15}
	rc := DateRun(date, testPageDelay)
	require.Equal(t, DefaultMaxDatePages, rc.MaxPages)
	rc.MaxPages = 9

	// Eight not found pages would end an unbounded run; here paging goes on.
	for p := 0; p <= 7; p++ {
		f.page(p, &date, notFound(p), nil)
	}
	f.page(8, &date, &mot.Page{Number: 8, Vehicles: []mot.Vehicle{
		passingVehicle("ONDAY", "2023.06.15 08:30:00"),
		passingVehicle("OTHERDAY", "2023.06.16 08:30:00"),
	}}, nil)

	summary, err := f.orch.Run(context.Background(), rc)
	require.NoError(t, err)

	f.fetcher.AssertExpectations(t)
	f.fetcher.AssertNotCalled(t, "FetchPage", mock.Anything, mot.Cursor{Page: 9, Date: &date})

	assert.Equal(t, StopPageLimit, summary.StopReason)
	assert.Equal(t, 9, summary.PagesProcessed)
	assert.Equal(t, "date_bounded", summary.Mode)
	assert.Equal(t, 1, summary.RecordsWritten)

	last := f.writer.batches[len(f.writer.batches)-1]
	require.Len(t, last, 1)
	assert.Equal(t, "ONDAY", last[0].Registration)
}

func TestOrchestrator_RetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)
	f.writesSucceed()

	transient := &mot.TransientError{StatusCode: 502, Err: errors.New("bad gateway")}
	f.page(0, nil, nil, transient)
	f.page(0, nil, nil, transient)
	f.page(0, nil, nonEmpty(0), nil)
	for p := 1; p <= 6; p++ {
		f.page(p, nil, emptyPage(p), nil)
	}

	summary, err := f.orch.Run(context.Background(), UnboundedRun(0, testPageDelay))
	require.NoError(t, err)

	f.fetcher.AssertExpectations(t)
	assert.Equal(t, 2, summary.Retries)
	assert.Equal(t, []int{1, 2}, f.reporter.retries)
	assert.Equal(t, 3, f.reporter.completed[0].Attempts)
}

func TestOrchestrator_StopsWhenRetriesExhausted(t *testing.T) {
	f := newFixture(t)
	f.writesSucceed()

	transient := &mot.TransientError{Err: errors.New("i/o timeout")}
	f.page(0, nil, nonEmpty(0), nil)
	f.fetcher.On("FetchPage", mock.Anything, mot.Cursor{Page: 1}).Return(nil, transient).Times(3)

	summary, err := f.orch.Run(context.Background(), UnboundedRun(0, testPageDelay))

	require.Error(t, err)
	assert.ErrorIs(t, err, mot.ErrRetriesExhausted)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, StopError, summary.StopReason)
	assert.Equal(t, 1, summary.PagesProcessed)
	assert.Equal(t, 0, summary.LastPage)

	f.fetcher.AssertExpectations(t)
	f.fetcher.AssertNotCalled(t, "FetchPage", mock.Anything, mot.Cursor{Page: 2})
	f.writer.AssertNumberOfCalls(t, "WriteBatch", 1)
	assert.Equal(t, err, f.reporter.runErr)
}

func TestOrchestrator_StopsOnStorageError(t *testing.T) {
	f := newFixture(t)

	storageErr := &mot.StorageError{Op: "commit", Err: errors.New("disk full")}
	f.page(0, nil, nonEmpty(0), nil)
	f.writer.On("WriteBatch", mock.Anything, mock.Anything).Return(storageErr).Once()

	summary, err := f.orch.Run(context.Background(), UnboundedRun(0, testPageDelay))

	require.Error(t, err)
	var target *mot.StorageError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "commit", target.Op)
	assert.Equal(t, StopError, summary.StopReason)
	assert.Zero(t, summary.PagesProcessed)
	assert.Empty(t, f.clock.Sleeps(), "the cursor never advances past a failed write")
}

func TestOrchestrator_CancelledBetweenPages(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.page(0, nil, nonEmpty(0), nil)
	f.page(1, nil, nonEmpty(1), nil)
	f.writer.On("WriteBatch", mock.Anything, mock.Anything).Return(nil).Once()
	f.writer.On("WriteBatch", mock.Anything, mock.Anything).Return(nil).Once().Run(func(mock.Arguments) {
		cancel()
	})

	summary, err := f.orch.Run(ctx, UnboundedRun(0, testPageDelay))

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopCanceled, summary.StopReason)
	assert.Equal(t, 2, summary.PagesProcessed)
	f.fetcher.AssertNotCalled(t, "FetchPage", mock.Anything, mot.Cursor{Page: 2})
}

func TestOrchestrator_FailingTestWithTwoReasonsWritesTwoRows(t *testing.T) {
	f := newFixture(t)
	f.writesSucceed()

	f.page(0, nil, &mot.Page{Number: 0, Vehicles: []mot.Vehicle{{
		Registration: "AB12CDE",
		Make:         "FORD",
		Model:        "FIESTA",
		MotTests: []mot.Test{{
			CompletedDate: "2023.06.15 14:30:21",
			TestResult:    mot.ResultFailed,
			RfrAndComments: []mot.Comment{
				{Text: "Nearside front tyre tread depth below requirements", Type: "FAIL"},
				{Text: "Offside headlamp not working", Type: "MAJOR"},
			},
		}},
	}}}, nil)
	for p := 1; p <= 6; p++ {
		f.page(p, nil, emptyPage(p), nil)
	}

	summary, err := f.orch.Run(context.Background(), UnboundedRun(0, testPageDelay))
	require.NoError(t, err)

	require.NotEmpty(t, f.writer.batches)
	rows := f.writer.batches[0]
	require.Len(t, rows, 2)
	assert.Equal(t, 2, summary.RecordsWritten)
	assert.Equal(t, rows[0].Registration, rows[1].Registration)
	assert.Equal(t, rows[0].CompletedAt, rows[1].CompletedAt)
	assert.Equal(t, rows[0].Result, rows[1].Result)
	assert.NotEqual(t, *rows[0].Reason, *rows[1].Reason)
	assert.NotEqual(t, *rows[0].Type, *rows[1].Type)
}

func TestOrchestrator_RejectsInvalidRunConfig(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		rc   RunConfig
	}{
		{name: "negative start page", rc: UnboundedRun(-1, 0)},
		{name: "negative delay", rc: UnboundedRun(0, -time.Second)},
		{name: "date run without date", rc: RunConfig{Mode: ModeDateBounded, MaxPages: 1}},
		{name: "date run without limit", rc: RunConfig{Mode: ModeDateBounded, Date: &mot.CalendarDate{Year: 2023, Month: 1, Day: 1}}},
		{name: "unknown mode", rc: RunConfig{Mode: "sideways"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Run(context.Background(), tt.rc)
			assert.Error(t, err)
		})
	}
	f.fetcher.AssertNotCalled(t, "FetchPage", mock.Anything, mock.Anything)
}

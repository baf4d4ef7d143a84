package miner

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/aristath/lessons/internal/domain"
	"github.com/aristath/lessons/internal/events"
	"github.com/aristath/lessons/internal/modules/aggregation"
	"github.com/aristath/lessons/internal/modules/lessons"
	"github.com/aristath/lessons/internal/modules/overrides"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Run stages, reported in MinerRunFailure
const (
	StageScan      = "scan"
	StageAggregate = "aggregate"
	StageHistory   = "history"
	StageGenerate  = "generate"
	StagePublish   = "publish"
)

// EventSource provides the resolved events a run learns from
type EventSource interface {
	ScanResolved(ctx context.Context, book *string, cutoff time.Time) ([]domain.ActionEvent, error)
}

// EventEmitter publishes miner events
type EventEmitter interface {
	EmitTyped(eventType events.EventType, module string, data events.EventData)
}

// Observer receives run metrics
type Observer interface {
	ObserveMinerRun(status string, d time.Duration, subsets int)
}

// Runner executes miner runs one at a time.
// A run reads one snapshot of resolved events, computes everything in memory and
// publishes stats, history, overrides and its own completion in one transaction.
type Runner struct {
	source     EventSource
	runs       *RunRepository
	stats      *aggregation.Repository
	aggregator *aggregation.Aggregator
	generator  *lessons.Generator
	service    *overrides.Service
	timeout    time.Duration

	emitter  EventEmitter
	observer Observer
	now      func() time.Time
	log      zerolog.Logger

	mu sync.Mutex
}

// NewRunner creates a miner runner. timeout <= 0 disables the wall-clock budget.
func NewRunner(
	source EventSource,
	runs *RunRepository,
	stats *aggregation.Repository,
	aggregator *aggregation.Aggregator,
	generator *lessons.Generator,
	service *overrides.Service,
	timeout time.Duration,
	log zerolog.Logger,
) *Runner {
	return &Runner{
		source:     source,
		runs:       runs,
		stats:      stats,
		aggregator: aggregator,
		generator:  generator,
		service:    service,
		timeout:    timeout,
		now:        time.Now,
		log:        log.With().Str("component", "miner").Logger(),
	}
}

// SetEventEmitter wires event publication
func (r *Runner) SetEventEmitter(emitter EventEmitter) {
	r.emitter = emitter
}

// SetObserver wires run metrics
func (r *Runner) SetObserver(observer Observer) {
	r.observer = observer
}

// SetClock replaces the wall clock, for tests
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Run mines one book, or every book when book is nil.
// It returns domain.ErrMinerBusy when another run is in flight and a
// *domain.MinerRunFailure when a stage fails; the published snapshot is then untouched.
func (r *Runner) Run(ctx context.Context, book *string) (*domain.MinerRun, error) {
	if !r.mu.TryLock() {
		return nil, domain.ErrMinerBusy
	}
	defer r.mu.Unlock()

	if book != nil {
		b := domain.NormalizeBook(*book)
		book = &b
	}

	run := &domain.MinerRun{
		RunID:     uuid.NewString(),
		Book:      book,
		StartedAt: r.now().UTC().Truncate(time.Millisecond),
		Status:    domain.MinerRunRunning,
	}
	if err := r.runs.Start(ctx, run); err != nil {
		return nil, err
	}

	log := r.log.With().Str("run_id", run.RunID).Str("book", bookLabel(book)).Logger()
	log.Info().Msg("Miner run started")
	r.emit(events.MinerRunStarted, &events.MinerRunStartedData{RunID: run.RunID, Book: bookLabel(book)})

	start := time.Now()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if stage, err := r.execute(ctx, run); err != nil {
		return run, r.fail(run, stage, err, time.Since(start), log)
	}

	elapsed := time.Since(start)
	if r.observer != nil {
		r.observer.ObserveMinerRun(string(domain.MinerRunCompleted), elapsed, run.SubsetsEvaluated)
	}
	r.emit(events.MinerRunCompleted, &events.MinerRunCompletedData{
		RunID:            run.RunID,
		Book:             bookLabel(book),
		EventsScanned:    run.EventsScanned,
		StatsRetained:    run.StatsRetained,
		OverridesCreated: run.OverridesCreated,
		SnapshotVersion:  *run.SnapshotVersion,
		DurationMs:       elapsed.Milliseconds(),
	})

	log.Info().
		Int("events", run.EventsScanned).
		Int("subsets", run.SubsetsEvaluated).
		Int("stats", run.StatsRetained).
		Int("overrides_created", run.OverridesCreated).
		Int64("snapshot_version", *run.SnapshotVersion).
		Dur("duration", elapsed).
		Msg("Miner run completed")

	return run, nil
}

// execute runs every stage and returns the failing stage with its error
func (r *Runner) execute(ctx context.Context, run *domain.MinerRun) (string, error) {
	base := r.service.Store().Current()
	incumbents, others := splitByBook(base.Overrides, run.Book)

	evts, err := r.source.ScanResolved(ctx, run.Book, run.StartedAt)
	if err != nil {
		return StageScan, err
	}
	run.EventsScanned = len(evts)

	result, err := r.aggregator.Aggregate(ctx, evts)
	if err != nil {
		return StageAggregate, err
	}
	run.SubsetsEvaluated = result.SubsetsEvaluated
	run.StatsRetained = len(result.Stats)

	history, err := r.stats.LoadHistory(ctx, run.Book)
	if err != nil {
		return StageHistory, err
	}

	out, err := r.generator.Generate(ctx, lessons.Input{
		Result:     result,
		History:    history,
		Incumbents: incumbents,
		Now:        run.StartedAt,
	})
	if err != nil {
		return StageGenerate, err
	}
	run.OverridesCreated = out.Promoted

	next := append(out.Overrides, others...)
	lessons.SortOverrides(next)

	var books []string
	if run.Book != nil {
		books = []string{*run.Book}
	}

	_, err = r.service.Publish(ctx, overrides.PublishRequest{
		RunID:       run.RunID,
		BaseVersion: base.Version,
		Overrides:   next,
		InTx: func(tx *sql.Tx, version int64) error {
			if err := r.stats.ReplaceStatsTx(ctx, tx, books, result.Stats); err != nil {
				return err
			}
			if err := r.stats.AppendHistoryTx(ctx, tx, result.Stats); err != nil {
				return err
			}
			completedAt := r.now().UTC().Truncate(time.Millisecond)
			run.CompletedAt = &completedAt
			run.SnapshotVersion = &version
			run.Status = domain.MinerRunCompleted
			return r.runs.CompleteTx(ctx, tx, run)
		},
	})
	if err != nil {
		run.CompletedAt = nil
		run.SnapshotVersion = nil
		run.Status = domain.MinerRunRunning
		return StagePublish, err
	}

	return "", nil
}

func (r *Runner) fail(run *domain.MinerRun, stage string, err error, elapsed time.Duration, log zerolog.Logger) error {
	failure := &domain.MinerRunFailure{RunID: run.RunID, Stage: stage, Err: err}

	completedAt := r.now().UTC().Truncate(time.Millisecond)
	msg := err.Error()
	run.CompletedAt = &completedAt
	run.Error = &msg

	// The run context may already be expired
	if markErr := r.runs.MarkFailed(context.Background(), run); markErr != nil {
		log.Error().Err(markErr).Msg("Failed to record miner run failure")
	}
	run.Status = domain.MinerRunFailed

	if r.observer != nil {
		r.observer.ObserveMinerRun(string(domain.MinerRunFailed), elapsed, run.SubsetsEvaluated)
	}
	r.emit(events.MinerRunFailed, &events.MinerRunFailedData{RunID: run.RunID, Stage: stage, Error: msg})

	log.Error().Err(err).Str("stage", stage).Msg("Miner run failed")
	return failure
}

func (r *Runner) emit(eventType events.EventType, data events.EventData) {
	if r.emitter != nil {
		r.emitter.EmitTyped(eventType, "miner", data)
	}
}

// splitByBook separates the overrides a run may replace from those it must keep
func splitByBook(list []domain.Override, book *string) (mine, others []domain.Override) {
	if book == nil {
		return list, nil
	}
	for _, o := range list {
		if o.Book == *book {
			mine = append(mine, o)
		} else {
			others = append(others, o)
		}
	}
	return mine, others
}

func bookLabel(book *string) string {
	if book == nil {
		return ""
	}
	return *book
}

// Get returns one run record
func (r *Runner) Get(ctx context.Context, runID string) (*domain.MinerRun, error) {
	return r.runs.Get(ctx, runID)
}

// List returns recent run records
func (r *Runner) List(ctx context.Context, limit int) ([]domain.MinerRun, error) {
	return r.runs.List(ctx, limit)
}

// RecoverStale fails runs left running by a previous process
func (r *Runner) RecoverStale(ctx context.Context) error {
	n, err := r.runs.FailStale(ctx, r.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		r.log.Warn().Int("runs", n).Msg("Marked interrupted miner runs as failed")
	}
	return nil
}

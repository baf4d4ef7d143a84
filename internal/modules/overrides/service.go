package overrides

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/lessons/internal/database"
	"github.com/aristath/lessons/internal/domain"
	"github.com/aristath/lessons/internal/events"
	"github.com/rs/zerolog"
)

// EventEmitter publishes override events
type EventEmitter interface {
	EmitTyped(eventType events.EventType, module string, data events.EventData)
}

// SnapshotObserver receives the published snapshot size and version
type SnapshotObserver interface {
	ObserveSnapshot(version int64, overrides int)
}

// PublishRequest is one snapshot publication.
// InTx runs inside the publishing transaction with the new version.
type PublishRequest struct {
	RunID       string
	BaseVersion int64
	Overrides   []domain.Override
	InTx        func(tx *sql.Tx, version int64) error
}

// Service serializes snapshot publication: persist in one transaction, then swap the store
type Service struct {
	db       *sql.DB
	repo     *Repository
	store    *Store
	emitter  EventEmitter
	observer SnapshotObserver
	now      func() time.Time
	log      zerolog.Logger

	mu sync.Mutex
}

// NewService creates an override service. db is the learning database.
func NewService(db *sql.DB, repo *Repository, store *Store, log zerolog.Logger) *Service {
	return &Service{
		db:    db,
		repo:  repo,
		store: store,
		now:   time.Now,
		log:   log.With().Str("service", "overrides").Logger(),
	}
}

// SetEventEmitter wires event publication
func (s *Service) SetEventEmitter(emitter EventEmitter) {
	s.emitter = emitter
}

// SetObserver wires snapshot metrics
func (s *Service) SetObserver(observer SnapshotObserver) {
	s.observer = observer
}

// SetClock replaces the wall clock, for tests
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Store returns the runtime store
func (s *Service) Store() *Store {
	return s.store
}

// Load publishes the persisted head snapshot into the store
func (s *Service) Load(ctx context.Context) error {
	snap, err := s.repo.LoadHead(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Publish(snap)
	s.observe(snap)

	s.log.Info().Int64("version", snap.Version).Int("overrides", snap.Len()).Msg("Override snapshot loaded")
	return nil
}

// Publish persists req as a new snapshot and swaps it into the store.
// When the current snapshot moved past BaseVersion meanwhile, enabled flags from
// the current snapshot win for overrides of the same subset, so operator toggles
// made during a miner run are kept.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := req.Overrides
	if cur := s.store.Current(); cur.Version != req.BaseVersion {
		list = reapplyEnabled(list, cur)
	}

	return s.publishLocked(ctx, req.RunID, list, req.InTx)
}

// SetEnabled toggles one override and publishes the result as a new version
func (s *Service) SetEnabled(ctx context.Context, overrideID string, enabled bool) (domain.Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.store.Current()
	if _, ok := cur.Get(overrideID); !ok {
		return domain.Override{}, fmt.Errorf("override %s: %w", overrideID, domain.ErrOverrideNotFound)
	}

	list := make([]domain.Override, len(cur.Overrides))
	copy(list, cur.Overrides)
	var toggled domain.Override
	for i := range list {
		if list[i].OverrideID == overrideID {
			list[i].Enabled = enabled
			toggled = list[i]
		}
	}

	snap, err := s.publishLocked(ctx, "", list, nil)
	if err != nil {
		return domain.Override{}, err
	}

	if s.emitter != nil {
		s.emitter.EmitTyped(events.OverrideToggled, "overrides", &events.OverrideToggledData{
			OverrideID: overrideID,
			Enabled:    enabled,
			Version:    snap.Version,
		})
	}
	return toggled, nil
}

func (s *Service) publishLocked(ctx context.Context, runID string, list []domain.Override, inTx func(*sql.Tx, int64) error) (*Snapshot, error) {
	publishedAt := s.now().UTC().Truncate(time.Millisecond)

	var version int64
	err := database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		v, err := s.repo.WriteSnapshotTx(ctx, tx, runID, publishedAt, list)
		if err != nil {
			return err
		}
		version = v
		if inTx != nil {
			return inTx(tx, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish overrides: %w", err)
	}

	snap := NewSnapshot(version, publishedAt, list)
	s.store.Publish(snap)
	s.observe(snap)

	if s.emitter != nil {
		s.emitter.EmitTyped(events.OverridesPublished, "overrides", &events.OverridesPublishedData{
			Version:   snap.Version,
			Overrides: snap.Len(),
		})
	}

	s.log.Info().Int64("version", version).Int("overrides", snap.Len()).Str("run_id", runID).Msg("Override snapshot published")
	return snap, nil
}

func (s *Service) observe(snap *Snapshot) {
	if s.observer != nil {
		s.observer.ObserveSnapshot(snap.Version, snap.Len())
	}
}

func reapplyEnabled(list []domain.Override, cur *Snapshot) []domain.Override {
	enabled := make(map[domain.StatKey]bool, cur.Len())
	for i := range cur.Overrides {
		enabled[cur.Overrides[i].Key()] = cur.Overrides[i].Enabled
	}

	out := make([]domain.Override, len(list))
	copy(out, list)
	for i := range out {
		if e, ok := enabled[out[i].Key()]; ok {
			out[i].Enabled = e
		}
	}
	return out
}

// Package overrides holds published lessons and answers runtime lever lookups.
package overrides

import (
	"sync/atomic"
	"time"

	"github.com/aristath/lessons/internal/domain"
)

// Snapshot is an immutable, versioned set of overrides.
// Readers share it freely; publishing builds a new one.
type Snapshot struct {
	Version     int64
	PublishedAt time.Time
	Overrides   []domain.Override

	byGroup map[domain.GroupKey][]int
	byID    map[string]int
}

// NewSnapshot indexes overrides for lookup. The slice is owned by the snapshot afterwards.
func NewSnapshot(version int64, publishedAt time.Time, list []domain.Override) *Snapshot {
	s := &Snapshot{
		Version:     version,
		PublishedAt: publishedAt,
		Overrides:   list,
		byGroup:     make(map[domain.GroupKey][]int),
		byID:        make(map[string]int, len(list)),
	}
	for i := range list {
		key := list[i].Group()
		s.byGroup[key] = append(s.byGroup[key], i)
		s.byID[list[i].OverrideID] = i
	}
	return s
}

// Get returns one override by id
func (s *Snapshot) Get(id string) (domain.Override, bool) {
	i, ok := s.byID[id]
	if !ok {
		return domain.Override{}, false
	}
	return s.Overrides[i], true
}

// Len returns the number of overrides
func (s *Snapshot) Len() int {
	return len(s.Overrides)
}

// Query describes one decision the engine is about to take
type Query struct {
	Book       string
	PatternKey domain.PatternKey
	Category   domain.ActionCategory
	Scope      domain.Scope
}

// MatchObserver receives matcher metrics
type MatchObserver interface {
	ObserveMatch(hit bool, d time.Duration)
}

// Store publishes snapshots and serves lookups against the current one.
// Match never blocks on a publish: readers load an atomic pointer.
type Store struct {
	current  atomic.Pointer[Snapshot]
	floor    float64
	now      func() time.Time
	observer MatchObserver
}

// NewStore creates a store with an empty version-0 snapshot.
// Overrides whose effective strength is below floor are inert.
func NewStore(floor float64) *Store {
	s := &Store{
		floor: floor,
		now:   time.Now,
	}
	s.current.Store(NewSnapshot(0, time.Time{}, nil))
	return s
}

// SetObserver wires matcher metrics
func (s *Store) SetObserver(observer MatchObserver) {
	s.observer = observer
}

// SetClock replaces the wall clock used by Match, for tests
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Publish makes snap the current snapshot
func (s *Store) Publish(snap *Snapshot) {
	s.current.Store(snap)
}

// Current returns the current snapshot
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Floor returns the effective-strength floor below which overrides are inert
func (s *Store) Floor() float64 {
	return s.floor
}

// Match returns the lever deltas for q at the current time
func (s *Store) Match(q Query) domain.LeverDeltas {
	d, _ := s.MatchSnapshot(q)
	return d
}

// MatchSnapshot is Match that also returns the snapshot the deltas came from.
// The snapshot is loaded once, so its version describes exactly these deltas.
func (s *Store) MatchSnapshot(q Query) (domain.LeverDeltas, *Snapshot) {
	start := time.Now()
	snap := s.current.Load()
	d := snap.MatchAt(s.now(), q, s.floor)
	if s.observer != nil {
		s.observer.ObserveMatch(d.Matched, time.Since(start))
	}
	return d, snap
}

// MatchAt matches q against the current snapshot as of now
func (s *Store) MatchAt(now time.Time, q Query) domain.LeverDeltas {
	return s.current.Load().MatchAt(now, q, s.floor)
}

// MatchAt picks the most specific active override whose subset agrees with q.Scope.
// Ties on subset size go to the higher effective strength, then the lower id.
// It returns identity when nothing applies.
func (snap *Snapshot) MatchAt(now time.Time, q Query, floor float64) domain.LeverDeltas {
	key := domain.GroupKey{Book: domain.NormalizeBook(q.Book), PatternKey: q.PatternKey, Category: q.Category}

	best := -1
	bestSize := 0
	bestStrength := 0.0
	for _, i := range snap.byGroup[key] {
		o := &snap.Overrides[i]
		if !o.Subset.Matches(q.Scope) {
			continue
		}
		strength := o.EffectiveStrength(now)
		if !o.Enabled || strength < floor {
			continue
		}

		size := o.Subset.Mask.Size()
		if best >= 0 {
			switch {
			case size < bestSize:
				continue
			case size == bestSize && strength < bestStrength:
				continue
			case size == bestSize && strength == bestStrength && o.OverrideID > snap.Overrides[best].OverrideID:
				continue
			}
		}
		best, bestSize, bestStrength = i, size, strength
	}

	if best < 0 {
		return domain.Identity()
	}

	o := &snap.Overrides[best]
	return domain.LeverDeltas{
		Matched:      true,
		OverrideID:   o.OverrideID,
		SubsetValues: o.Subset.Map(),
		Strength:     bestStrength,
		Levers:       o.Levers.Clone(),
	}
}

package domain

import (
	"math"
	"time"
)

// ActionEvent is one recorded trading action.
// Only Outcome and ResolvedAt change after creation, exactly once.
type ActionEvent struct {
	Seq        int64 // insertion order, internal
	EventID    string
	Book       string
	PatternKey PatternKey
	Category   ActionCategory
	Scope      Scope
	Controls   Controls
	Outcome    *float64
	ResolvedAt *time.Time
	CreatedAt  time.Time
}

// Resolved reports whether the outcome is attached
func (e *ActionEvent) Resolved() bool {
	return e.Outcome != nil
}

// GroupKey identifies the unit the miner learns over
type GroupKey struct {
	Book       string
	PatternKey PatternKey
	Category   ActionCategory
}

// Group returns the event's group key
func (e *ActionEvent) Group() GroupKey {
	return GroupKey{Book: e.Book, PatternKey: e.PatternKey, Category: e.Category}
}

// Less orders group keys lexically
func (g GroupKey) Less(o GroupKey) bool {
	if g.Book != o.Book {
		return g.Book < o.Book
	}
	if g.PatternKey != o.PatternKey {
		return g.PatternKey < o.PatternKey
	}
	return g.Category < o.Category
}

// PatternScopeStat is the derived statistic for one scope subset of a group
type PatternScopeStat struct {
	Book       string
	PatternKey PatternKey
	Category   ActionCategory
	Subset     SubsetValues
	N          int
	MeanEdge   float64
	EdgeRaw    float64
	Variance   float64
	UpdatedAt  time.Time

	// Coverage holds sorted positions of covered events within the group scan.
	// It is not persisted.
	Coverage []int32 `msgpack:"-"`
}

// Group returns the stat's group key
func (s *PatternScopeStat) Group() GroupKey {
	return GroupKey{Book: s.Book, PatternKey: s.PatternKey, Category: s.Category}
}

// StatKey identifies one scope subset of one group
type StatKey struct {
	Group  GroupKey
	Subset SubsetValues
}

// Key returns the stat's identity
func (s *PatternScopeStat) Key() StatKey {
	return StatKey{Group: s.Group(), Subset: s.Subset}
}

// EdgeHistoryPoint is one past observation of a stat's edge_raw
type EdgeHistoryPoint struct {
	AsOf    time.Time
	EdgeRaw float64
	N       int
}

// Override is a promoted lesson: bounded lever adjustments for one scope subset
type Override struct {
	OverrideID   string         `msgpack:"id"`
	Book         string         `msgpack:"book"`
	PatternKey   PatternKey     `msgpack:"pk"`
	Category     ActionCategory `msgpack:"cat"`
	Subset       SubsetValues   `msgpack:"sub"`
	Levers       LeverSet       `msgpack:"lev"`
	Edge         float64        `msgpack:"edge"`
	Strength     float64        `msgpack:"str"`
	HalfLife     time.Duration  `msgpack:"hl"`
	Enabled      bool           `msgpack:"en"`
	SampleCount  int            `msgpack:"n"`
	ReinforcedAt time.Time      `msgpack:"ra"`
	Merged       []string       `msgpack:"mg"`
	CreatedAt    time.Time      `msgpack:"ca"`
}

// Group returns the override's group key
func (o *Override) Group() GroupKey {
	return GroupKey{Book: o.Book, PatternKey: o.PatternKey, Category: o.Category}
}

// Key returns the override's identity
func (o *Override) Key() StatKey {
	return StatKey{Group: o.Group(), Subset: o.Subset}
}

// EffectiveStrength decays Strength by the half-life since the last reinforcing evidence
func (o *Override) EffectiveStrength(now time.Time) float64 {
	if o.HalfLife <= 0 {
		return o.Strength
	}
	age := now.Sub(o.ReinforcedAt)
	if age <= 0 {
		return o.Strength
	}
	return o.Strength * math.Pow(0.5, float64(age)/float64(o.HalfLife))
}

// Active reports whether the override may influence decisions at now
func (o *Override) Active(now time.Time, floor float64) bool {
	return o.Enabled && o.EffectiveStrength(now) >= floor
}

// MinerRunStatus is the terminal or in-flight state of a run
type MinerRunStatus string

const (
	MinerRunRunning   MinerRunStatus = "running"
	MinerRunCompleted MinerRunStatus = "completed"
	MinerRunFailed    MinerRunStatus = "failed"
)

// MinerRun is the audit record of one aggregator execution
type MinerRun struct {
	RunID            string         `json:"run_id"`
	Book             *string        `json:"book"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at"`
	Status           MinerRunStatus `json:"status"`
	EventsScanned    int            `json:"n_events_scanned"`
	SubsetsEvaluated int            `json:"n_subsets_evaluated"`
	StatsRetained    int            `json:"n_stats_retained"`
	OverridesCreated int            `json:"n_overrides_created"`
	SnapshotVersion  *int64         `json:"snapshot_version"`
	Error            *string        `json:"error"`
}

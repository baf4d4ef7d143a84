package testing

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/lessons/internal/domain"
)

// FixtureEpoch is the reference "now" used by fixtures
var FixtureEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ScenarioPatternKey is the pattern key used by the promotion scenario fixtures
const ScenarioPatternKey domain.PatternKey = "pm.uptrend.S1.buy_flag"

// NewScopeFixture returns a complete scope; named values replace the defaults
func NewScopeFixture(values map[string]string) domain.Scope {
	m := map[string]string{
		"macro_phase":    "Recover",
		"meso_phase":     "Rise",
		"bucket":         "micro",
		"timeframe":      "1h",
		"volatility":     "normal",
		"applied_mode_A": "standard",
		"applied_mode_E": "trail",
	}
	for k, v := range values {
		m[k] = v
	}
	s, err := domain.ParseScope(m)
	if err != nil {
		panic(fmt.Sprintf("invalid scope fixture: %v", err))
	}
	return s
}

// AlternatingOutcomes returns n values with exactly the given mean and sample variance.
// n must be even.
func AlternatingOutcomes(n int, mean, variance float64) []float64 {
	d := math.Sqrt(variance * float64(n-1) / float64(n))
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = mean + d
		} else {
			out[i] = mean - d
		}
	}
	return out
}

// EventFixtureOptions describes a batch of resolved events
type EventFixtureOptions struct {
	Book       string
	PatternKey domain.PatternKey
	Category   domain.ActionCategory
	Scope      domain.Scope
	Outcomes   []float64
	Start      time.Time     // resolution time of the first event
	Step       time.Duration // spacing between resolutions
	FirstSeq   int64
}

// NewResolvedEvents builds in-memory resolved events in resolution order
func NewResolvedEvents(opts EventFixtureOptions) []domain.ActionEvent {
	if opts.Book == "" {
		opts.Book = domain.DefaultBook
	}
	if opts.PatternKey == "" {
		opts.PatternKey = ScenarioPatternKey
	}
	if opts.Category == "" {
		opts.Category = domain.CategoryEntry
	}
	if opts.Start.IsZero() {
		opts.Start = FixtureEpoch.Add(-time.Duration(len(opts.Outcomes)) * time.Hour)
	}
	if opts.Step == 0 {
		opts.Step = time.Hour
	}

	events := make([]domain.ActionEvent, len(opts.Outcomes))
	for i, outcome := range opts.Outcomes {
		o := outcome
		resolvedAt := opts.Start.Add(time.Duration(i) * opts.Step)
		seq := opts.FirstSeq + int64(i) + 1
		events[i] = domain.ActionEvent{
			Seq:        seq,
			EventID:    fmt.Sprintf("evt-%s-%06d", opts.Book, seq),
			Book:       opts.Book,
			PatternKey: opts.PatternKey,
			Category:   opts.Category,
			Scope:      opts.Scope,
			Controls:   domain.Controls{"position_size": 100},
			Outcome:    &o,
			ResolvedAt: &resolvedAt,
			CreatedAt:  resolvedAt.Add(-30 * time.Minute),
		}
	}
	return events
}

// ScenarioEvents returns the 60-event promotion scenario: pm.uptrend.S1.buy_flag entries in
// macro_phase=Recover, bucket=micro with mean edge +0.18 and variance 0.04.
func ScenarioEvents() []domain.ActionEvent {
	return NewResolvedEvents(EventFixtureOptions{
		Scope:    NewScopeFixture(map[string]string{"macro_phase": "Recover", "bucket": "micro"}),
		Outcomes: AlternatingOutcomes(60, 0.18, 0.04),
	})
}

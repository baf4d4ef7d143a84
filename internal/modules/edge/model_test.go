package edge

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/aristath/lessons/internal/config"
	"github.com/aristath/lessons/internal/domain"
	"github.com/aristath/lessons/internal/modules/aggregation"
	testingpkg "github.com/aristath/lessons/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

func defaultParams() Params {
	return ParamsFromConfig(config.DefaultLearningConfig())
}

func groupOf(evts []domain.ActionEvent) *aggregation.Group {
	g := &aggregation.Group{Key: evts[0].Group(), Events: evts}
	for _, e := range evts {
		g.Edges = append(g.Edges, *e.Outcome)
	}
	return g
}

func regimeEvents(regime string, outcomes []float64, firstSeq int64) []domain.ActionEvent {
	return testingpkg.NewResolvedEvents(testingpkg.EventFixtureOptions{
		Scope:    testingpkg.NewScopeFixture(map[string]string{"macro_phase": regime}),
		Outcomes: outcomes,
		FirstSeq: firstSeq,
	})
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestFitRegimeWeights_SparseFallsBack(t *testing.T) {
	g := groupOf(testingpkg.ScenarioEvents())

	rw := FitRegimeWeights(g, defaultParams())
	assert.False(t, rw.Fitted())
	assert.Equal(t, 1.0, rw.Weight("Recover"))
	assert.Equal(t, 1.0, rw.Weight("Dip"))
}

func TestFitRegimeWeights_Consistency(t *testing.T) {
	evts := regimeEvents("Recover", repeat(0.1, 10), 0)
	evts = append(evts, regimeEvents("Dip", append(repeat(0.05, 5), repeat(-0.05, 5)...), 10)...)
	evts = append(evts, regimeEvents("Peak", repeat(-0.1, 3), 20)...)
	g := groupOf(evts)

	rw := FitRegimeWeights(g, defaultParams())
	require.True(t, rw.Fitted())
	assert.InDelta(t, 1.5, rw.Weight("Recover"), 1e-12)
	assert.InDelta(t, 1.0, rw.Weight("Dip"), 1e-12)
	// Too few samples to fit, default weight
	assert.Equal(t, 1.0, rw.Weight("Peak"))

	all := make([]int32, 0, 20)
	for i := int32(0); i < 20; i++ {
		all = append(all, i)
	}
	assert.InDelta(t, 1.25, RegimeFactor(g, all, rw), 1e-12)
	assert.InDelta(t, 1.5, RegimeFactor(g, all[:10], rw), 1e-12)
}

func history(start time.Time, edges []float64, step time.Duration) []domain.EdgeHistoryPoint {
	out := make([]domain.EdgeHistoryPoint, len(edges))
	for i, e := range edges {
		out[i] = domain.EdgeHistoryPoint{AsOf: start.Add(time.Duration(i) * step), EdgeRaw: e, N: 50}
	}
	return out
}

func TestFitHalfLife(t *testing.T) {
	p := defaultParams()
	start := testingpkg.FixtureEpoch

	decaying := make([]float64, 4)
	for i := range decaying {
		decaying[i] = 0.2 * math.Pow(0.5, float64(i*10)/20)
	}

	testCases := []struct {
		name     string
		points   []domain.EdgeHistoryPoint
		expected time.Duration
	}{
		{"too short", history(start, []float64{0.2, 0.1}, 10*day), 90 * day},
		{"sign flip", history(start, []float64{0.2, -0.1, 0.05}, 10*day), 90 * day},
		{"rising edge", history(start, []float64{0.1, 0.15, 0.2}, 10*day), 365 * day},
		{"fast decay clamped", history(start, []float64{0.4, 0.1, 0.025}, day), 3 * day},
		{"duplicates collapse", history(start, []float64{0.2, 0.2, 0.1}, 0), 90 * day},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FitHalfLife(tc.points, p))
		})
	}

	t.Run("exponential decay", func(t *testing.T) {
		hl := FitHalfLife(history(start, decaying, 10*day), p)
		assert.InDelta(t, float64(20*day), float64(hl), float64(time.Minute))
	})
}

func TestDecayFactorAndStrength(t *testing.T) {
	p := defaultParams()

	assert.InDelta(t, 0.875, DecayFactor(90*day, 30*day), 1e-12)
	assert.InDelta(t, 0.5, DecayFactor(30*day, 30*day), 1e-12)

	conf := 1 - math.Exp(-2)
	assert.InDelta(t, conf, Strength(0.1575, 0.04, 60, p), 1e-12)

	se := math.Sqrt(0.04 / 60)
	assert.InDelta(t, conf*(0.01/se)/3, Strength(0.01, 0.04, 60, p), 1e-12)

	assert.Equal(t, 0.0, Strength(0, 0.04, 60, p))
	assert.InDelta(t, conf, Strength(-0.1, 0, 60, p), 1e-12, "zero variance is full t-confidence")
}

func TestAssess_Scenario(t *testing.T) {
	res, err := aggregation.New(
		aggregation.ParamsFromConfig(config.DefaultLearningConfig(), 1), zerolog.Nop(),
	).Aggregate(context.Background(), testingpkg.ScenarioEvents())
	require.NoError(t, err)

	g := &res.Groups[0]
	assessments := AssessGroup(g, res.Stats, nil, defaultParams())
	require.Len(t, assessments, len(res.Stats))

	a := assessments[0]
	assert.Equal(t, 1.0, a.RegimeFactor)
	assert.Equal(t, 90*day, a.HalfLife)
	assert.InDelta(t, 0.18*0.875, a.Decayed, 1e-3)
	assert.InDelta(t, 1-math.Exp(-2), a.Strength, 1e-9)
}

func TestAssess_UsesHistory(t *testing.T) {
	evts := testingpkg.ScenarioEvents()
	g := groupOf(evts)
	stat := domain.PatternScopeStat{
		Book:       g.Key.Book,
		PatternKey: g.Key.PatternKey,
		Category:   g.Key.Category,
		Subset:     evts[0].Scope.Project(domain.MaskOf(domain.DimMacroPhase)),
		N:          60,
		EdgeRaw:    0.05,
		Variance:   0.04,
		UpdatedAt:  testingpkg.FixtureEpoch,
	}

	// Edge halving every 20 days ending at the current observation
	past := history(testingpkg.FixtureEpoch.Add(-40*day), []float64{0.2, 0.1}, 20*day)
	a := Assess(stat, g, FitRegimeWeights(g, defaultParams()), past, defaultParams())

	assert.InDelta(t, float64(20*day), float64(a.HalfLife), float64(time.Minute))
	assert.InDelta(t, 0.05*DecayFactor(20*day, 30*day), a.Decayed, 1e-6)
}

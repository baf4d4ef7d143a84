package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/lessons/internal/config"
	"github.com/aristath/lessons/internal/domain"
	testingpkg "github.com/aristath/lessons/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultParams() Params {
	return ParamsFromConfig(config.DefaultLearningConfig(), 4)
}

func TestParams_NMin(t *testing.T) {
	p := defaultParams()
	assert.Equal(t, 20, p.NMin(1))
	assert.Equal(t, 30, p.NMin(2))
	assert.Equal(t, 45, p.NMin(3))
	assert.Equal(t, 68, p.NMin(4))
	for s := 2; s <= domain.NumDimensions; s++ {
		assert.GreaterOrEqual(t, p.NMin(s), p.NMin(s-1))
	}
}

func TestAggregate_SampleGate(t *testing.T) {
	scope := testingpkg.NewScopeFixture(nil)
	agg := New(defaultParams(), zerolog.Nop())

	below := testingpkg.NewResolvedEvents(testingpkg.EventFixtureOptions{
		Scope:    scope,
		Outcomes: testingpkg.AlternatingOutcomes(18, 0.1, 0.01),
	})
	below = append(below, testingpkg.NewResolvedEvents(testingpkg.EventFixtureOptions{
		Scope:    scope,
		Outcomes: []float64{0.1},
		FirstSeq: 18,
	})...)
	require.Len(t, below, 19)

	res, err := agg.Aggregate(context.Background(), below)
	require.NoError(t, err)
	assert.Empty(t, res.Stats, "N_min-1 events must not produce a stat")
	assert.Equal(t, 127, res.SubsetsEvaluated)
	assert.Equal(t, 19, res.EventsScanned)

	atGate := testingpkg.NewResolvedEvents(testingpkg.EventFixtureOptions{
		Scope:    scope,
		Outcomes: testingpkg.AlternatingOutcomes(20, 0.1, 0.01),
	})
	res, err = agg.Aggregate(context.Background(), atGate)
	require.NoError(t, err)
	require.Len(t, res.Stats, domain.NumDimensions, "only size-1 subsets reach N_min")
	for _, s := range res.Stats {
		assert.Equal(t, 1, s.Subset.Mask.Size())
		assert.Equal(t, 20, s.N)
	}
}

func TestAggregate_Scenario(t *testing.T) {
	agg := New(defaultParams(), zerolog.Nop())

	res, err := agg.Aggregate(context.Background(), testingpkg.ScenarioEvents())
	require.NoError(t, err)

	// 60 events: sizes 1..3 pass (20, 30, 45), size 4 needs 68
	assert.Len(t, res.Stats, 7+21+35)
	require.Len(t, res.Groups, 1)

	first := res.Stats[0]
	assert.Equal(t, domain.MaskOf(domain.DimMacroPhase), first.Subset.Mask)
	assert.Equal(t, "Recover", first.Subset.Values[domain.DimMacroPhase])
	assert.Equal(t, 60, first.N)
	assert.InDelta(t, 0.18, first.MeanEdge, 1e-9)
	assert.InDelta(t, 0.04, first.Variance, 1e-9)
	assert.InDelta(t, 0.18, first.EdgeRaw, 1e-3)
	assert.Len(t, first.Coverage, 60)
	assert.Equal(t, *res.Groups[0].Events[59].ResolvedAt, first.UpdatedAt)

	for i := 1; i < len(res.Stats); i++ {
		prev, cur := res.Stats[i-1], res.Stats[i]
		assert.LessOrEqual(t, prev.Subset.Mask, cur.Subset.Mask, "stats must be sorted by mask")
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	evts := testingpkg.ScenarioEvents()
	evts = append(evts, testingpkg.NewResolvedEvents(testingpkg.EventFixtureOptions{
		Category: domain.CategoryExit,
		Scope:    testingpkg.NewScopeFixture(map[string]string{"macro_phase": "Dip"}),
		Outcomes: testingpkg.AlternatingOutcomes(40, -0.05, 0.02),
		FirstSeq: 60,
	})...)

	serial := ParamsFromConfig(config.DefaultLearningConfig(), 1)
	parallel := ParamsFromConfig(config.DefaultLearningConfig(), 8)

	a, err := New(serial, zerolog.Nop()).Aggregate(context.Background(), evts)
	require.NoError(t, err)
	b, err := New(parallel, zerolog.Nop()).Aggregate(context.Background(), evts)
	require.NoError(t, err)
	c, err := New(parallel, zerolog.Nop()).Aggregate(context.Background(), evts)
	require.NoError(t, err)

	assert.Equal(t, a.Stats, b.Stats)
	assert.Equal(t, b.Stats, c.Stats)
	require.Len(t, a.Groups, 2)
	assert.Equal(t, domain.CategoryEntry, a.Groups[0].Key.Category)
	assert.Equal(t, domain.CategoryExit, a.Groups[1].Key.Category)
}

func TestAggregate_SplitsSubsetValues(t *testing.T) {
	p := defaultParams()
	p.NMinBase = 5
	agg := New(p, zerolog.Nop())

	recover := testingpkg.NewResolvedEvents(testingpkg.EventFixtureOptions{
		Scope:    testingpkg.NewScopeFixture(map[string]string{"macro_phase": "Recover"}),
		Outcomes: []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1},
	})
	dip := testingpkg.NewResolvedEvents(testingpkg.EventFixtureOptions{
		Scope:    testingpkg.NewScopeFixture(map[string]string{"macro_phase": "Dip"}),
		Outcomes: []float64{-0.2, -0.2, -0.2, -0.2, -0.2, -0.2},
		FirstSeq: 6,
	})

	res, err := agg.Aggregate(context.Background(), append(recover, dip...))
	require.NoError(t, err)

	byValue := map[string]domain.PatternScopeStat{}
	for _, s := range res.Stats {
		if s.Subset.Mask == domain.MaskOf(domain.DimMacroPhase) {
			byValue[s.Subset.Values[domain.DimMacroPhase]] = s
		}
	}
	require.Len(t, byValue, 2)
	assert.InDelta(t, 0.1, byValue["Recover"].MeanEdge, 1e-12)
	assert.InDelta(t, -0.2, byValue["Dip"].MeanEdge, 1e-12)
	assert.Equal(t, []int32{6, 7, 8, 9, 10, 11}, byValue["Dip"].Coverage)

	// bucket alone spans both regimes
	for _, s := range res.Stats {
		if s.Subset.Mask == domain.MaskOf(domain.DimBucket) {
			assert.Equal(t, 12, s.N)
			assert.InDelta(t, -0.05, s.MeanEdge, 1e-12)
		}
	}
}

func TestAggregate_RecencyWeighting(t *testing.T) {
	p := defaultParams()
	p.NMinBase = 1
	agg := New(p, zerolog.Nop())

	evts := testingpkg.NewResolvedEvents(testingpkg.EventFixtureOptions{
		Scope:    testingpkg.NewScopeFixture(nil),
		Outcomes: []float64{0, 1},
		Step:     30 * 24 * time.Hour,
	})

	res, err := agg.Aggregate(context.Background(), evts)
	require.NoError(t, err)
	require.NotEmpty(t, res.Stats)

	s := res.Stats[0]
	assert.InDelta(t, 0.5, s.MeanEdge, 1e-12)
	// weights 0.5 (one half-life old) and 1.0
	assert.InDelta(t, 1.0/1.5, s.EdgeRaw, 1e-12)
}

func TestAggregate_Baselines(t *testing.T) {
	evts := testingpkg.NewResolvedEvents(testingpkg.EventFixtureOptions{
		Scope:    testingpkg.NewScopeFixture(nil),
		Outcomes: testingpkg.AlternatingOutcomes(20, 0.1, 0.01),
	})
	evts = append(evts, testingpkg.NewResolvedEvents(testingpkg.EventFixtureOptions{
		PatternKey: "pm.downtrend.S2.buy_flag",
		Scope:      testingpkg.NewScopeFixture(nil),
		Outcomes:   testingpkg.AlternatingOutcomes(20, 0.3, 0.01),
		FirstSeq:   20,
	})...)

	run := func(mode BaselineMode) map[domain.PatternKey]float64 {
		p := defaultParams()
		p.Baseline = mode
		res, err := New(p, zerolog.Nop()).Aggregate(context.Background(), evts)
		require.NoError(t, err)
		out := map[domain.PatternKey]float64{}
		for _, s := range res.Stats {
			if s.Subset.Mask == domain.MaskOf(domain.DimMacroPhase) {
				out[s.PatternKey] = s.MeanEdge
			}
		}
		return out
	}

	zero := run(BaselineZero)
	assert.InDelta(t, 0.1, zero["pm.uptrend.S1.buy_flag"], 1e-9)

	global := run(BaselineGlobal)
	assert.InDelta(t, -0.1, global["pm.uptrend.S1.buy_flag"], 1e-9)
	assert.InDelta(t, 0.1, global["pm.downtrend.S2.buy_flag"], 1e-9)

	parent := run(BaselineParent)
	assert.InDelta(t, 0, parent["pm.uptrend.S1.buy_flag"], 1e-9)
}

func TestAggregate_IgnoresUnresolved(t *testing.T) {
	evts := testingpkg.ScenarioEvents()
	evts[0].Outcome = nil
	evts[0].ResolvedAt = nil

	res, err := New(defaultParams(), zerolog.Nop()).Aggregate(context.Background(), evts)
	require.NoError(t, err)
	assert.Equal(t, 59, res.EventsScanned)
}

func TestAggregate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(defaultParams(), zerolog.Nop()).Aggregate(ctx, testingpkg.ScenarioEvents())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestResult_GroupForAndCoverage(t *testing.T) {
	res, err := New(defaultParams(), zerolog.Nop()).Aggregate(context.Background(), testingpkg.ScenarioEvents())
	require.NoError(t, err)

	key := domain.GroupKey{Book: domain.DefaultBook, PatternKey: testingpkg.ScenarioPatternKey, Category: domain.CategoryEntry}
	g, ok := res.GroupFor(key)
	require.True(t, ok)
	assert.Len(t, g.Events, 60)

	sv := testingpkg.NewScopeFixture(nil).Project(domain.MaskOf(domain.DimBucket))
	assert.Len(t, g.CoverageOf(sv), 60)

	other := testingpkg.NewScopeFixture(map[string]string{"bucket": "large"}).Project(domain.MaskOf(domain.DimBucket))
	assert.Empty(t, g.CoverageOf(other))

	_, ok = res.GroupFor(domain.GroupKey{Book: "nope"})
	assert.False(t, ok)
}

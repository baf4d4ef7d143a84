package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePatternKey(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		valid bool
	}{
		{"canonical", "pm.uptrend.S1.buy_flag", true},
		{"dashes allowed", "pm.down-trend.S3.exit-now", true},
		{"three segments", "pm.uptrend.S1", false},
		{"five segments", "pm.uptrend.S1.buy.flag", false},
		{"empty segment", "pm..S1.buy_flag", false},
		{"spaces", "pm.up trend.S1.buy_flag", false},
		{"empty", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			k, err := ParsePatternKey(tc.input)
			if tc.valid {
				require.NoError(t, err)
				assert.Equal(t, PatternKey(tc.input), k)
			} else {
				assert.True(t, IsValidation(err))
			}
		})
	}
}

func TestPatternKeySegments(t *testing.T) {
	k := PatternKey("pm.uptrend.S1.buy_flag")
	assert.Equal(t, "pm", k.Namespace())
	assert.Equal(t, "uptrend", k.Family())
	assert.Equal(t, "S1", k.State())
	assert.Equal(t, "buy_flag", k.Motif())
}

func TestParseActionCategory(t *testing.T) {
	for _, c := range Categories() {
		got, err := ParseActionCategory(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	got, err := ParseActionCategory(" Entry ")
	require.NoError(t, err)
	assert.Equal(t, CategoryEntry, got)

	_, err = ParseActionCategory("hold")
	assert.True(t, IsValidation(err))
}

func TestNormalizeBook(t *testing.T) {
	assert.Equal(t, DefaultBook, NormalizeBook(""))
	assert.Equal(t, "alpha", NormalizeBook(" alpha "))
}

func TestLeverSpecs_CategoryIsolation(t *testing.T) {
	for _, l := range LeversFor(CategoryTrim) {
		spec, ok := SpecFor(l)
		require.True(t, ok)
		assert.False(t, spec.Capital, "trim must not carry capital levers")
		assert.NotEqual(t, LeverEntryDelayMult, l)
	}
	for _, l := range LeversFor(CategoryExit) {
		assert.NotEqual(t, LeverEntryDelayMult, l)
		assert.NotEqual(t, LeverSizeMult, l)
	}
	assert.Contains(t, LeversFor(CategoryEntry), LeverSizeMult)
	assert.Contains(t, LeversFor(CategoryAdd), LeverSizeMult)
}

func TestLeverSpec_Clamp(t *testing.T) {
	spec, _ := SpecFor(LeverSizeMult)
	assert.Equal(t, 1.5, spec.Clamp(9))
	assert.Equal(t, 0.5, spec.Clamp(-9))
	assert.Equal(t, 1.1, spec.Clamp(1.1))
}

func TestControlsApply(t *testing.T) {
	controls := Controls{"position_size": 100, "entry_delay": 4, "custom": 7}
	deltas := LeverDeltas{Matched: true, Levers: LeverSet{LeverSizeMult: 1.2, LeverEntryDelayMult: 0.5}}

	out := controls.Apply(deltas)
	assert.InDelta(t, 120, out["position_size"], 1e-9)
	assert.InDelta(t, 2, out["entry_delay"], 1e-9)
	assert.Equal(t, 7.0, out["custom"])
	assert.Equal(t, 100.0, controls["position_size"], "input must not be mutated")

	assert.Equal(t, controls, controls.Apply(Identity()))
}

func TestOverride_EffectiveStrength(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	o := Override{
		Strength:     0.8,
		HalfLife:     10 * 24 * time.Hour,
		Enabled:      true,
		ReinforcedAt: now.Add(-10 * 24 * time.Hour),
	}
	assert.InDelta(t, 0.4, o.EffectiveStrength(now), 1e-9)
	assert.True(t, o.Active(now, 0.2))

	later := now.Add(20 * 24 * time.Hour)
	assert.InDelta(t, 0.1, o.EffectiveStrength(later), 1e-9)
	assert.False(t, o.Active(later, 0.2))

	o.Enabled = false
	assert.False(t, o.Active(now, 0.2))
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LESSONS_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8010, cfg.Port)
	assert.True(t, cfg.Miner.Enabled)
	assert.Equal(t, "0 30 3 * * *", cfg.Miner.Schedule)
	assert.Equal(t, 10*time.Minute, cfg.Miner.Timeout)
	assert.Equal(t, DefaultLearningConfig(), cfg.Learning)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LESSONS_DATA_DIR", t.TempDir())
	t.Setenv("LESSONS_PORT", "9100")
	t.Setenv("LESSONS_MINER_TIMEOUT", "90s")
	t.Setenv("LESSONS_NMIN_BASE", "40")
	t.Setenv("LESSONS_BASELINE", "GLOBAL")
	t.Setenv("LESSONS_MAX_STEP", "0.05")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.Miner.Timeout)
	assert.Equal(t, 40, cfg.Learning.NMinBase)
	assert.Equal(t, "global", cfg.Learning.Baseline)
	assert.Equal(t, 0.05, cfg.Learning.MaxStep)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("LESSONS_DATA_DIR", t.TempDir())
	t.Setenv("LESSONS_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8010, cfg.Port)
}

func TestLearningConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*LearningConfig)
	}{
		{"unknown baseline", func(l *LearningConfig) { l.Baseline = "median" }},
		{"shrinking N_min", func(l *LearningConfig) { l.NMinGrowth = 0.8 }},
		{"inverted half-life bounds", func(l *LearningConfig) { l.MaxHalfLife = l.MinHalfLife / 2 }},
		{"overlap above one", func(l *LearningConfig) { l.OverlapThreshold = 1.2 }},
		{"step of 100%", func(l *LearningConfig) { l.MaxStep = 1 }},
		{"negative floor", func(l *LearningConfig) { l.StrengthFloor = -0.1 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l := DefaultLearningConfig()
			tc.mutate(&l)
			assert.Error(t, l.Validate())
		})
	}

	assert.NoError(t, DefaultLearningConfig().Validate())
}

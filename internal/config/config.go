// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for the learning database (always absolute)
	LogLevel  string
	LogPretty bool
	Port      int
	DevMode   bool

	Miner    MinerConfig
	Learning LearningConfig
}

// MinerConfig controls when and how the batch miner runs
type MinerConfig struct {
	Enabled  bool
	Schedule string        // cron spec with seconds, e.g. "0 30 3 * * *"
	Timeout  time.Duration // wall-clock budget per run
	Workers  int           // parallel (pattern, category) groups
}

// LearningConfig holds every tunable of the learning pipeline.
// Defaults are documented in DESIGN.md.
type LearningConfig struct {
	// Sample gate: N_min(s) = ceil(NMinBase * NMinGrowth^(s-1))
	NMinBase   int
	NMinGrowth float64

	// Baseline: zero, global or parent
	Baseline string

	// Recency weighting of edge_raw
	RecencyHalfLife time.Duration

	// Regime weighting
	MinRegimes          int
	MinRegimeSamples    int
	DefaultRegimeWeight float64

	// Decay fit
	DefaultHalfLife time.Duration
	MinHalfLife     time.Duration
	MaxHalfLife     time.Duration
	DecayHorizon    time.Duration
	MinHistory      int

	// Confidence
	ConfidenceSamples float64
	TStatFull         float64

	// Promotion
	MinEdge     float64
	MaxVariance float64

	// Orthogonalization
	OverlapThreshold float64

	// Lever update
	LeverGain     float64
	EdgeScale     float64
	MaxStep       float64
	StrengthFloor float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("LESSONS_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),
		Port:      getEnvAsInt("LESSONS_PORT", 8010),
		DevMode:   getEnvAsBool("DEV_MODE", false),
		Miner: MinerConfig{
			Enabled:  getEnvAsBool("LESSONS_MINER_ENABLED", true),
			Schedule: getEnv("LESSONS_MINER_SCHEDULE", "0 30 3 * * *"),
			Timeout:  getEnvAsDuration("LESSONS_MINER_TIMEOUT", 10*time.Minute),
			Workers:  getEnvAsInt("LESSONS_MINER_WORKERS", 4),
		},
		Learning: loadLearningConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultLearningConfig returns the documented defaults
func DefaultLearningConfig() LearningConfig {
	return LearningConfig{
		NMinBase:            20,
		NMinGrowth:          1.5,
		Baseline:            "zero",
		RecencyHalfLife:     30 * 24 * time.Hour,
		MinRegimes:          2,
		MinRegimeSamples:    10,
		DefaultRegimeWeight: 1.0,
		DefaultHalfLife:     90 * 24 * time.Hour,
		MinHalfLife:         3 * 24 * time.Hour,
		MaxHalfLife:         365 * 24 * time.Hour,
		DecayHorizon:        30 * 24 * time.Hour,
		MinHistory:          3,
		ConfidenceSamples:   30,
		TStatFull:           3,
		MinEdge:             0.02,
		MaxVariance:         0.25,
		OverlapThreshold:    0.7,
		LeverGain:           0.5,
		EdgeScale:           0.1,
		MaxStep:             0.15,
		StrengthFloor:       0.2,
	}
}

func loadLearningConfig() LearningConfig {
	d := DefaultLearningConfig()
	return LearningConfig{
		NMinBase:            getEnvAsInt("LESSONS_NMIN_BASE", d.NMinBase),
		NMinGrowth:          getEnvAsFloat("LESSONS_NMIN_GROWTH", d.NMinGrowth),
		Baseline:            strings.ToLower(getEnv("LESSONS_BASELINE", d.Baseline)),
		RecencyHalfLife:     getEnvAsDuration("LESSONS_RECENCY_HALF_LIFE", d.RecencyHalfLife),
		MinRegimes:          getEnvAsInt("LESSONS_MIN_REGIMES", d.MinRegimes),
		MinRegimeSamples:    getEnvAsInt("LESSONS_MIN_REGIME_SAMPLES", d.MinRegimeSamples),
		DefaultRegimeWeight: getEnvAsFloat("LESSONS_DEFAULT_REGIME_WEIGHT", d.DefaultRegimeWeight),
		DefaultHalfLife:     getEnvAsDuration("LESSONS_DEFAULT_HALF_LIFE", d.DefaultHalfLife),
		MinHalfLife:         getEnvAsDuration("LESSONS_MIN_HALF_LIFE", d.MinHalfLife),
		MaxHalfLife:         getEnvAsDuration("LESSONS_MAX_HALF_LIFE", d.MaxHalfLife),
		DecayHorizon:        getEnvAsDuration("LESSONS_DECAY_HORIZON", d.DecayHorizon),
		MinHistory:          getEnvAsInt("LESSONS_MIN_HISTORY", d.MinHistory),
		ConfidenceSamples:   getEnvAsFloat("LESSONS_CONFIDENCE_SAMPLES", d.ConfidenceSamples),
		TStatFull:           getEnvAsFloat("LESSONS_TSTAT_FULL", d.TStatFull),
		MinEdge:             getEnvAsFloat("LESSONS_MIN_EDGE", d.MinEdge),
		MaxVariance:         getEnvAsFloat("LESSONS_MAX_VARIANCE", d.MaxVariance),
		OverlapThreshold:    getEnvAsFloat("LESSONS_OVERLAP_THRESHOLD", d.OverlapThreshold),
		LeverGain:           getEnvAsFloat("LESSONS_LEVER_GAIN", d.LeverGain),
		EdgeScale:           getEnvAsFloat("LESSONS_EDGE_SCALE", d.EdgeScale),
		MaxStep:             getEnvAsFloat("LESSONS_MAX_STEP", d.MaxStep),
		StrengthFloor:       getEnvAsFloat("LESSONS_STRENGTH_FLOOR", d.StrengthFloor),
	}
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Miner.Workers < 1 {
		return fmt.Errorf("miner workers must be at least 1, got %d", c.Miner.Workers)
	}
	if c.Miner.Timeout <= 0 {
		return fmt.Errorf("miner timeout must be positive")
	}
	return c.Learning.Validate()
}

// Validate checks the learning parameters
func (l LearningConfig) Validate() error {
	switch l.Baseline {
	case "zero", "global", "parent":
	default:
		return fmt.Errorf("unknown baseline mode %q (want zero, global or parent)", l.Baseline)
	}
	if l.NMinBase < 1 {
		return fmt.Errorf("N_min base must be at least 1")
	}
	if l.NMinGrowth < 1 {
		return fmt.Errorf("N_min growth must be >= 1 so larger subsets never need fewer samples")
	}
	if l.MinHalfLife <= 0 || l.MaxHalfLife < l.MinHalfLife {
		return fmt.Errorf("half-life bounds must satisfy 0 < min <= max")
	}
	if l.DefaultHalfLife < l.MinHalfLife || l.DefaultHalfLife > l.MaxHalfLife {
		return fmt.Errorf("default half-life must lie within [min, max]")
	}
	if l.DecayHorizon <= 0 || l.RecencyHalfLife <= 0 {
		return fmt.Errorf("decay horizon and recency half-life must be positive")
	}
	if l.OverlapThreshold <= 0 || l.OverlapThreshold > 1 {
		return fmt.Errorf("overlap threshold must be in (0, 1]")
	}
	if l.MaxStep <= 0 || l.MaxStep >= 1 {
		return fmt.Errorf("max step must be in (0, 1)")
	}
	if l.StrengthFloor < 0 || l.StrengthFloor > 1 {
		return fmt.Errorf("strength floor must be in [0, 1]")
	}
	if l.EdgeScale <= 0 || l.ConfidenceSamples <= 0 || l.TStatFull <= 0 {
		return fmt.Errorf("edge scale, confidence samples and t-stat scale must be positive")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

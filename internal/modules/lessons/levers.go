// Package lessons promotes qualifying statistics into bounded lever overrides.
package lessons

import (
	"math"
	"strconv"
	"time"

	"github.com/aristath/lessons/internal/config"
	"github.com/aristath/lessons/internal/domain"
	"github.com/aristath/lessons/internal/modules/edge"
	"github.com/aristath/lessons/pkg/formulas"
	"github.com/google/uuid"
)

// Params configures promotion and lever updates
type Params struct {
	MinEdge          float64
	MaxVariance      float64
	OverlapThreshold float64
	LeverGain        float64
	EdgeScale        float64
	MaxStep          float64
	StrengthFloor    float64

	Edge edge.Params
}

// ParamsFromConfig builds generator params from the learning config
func ParamsFromConfig(cfg config.LearningConfig) Params {
	return Params{
		MinEdge:          cfg.MinEdge,
		MaxVariance:      cfg.MaxVariance,
		OverlapThreshold: cfg.OverlapThreshold,
		LeverGain:        cfg.LeverGain,
		EdgeScale:        cfg.EdgeScale,
		MaxStep:          cfg.MaxStep,
		StrengthFloor:    cfg.StrengthFloor,
		Edge:             edge.ParamsFromConfig(cfg),
	}
}

// NudgeLevers moves each lever of the category from its prior value:
//
//	new = clamp(old * (1 + k * dir * sign(edge) * f), min, max)
//	f   = confidence * min(1, |edge| / edge_scale)
//
// The relative change per call never exceeds MaxStep.
func NudgeLevers(category domain.ActionCategory, prior domain.LeverSet, decayed, confidence float64, p Params) domain.LeverSet {
	f := formulas.Clamp(confidence, 0, 1) * math.Min(1, math.Abs(decayed)/p.EdgeScale)

	out := make(domain.LeverSet)
	for _, l := range domain.LeversFor(category) {
		spec, _ := domain.SpecFor(l)
		old := spec.Clamp(prior.Get(l))
		change := p.LeverGain * spec.Direction * formulas.Sign(decayed) * f
		change = formulas.Clamp(change, -p.MaxStep, p.MaxStep)
		out[l] = spec.Clamp(old * (1 + change))
	}
	return out
}

var overrideNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:lessons:override"))

// OverrideID derives a stable id from the override's subset and evidence time.
// Re-promoting the same subset on the same evidence yields the same id.
func OverrideID(key domain.StatKey, evidence time.Time) string {
	name := key.Group.Book + "|" + string(key.Group.PatternKey) + "|" + string(key.Group.Category) +
		"|" + key.Subset.Key() + "|" + strconv.FormatInt(evidence.UnixMilli(), 10)
	return uuid.NewSHA1(overrideNamespace, []byte(name)).String()
}

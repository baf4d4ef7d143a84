// Package edge turns raw subset statistics into decayed, regime-weighted edge and strength.
package edge

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/lessons/internal/config"
	"github.com/aristath/lessons/internal/domain"
	"github.com/aristath/lessons/internal/modules/aggregation"
	"github.com/aristath/lessons/pkg/formulas"
)

// Params configures the edge model
type Params struct {
	MinRegimes          int
	MinRegimeSamples    int
	DefaultRegimeWeight float64

	DefaultHalfLife time.Duration
	MinHalfLife     time.Duration
	MaxHalfLife     time.Duration
	Horizon         time.Duration
	MinHistory      int

	ConfidenceSamples float64
	TStatFull         float64
}

// ParamsFromConfig builds edge params from the learning config
func ParamsFromConfig(cfg config.LearningConfig) Params {
	return Params{
		MinRegimes:          cfg.MinRegimes,
		MinRegimeSamples:    cfg.MinRegimeSamples,
		DefaultRegimeWeight: cfg.DefaultRegimeWeight,
		DefaultHalfLife:     cfg.DefaultHalfLife,
		MinHalfLife:         cfg.MinHalfLife,
		MaxHalfLife:         cfg.MaxHalfLife,
		Horizon:             cfg.DecayHorizon,
		MinHistory:          cfg.MinHistory,
		ConfidenceSamples:   cfg.ConfidenceSamples,
		TStatFull:           cfg.TStatFull,
	}
}

// RegimeWeights maps macro_phase values to edge multipliers for one group
type RegimeWeights struct {
	weights  map[string]float64
	fallback float64
	fitted   bool
}

// Weight returns the weight of a regime
func (rw RegimeWeights) Weight(regime string) float64 {
	if w, ok := rw.weights[regime]; ok {
		return w
	}
	return rw.fallback
}

// Fitted reports whether the group had enough regime coverage to fit weights
func (rw RegimeWeights) Fitted() bool {
	return rw.fitted
}

// FitRegimeWeights fits per-regime weights for a group.
// A regime's weight is 0.5 + the share of its events whose edge sign agrees with
// the group mean, clamped to [0.5, 1.5]. Groups with fewer than MinRegimes
// regimes of MinRegimeSamples events each get the default weight everywhere.
func FitRegimeWeights(g *aggregation.Group, p Params) RegimeWeights {
	rw := RegimeWeights{weights: map[string]float64{}, fallback: p.DefaultRegimeWeight}

	counts := make(map[string]int)
	agree := make(map[string]int)
	groupSign := formulas.Sign(formulas.Mean(g.Edges))
	for i := range g.Events {
		r := g.Events[i].Scope.Get(domain.RegimeDimension)
		counts[r]++
		if formulas.Sign(g.Edges[i]) == groupSign {
			agree[r]++
		}
	}

	var qualifying []string
	for r, n := range counts {
		if n >= p.MinRegimeSamples {
			qualifying = append(qualifying, r)
		}
	}
	if len(qualifying) < p.MinRegimes {
		return rw
	}

	rw.fitted = true
	for _, r := range qualifying {
		consistency := float64(agree[r]) / float64(counts[r])
		rw.weights[r] = formulas.Clamp(0.5+consistency, 0.5, 1.5)
	}
	return rw
}

// RegimeFactor is the coverage-weighted mean regime weight of a stat: sum of share_r * w_r
func RegimeFactor(g *aggregation.Group, coverage []int32, rw RegimeWeights) float64 {
	if len(coverage) == 0 {
		return rw.fallback
	}
	var sum float64
	for _, pos := range coverage {
		sum += rw.Weight(g.Events[pos].Scope.Get(domain.RegimeDimension))
	}
	return sum / float64(len(coverage))
}

// FitHalfLife estimates how fast a stat's edge fades from its history.
// It regresses ln|edge_raw| on time in days: a negative slope gives ln2/-slope,
// a flat or rising edge gives the maximum. Short histories and sign flips fall
// back to the default. The result is clamped to [MinHalfLife, MaxHalfLife].
func FitHalfLife(history []domain.EdgeHistoryPoint, p Params) time.Duration {
	points := dedupeHistory(history)
	if len(points) < p.MinHistory || len(points) < 2 {
		return clampHalfLife(p.DefaultHalfLife, p)
	}

	sign := formulas.Sign(points[0].EdgeRaw)
	for _, pt := range points {
		if sign == 0 || formulas.Sign(pt.EdgeRaw) != sign {
			return clampHalfLife(p.DefaultHalfLife, p)
		}
	}

	origin := points[0].AsOf
	x := make([]float64, len(points))
	y := make([]float64, len(points))
	for i, pt := range points {
		x[i] = pt.AsOf.Sub(origin).Hours() / 24
		y[i] = math.Log(math.Abs(pt.EdgeRaw))
	}

	_, slope, ok := formulas.LinearFit(x, y)
	if !ok {
		return clampHalfLife(p.DefaultHalfLife, p)
	}
	if slope >= 0 {
		return p.MaxHalfLife
	}

	days := math.Ln2 / -slope
	// Avoid overflowing time.Duration for near-flat slopes
	if days*24 > float64(p.MaxHalfLife/time.Hour) {
		return p.MaxHalfLife
	}
	return clampHalfLife(time.Duration(days*24*float64(time.Hour)), p)
}

func dedupeHistory(history []domain.EdgeHistoryPoint) []domain.EdgeHistoryPoint {
	byTime := make(map[int64]domain.EdgeHistoryPoint, len(history))
	for _, pt := range history {
		byTime[pt.AsOf.UnixMilli()] = pt
	}
	out := make([]domain.EdgeHistoryPoint, 0, len(byTime))
	for _, pt := range byTime {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AsOf.Before(out[j].AsOf) })
	return out
}

func clampHalfLife(hl time.Duration, p Params) time.Duration {
	if hl < p.MinHalfLife {
		return p.MinHalfLife
	}
	if hl > p.MaxHalfLife {
		return p.MaxHalfLife
	}
	return hl
}

// DecayFactor is 1 - 0.5^(halfLife/horizon): how much of the edge survives
// to be relied on over the horizon
func DecayFactor(halfLife, horizon time.Duration) float64 {
	if horizon <= 0 {
		return 1
	}
	return 1 - math.Pow(0.5, float64(halfLife)/float64(horizon))
}

// Strength combines sample confidence with the t-statistic of the decayed edge
func Strength(decayed, variance float64, n int, p Params) float64 {
	if n <= 0 || decayed == 0 {
		return 0
	}
	confidence := 1 - math.Exp(-float64(n)/p.ConfidenceSamples)

	tScore := 1.0
	if se := math.Sqrt(variance / float64(n)); se > 0 {
		tScore = math.Min(1, math.Abs(decayed/se)/p.TStatFull)
	}
	return confidence * tScore
}

// Assessment is the edge model's verdict on one stat
type Assessment struct {
	Stat         domain.PatternScopeStat
	RegimeFactor float64
	WeightedEdge float64
	HalfLife     time.Duration
	Decayed      float64
	Strength     float64
}

// Assess evaluates one stat of group g against its history.
// The stat's current edge_raw joins the history before fitting.
func Assess(stat domain.PatternScopeStat, g *aggregation.Group, rw RegimeWeights, history []domain.EdgeHistoryPoint, p Params) Assessment {
	factor := RegimeFactor(g, stat.Coverage, rw)
	weighted := stat.EdgeRaw * factor

	points := make([]domain.EdgeHistoryPoint, 0, len(history)+1)
	points = append(points, history...)
	points = append(points, domain.EdgeHistoryPoint{AsOf: stat.UpdatedAt, EdgeRaw: stat.EdgeRaw, N: stat.N})
	halfLife := FitHalfLife(points, p)

	decayed := weighted * DecayFactor(halfLife, p.Horizon)

	return Assessment{
		Stat:         stat,
		RegimeFactor: factor,
		WeightedEdge: weighted,
		HalfLife:     halfLife,
		Decayed:      decayed,
		Strength:     Strength(decayed, stat.Variance, stat.N, p),
	}
}

// AssessGroup evaluates every stat of a group
func AssessGroup(g *aggregation.Group, stats []domain.PatternScopeStat, history map[domain.StatKey][]domain.EdgeHistoryPoint, p Params) []Assessment {
	rw := FitRegimeWeights(g, p)
	out := make([]Assessment, len(stats))
	for i := range stats {
		out[i] = Assess(stats[i], g, rw, history[stats[i].Key()], p)
	}
	return out
}

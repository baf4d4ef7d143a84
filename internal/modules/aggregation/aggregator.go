// Package aggregation mines resolved action events into per-subset statistics.
package aggregation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/lessons/internal/config"
	"github.com/aristath/lessons/internal/domain"
	"github.com/aristath/lessons/pkg/formulas"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// BaselineMode selects what an outcome is compared against to form its edge
type BaselineMode string

const (
	// BaselineZero uses the raw outcome as edge
	BaselineZero BaselineMode = "zero"
	// BaselineGlobal subtracts the mean outcome of the action category across the scan
	BaselineGlobal BaselineMode = "global"
	// BaselineParent subtracts the mean outcome of the (pattern, category) group
	BaselineParent BaselineMode = "parent"
)

// Params configures the aggregator
type Params struct {
	NMinBase        int
	NMinGrowth      float64
	Baseline        BaselineMode
	RecencyHalfLife time.Duration
	Workers         int
}

// ParamsFromConfig builds aggregator params from the learning config
func ParamsFromConfig(cfg config.LearningConfig, workers int) Params {
	return Params{
		NMinBase:        cfg.NMinBase,
		NMinGrowth:      cfg.NMinGrowth,
		Baseline:        BaselineMode(cfg.Baseline),
		RecencyHalfLife: cfg.RecencyHalfLife,
		Workers:         workers,
	}
}

// NMin is the minimum sample count for a subset of the given size:
// ceil(base * growth^(size-1)). Larger subsets never need fewer samples.
func (p Params) NMin(size int) int {
	if size < 1 {
		size = 1
	}
	v := float64(p.NMinBase) * math.Pow(p.NMinGrowth, float64(size-1))
	// Guard against 20*1.5^1 = 30.000000000000004 style noise
	return int(math.Ceil(v - 1e-9))
}

// Group is the scanned events of one (book, pattern, category) in insertion order.
// Edges holds each event's outcome minus the baseline.
type Group struct {
	Key    domain.GroupKey
	Events []domain.ActionEvent
	Edges  []float64
}

// Newest returns the latest resolution time in the group
func (g *Group) Newest() time.Time {
	var newest time.Time
	for i := range g.Events {
		if t := g.Events[i].ResolvedAt; t != nil && t.After(newest) {
			newest = *t
		}
	}
	return newest
}

// CoverageOf returns the sorted positions of group events matching sv
func (g *Group) CoverageOf(sv domain.SubsetValues) []int32 {
	var out []int32
	for i := range g.Events {
		if sv.Matches(g.Events[i].Scope) {
			out = append(out, int32(i))
		}
	}
	return out
}

// Result is the output of one aggregation pass
type Result struct {
	Groups           []Group
	Stats            []domain.PatternScopeStat
	EventsScanned    int
	SubsetsEvaluated int
}

// GroupFor returns the scanned group with the given key
func (r *Result) GroupFor(key domain.GroupKey) (*Group, bool) {
	i := sort.Search(len(r.Groups), func(i int) bool { return !r.Groups[i].Key.Less(key) })
	if i < len(r.Groups) && r.Groups[i].Key == key {
		return &r.Groups[i], true
	}
	return nil, false
}

// Aggregator computes PatternScopeStats over every non-empty scope subset
type Aggregator struct {
	params Params
	log    zerolog.Logger
}

// New creates an aggregator
func New(params Params, log zerolog.Logger) *Aggregator {
	if params.Workers < 1 {
		params.Workers = 1
	}
	if params.Baseline == "" {
		params.Baseline = BaselineZero
	}
	return &Aggregator{
		params: params,
		log:    log.With().Str("component", "aggregator").Logger(),
	}
}

// Params returns the aggregator configuration
func (a *Aggregator) Params() Params {
	return a.params
}

// Aggregate groups resolved events and evaluates all 127 subsets per group.
// Unresolved events are ignored. Output order is deterministic.
func (a *Aggregator) Aggregate(ctx context.Context, events []domain.ActionEvent) (*Result, error) {
	groups := GroupEvents(events)
	a.applyBaseline(groups)

	res := &Result{Groups: groups}
	for i := range groups {
		res.EventsScanned += len(groups[i].Events)
	}

	perGroup := make([][]domain.PatternScopeStat, len(groups))
	evaluated := make([]int, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.params.Workers)
	for i := range groups {
		i := i
		g.Go(func() error {
			stats, n, err := a.aggregateGroup(gctx, &groups[i])
			if err != nil {
				return err
			}
			perGroup[i] = stats
			evaluated[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range perGroup {
		res.Stats = append(res.Stats, perGroup[i]...)
		res.SubsetsEvaluated += evaluated[i]
	}

	a.log.Debug().
		Int("groups", len(groups)).
		Int("events", res.EventsScanned).
		Int("evaluated", res.SubsetsEvaluated).
		Int("retained", len(res.Stats)).
		Msg("Aggregation complete")

	return res, nil
}

// GroupEvents partitions resolved events by group key, preserving input order within a group.
// Groups are sorted by key.
func GroupEvents(events []domain.ActionEvent) []Group {
	index := make(map[domain.GroupKey]int)
	var groups []Group
	for _, e := range events {
		if !e.Resolved() || e.ResolvedAt == nil {
			continue
		}
		key := e.Group()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Events = append(groups[i].Events, e)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key.Less(groups[j].Key) })
	return groups
}

func (a *Aggregator) applyBaseline(groups []Group) {
	categoryMeans := make(map[domain.ActionCategory]float64)
	if a.params.Baseline == BaselineGlobal {
		sums := make(map[domain.ActionCategory]float64)
		counts := make(map[domain.ActionCategory]int)
		for _, g := range groups {
			for _, e := range g.Events {
				sums[g.Key.Category] += *e.Outcome
				counts[g.Key.Category]++
			}
		}
		for c, s := range sums {
			categoryMeans[c] = s / float64(counts[c])
		}
	}

	for i := range groups {
		g := &groups[i]
		outcomes := make([]float64, len(g.Events))
		for j, e := range g.Events {
			outcomes[j] = *e.Outcome
		}

		var base float64
		switch a.params.Baseline {
		case BaselineGlobal:
			base = categoryMeans[g.Key.Category]
		case BaselineParent:
			base = formulas.Mean(outcomes)
		}

		g.Edges = make([]float64, len(outcomes))
		for j, o := range outcomes {
			g.Edges[j] = o - base
		}
	}
}

// projectedKey is a scope projection with values interned per dimension.
// Dimensions outside the mask are zero; interned ids start at 1.
type projectedKey [domain.NumDimensions]uint16

type bucket struct {
	first     int
	positions []int32
}

func (a *Aggregator) aggregateGroup(ctx context.Context, g *Group) ([]domain.PatternScopeStat, int, error) {
	ids := internScopes(g.Events)
	newest := g.Newest()

	var stats []domain.PatternScopeStat
	evaluated := 0

	for _, mask := range domain.AllMasks() {
		if err := ctx.Err(); err != nil {
			return nil, 0, fmt.Errorf("aggregation of %s/%s cancelled: %w", g.Key.PatternKey, g.Key.Category, err)
		}

		buckets := make(map[projectedKey]*bucket)
		var order []projectedKey
		for pos := range g.Events {
			var k projectedKey
			for d := 0; d < domain.NumDimensions; d++ {
				if mask.Has(domain.Dimension(d)) {
					k[d] = ids[pos][d]
				}
			}
			b, ok := buckets[k]
			if !ok {
				b = &bucket{first: pos}
				buckets[k] = b
				order = append(order, k)
			}
			b.positions = append(b.positions, int32(pos))
		}

		evaluated += len(order)
		for _, k := range order {
			stat, err := a.evaluate(g, mask, buckets[k], newest)
			if err != nil {
				// ErrInsufficientSample: the subset is not reported
				continue
			}
			stats = append(stats, stat)
		}
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Subset.Mask != stats[j].Subset.Mask {
			return stats[i].Subset.Mask < stats[j].Subset.Mask
		}
		return stats[i].Subset.Key() < stats[j].Subset.Key()
	})

	return stats, evaluated, nil
}

func (a *Aggregator) evaluate(g *Group, mask domain.SubsetMask, b *bucket, newest time.Time) (domain.PatternScopeStat, error) {
	n := len(b.positions)
	if n < a.params.NMin(mask.Size()) {
		return domain.PatternScopeStat{}, domain.ErrInsufficientSample
	}

	edges := make([]float64, n)
	weights := make([]float64, n)
	var evidence time.Time
	halfLife := float64(a.params.RecencyHalfLife)
	for i, pos := range b.positions {
		e := &g.Events[pos]
		edges[i] = g.Edges[pos]
		weights[i] = formulas.HalfLifeWeight(float64(newest.Sub(*e.ResolvedAt)), halfLife)
		if e.ResolvedAt.After(evidence) {
			evidence = *e.ResolvedAt
		}
	}

	mean, variance := formulas.MeanVariance(edges)

	return domain.PatternScopeStat{
		Book:       g.Key.Book,
		PatternKey: g.Key.PatternKey,
		Category:   g.Key.Category,
		Subset:     g.Events[b.first].Scope.Project(mask),
		N:          n,
		MeanEdge:   mean,
		EdgeRaw:    formulas.WeightedMean(edges, weights),
		Variance:   variance,
		UpdatedAt:  evidence,
		Coverage:   b.positions,
	}, nil
}

func internScopes(events []domain.ActionEvent) [][domain.NumDimensions]uint16 {
	var dict [domain.NumDimensions]map[string]uint16
	for d := range dict {
		dict[d] = make(map[string]uint16)
	}

	out := make([][domain.NumDimensions]uint16, len(events))
	for i := range events {
		for d := 0; d < domain.NumDimensions; d++ {
			v := events[i].Scope[d]
			id, ok := dict[d][v]
			if !ok {
				id = uint16(len(dict[d]) + 1)
				dict[d][v] = id
			}
			out[i][d] = id
		}
	}
	return out
}

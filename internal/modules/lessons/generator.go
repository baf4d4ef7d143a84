package lessons

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/lessons/internal/domain"
	"github.com/aristath/lessons/internal/modules/aggregation"
	"github.com/aristath/lessons/internal/modules/edge"
	"github.com/aristath/lessons/internal/modules/orthogonal"
	"github.com/rs/zerolog"
)

// Input is everything one generation pass reads
type Input struct {
	Result     *aggregation.Result
	History    map[domain.StatKey][]domain.EdgeHistoryPoint
	Incumbents []domain.Override // current overrides of the books being mined
	Now        time.Time
}

// Output is the next override set for the mined books plus pass counters
type Output struct {
	Overrides  []domain.Override
	Qualified  int
	Promoted   int
	Carried    int
	Merged     int
	Suppressed int
}

// Generator turns aggregation results into the next override set
type Generator struct {
	params Params
	log    zerolog.Logger
}

// NewGenerator creates a generator
func NewGenerator(params Params, log zerolog.Logger) *Generator {
	return &Generator{
		params: params,
		log:    log.With().Str("component", "lessons").Logger(),
	}
}

// slot tracks one kept override through a group pass, index-aligned with the deduper entries
type slot struct {
	override domain.Override
	fresh    bool
	merged   map[string]struct{}
}

// Generate promotes qualifying stats, orthogonalizes them against each other and the
// live incumbents, and returns the full override set. Incumbents that are not re-promoted
// are carried forward untouched, inert ones included.
func (g *Generator) Generate(ctx context.Context, in Input) (*Output, error) {
	out := &Output{}

	incumbents := make(map[domain.GroupKey][]domain.Override)
	for _, o := range in.Incumbents {
		incumbents[o.Group()] = append(incumbents[o.Group()], o)
	}

	statsByGroup := make(map[domain.GroupKey][]domain.PatternScopeStat)
	for _, s := range in.Result.Stats {
		statsByGroup[s.Group()] = append(statsByGroup[s.Group()], s)
	}

	seen := make(map[domain.GroupKey]bool)
	for i := range in.Result.Groups {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("lesson generation cancelled: %w", err)
		}

		grp := &in.Result.Groups[i]
		seen[grp.Key] = true
		kept := g.generateGroup(grp, statsByGroup[grp.Key], incumbents[grp.Key], in, out)
		out.Overrides = append(out.Overrides, kept...)
	}

	// Groups with no events in this scan keep their overrides as they are
	for key, list := range incumbents {
		if seen[key] {
			continue
		}
		out.Overrides = append(out.Overrides, list...)
		out.Carried += len(list)
	}

	SortOverrides(out.Overrides)
	return out, nil
}

func (g *Generator) generateGroup(
	grp *aggregation.Group,
	stats []domain.PatternScopeStat,
	current []domain.Override,
	in Input,
	out *Output,
) []domain.Override {
	assessments := edge.AssessGroup(grp, stats, in.History, g.params.Edge)
	candidates := g.qualify(assessments)
	out.Qualified += len(candidates)

	entries := make([]orthogonal.Entry, len(current))
	slots := make([]*slot, len(current))
	for i, o := range current {
		entries[i] = orthogonal.Entry{
			Subset:   o.Subset,
			Coverage: grp.CoverageOf(o.Subset),
			Inert:    !o.Active(in.Now, g.params.StrengthFloor),
		}
		slots[i] = &slot{override: o, merged: map[string]struct{}{}}
	}
	dedupe := orthogonal.NewDeduper(g.params.OverlapThreshold, entries)

	for _, a := range candidates {
		v := dedupe.Consider(a.Stat.Subset, a.Stat.Coverage)
		switch v.Decision {
		case orthogonal.Accept:
			o := g.promote(a, nil, in.Now)
			dedupe.SetInert(v.Target, !o.Active(in.Now, g.params.StrengthFloor))
			slots = append(slots, &slot{
				override: o,
				fresh:    true,
				merged:   map[string]struct{}{},
			})
			out.Promoted++
		case orthogonal.Supersede:
			s := slots[v.Target]
			if sameEvidence(&s.override, &a.Stat) {
				continue
			}
			prior := s.override
			s.override = g.promote(a, &prior, in.Now)
			s.fresh = true
			dedupe.SetInert(v.Target, !s.override.Active(in.Now, g.params.StrengthFloor))
			out.Promoted++
		case orthogonal.Merge:
			slots[v.Target].merged[a.Stat.Subset.Key()] = struct{}{}
			out.Merged++
		case orthogonal.Suppress:
			out.Suppressed++
		}
	}

	kept := make([]domain.Override, 0, len(slots))
	for _, s := range slots {
		o := s.override
		if s.fresh {
			o.Merged = sortedKeys(s.merged, nil)
		} else {
			o.Merged = sortedKeys(s.merged, o.Merged)
			out.Carried++
		}
		kept = append(kept, o)
	}
	return kept
}

// qualify keeps promotable assessments in candidate order: smaller subsets first,
// then larger |decayed|, more samples, lower variance, lower mask, lexical values.
func (g *Generator) qualify(assessments []edge.Assessment) []edge.Assessment {
	var out []edge.Assessment
	for _, a := range assessments {
		if math.Abs(a.Decayed) < g.params.MinEdge || a.Stat.Variance > g.params.MaxVariance {
			continue
		}
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if sa, sb := a.Stat.Subset.Mask.Size(), b.Stat.Subset.Mask.Size(); sa != sb {
			return sa < sb
		}
		if da, db := math.Abs(a.Decayed), math.Abs(b.Decayed); da != db {
			return da > db
		}
		if a.Stat.N != b.Stat.N {
			return a.Stat.N > b.Stat.N
		}
		if a.Stat.Variance != b.Stat.Variance {
			return a.Stat.Variance < b.Stat.Variance
		}
		if a.Stat.Subset.Mask != b.Stat.Subset.Mask {
			return a.Stat.Subset.Mask < b.Stat.Subset.Mask
		}
		return a.Stat.Subset.Key() < b.Stat.Subset.Key()
	})
	return out
}

func (g *Generator) promote(a edge.Assessment, prior *domain.Override, now time.Time) domain.Override {
	s := a.Stat
	o := domain.Override{
		OverrideID:   OverrideID(s.Key(), s.UpdatedAt),
		Book:         s.Book,
		PatternKey:   s.PatternKey,
		Category:     s.Category,
		Subset:       s.Subset,
		Edge:         a.Decayed,
		Strength:     a.Strength,
		HalfLife:     a.HalfLife,
		Enabled:      true,
		SampleCount:  s.N,
		ReinforcedAt: s.UpdatedAt,
		CreatedAt:    now,
	}

	var priorLevers domain.LeverSet
	if prior != nil {
		priorLevers = prior.Levers
		o.Enabled = prior.Enabled
		o.CreatedAt = prior.CreatedAt
	}
	o.Levers = NudgeLevers(s.Category, priorLevers, a.Decayed, a.Strength, g.params)

	g.log.Debug().
		Str("pattern_key", string(o.PatternKey)).
		Str("category", string(o.Category)).
		Str("subset", o.Subset.Key()).
		Float64("edge", o.Edge).
		Float64("strength", o.Strength).
		Bool("superseded", prior != nil).
		Msg("Override promoted")

	return o
}

// sameEvidence reports whether a stat carries exactly the evidence the override was built from
func sameEvidence(o *domain.Override, s *domain.PatternScopeStat) bool {
	return o.SampleCount == s.N && o.ReinforcedAt.Equal(s.UpdatedAt)
}

func sortedKeys(set map[string]struct{}, existing []string) []string {
	union := make(map[string]struct{}, len(set)+len(existing))
	for k := range set {
		union[k] = struct{}{}
	}
	for _, k := range existing {
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		return nil
	}
	out := make([]string, 0, len(union))
	for k := range union {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SortOverrides orders overrides by group, mask and subset values
func SortOverrides(list []domain.Override) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if ga, gb := a.Group(), b.Group(); ga != gb {
			return ga.Less(gb)
		}
		if a.Subset.Mask != b.Subset.Mask {
			return a.Subset.Mask < b.Subset.Mask
		}
		return a.Subset.Key() < b.Subset.Key()
	})
}

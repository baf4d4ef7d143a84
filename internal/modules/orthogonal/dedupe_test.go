package orthogonal

import (
	"testing"

	"github.com/aristath/lessons/internal/domain"
	testingpkg "github.com/aristath/lessons/internal/testing"
	"github.com/stretchr/testify/assert"
)

func positions(from, to int32) []int32 {
	var out []int32
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func subset(values map[string]string, dims ...domain.Dimension) domain.SubsetValues {
	return testingpkg.NewScopeFixture(values).Project(domain.MaskOf(dims...))
}

func TestOverlap(t *testing.T) {
	assert.Equal(t, 1.0, Overlap(positions(0, 10), positions(0, 10)))
	assert.Equal(t, 1.0, Overlap(positions(0, 10), positions(0, 100)), "subset of a larger set fully overlaps")
	assert.Equal(t, 0.5, Overlap(positions(0, 10), positions(5, 15)))
	assert.Equal(t, 0.0, Overlap(positions(0, 10), positions(10, 20)))
	assert.Equal(t, 0.0, Overlap(nil, positions(0, 10)))
	assert.Equal(t, Overlap(positions(0, 7), positions(3, 30)), Overlap(positions(3, 30), positions(0, 7)))
}

func TestDeduper_ScenarioShape(t *testing.T) {
	d := NewDeduper(0.7, nil)
	all := positions(0, 60)

	regime := subset(nil, domain.DimMacroPhase)
	bucket := subset(nil, domain.DimBucket)
	both := subset(nil, domain.DimMacroPhase, domain.DimBucket)

	assert.Equal(t, Verdict{Decision: Accept, Target: 0}, d.Consider(regime, all))
	assert.Equal(t, Verdict{Decision: Suppress, Target: 0}, d.Consider(bucket, all))
	assert.Equal(t, Verdict{Decision: Merge, Target: 0}, d.Consider(both, all))
	assert.Len(t, d.Entries(), 1)
}

func TestDeduper_DisjointCandidatesCoexist(t *testing.T) {
	d := NewDeduper(0.7, nil)

	recover := subset(map[string]string{"macro_phase": "Recover"}, domain.DimMacroPhase)
	dip := subset(map[string]string{"macro_phase": "Dip"}, domain.DimMacroPhase)

	assert.Equal(t, Accept, d.Consider(recover, positions(0, 30)).Decision)
	assert.Equal(t, Accept, d.Consider(dip, positions(30, 60)).Decision)

	// 50% overlap with each is below the threshold
	assert.Equal(t, Accept, d.Consider(subset(nil, domain.DimTimeframe), positions(15, 45)).Decision)
	assert.Len(t, d.Entries(), 3)
}

func TestDeduper_IncumbentsWin(t *testing.T) {
	incumbent := subset(nil, domain.DimBucket)
	d := NewDeduper(0.7, []Entry{{Subset: incumbent, Coverage: positions(0, 40)}})
	assert.True(t, d.Entries()[0].Incumbent)

	// A stronger candidate on overlapping events cannot displace a live incumbent
	assert.Equal(t, Verdict{Decision: Suppress, Target: 0},
		d.Consider(subset(nil, domain.DimVolatility), positions(0, 40)))

	// The incumbent's own subset supersedes it with fresh coverage
	assert.Equal(t, Verdict{Decision: Supersede, Target: 0}, d.Consider(incumbent, positions(0, 45)))
	assert.False(t, d.Entries()[0].Incumbent)
	assert.Len(t, d.Entries()[0].Coverage, 45)
}

func TestDeduper_InertIncumbentsDoNotBlock(t *testing.T) {
	inert := subset(map[string]string{"macro_phase": "Recover"}, domain.DimMacroPhase)
	d := NewDeduper(0.7, []Entry{{Subset: inert, Coverage: positions(0, 300), Inert: true}})

	micro := subset(map[string]string{"bucket": "micro"}, domain.DimBucket)
	large := subset(map[string]string{"bucket": "large"}, domain.DimBucket)
	refined := subset(map[string]string{"macro_phase": "Recover", "bucket": "micro"}, domain.DimMacroPhase, domain.DimBucket)

	assert.Equal(t, Verdict{Decision: Accept, Target: 1}, d.Consider(micro, positions(0, 180)))
	assert.Equal(t, Verdict{Decision: Accept, Target: 2}, d.Consider(large, positions(180, 300)))
	// Refinements fold into the live override, never the inert one
	assert.Equal(t, Verdict{Decision: Merge, Target: 1}, d.Consider(refined, positions(0, 180)))
	assert.Len(t, d.Entries(), 3)
}

func TestDeduper_InertIncumbentIsStillSuperseded(t *testing.T) {
	inert := subset(nil, domain.DimMacroPhase)
	d := NewDeduper(0.7, []Entry{{Subset: inert, Coverage: positions(0, 40), Inert: true}})

	assert.Equal(t, Verdict{Decision: Supersede, Target: 0}, d.Consider(inert, positions(0, 60)))
	assert.True(t, d.Entries()[0].Inert, "liveness is set by the caller")

	d.SetInert(0, false)
	assert.Equal(t, Verdict{Decision: Suppress, Target: 0},
		d.Consider(subset(nil, domain.DimBucket), positions(0, 60)))
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "accept", Accept.String())
	assert.Equal(t, "supersede", Supersede.String())
	assert.Equal(t, "merge", Merge.String())
	assert.Equal(t, "suppress", Suppress.String())
}

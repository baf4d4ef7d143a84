// Package orthogonal keeps promoted lessons from describing the same events twice.
package orthogonal

import (
	"github.com/aristath/lessons/internal/domain"
)

// Overlap is |A∩B| / min(|A|, |B|) for sorted position sets. Empty sets never overlap.
func Overlap(a, b []int32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			shared++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(shared) / float64(smaller)
}

// Decision is the outcome of considering a candidate
type Decision int

const (
	// Accept keeps the candidate as a new override
	Accept Decision = iota
	// Supersede replaces the incumbent override for the same subset
	Supersede
	// Merge folds a refining candidate into an existing override
	Merge
	// Suppress drops a candidate that mostly restates an existing override
	Suppress
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Supersede:
		return "supersede"
	case Merge:
		return "merge"
	case Suppress:
		return "suppress"
	}
	return "unknown"
}

// Entry is an override, accepted or incumbent, with its coverage in the current scan.
// An inert entry is kept for its subset only: it never absorbs other candidates.
type Entry struct {
	Subset    domain.SubsetValues
	Coverage  []int32
	Incumbent bool
	Inert     bool
}

// Verdict says what to do with a candidate. Target indexes Entries() for Merge,
// Suppress and Supersede.
type Verdict struct {
	Decision Decision
	Target   int
}

// Deduper decides candidates in order against what is already kept for one group
type Deduper struct {
	threshold float64
	entries   []Entry
	bySubset  map[domain.SubsetValues]int
}

// NewDeduper seeds a deduper with the group's incumbent overrides
func NewDeduper(threshold float64, incumbents []Entry) *Deduper {
	d := &Deduper{threshold: threshold, bySubset: make(map[domain.SubsetValues]int)}
	for _, e := range incumbents {
		e.Incumbent = true
		d.bySubset[e.Subset] = len(d.entries)
		d.entries = append(d.entries, e)
	}
	return d
}

// Entries returns the kept entries: incumbents first, then accepted candidates in order
func (d *Deduper) Entries() []Entry {
	return d.entries
}

// SetInert marks entry i as inert or live after its override changed
func (d *Deduper) SetInert(i int, inert bool) {
	d.entries[i].Inert = inert
}

// Consider decides one candidate and records it when kept.
// A candidate for an incumbent's exact subset supersedes it, inert or not. Otherwise
// the first live entry it overlaps above the threshold absorbs it: merged when the
// candidate refines that entry, suppressed when it does not.
func (d *Deduper) Consider(subset domain.SubsetValues, coverage []int32) Verdict {
	if i, ok := d.bySubset[subset]; ok {
		d.entries[i].Coverage = coverage
		d.entries[i].Incumbent = false
		return Verdict{Decision: Supersede, Target: i}
	}

	for i, e := range d.entries {
		if e.Inert || Overlap(coverage, e.Coverage) <= d.threshold {
			continue
		}
		if subset.Refines(e.Subset) {
			return Verdict{Decision: Merge, Target: i}
		}
		return Verdict{Decision: Suppress, Target: i}
	}

	d.bySubset[subset] = len(d.entries)
	d.entries = append(d.entries, Entry{Subset: subset, Coverage: coverage})
	return Verdict{Decision: Accept, Target: len(d.entries) - 1}
}

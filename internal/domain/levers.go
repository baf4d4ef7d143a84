package domain

import (
	"math"
	"sort"
)

// Lever names a bounded multiplicative adjustment. Identity is 1.0.
type Lever string

const (
	LeverSizeMult           Lever = "size_mult"
	LeverAggressionBias     Lever = "aggression_bias"
	LeverEntryDelayMult     Lever = "entry_delay_mult"
	LeverTrimDelayMult      Lever = "trim_delay_mult"
	LeverTrimFractionMult   Lever = "trim_fraction_mult"
	LeverExitDelayMult      Lever = "exit_delay_mult"
	LeverTrailTightnessMult Lever = "trail_tightness_mult"
)

// LeverSpec bounds a lever and says which way it moves on positive edge
type LeverSpec struct {
	Lever     Lever
	Min       float64
	Max       float64
	Direction float64 // +1 raises on positive edge, -1 lowers
	Capital   bool
}

// Clamp keeps v within the lever bounds
func (s LeverSpec) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 1.0
	}
	return math.Max(s.Min, math.Min(s.Max, v))
}

var leverSpecs = map[Lever]LeverSpec{
	LeverSizeMult:           {Lever: LeverSizeMult, Min: 0.5, Max: 1.5, Direction: 1, Capital: true},
	LeverAggressionBias:     {Lever: LeverAggressionBias, Min: 0.7, Max: 1.3, Direction: 1, Capital: true},
	LeverEntryDelayMult:     {Lever: LeverEntryDelayMult, Min: 0.5, Max: 1.5, Direction: -1},
	LeverTrimDelayMult:      {Lever: LeverTrimDelayMult, Min: 0.5, Max: 1.5, Direction: -1},
	LeverTrimFractionMult:   {Lever: LeverTrimFractionMult, Min: 0.7, Max: 1.3, Direction: 1},
	LeverExitDelayMult:      {Lever: LeverExitDelayMult, Min: 0.5, Max: 1.5, Direction: -1},
	LeverTrailTightnessMult: {Lever: LeverTrailTightnessMult, Min: 0.7, Max: 1.3, Direction: 1},
}

// Trim and exit levers never touch entry thresholds and vice versa.
var categoryLevers = map[ActionCategory][]Lever{
	CategoryEntry: {LeverSizeMult, LeverAggressionBias, LeverEntryDelayMult},
	CategoryAdd:   {LeverSizeMult, LeverAggressionBias},
	CategoryTrim:  {LeverTrimDelayMult, LeverTrimFractionMult},
	CategoryExit:  {LeverExitDelayMult, LeverTrailTightnessMult},
}

// SpecFor returns the bounds of a lever
func SpecFor(l Lever) (LeverSpec, bool) {
	s, ok := leverSpecs[l]
	return s, ok
}

// LeversFor returns the levers an action category may adjust
func LeversFor(c ActionCategory) []Lever {
	return append([]Lever(nil), categoryLevers[c]...)
}

// LeverSet maps levers to multipliers. Missing levers are identity.
type LeverSet map[Lever]float64

// Get returns the multiplier for l, 1.0 when absent
func (ls LeverSet) Get(l Lever) float64 {
	if v, ok := ls[l]; ok {
		return v
	}
	return 1.0
}

// Clone copies the set
func (ls LeverSet) Clone() LeverSet {
	out := make(LeverSet, len(ls))
	for k, v := range ls {
		out[k] = v
	}
	return out
}

// Names returns the levers in the set, sorted
func (ls LeverSet) Names() []Lever {
	out := make([]Lever, 0, len(ls))
	for k := range ls {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsIdentity reports whether every lever is 1.0
func (ls LeverSet) IsIdentity() bool {
	for _, v := range ls {
		if v != 1.0 {
			return false
		}
	}
	return true
}

// LeverDeltas is the matcher's answer for one decision
type LeverDeltas struct {
	Matched      bool              `json:"matched"`
	OverrideID   string            `json:"override_id,omitempty"`
	SubsetValues map[string]string `json:"scope_subset_values,omitempty"`
	Strength     float64           `json:"strength,omitempty"`
	Levers       LeverSet          `json:"levers"`
}

// Identity is the no-op answer
func Identity() LeverDeltas {
	return LeverDeltas{Levers: LeverSet{}}
}

// Get returns the multiplier for l, 1.0 when not adjusted
func (d LeverDeltas) Get(l Lever) float64 {
	return d.Levers.Get(l)
}

// Controls are the concrete signal/threshold values used for one action
type Controls map[string]float64

// ControlLevers maps the control names the decision engine uses to the lever scaling them
var ControlLevers = map[string]Lever{
	"position_size":   LeverSizeMult,
	"aggression":      LeverAggressionBias,
	"entry_delay":     LeverEntryDelayMult,
	"trim_delay":      LeverTrimDelayMult,
	"trim_fraction":   LeverTrimFractionMult,
	"exit_delay":      LeverExitDelayMult,
	"trail_tightness": LeverTrailTightnessMult,
}

// Apply scales each known control by its lever and returns a new map.
// Unknown controls pass through unchanged.
func (c Controls) Apply(d LeverDeltas) Controls {
	out := make(Controls, len(c))
	for name, v := range c {
		if l, ok := ControlLevers[name]; ok {
			out[name] = v * d.Get(l)
			continue
		}
		out[name] = v
	}
	return out
}

// Validate rejects non-finite values
func (c Controls) Validate() error {
	for name, v := range c {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewValidationError("controls", "%q is not a finite number", name)
		}
	}
	return nil
}

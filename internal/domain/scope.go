package domain

import (
	"math/bits"
	"sort"
	"strings"
)

// Dimension identifies one of the fixed scope dimensions.
// The numeric value is the bit index used in subset masks.
type Dimension uint8

const (
	DimMacroPhase Dimension = iota
	DimMesoPhase
	DimBucket
	DimTimeframe
	DimVolatility
	DimAppliedModeA
	DimAppliedModeE

	// NumDimensions is K, the size of the fixed dimension set
	NumDimensions = 7
)

// RegimeDimension is the dimension whose values are treated as market regimes
const RegimeDimension = DimMacroPhase

var dimensionNames = [NumDimensions]string{
	"macro_phase",
	"meso_phase",
	"bucket",
	"timeframe",
	"volatility",
	"applied_mode_A",
	"applied_mode_E",
}

// Name returns the wire name of the dimension
func (d Dimension) Name() string {
	if int(d) >= NumDimensions {
		return ""
	}
	return dimensionNames[d]
}

// Dimensions returns all dimensions in bit order
func Dimensions() []Dimension {
	out := make([]Dimension, NumDimensions)
	for i := range out {
		out[i] = Dimension(i)
	}
	return out
}

// DimensionByName resolves a wire name to a Dimension
func DimensionByName(name string) (Dimension, bool) {
	for i, n := range dimensionNames {
		if n == name {
			return Dimension(i), true
		}
	}
	return 0, false
}

// Scope is a complete context: one value per dimension, indexed by Dimension.
type Scope [NumDimensions]string

// ParseScope converts a named map into a Scope.
// Every dimension must be present and non-empty, and no other keys are allowed.
func ParseScope(m map[string]string) (Scope, error) {
	var s Scope
	for key := range m {
		if _, ok := DimensionByName(key); !ok {
			return s, NewValidationError("scope", "unknown dimension %q", key)
		}
	}
	for i, name := range dimensionNames {
		v, ok := m[name]
		if !ok {
			return s, NewValidationError("scope", "missing dimension %q", name)
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return s, NewValidationError("scope", "empty value for dimension %q", name)
		}
		s[i] = v
	}
	return s, nil
}

// Map returns the scope as a named map
func (s Scope) Map() map[string]string {
	m := make(map[string]string, NumDimensions)
	for i, v := range s {
		m[dimensionNames[i]] = v
	}
	return m
}

// Get returns the value of a dimension
func (s Scope) Get(d Dimension) string {
	return s[d]
}

// SubsetMask selects a non-empty subset of dimensions, one bit per Dimension.
type SubsetMask uint16

// FullMask has every dimension selected
const FullMask SubsetMask = 1<<NumDimensions - 1

// MaskOf builds a mask from dimensions
func MaskOf(dims ...Dimension) SubsetMask {
	var m SubsetMask
	for _, d := range dims {
		m |= 1 << d
	}
	return m
}

// AllMasks enumerates every non-empty subset mask in ascending numeric order
func AllMasks() []SubsetMask {
	out := make([]SubsetMask, 0, FullMask)
	for m := SubsetMask(1); m <= FullMask; m++ {
		out = append(out, m)
	}
	return out
}

// Size is the number of dimensions in the subset
func (m SubsetMask) Size() int {
	return bits.OnesCount16(uint16(m))
}

// Has reports whether d is part of the subset
func (m SubsetMask) Has(d Dimension) bool {
	return m&(1<<d) != 0
}

// Contains reports whether m is a superset of other
func (m SubsetMask) Contains(other SubsetMask) bool {
	return m&other == other
}

// Valid reports whether m is a non-empty subset of the fixed dimension set
func (m SubsetMask) Valid() bool {
	return m != 0 && m&^FullMask == 0
}

// Dimensions lists the selected dimensions in bit order
func (m SubsetMask) Dimensions() []Dimension {
	out := make([]Dimension, 0, m.Size())
	for i := 0; i < NumDimensions; i++ {
		if m.Has(Dimension(i)) {
			out = append(out, Dimension(i))
		}
	}
	return out
}

// String renders the mask as a "+"-joined list of dimension names
func (m SubsetMask) String() string {
	names := make([]string, 0, m.Size())
	for _, d := range m.Dimensions() {
		names = append(names, d.Name())
	}
	return strings.Join(names, "+")
}

// SubsetValues is a scope projected onto a mask.
// Values outside the mask are empty.
type SubsetValues struct {
	Mask   SubsetMask
	Values Scope
}

// Project keeps only the masked dimensions of s
func (s Scope) Project(m SubsetMask) SubsetValues {
	sv := SubsetValues{Mask: m}
	for i := 0; i < NumDimensions; i++ {
		if m.Has(Dimension(i)) {
			sv.Values[i] = s[i]
		}
	}
	return sv
}

// Matches reports whether every masked value equals the corresponding scope value
func (sv SubsetValues) Matches(s Scope) bool {
	for i := 0; i < NumDimensions; i++ {
		if sv.Mask.Has(Dimension(i)) && sv.Values[i] != s[i] {
			return false
		}
	}
	return true
}

// Refines reports whether sv is a refinement of other: it constrains every
// dimension other constrains, with the same values, and possibly more.
func (sv SubsetValues) Refines(other SubsetValues) bool {
	if !sv.Mask.Contains(other.Mask) {
		return false
	}
	for _, d := range other.Mask.Dimensions() {
		if sv.Values[d] != other.Values[d] {
			return false
		}
	}
	return true
}

// Map returns only the masked dimensions as a named map
func (sv SubsetValues) Map() map[string]string {
	m := make(map[string]string, sv.Mask.Size())
	for _, d := range sv.Mask.Dimensions() {
		m[d.Name()] = sv.Values[d]
	}
	return m
}

// Key renders a stable textual key, e.g. "bucket=micro|macro_phase=Recover".
// Used for persistence and audit only; hot paths compare masks and arrays.
func (sv SubsetValues) Key() string {
	parts := make([]string, 0, sv.Mask.Size())
	for _, d := range sv.Mask.Dimensions() {
		parts = append(parts, d.Name()+"="+sv.Values[d])
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// SubsetValuesFromMap builds SubsetValues from a partial named map
func SubsetValuesFromMap(m map[string]string) (SubsetValues, error) {
	var sv SubsetValues
	for name, v := range m {
		d, ok := DimensionByName(name)
		if !ok {
			return sv, NewValidationError("scope_subset_values", "unknown dimension %q", name)
		}
		if strings.TrimSpace(v) == "" {
			return sv, NewValidationError("scope_subset_values", "empty value for dimension %q", name)
		}
		sv.Mask |= 1 << d
		sv.Values[d] = v
	}
	if sv.Mask == 0 {
		return sv, NewValidationError("scope_subset_values", "subset must not be empty")
	}
	return sv, nil
}

// Parameter space primitives for strategy optimization
package optimize

import (
	"fmt"
	"math"
	"sort"
)

// ============================================================================
// PARAMETER RANGES
// ============================================================================

// ParameterKind defines the value kind of a tunable parameter
type ParameterKind string

const (
	KindInt   ParameterKind = "int"
	KindFloat ParameterKind = "float"
)

// ParameterRange bounds a single tunable parameter
type ParameterRange struct {
	Kind ParameterKind `json:"kind" yaml:"kind"`
	Min  float64       `json:"min" yaml:"min"`
	Max  float64       `json:"max" yaml:"max"`
}

// Validate checks the range for malformed bounds or an unknown kind
func (r ParameterRange) Validate(name string) error {
	switch r.Kind {
	case KindInt, KindFloat:
	default:
		return &ConfigurationError{Param: name, Reason: fmt.Sprintf("unknown parameter kind %q", r.Kind)}
	}
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) {
		return &ConfigurationError{Param: name, Reason: "bounds must not be NaN"}
	}
	if r.Min > r.Max {
		return &ConfigurationError{Param: name, Reason: fmt.Sprintf("min %v exceeds max %v", r.Min, r.Max)}
	}
	if r.Kind == KindInt && math.Ceil(r.Min) > math.Floor(r.Max) {
		return &ConfigurationError{Param: name, Reason: fmt.Sprintf("no integer inside [%v, %v]", r.Min, r.Max)}
	}
	return nil
}

// Clamp restricts v to the range, rounding for integer parameters
func (r ParameterRange) Clamp(v float64) interface{} {
	if v < r.Min {
		v = r.Min
	}
	if v > r.Max {
		v = r.Max
	}
	if r.Kind == KindInt {
		n := int(math.Round(v))
		if lo := int(math.Ceil(r.Min)); n < lo {
			n = lo
		}
		if hi := int(math.Floor(r.Max)); n > hi {
			n = hi
		}
		return n
	}
	return v
}

// Contains reports whether v lies inside the range
func (r ParameterRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// ============================================================================
// PARAMETER SETS
// ============================================================================

// ParameterSet represents one concrete assignment of values to every
// tunable parameter. Operators (sampling, crossover, mutation) always
// return a new set and never modify their inputs.
type ParameterSet map[string]interface{}

// Clone creates a deep copy of the parameter set
func (ps ParameterSet) Clone() ParameterSet {
	clone := make(ParameterSet, len(ps))
	for k, v := range ps {
		clone[k] = v
	}
	return clone
}

// Float returns the named value coerced to float64
func (ps ParameterSet) Float(name string) (float64, bool) {
	switch v := ps[name].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Int returns the named value coerced to int
func (ps ParameterSet) Int(name string) (int, bool) {
	switch v := ps[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(math.Round(v)), true
	default:
		return 0, false
	}
}

// ============================================================================
// RANGE COLLECTIONS
// ============================================================================

// Ranges describes the search space for the evolutionary optimizer
type Ranges map[string]ParameterRange

// Validate checks every range, failing fast on the first malformed one
func (rs Ranges) Validate() error {
	if len(rs) == 0 {
		return &ConfigurationError{Reason: "at least one parameter range is required"}
	}
	for _, name := range rs.sortedNames() {
		if err := rs[name].Validate(name); err != nil {
			return err
		}
	}
	return nil
}

// CheckSet validates a caller-supplied parameter set against the ranges.
// Unknown keys and out-of-range numeric literals are rejected immediately,
// before any evaluation is attempted.
func (rs Ranges) CheckSet(ps ParameterSet) error {
	for name := range ps {
		r, ok := rs[name]
		if !ok {
			return &ConfigurationError{Param: name, Reason: "not declared in the parameter ranges"}
		}
		v, ok := ps.Float(name)
		if !ok {
			return &ConfigurationError{Param: name, Reason: "value is not numeric"}
		}
		if !r.Contains(v) {
			return &ConfigurationError{Param: name, Reason: fmt.Sprintf("value %v outside [%v, %v]", v, r.Min, r.Max)}
		}
	}
	return nil
}

// sortedNames returns parameter names in lexicographic order. Every
// randomized iteration over the ranges must use this order so that map
// iteration order never leaks into the RNG sequence.
func (rs Ranges) sortedNames() []string {
	names := make([]string, 0, len(rs))
	for name := range rs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

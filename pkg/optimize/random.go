package optimize

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ============================================================================
// DISTRIBUTIONS
// ============================================================================

// DistributionKind defines how a parameter is drawn during random search
type DistributionKind string

const (
	// DistChoice picks uniformly from a discrete value list
	DistChoice DistributionKind = "choice"
	// DistUniform draws a continuous uniform value over [min, max]
	DistUniform DistributionKind = "uniform"
	// DistLogUniform draws uniformly in log-space over [ln(min), ln(max)]
	DistLogUniform DistributionKind = "loguniform"
	// DistRandInt draws a uniform integer over [min, max] inclusive
	DistRandInt DistributionKind = "randint"
)

// Distribution describes how one parameter is sampled
type Distribution struct {
	Kind   DistributionKind `json:"kind" yaml:"kind"`
	Values []interface{}    `json:"values,omitempty" yaml:"values,omitempty"`
	Min    float64          `json:"min,omitempty" yaml:"min,omitempty"`
	Max    float64          `json:"max,omitempty" yaml:"max,omitempty"`
}

// Validate checks the distribution specification
func (d Distribution) Validate(name string) error {
	switch d.Kind {
	case DistChoice:
		if len(d.Values) == 0 {
			return &ConfigurationError{Param: name, Reason: "choice distribution requires a non-empty value list"}
		}
	case DistUniform:
		if d.Min > d.Max {
			return &ConfigurationError{Param: name, Reason: fmt.Sprintf("min %v exceeds max %v", d.Min, d.Max)}
		}
	case DistLogUniform:
		if d.Min <= 0 || d.Max <= 0 {
			return &ConfigurationError{Param: name, Reason: "loguniform bounds must be positive"}
		}
		if d.Min > d.Max {
			return &ConfigurationError{Param: name, Reason: fmt.Sprintf("min %v exceeds max %v", d.Min, d.Max)}
		}
	case DistRandInt:
		if d.Min > d.Max {
			return &ConfigurationError{Param: name, Reason: fmt.Sprintf("min %v exceeds max %v", d.Min, d.Max)}
		}
		if math.Ceil(d.Min) > math.Floor(d.Max) {
			return &ConfigurationError{Param: name, Reason: fmt.Sprintf("no integer inside [%v, %v]", d.Min, d.Max)}
		}
	default:
		return &ConfigurationError{Param: name, Reason: fmt.Sprintf("unknown distribution kind %q", d.Kind)}
	}
	return nil
}

// Distributions maps parameter names to their sampling distributions
type Distributions map[string]Distribution

// Validate checks every distribution, failing fast on the first bad one
func (ds Distributions) Validate() error {
	if len(ds) == 0 {
		return &ConfigurationError{Reason: "at least one distribution is required"}
	}
	for _, name := range ds.sortedNames() {
		if err := ds[name].Validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (ds Distributions) sortedNames() []string {
	names := make([]string, 0, len(ds))
	for name := range ds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ============================================================================
// RANDOM SEARCH SAMPLER
// ============================================================================

// Sampler draws independent parameter sets from a set of distributions.
// It owns its RNG: the same seed and inputs always reproduce the same
// output sequence.
type Sampler struct {
	dists Distributions
	names []string
	rng   *rand.Rand
}

// NewSampler validates the distributions and creates a sampler seeded
// with the given value
func NewSampler(dists Distributions, seed int64) (*Sampler, error) {
	if err := dists.Validate(); err != nil {
		return nil, err
	}
	return &Sampler{
		dists: dists,
		names: dists.sortedNames(),
		rng:   rand.New(rand.NewSource(seed)), // #nosec G404 -- Non-cryptographic use: random search needs reproducible draws
	}, nil
}

// Sample draws n independent parameter sets. Each parameter is drawn
// independently per sample with no cross-parameter correlation.
func (s *Sampler) Sample(n int) []ParameterSet {
	sets := make([]ParameterSet, n)
	for i := 0; i < n; i++ {
		set := make(ParameterSet, len(s.names))
		for _, name := range s.names {
			set[name] = s.draw(s.dists[name])
		}
		sets[i] = set
	}
	return sets
}

func (s *Sampler) draw(d Distribution) interface{} {
	switch d.Kind {
	case DistChoice:
		return d.Values[s.rng.Intn(len(d.Values))]
	case DistUniform:
		return d.Min + s.rng.Float64()*(d.Max-d.Min)
	case DistLogUniform:
		lo, hi := math.Log(d.Min), math.Log(d.Max)
		return math.Exp(lo + s.rng.Float64()*(hi-lo))
	case DistRandInt:
		// Fractional bounds shrink inward so draws stay inside [min, max].
		lo := int(math.Ceil(d.Min))
		hi := int(math.Floor(d.Max))
		return lo + s.rng.Intn(hi-lo+1)
	}
	return nil // unreachable after validation
}

// EstimateCoverage analytically computes, for every choice distribution
// with k distinct values, the expected fraction of values hit by
// nSamples independent draws: 1 - (1 - 1/k)^n. Closed form, no sampling.
func EstimateCoverage(dists Distributions, nSamples int) map[string]float64 {
	coverage := make(map[string]float64)
	for name, d := range dists {
		if d.Kind != DistChoice || len(d.Values) == 0 {
			continue
		}
		k := float64(len(d.Values))
		coverage[name] = 1.0 - math.Pow(1.0-1.0/k, float64(nSamples))
	}
	return coverage
}

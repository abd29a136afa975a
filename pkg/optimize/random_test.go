package optimize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDistributions() Distributions {
	return Distributions{
		"mode":   {Kind: DistChoice, Values: []interface{}{"fast", "slow", "balanced", "off"}},
		"rate":   {Kind: DistUniform, Min: 0.0, Max: 1.0},
		"lr":     {Kind: DistLogUniform, Min: 0.0001, Max: 0.1},
		"period": {Kind: DistRandInt, Min: 5, Max: 50},
	}
}

func TestSampler_Reproducibility(t *testing.T) {
	first, err := NewSampler(testDistributions(), 1234)
	require.NoError(t, err)
	second, err := NewSampler(testDistributions(), 1234)
	require.NoError(t, err)

	assert.Equal(t, first.Sample(50), second.Sample(50))
}

func TestSampler_Draws(t *testing.T) {
	sampler, err := NewSampler(testDistributions(), 42)
	require.NoError(t, err)

	sets := sampler.Sample(200)
	require.Len(t, sets, 200)

	valid := map[string]bool{"fast": true, "slow": true, "balanced": true, "off": true}
	for _, set := range sets {
		assert.True(t, valid[set["mode"].(string)])

		rate := set["rate"].(float64)
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 1.0)

		lr := set["lr"].(float64)
		assert.GreaterOrEqual(t, lr, 0.0001)
		assert.LessOrEqual(t, lr, 0.1)

		period := set["period"].(int)
		assert.GreaterOrEqual(t, period, 5)
		assert.LessOrEqual(t, period, 50)
	}
}

func TestSampler_RandIntInclusive(t *testing.T) {
	dists := Distributions{
		"coin": {Kind: DistRandInt, Min: 0, Max: 1},
	}
	sampler, err := NewSampler(dists, 7)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for _, set := range sampler.Sample(200) {
		seen[set["coin"].(int)] = true
	}
	assert.True(t, seen[0], "lower bound never drawn")
	assert.True(t, seen[1], "upper bound never drawn")
}

func TestSampler_RandIntFractionalBounds(t *testing.T) {
	dists := Distributions{
		"period": {Kind: DistRandInt, Min: 5.7, Max: 8.2},
	}
	sampler, err := NewSampler(dists, 3)
	require.NoError(t, err)

	// Truncation toward zero would emit 5, below the declared minimum.
	for _, set := range sampler.Sample(200) {
		v := set["period"].(int)
		assert.GreaterOrEqual(t, float64(v), 5.7)
		assert.LessOrEqual(t, float64(v), 8.2)
	}

	neg := Distributions{
		"offset": {Kind: DistRandInt, Min: -8.2, Max: -2.3},
	}
	sampler, err = NewSampler(neg, 3)
	require.NoError(t, err)
	for _, set := range sampler.Sample(200) {
		v := set["offset"].(int)
		assert.GreaterOrEqual(t, float64(v), -8.2)
		assert.LessOrEqual(t, float64(v), -2.3)
	}
}

func TestDistributions_Validation(t *testing.T) {
	tests := []struct {
		name  string
		dists Distributions
	}{
		{"unknown kind", Distributions{"p": {Kind: "gaussian"}}},
		{"empty choice", Distributions{"p": {Kind: DistChoice}}},
		{"uniform min above max", Distributions{"p": {Kind: DistUniform, Min: 2, Max: 1}}},
		{"randint min above max", Distributions{"p": {Kind: DistRandInt, Min: 9, Max: 1}}},
		{"randint without integer", Distributions{"p": {Kind: DistRandInt, Min: 2.1, Max: 2.9}}},
		{"loguniform zero bound", Distributions{"p": {Kind: DistLogUniform, Min: 0, Max: 1}}},
		{"loguniform negative bound", Distributions{"p": {Kind: DistLogUniform, Min: -1, Max: 1}}},
		{"no distributions", Distributions{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSampler(tt.dists, 1)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestEstimateCoverage(t *testing.T) {
	dists := Distributions{
		"mode":   {Kind: DistChoice, Values: []interface{}{"a", "b", "c", "d"}},
		"rate":   {Kind: DistUniform, Min: 0, Max: 1},
		"levels": {Kind: DistChoice, Values: []interface{}{1, 2}},
	}

	coverage := EstimateCoverage(dists, 100)

	// Closed form: 1 - (1 - 1/k)^n, continuous parameters excluded.
	require.Len(t, coverage, 2)
	assert.InDelta(t, 1.0-math.Pow(0.75, 100), coverage["mode"], 1e-12)
	assert.InDelta(t, 1.0-math.Pow(0.5, 100), coverage["levels"], 1e-12)
	assert.InDelta(t, 1.0, coverage["mode"], 1e-6)
}

package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSpaceYAML = `
ranges:
  fast_period:
    kind: int
    min: 2
    max: 50
  threshold:
    kind: float
    min: 0.0
    max: 0.1
grid:
  fast_period: [5, 10, 20]
  slow_period: [50, 100]
distributions:
  threshold:
    kind: loguniform
    min: 0.0001
    max: 0.1
  mode:
    kind: choice
    values: [trend, meanrev]
`

func TestLoadSpace_Valid(t *testing.T) {
	space, err := LoadSpace([]byte(validSpaceYAML))
	require.NoError(t, err)

	assert.Len(t, space.Ranges, 2)
	assert.Equal(t, KindInt, space.Ranges["fast_period"].Kind)
	assert.Equal(t, 50.0, space.Ranges["fast_period"].Max)

	require.Len(t, space.Grid["fast_period"], 3)
	assert.Equal(t, 5, space.Grid["fast_period"][0])

	assert.Equal(t, DistLogUniform, space.Distributions["threshold"].Kind)
	assert.Len(t, space.Distributions["mode"].Values, 2)
}

func TestLoadSpace_Errors(t *testing.T) {
	var cfgErr *ConfigurationError

	_, err := LoadSpace([]byte(""))
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "empty")

	_, err = LoadSpace([]byte("unknown_section:\n  a: 1\n"))
	require.Error(t, err)

	_, err = LoadSpace([]byte("grid:\n  p: []\n"))
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "p", cfgErr.Param)

	_, err = LoadSpace([]byte("ranges:\n  p:\n    kind: int\n    min: 9\n    max: 1\n"))
	require.ErrorAs(t, err, &cfgErr)

	_, err = LoadSpace([]byte("distributions:\n  p:\n    kind: loguniform\n    min: 0\n    max: 1\n"))
	require.ErrorAs(t, err, &cfgErr)
}

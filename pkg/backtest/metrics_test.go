package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateMetrics(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	equity := []float64{10000, 10500, 10200, 11000, 12000}
	tradePL := []float64{500, -300, 800}

	m, err := CalculateMetrics(10000, equity, tradePL, start, end)
	require.NoError(t, err)

	assert.InDelta(t, 20.0, m.TotalReturnPct, 1e-9)
	// One year holding period: CAGR equals total return.
	assert.InDelta(t, 20.0, m.CAGR, 0.2)

	// Worst drawdown: 10500 peak down to 10200.
	assert.InDelta(t, (10500.0-10200.0)/10500.0*100.0, m.MaxDrawdownPct, 1e-9)

	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 200.0/3.0, m.WinRate, 1e-9)

	assert.Greater(t, m.Volatility, 0.0)
	assert.NotZero(t, m.SharpeRatio)
}

func TestCalculateMetrics_Errors(t *testing.T) {
	start := time.Now()

	_, err := CalculateMetrics(10000, nil, nil, start, start.AddDate(1, 0, 0))
	require.Error(t, err)

	_, err = CalculateMetrics(0, []float64{100}, nil, start, start.AddDate(1, 0, 0))
	require.Error(t, err)
}

func TestMetrics_Map(t *testing.T) {
	m := &Metrics{CAGR: 12.5, SharpeRatio: 1.1, TotalTrades: 7}
	got := m.Map()

	assert.Equal(t, 12.5, got[KeyCAGR])
	assert.Equal(t, 1.1, got[KeySharpeRatio])
	assert.Equal(t, 7.0, got[KeyTotalTrades])

	for _, key := range []string{KeyTotalReturnPct, KeyMaxDrawdownPct, KeyVolatility, KeyWinRate} {
		_, ok := got[key]
		assert.True(t, ok, "missing metric %q", key)
	}
}

package optimize

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestGenerateWindows_Rolling(t *testing.T) {
	windows, err := GenerateWindows(date(2020, 1, 1), date(2023, 1, 1), 12, 6, 6, 0)
	require.NoError(t, err)
	require.Len(t, windows, 3)

	for i, w := range windows {
		assert.Equal(t, i, w.ID)
		assert.Equal(t, w.TrainStart.AddDate(0, 12, 0), w.TrainEnd)
		assert.Equal(t, w.TrainEnd.AddDate(0, 0, 1), w.TestStart)
		assert.Equal(t, w.TestStart.AddDate(0, 6, 0), w.TestEnd)
		assert.False(t, w.TestEnd.After(date(2023, 1, 1)), "window %d runs past the end date", i)
		if i > 0 {
			assert.Equal(t, windows[i-1].TrainStart.AddDate(0, 6, 0), w.TrainStart)
		}
	}

	// The fourth window's test period would end 2023-01-02 and is discarded.
	last := windows[2]
	assert.Equal(t, date(2021, 1, 1), last.TrainStart)
	assert.Equal(t, date(2022, 7, 2), last.TestEnd)
}

func TestGenerateWindows_MaxWindows(t *testing.T) {
	windows, err := GenerateWindows(date(2020, 1, 1), date(2023, 1, 1), 12, 6, 6, 1)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 0, windows[0].ID)
}

func TestGenerateWindows_Errors(t *testing.T) {
	_, err := GenerateWindows(date(2020, 1, 1), date(2020, 6, 1), 12, 6, 6, 0)
	require.ErrorIs(t, err, ErrNoWindows)

	var cfgErr *ConfigurationError
	_, err = GenerateWindows(date(2020, 1, 1), date(2023, 1, 1), 0, 6, 6, 0)
	require.ErrorAs(t, err, &cfgErr)
	_, err = GenerateWindows(date(2023, 1, 1), date(2020, 1, 1), 12, 6, 6, 0)
	require.ErrorAs(t, err, &cfgErr)
}

func walkForwardTestConfig() WalkForwardConfig {
	gcfg := DefaultGeneticConfig()
	gcfg.PopulationSize = 12
	gcfg.Generations = 4
	gcfg.Workers = 1
	gcfg.Seed = 7
	return WalkForwardConfig{
		Ranges:      Ranges{"x": {Kind: KindFloat, Min: 0, Max: 6}},
		Genetic:     gcfg,
		TrainMonths: 12,
		TestMonths:  6,
		StepMonths:  6,
	}
}

// syntheticBacktest peaks at x=3 and pays a fixed premium on the longer
// train periods so degradation is a known constant.
func syntheticBacktest(_ context.Context, params ParameterSet, start, end time.Time) (map[string]float64, error) {
	x, _ := params.Float("x")
	base := 8.0
	if end.Sub(start) > 250*24*time.Hour {
		base = 10.0
	}
	return map[string]float64{MetricCAGR: base - (x-3)*(x-3)}, nil
}

func TestWalkForwardOrchestrator_Run(t *testing.T) {
	orch, err := NewWalkForwardOrchestrator(walkForwardTestConfig(), syntheticBacktest)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), date(2020, 1, 1), date(2023, 1, 1))
	require.NoError(t, err)

	require.Len(t, summary.Results, 3)
	assert.Empty(t, summary.Skipped)
	assert.False(t, summary.EarlyStopped)
	assert.Equal(t, MetricCAGR, summary.Metric)

	for _, r := range summary.Results {
		x, ok := r.Params.Float("x")
		require.True(t, ok)
		assert.InDelta(t, 3.0, x, 1.5, "winner far from the fitness peak")
		assert.InDelta(t, 2.0, r.Degradation(), 1e-9)
	}
	assert.InDelta(t, 2.0, summary.Degradation, 1e-9)
	assert.Greater(t, summary.MeanInSampleCAGR, summary.MeanOutOfSampleCAGR)

	stab, ok := summary.Stability["x"]
	require.True(t, ok)
	assert.InDelta(t, 3.0, stab.Mean, 1.5)
	assert.GreaterOrEqual(t, stab.StdDev, 0.0)
}

func TestWalkForwardOrchestrator_Reproducible(t *testing.T) {
	run := func() *WalkForwardSummary {
		orch, err := NewWalkForwardOrchestrator(walkForwardTestConfig(), syntheticBacktest)
		require.NoError(t, err)
		summary, err := orch.Run(context.Background(), date(2020, 1, 1), date(2023, 1, 1))
		require.NoError(t, err)
		return summary
	}

	first, second := run(), run()
	require.Len(t, second.Results, len(first.Results))
	for i := range first.Results {
		assert.Equal(t, first.Results[i].Params, second.Results[i].Params)
	}
}

func TestWalkForwardOrchestrator_SkipsFailingWindows(t *testing.T) {
	failing := func(context.Context, ParameterSet, time.Time, time.Time) (map[string]float64, error) {
		return nil, errors.New("no market data for period")
	}
	orch, err := NewWalkForwardOrchestrator(walkForwardTestConfig(), failing)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), date(2020, 1, 1), date(2023, 1, 1))
	require.NoError(t, err)

	assert.Empty(t, summary.Results)
	require.Len(t, summary.Skipped, 3)
	for _, s := range summary.Skipped {
		assert.Equal(t, "no successful evaluation in train period", s.Reason)
	}
	assert.Empty(t, summary.Stability)
	assert.Zero(t, summary.MeanInSampleCAGR)
}

func TestWalkForwardOrchestrator_Cancellation(t *testing.T) {
	orch, err := NewWalkForwardOrchestrator(walkForwardTestConfig(), syntheticBacktest)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := orch.Run(ctx, date(2020, 1, 1), date(2023, 1, 1))
	require.NoError(t, err)
	assert.True(t, summary.EarlyStopped)
	assert.Empty(t, summary.Results)
}

func TestAggregate_StabilityStatistics(t *testing.T) {
	summary := &WalkForwardSummary{
		Results: []WalkForwardResult{
			{Params: ParameterSet{"p": 2.0}, TrainMetrics: map[string]float64{MetricCAGR: 10}, TestMetrics: map[string]float64{MetricCAGR: 8}},
			{Params: ParameterSet{"p": 4.0}, TrainMetrics: map[string]float64{MetricCAGR: 12}, TestMetrics: map[string]float64{MetricCAGR: 9}},
			{Params: ParameterSet{"p": 6.0}, TrainMetrics: map[string]float64{MetricCAGR: 14}, TestMetrics: map[string]float64{MetricCAGR: 10}},
		},
	}

	(&WalkForwardOrchestrator{}).aggregate(summary)

	assert.InDelta(t, 12.0, summary.MeanInSampleCAGR, 1e-12)
	assert.InDelta(t, 9.0, summary.MeanOutOfSampleCAGR, 1e-12)
	assert.InDelta(t, 3.0, summary.Degradation, 1e-12)

	stab := summary.Stability["p"]
	assert.InDelta(t, 4.0, stab.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(8.0/3.0), stab.StdDev, 1e-12)
	assert.InDelta(t, math.Sqrt(8.0/3.0)/4.0, stab.CV, 1e-12)
}

func TestWalkForwardConfig_Validate(t *testing.T) {
	cfg := walkForwardTestConfig()
	require.NoError(t, cfg.Validate())

	var cfgErr *ConfigurationError

	bad := cfg
	bad.StepMonths = 0
	require.ErrorAs(t, bad.Validate(), &cfgErr)

	bad = cfg
	bad.Seeds = []ParameterSet{{"x": 100.0}}
	require.ErrorAs(t, bad.Validate(), &cfgErr)

	bad = cfg
	bad.Ranges = Ranges{}
	require.ErrorAs(t, bad.Validate(), &cfgErr)
}

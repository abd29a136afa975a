// Walk-forward orchestration: rolling train/test windows, one independent
// evolutionary run per window, and cross-window stability aggregation.
package optimize

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/quantfoundry/tuner/internal/telemetry"
)

// MetricCAGR is the metrics-map key used for in/out-of-sample comparison
const MetricCAGR = "cagr"

// ============================================================================
// WINDOWS
// ============================================================================

// Window is one rolling train/test period pair. The test period starts
// exactly one day after the train period ends and never overlaps it.
type Window struct {
	ID         int       `json:"id"`
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
}

// GenerateWindows produces the rolling window list for [start, end].
// A window whose test period would run past end is discarded, never
// truncated. maxWindows > 0 caps the list after generation. Zero windows
// is an explicit error, never an empty success.
func GenerateWindows(start, end time.Time, trainMonths, testMonths, stepMonths, maxWindows int) ([]Window, error) {
	if trainMonths <= 0 || testMonths <= 0 || stepMonths <= 0 {
		return nil, &ConfigurationError{Reason: "train, test, and step months must all be positive"}
	}
	if !start.Before(end) {
		return nil, &ConfigurationError{Reason: "start date must precede end date"}
	}

	var windows []Window
	for id, trainStart := 0, start; ; id++ {
		trainEnd := trainStart.AddDate(0, trainMonths, 0)
		testStart := trainEnd.AddDate(0, 0, 1)
		testEnd := testStart.AddDate(0, testMonths, 0)
		if testEnd.After(end) {
			break
		}
		windows = append(windows, Window{
			ID:         id,
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  testStart,
			TestEnd:    testEnd,
		})
		trainStart = trainStart.AddDate(0, stepMonths, 0)
	}

	if maxWindows > 0 && len(windows) > maxWindows {
		windows = windows[:maxWindows]
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("%s to %s with train=%dmo test=%dmo: %w",
			start.Format("2006-01-02"), end.Format("2006-01-02"), trainMonths, testMonths, ErrNoWindows)
	}
	return windows, nil
}

// ============================================================================
// BOUNDARY
// ============================================================================

// BacktestFunc is the external-collaborator boundary: it instantiates the
// target strategy with the candidate parameters, runs it over [start, end],
// and returns the full metrics map. The map must contain MetricCAGR and
// the configured optimization metric.
type BacktestFunc func(ctx context.Context, params ParameterSet, start, end time.Time) (map[string]float64, error)

// ============================================================================
// CONFIGURATION
// ============================================================================

// WalkForwardConfig configures a walk-forward run
type WalkForwardConfig struct {
	Ranges      Ranges
	Genetic     GeneticConfig
	TrainMonths int
	TestMonths  int
	StepMonths  int
	MaxWindows  int
	Metric      string         // optimization metric key; defaults to MetricCAGR
	Seeds       []ParameterSet // optional seed individuals; empty means fully random
}

// Validate checks the walk-forward settings, failing fast before any
// window is processed
func (c WalkForwardConfig) Validate() error {
	if c.TrainMonths <= 0 || c.TestMonths <= 0 || c.StepMonths <= 0 {
		return &ConfigurationError{Reason: "train, test, and step months must all be positive"}
	}
	if err := c.Ranges.Validate(); err != nil {
		return err
	}
	if err := c.Genetic.Validate(); err != nil {
		return err
	}
	for _, s := range c.Seeds {
		if err := c.Ranges.CheckSet(s); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// RESULTS
// ============================================================================

// WalkForwardResult is the outcome of one window: the winning parameters
// with their full metric sets on the disjoint train and test periods.
type WalkForwardResult struct {
	Window       Window             `json:"window"`
	Params       ParameterSet       `json:"params"`
	TrainMetrics map[string]float64 `json:"train_metrics"`
	TestMetrics  map[string]float64 `json:"test_metrics"`
}

// InSampleCAGR returns the train-period CAGR of the winning parameters
func (r WalkForwardResult) InSampleCAGR() float64 { return r.TrainMetrics[MetricCAGR] }

// OutOfSampleCAGR returns the test-period CAGR of the winning parameters
func (r WalkForwardResult) OutOfSampleCAGR() float64 { return r.TestMetrics[MetricCAGR] }

// Degradation is in-sample minus out-of-sample performance; a large
// positive value is an overfitting signal
func (r WalkForwardResult) Degradation() float64 { return r.InSampleCAGR() - r.OutOfSampleCAGR() }

// SkippedWindow records a window whose backtest could not execute at all
type SkippedWindow struct {
	Window Window `json:"window"`
	Reason string `json:"reason"`
}

// ParameterStability summarizes one parameter's winning values across
// windows. StdDev is the population standard deviation; a low coefficient
// of variation (CV = std/mean) signals a robust, non-overfit choice.
type ParameterStability struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	CV     float64 `json:"cv"`
}

// WalkForwardSummary aggregates a full walk-forward run
type WalkForwardSummary struct {
	RunID               uuid.UUID                     `json:"run_id"`
	StartDate           time.Time                     `json:"start_date"`
	EndDate             time.Time                     `json:"end_date"`
	TrainMonths         int                           `json:"train_months"`
	TestMonths          int                           `json:"test_months"`
	StepMonths          int                           `json:"step_months"`
	Metric              string                        `json:"metric"`
	Results             []WalkForwardResult           `json:"results"`
	Skipped             []SkippedWindow               `json:"skipped"`
	MeanInSampleCAGR    float64                       `json:"mean_in_sample_cagr"`
	MeanOutOfSampleCAGR float64                       `json:"mean_out_of_sample_cagr"`
	Degradation         float64                       `json:"degradation"`
	Stability           map[string]ParameterStability `json:"stability"`
	EarlyStopped        bool                          `json:"early_stopped"`
	Duration            time.Duration                 `json:"duration"`
}

// ============================================================================
// ORCHESTRATOR
// ============================================================================

// WalkForwardOrchestrator drives one evolutionary optimizer run per
// rolling window and validates each winner out-of-sample. No state is
// shared across windows: every window owns its own optimizer and RNG.
type WalkForwardOrchestrator struct {
	cfg      WalkForwardConfig
	backtest BacktestFunc
	observer Observer
}

// NewWalkForwardOrchestrator validates the configuration and creates an
// orchestrator around the backtest boundary function
func NewWalkForwardOrchestrator(cfg WalkForwardConfig, backtest BacktestFunc) (*WalkForwardOrchestrator, error) {
	if backtest == nil {
		return nil, &ConfigurationError{Reason: "backtest function is required"}
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCAGR
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &WalkForwardOrchestrator{cfg: cfg, backtest: backtest}, nil
}

// SetObserver forwards per-generation records of every window's optimizer
// run to the given observer
func (o *WalkForwardOrchestrator) SetObserver(obs Observer) {
	o.observer = obs
}

// Run generates the window list once, processes each window in order, and
// aggregates stability statistics across windows. Cancellation is
// observed at window boundaries: the summary covers the windows finished
// so far and carries EarlyStopped.
func (o *WalkForwardOrchestrator) Run(ctx context.Context, start, end time.Time) (*WalkForwardSummary, error) {
	began := time.Now()

	windows, err := GenerateWindows(start, end, o.cfg.TrainMonths, o.cfg.TestMonths, o.cfg.StepMonths, o.cfg.MaxWindows)
	if err != nil {
		return nil, err
	}

	summary := &WalkForwardSummary{
		RunID:       uuid.New(),
		StartDate:   start,
		EndDate:     end,
		TrainMonths: o.cfg.TrainMonths,
		TestMonths:  o.cfg.TestMonths,
		StepMonths:  o.cfg.StepMonths,
		Metric:      o.cfg.Metric,
	}

	log.Info().
		Str("run_id", summary.RunID.String()).
		Int("windows", len(windows)).
		Str("metric", o.cfg.Metric).
		Msg("Starting walk-forward optimization")

	for _, w := range windows {
		if ctx.Err() != nil {
			summary.EarlyStopped = true
			break
		}

		log.Info().
			Int("window", w.ID).
			Time("train_start", w.TrainStart).
			Time("train_end", w.TrainEnd).
			Time("test_start", w.TestStart).
			Time("test_end", w.TestEnd).
			Msg("Processing walk-forward window")

		result, skipReason, err := o.runWindow(ctx, w)
		if err != nil {
			summary.EarlyStopped = true
			break
		}
		if skipReason != "" {
			telemetry.WindowsSkipped.Inc()
			summary.Skipped = append(summary.Skipped, SkippedWindow{Window: w, Reason: skipReason})
			log.Warn().Int("window", w.ID).Str("reason", skipReason).Msg("Walk-forward window skipped")
			continue
		}

		summary.Results = append(summary.Results, *result)
		log.Info().
			Int("window", w.ID).
			Float64("in_sample_cagr", result.InSampleCAGR()).
			Float64("out_of_sample_cagr", result.OutOfSampleCAGR()).
			Float64("degradation", result.Degradation()).
			Msg("Walk-forward window complete")
	}

	o.aggregate(summary)
	summary.Duration = time.Since(began)

	log.Info().
		Str("run_id", summary.RunID.String()).
		Int("completed", len(summary.Results)).
		Int("skipped", len(summary.Skipped)).
		Float64("mean_is_cagr", summary.MeanInSampleCAGR).
		Float64("mean_oos_cagr", summary.MeanOutOfSampleCAGR).
		Float64("degradation", summary.Degradation).
		Bool("early_stopped", summary.EarlyStopped).
		Msg("Walk-forward optimization complete")

	return summary, nil
}

// runWindow drives one independent optimizer run restricted to the train
// period and validates the winner on the test period. A non-empty skip
// reason marks a window whose backtest could not execute at all; a
// non-nil error only signals cancellation.
func (o *WalkForwardOrchestrator) runWindow(ctx context.Context, w Window) (*WalkForwardResult, string, error) {
	fitness := func(params ParameterSet) (float64, error) {
		metrics, err := o.backtest(ctx, params, w.TrainStart, w.TrainEnd)
		if err != nil {
			return 0, err
		}
		v, ok := metrics[o.cfg.Metric]
		if !ok {
			return 0, fmt.Errorf("metric %q missing from backtest result", o.cfg.Metric)
		}
		return v, nil
	}

	// Derive a per-window seed so windows stay independent yet the whole
	// run remains reproducible for a fixed configured seed.
	gcfg := o.cfg.Genetic
	if gcfg.Seed != 0 {
		gcfg.Seed += int64(w.ID)
	}

	opt, err := NewGeneticOptimizer(gcfg, o.cfg.Ranges, fitness)
	if err != nil {
		return nil, "", err
	}
	if o.observer != nil {
		opt.SetObserver(o.observer)
	}

	res, err := opt.Optimize(ctx, o.cfg.Seeds)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, err.Error(), nil
	}

	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}

	// Every individual receiving the sentinel means the fitness function
	// never executed successfully in this window (e.g. missing data).
	if res.Best.Fitness == nil || *res.Best.Fitness <= SentinelFitness {
		return nil, "no successful evaluation in train period", nil
	}

	// Re-run the winner once per period with no further optimization to
	// capture the full metric sets for reporting.
	trainMetrics, err := o.backtest(ctx, res.Best.Params, w.TrainStart, w.TrainEnd)
	if err != nil {
		return nil, fmt.Sprintf("train re-run failed: %v", err), nil
	}
	testMetrics, err := o.backtest(ctx, res.Best.Params, w.TestStart, w.TestEnd)
	if err != nil {
		return nil, fmt.Sprintf("test run failed: %v", err), nil
	}

	return &WalkForwardResult{
		Window:       w,
		Params:       res.Best.Params.Clone(),
		TrainMetrics: trainMetrics,
		TestMetrics:  testMetrics,
	}, "", nil
}

// ============================================================================
// AGGREGATION
// ============================================================================

// aggregate fills the cross-window statistics: mean in/out-of-sample
// CAGR, their difference, and the per-parameter stability table over
// winning values.
func (o *WalkForwardOrchestrator) aggregate(s *WalkForwardSummary) {
	s.Stability = make(map[string]ParameterStability)
	if len(s.Results) == 0 {
		return
	}

	inSample := make([]float64, len(s.Results))
	outSample := make([]float64, len(s.Results))
	for i, r := range s.Results {
		inSample[i] = r.InSampleCAGR()
		outSample[i] = r.OutOfSampleCAGR()
	}
	s.MeanInSampleCAGR = stat.Mean(inSample, nil)
	s.MeanOutOfSampleCAGR = stat.Mean(outSample, nil)
	s.Degradation = s.MeanInSampleCAGR - s.MeanOutOfSampleCAGR

	values := make(map[string][]float64)
	for _, r := range s.Results {
		for _, name := range sortedKeys(r.Params) {
			if v, ok := r.Params.Float(name); ok {
				values[name] = append(values[name], v)
			}
		}
	}
	for name, vs := range values {
		mean := stat.Mean(vs, nil)
		// Population estimator: a walk-forward run yields the complete set
		// of windows, not a sample.
		std := stat.PopStdDev(vs, nil)
		cv := 0.0
		if mean != 0 {
			cv = std / mean
		}
		s.Stability[name] = ParameterStability{Mean: mean, StdDev: std, CV: cv}
	}
}

func sortedKeys(ps ParameterSet) []string {
	keys := make([]string, 0, len(ps))
	for k := range ps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Parameter Optimization Runner CLI
// Tunes strategy parameters against a backtesting fitness function using
// grid search, random search, a genetic optimizer, or walk-forward analysis.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfoundry/tuner/internal/config"
	"github.com/quantfoundry/tuner/internal/telemetry"
	"github.com/quantfoundry/tuner/pkg/backtest"
	"github.com/quantfoundry/tuner/pkg/optimize"
)

// ============================================================================
// CLI FLAGS
// ============================================================================

var (
	configPath = flag.String("config", "", "Path to config file (optional)")
	mode       = flag.String("mode", "genetic", "Optimization mode (grid, random, genetic, walkforward)")
	spaceFile  = flag.String("space", "", "Path to YAML search space file (overrides config)")

	startDate = flag.String("start", "", "Start date (YYYY-MM-DD)")
	endDate   = flag.String("end", "", "End date (YYYY-MM-DD)")

	samples     = flag.Int("samples", 100, "Sample count for random search")
	seed        = flag.Int64("seed", 0, "Random seed (0 = time-based)")
	outputFile  = flag.String("output", "", "Output file for JSON results (optional)")
	metricsAddr = flag.String("metrics-addr", "", "Address for the Prometheus metrics endpoint (optional)")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
)

// ============================================================================
// MAIN
// ============================================================================

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := cfg.App.LogLevel
	if *verbose {
		level = "debug"
	}
	config.InitLogger(level, cfg.App.LogFormat)

	if *startDate == "" || *endDate == "" {
		fmt.Fprintln(os.Stderr, "Error: -start and -end dates are required")
		flag.Usage()
		os.Exit(1)
	}
	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid start date format (use YYYY-MM-DD)")
	}
	end, err := time.Parse("2006-01-02", *endDate)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid end date format (use YYYY-MM-DD)")
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		telemetry.RegisterHandlers(mux)
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn().Err(err).Msg("Metrics endpoint stopped")
			}
		}()
		log.Info().Str("addr", *metricsAddr).Msg("Serving Prometheus metrics")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, start, end); err != nil {
		log.Fatal().Err(err).Msg("Optimization failed")
	}
	log.Info().Msg("Optimization completed successfully")
}

// ============================================================================
// RUN
// ============================================================================

func run(ctx context.Context, cfg *config.Config, start, end time.Time) error {
	space, err := loadSpace(cfg)
	if err != nil {
		return err
	}

	runner, err := buildRunner(cfg, start, end)
	if err != nil {
		return err
	}

	gcfg := cfg.Genetic()
	if *seed != 0 {
		gcfg.Seed = *seed
	}

	switch *mode {
	case "grid":
		if len(space.Grid) == 0 {
			return fmt.Errorf("grid mode requires a 'grid' section in the search space")
		}
		sets, err := space.Grid.Combinations()
		if err != nil {
			return err
		}
		count, hours := space.Grid.EstimateRuntime(1.0)
		log.Info().Int("combinations", count).Float64("est_hours_at_1s", hours).Msg("Running grid search")
		return evaluateSets(ctx, runner, sets, cfg.WalkForward.Metric, start, end)

	case "random":
		if len(space.Distributions) == 0 {
			return fmt.Errorf("random mode requires a 'distributions' section in the search space")
		}
		sampler, err := optimize.NewSampler(space.Distributions, sampleSeed(gcfg.Seed))
		if err != nil {
			return err
		}
		for name, cov := range optimize.EstimateCoverage(space.Distributions, *samples) {
			log.Info().Str("param", name).Float64("expected_coverage", cov).Msg("Discrete coverage estimate")
		}
		return evaluateSets(ctx, runner, sampler.Sample(*samples), cfg.WalkForward.Metric, start, end)

	case "genetic":
		if len(space.Ranges) == 0 {
			return fmt.Errorf("genetic mode requires a 'ranges' section in the search space")
		}
		fitness := fitnessFor(ctx, runner, cfg.WalkForward.Metric, start, end)
		opt, err := optimize.NewGeneticOptimizer(gcfg, space.Ranges, fitness)
		if err != nil {
			return err
		}
		result, err := opt.Optimize(ctx, nil)
		if err != nil {
			return err
		}
		best := optimize.SentinelFitness
		if result.Best.Fitness != nil {
			best = *result.Best.Fitness
		}
		printBest(result.Best.Params, best, cfg.WalkForward.Metric)
		return writeOutput(result)

	case "walkforward":
		if len(space.Ranges) == 0 {
			return fmt.Errorf("walkforward mode requires a 'ranges' section in the search space")
		}
		orch, err := optimize.NewWalkForwardOrchestrator(optimize.WalkForwardConfig{
			Ranges:      space.Ranges,
			Genetic:     gcfg,
			TrainMonths: cfg.WalkForward.TrainMonths,
			TestMonths:  cfg.WalkForward.TestMonths,
			StepMonths:  cfg.WalkForward.StepMonths,
			MaxWindows:  cfg.WalkForward.MaxWindows,
			Metric:      cfg.WalkForward.Metric,
		}, runner.BacktestFunc())
		if err != nil {
			return err
		}
		summary, err := orch.Run(ctx, start, end)
		if err != nil {
			return err
		}
		printSummary(summary)
		return writeOutput(summary)

	default:
		return fmt.Errorf("unknown mode: %s (available: grid, random, genetic, walkforward)", *mode)
	}
}

// ============================================================================
// SEARCH SPACE AND DATA
// ============================================================================

func loadSpace(cfg *config.Config) (*optimize.SearchSpace, error) {
	path := cfg.Data.SpaceFile
	if *spaceFile != "" {
		path = *spaceFile
	}
	if path == "" {
		return nil, fmt.Errorf("a search space file is required (-space flag or data.space_file config)")
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read search space file: %w", err)
	}
	return optimize.LoadSpace(data)
}

func buildRunner(cfg *config.Config, start, end time.Time) (*backtest.Runner, error) {
	var candles []backtest.Candlestick
	if cfg.Data.CandlesCSV != "" {
		var err error
		candles, err = loadCandlesCSV(cfg.Data.CandlesCSV, cfg.Data.Symbol)
		if err != nil {
			return nil, err
		}
	} else {
		days := int(end.Sub(start).Hours()/24) + 1
		candles = backtest.GenerateCandles(cfg.Data.Symbol, days, 1, start)
		log.Info().Int("candles", days).Msg("Using synthetic candle data (no data.candles_csv configured)")
	}
	return backtest.NewRunner(candles, cfg.Data.InitialCapital, cfg.Data.CommissionRate), nil
}

// loadCandlesCSV reads "timestamp,open,high,low,close,volume" rows with a
// header line, timestamps formatted as YYYY-MM-DD
func loadCandlesCSV(path, symbol string) ([]backtest.Candlestick, error) {
	f, err := os.Open(path) // #nosec G304 -- path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to open candles file: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse candles file: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("candles file %s has no data rows", path)
	}

	candles := make([]backtest.Candlestick, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) < 6 {
			return nil, fmt.Errorf("candles file row %d: expected 6 columns, got %d", i+2, len(row))
		}
		ts, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			return nil, fmt.Errorf("candles file row %d: %w", i+2, err)
		}
		vals := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			v, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("candles file row %d column %d: %w", i+2, j+1, err)
			}
			vals[j-1] = v
		}
		candles = append(candles, backtest.Candlestick{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}

	log.Info().Str("file", path).Int("candles", len(candles)).Msg("Loaded historical data")
	return candles, nil
}

// ============================================================================
// EVALUATION AND OUTPUT
// ============================================================================

func fitnessFor(ctx context.Context, runner *backtest.Runner, metric string, start, end time.Time) optimize.FitnessFunc {
	bt := runner.BacktestFunc()
	return func(params optimize.ParameterSet) (float64, error) {
		metrics, err := bt(ctx, params, start, end)
		if err != nil {
			return 0, err
		}
		v, ok := metrics[metric]
		if !ok {
			return 0, fmt.Errorf("metric %q missing from backtest result", metric)
		}
		return v, nil
	}
}

type rankedSet struct {
	Params optimize.ParameterSet `json:"params"`
	Score  float64               `json:"score"`
}

// evaluateSets scores a fixed list of parameter sets and prints the top 10
func evaluateSets(ctx context.Context, runner *backtest.Runner, sets []optimize.ParameterSet, metric string, start, end time.Time) error {
	fitness := fitnessFor(ctx, runner, metric, start, end)

	ranked := make([]rankedSet, 0, len(sets))
	for i, params := range sets {
		if err := ctx.Err(); err != nil {
			log.Warn().Int("evaluated", i).Msg("Evaluation cancelled")
			break
		}
		score, err := fitness(params)
		if err != nil {
			log.Warn().Err(err).Interface("params", params).Msg("Evaluation failed")
			score = optimize.SentinelFitness
		}
		ranked = append(ranked, rankedSet{Params: params, Score: score})
	}
	if len(ranked) == 0 {
		return fmt.Errorf("no parameter sets were evaluated")
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	top := 10
	if len(ranked) < top {
		top = len(ranked)
	}
	for i, r := range ranked[:top] {
		fmt.Printf("%2d. %s=%.4f  params=%v\n", i+1, metric, r.Score, r.Params)
	}
	return writeOutput(ranked)
}

func printBest(params optimize.ParameterSet, fitness float64, metric string) {
	fmt.Printf("Best %s: %.4f\n", metric, fitness)
	for _, k := range sortedParamNames(params) {
		fmt.Printf("  %s = %v\n", k, params[k])
	}
}

func printSummary(s *optimize.WalkForwardSummary) {
	fmt.Printf("Windows completed: %d, skipped: %d\n", len(s.Results), len(s.Skipped))
	fmt.Printf("Mean in-sample CAGR:     %.2f%%\n", s.MeanInSampleCAGR)
	fmt.Printf("Mean out-of-sample CAGR: %.2f%%\n", s.MeanOutOfSampleCAGR)
	fmt.Printf("Degradation:             %.2f%%\n", s.Degradation)
	fmt.Println("Parameter stability (CV = std/mean, low is robust):")
	names := make([]string, 0, len(s.Stability))
	for name := range s.Stability {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := s.Stability[name]
		fmt.Printf("  %-20s mean=%.4f std=%.4f cv=%.4f\n", name, st.Mean, st.StdDev, st.CV)
	}
}

func sampleSeed(configured int64) int64 {
	if configured != 0 {
		return configured
	}
	return time.Now().UnixNano()
}

func sortedParamNames(params optimize.ParameterSet) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeOutput(v interface{}) error {
	if *outputFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(*outputFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	log.Info().Str("file", *outputFile).Msg("Results written to file")
	return nil
}

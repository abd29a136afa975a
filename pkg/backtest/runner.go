package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cinar/indicator/v2/trend"
	"github.com/rs/zerolog/log"

	"github.com/quantfoundry/tuner/pkg/optimize"
)

// Strategy parameter names recognized by the momentum runner
const (
	ParamFastPeriod = "fast_period"
	ParamSlowPeriod = "slow_period"
	ParamThreshold  = "threshold"
)

// Runner executes the reference momentum strategy over a candle series.
// It is the concrete collaborator behind the optimization engine's
// BacktestFunc boundary: one call runs the strategy with fixed
// parameters over one period and returns its metrics.
type Runner struct {
	candles        []Candlestick
	initialCapital float64
	commissionRate float64
}

// NewRunner creates a runner over a chronologically ordered candle series
func NewRunner(candles []Candlestick, initialCapital, commissionRate float64) *Runner {
	return &Runner{
		candles:        candles,
		initialCapital: initialCapital,
		commissionRate: commissionRate,
	}
}

// BacktestFunc adapts the runner to the optimization engine boundary
func (r *Runner) BacktestFunc() optimize.BacktestFunc {
	return func(ctx context.Context, params optimize.ParameterSet, start, end time.Time) (map[string]float64, error) {
		m, err := r.Run(ctx, params, start, end)
		if err != nil {
			return nil, err
		}
		return m.Map(), nil
	}
}

// Run executes the SMA-crossover momentum strategy with the given
// parameters over [start, end]. The strategy goes long when the fast SMA
// exceeds the slow SMA by threshold and exits on the mirrored condition.
func (r *Runner) Run(ctx context.Context, params optimize.ParameterSet, start, end time.Time) (*Metrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fast, ok := params.Int(ParamFastPeriod)
	if !ok || fast < 1 {
		return nil, fmt.Errorf("parameter %q must be a positive integer", ParamFastPeriod)
	}
	slow, ok := params.Int(ParamSlowPeriod)
	if !ok || slow <= fast {
		return nil, fmt.Errorf("parameter %q must be an integer greater than %q", ParamSlowPeriod, ParamFastPeriod)
	}
	threshold, ok := params.Float(ParamThreshold)
	if !ok || threshold < 0 {
		return nil, fmt.Errorf("parameter %q must be a non-negative number", ParamThreshold)
	}

	window := r.slice(start, end)
	if len(window) <= slow {
		return nil, fmt.Errorf("insufficient data for %s to %s: %d candles, need more than %d",
			start.Format("2006-01-02"), end.Format("2006-01-02"), len(window), slow)
	}

	closes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close
	}
	fastSMA := smaSeries(closes, fast)
	slowSMA := smaSeries(closes, slow)

	cash := r.initialCapital
	units := 0.0
	var entryValue float64
	equity := make([]float64, 0, len(window))
	var tradePL []float64

	for i := range window {
		price := closes[i]

		if i >= slow-1 {
			f, s := fastSMA[i], slowSMA[i]
			long := units > 0

			if !long && f > s*(1+threshold) {
				// Enter long with all available cash
				fee := cash * r.commissionRate
				units = (cash - fee) / price
				entryValue = cash
				cash = 0
			} else if long && f < s*(1-threshold) {
				// Exit to cash
				proceeds := units * price
				fee := proceeds * r.commissionRate
				cash = proceeds - fee
				tradePL = append(tradePL, cash-entryValue)
				units = 0
			}
		}

		equity = append(equity, cash+units*price)
	}

	// Close any open position at the final bar
	if units > 0 {
		finalPrice := closes[len(closes)-1]
		proceeds := units * finalPrice
		fee := proceeds * r.commissionRate
		cash = proceeds - fee
		tradePL = append(tradePL, cash-entryValue)
		units = 0
		equity[len(equity)-1] = cash
	}

	metrics, err := CalculateMetrics(r.initialCapital, equity, tradePL, window[0].Timestamp, window[len(window)-1].Timestamp)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("fast", fast).
		Int("slow", slow).
		Float64("threshold", threshold).
		Int("candles", len(window)).
		Int("trades", metrics.TotalTrades).
		Float64("cagr", metrics.CAGR).
		Msg("Backtest run complete")

	return metrics, nil
}

// slice returns the candles with timestamps inside [start, end]
func (r *Runner) slice(start, end time.Time) []Candlestick {
	var out []Candlestick
	for _, c := range r.candles {
		if !c.Timestamp.Before(start) && !c.Timestamp.After(end) {
			out = append(out, c)
		}
	}
	return out
}

// smaSeries computes a simple moving average aligned with the input:
// element i holds the SMA of the period ending at i, NaN until the
// period is filled.
func smaSeries(values []float64, period int) []float64 {
	in := make(chan float64, len(values))
	for _, v := range values {
		in <- v
	}
	close(in)

	sma := trend.NewSmaWithPeriod[float64](period)
	out := make([]float64, len(values))
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}

	i := period - 1
	for v := range sma.Compute(in) {
		if i >= len(out) {
			break
		}
		out[i] = v
		i++
	}
	return out
}

// Performance metrics calculation for backtest runs
package backtest

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Metric keys exposed through Metrics.Map for the optimization engine
const (
	KeyTotalReturnPct = "total_return_pct"
	KeyCAGR           = "cagr"
	KeyMaxDrawdownPct = "max_drawdown_pct"
	KeySharpeRatio    = "sharpe_ratio"
	KeyVolatility     = "volatility"
	KeyWinRate        = "win_rate"
	KeyTotalTrades    = "total_trades"
)

// Metrics holds the performance metrics of one backtest run
type Metrics struct {
	InitialCapital float64       `json:"initial_capital"`
	FinalEquity    float64       `json:"final_equity"`
	TotalReturnPct float64       `json:"total_return_pct"`
	CAGR           float64       `json:"cagr"`
	MaxDrawdownPct float64       `json:"max_drawdown_pct"`
	Volatility     float64       `json:"volatility"`
	SharpeRatio    float64       `json:"sharpe_ratio"`
	TotalTrades    int           `json:"total_trades"`
	WinningTrades  int           `json:"winning_trades"`
	LosingTrades   int           `json:"losing_trades"`
	WinRate        float64       `json:"win_rate"`
	StartDate      time.Time     `json:"start_date"`
	EndDate        time.Time     `json:"end_date"`
	Duration       time.Duration `json:"duration"`
}

// CalculateMetrics derives the full metric set from an equity curve and
// the realized P&L of each closed trade
func CalculateMetrics(initialCapital float64, equity []float64, tradePL []float64, start, end time.Time) (*Metrics, error) {
	if len(equity) == 0 {
		return nil, fmt.Errorf("no equity curve data")
	}
	if initialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive")
	}

	m := &Metrics{
		InitialCapital: initialCapital,
		FinalEquity:    equity[len(equity)-1],
		StartDate:      start,
		EndDate:        end,
		Duration:       end.Sub(start),
	}

	m.TotalReturnPct = (m.FinalEquity - initialCapital) / initialCapital * 100.0

	if years := m.Duration.Hours() / 24.0 / 365.25; years > 0 && m.FinalEquity > 0 {
		m.CAGR = (math.Pow(m.FinalEquity/initialCapital, 1.0/years) - 1.0) * 100.0
	}

	// Max drawdown over the equity curve
	peak := equity[0]
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			dd := (peak - e) / peak * 100.0
			if dd > m.MaxDrawdownPct {
				m.MaxDrawdownPct = dd
			}
		}
	}

	// Annualized volatility and Sharpe from per-bar returns
	if len(equity) >= 2 {
		returns := make([]float64, 0, len(equity)-1)
		for i := 1; i < len(equity); i++ {
			if equity[i-1] > 0 {
				returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
			}
		}
		if len(returns) >= 2 {
			m.Volatility = stat.StdDev(returns, nil) * math.Sqrt(252) * 100.0
			if m.Volatility > 0 {
				// 3% risk-free rate, annualized return approximated by CAGR
				m.SharpeRatio = (m.CAGR - 3.0) / m.Volatility
			}
		}
	}

	// Trade statistics
	m.TotalTrades = len(tradePL)
	for _, pl := range tradePL {
		if pl > 0 {
			m.WinningTrades++
		} else {
			m.LosingTrades++
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100.0
	}

	return m, nil
}

// Map exposes the metrics as the flat map consumed by the optimization
// engine's BacktestFunc boundary
func (m *Metrics) Map() map[string]float64 {
	return map[string]float64{
		KeyTotalReturnPct: m.TotalReturnPct,
		KeyCAGR:           m.CAGR,
		KeyMaxDrawdownPct: m.MaxDrawdownPct,
		KeySharpeRatio:    m.SharpeRatio,
		KeyVolatility:     m.Volatility,
		KeyWinRate:        m.WinRate,
		KeyTotalTrades:    float64(m.TotalTrades),
	}
}

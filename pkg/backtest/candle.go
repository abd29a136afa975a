// Package backtest is the reference collaborator for the optimization
// engine: a compact single-symbol backtester whose metrics feed the
// fitness functions used by the CLI and the integration tests.
package backtest

import (
	"math/rand"
	"time"
)

// Candlestick represents OHLCV data for a single time period
type Candlestick struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// GenerateCandles produces a synthetic daily candle series with a mild
// upward drift and seeded noise, starting at startDate. Used by the CLI
// demo mode and the tests.
func GenerateCandles(symbol string, n int, seed int64, startDate time.Time) []Candlestick {
	rng := rand.New(rand.NewSource(seed)) // #nosec G404 -- Non-cryptographic use: synthetic test data
	candles := make([]Candlestick, n)

	price := 100.0
	for i := 0; i < n; i++ {
		drift := 0.0004
		noise := rng.NormFloat64() * 0.01
		price *= 1.0 + drift + noise
		if price < 1 {
			price = 1
		}

		spread := price * 0.005
		candles[i] = Candlestick{
			Symbol:    symbol,
			Timestamp: startDate.AddDate(0, 0, i),
			Open:      price - spread/2,
			High:      price + spread,
			Low:       price - spread,
			Close:     price,
			Volume:    1000 + rng.Float64()*500,
		}
	}
	return candles
}

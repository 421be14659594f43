package features

import (
	"math"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/pkg/util"
)

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility computes annualized realized volatility over the last
// window returns using barsPerYear bars per year.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sum, sum2 := 0.0, 0.0
	for _, r := range logReturns[len(logReturns)-window:] {
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * barsPerYear)
}

// AverageTrueRange is the simple mean of the true range over the last window bars.
func AverageTrueRange(candles []models.Candle, window int) float64 {
	if window < 1 || len(candles) < window+1 {
		return 0
	}
	total := 0.0
	for i := len(candles) - window; i < len(candles); i++ {
		c, prev := candles[i], candles[i-1].Close
		tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
		total += tr
	}
	return total / float64(window)
}

// BarsPerYearForTF returns the approximate number of bars per year for a timeframe.
func BarsPerYearForTF(tf string) float64 {
	d := util.TimeframeDuration(tf)
	if d == 0 {
		d = time.Minute
	}
	return float64(365*24*time.Hour) / float64(d)
}

// Snapshot is the feature set the market data agent hands downstream.
type Snapshot struct {
	Bars       int     `json:"bars"`
	LastClose  float64 `json:"last_close"`
	Return     float64 `json:"return"`
	Volatility float64 `json:"volatility"`
	ATR        float64 `json:"atr"`
}

// Summarize computes a Snapshot over candles in ascending time order.
func Summarize(candles []models.Candle, tf string, window int) Snapshot {
	s := Snapshot{Bars: len(candles)}
	if len(candles) == 0 {
		return s
	}
	s.LastClose = candles[len(candles)-1].Close
	rets := ComputeLogReturns(candles)
	for _, r := range rets {
		s.Return += r
	}
	if window > len(rets) {
		window = len(rets)
	}
	s.Volatility = RealizedVolatility(rets, window, BarsPerYearForTF(tf))
	s.ATR = AverageTrueRange(candles, min(window, len(candles)-1))
	return s
}

// ToMap flattens the snapshot into an agent output map.
func (s Snapshot) ToMap() map[string]any {
	return map[string]any{
		"bars":       s.Bars,
		"last_close": s.LastClose,
		"return":     s.Return,
		"volatility": s.Volatility,
		"atr":        s.ATR,
	}
}

// Package indicators implements the pure technical-indicator functions
// consumed by the scoring pipeline. Each function honors a minimum-data
// (warmup) policy and the documented degenerate value for flat/zero inputs
// instead of propagating NaN or dividing by zero.
package indicators

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/optionalpha/scanner/internal/errs"
)

func lastNonNaN(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i], true
		}
	}
	return 0, false
}

// SMA returns the simple moving average of the last `period` closes.
func SMA(ticker string, closes []float64, period int) (float64, error) {
	if len(closes) < period {
		return 0, errs.Insufficient(ticker, "indicators", "not enough closes for SMA warmup")
	}
	out := talib.Sma(closes, period)
	v, ok := lastNonNaN(out)
	if !ok {
		return 0, errs.Insufficient(ticker, "indicators", "SMA produced no value")
	}
	return v, nil
}

// EMA returns the exponential moving average of the last `period` closes.
func EMA(ticker string, closes []float64, period int) (float64, error) {
	if len(closes) < period {
		return 0, errs.Insufficient(ticker, "indicators", "not enough closes for EMA warmup")
	}
	out := talib.Ema(closes, period)
	v, ok := lastNonNaN(out)
	if !ok {
		return 0, errs.Insufficient(ticker, "indicators", "EMA produced no value")
	}
	return v, nil
}

// RSI returns the Relative Strength Index over the last period price changes,
// using simple averages of gains and losses (no Wilder smoothing). Zero
// average loss over the window (a monotonically non-decreasing run) yields
// the documented 100.
func RSI(ticker string, closes []float64, period int) (float64, error) {
	if len(closes) < period+1 {
		return 0, errs.Insufficient(ticker, "indicators", "not enough closes for RSI warmup")
	}
	window := closes[len(closes)-period-1:]
	var gainSum, lossSum float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgLoss := lossSum / float64(period)
	if avgLoss == 0 {
		return 100, nil
	}
	avgGain := gainSum / float64(period)
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}

// BollingerBands returns (upper, middle, lower) using population stddev
// (ddof=0), matching talib's default.
func BollingerBands(ticker string, closes []float64, period int, stdDevMultiplier float64) (upper, middle, lower float64, err error) {
	if len(closes) < period {
		return 0, 0, 0, errs.Insufficient(ticker, "indicators", "not enough closes for Bollinger Bands warmup")
	}
	up, mid, lo := talib.BBands(closes, period, stdDevMultiplier, stdDevMultiplier, 0)
	u, ok1 := lastNonNaN(up)
	m, ok2 := lastNonNaN(mid)
	l, ok3 := lastNonNaN(lo)
	if !ok1 || !ok2 || !ok3 {
		return 0, 0, 0, errs.Insufficient(ticker, "indicators", "Bollinger Bands produced no value")
	}
	return u, m, l, nil
}

// BollingerWidth returns (upper-lower)/middle, or 0 when stddev collapses the
// bands to a single price (guarding the division by zero).
func BollingerWidth(ticker string, closes []float64, period int, stdDevMultiplier float64) (float64, error) {
	upper, middle, lower, err := BollingerBands(ticker, closes, period, stdDevMultiplier)
	if err != nil {
		return 0, err
	}
	if middle == 0 || upper == lower {
		return 0, nil
	}
	return (upper - lower) / middle, nil
}

// MACDSignal returns the MACD histogram (macd line minus signal line), the
// value the scoring pipeline treats as its directional signal.
func MACDSignal(ticker string, closes []float64, fast, slow, signal int) (float64, error) {
	if len(closes) < slow+signal {
		return 0, errs.Insufficient(ticker, "indicators", "not enough closes for MACD warmup")
	}
	_, _, hist := talib.Macd(closes, fast, slow, signal)
	v, ok := lastNonNaN(hist)
	if !ok {
		return 0, errs.Insufficient(ticker, "indicators", "MACD produced no value")
	}
	return v, nil
}

// ADX returns the Average Directional Index, used to gate trend strength.
func ADX(ticker string, high, low, close []float64, period int) (float64, error) {
	if len(close) < period*2 {
		return 0, errs.Insufficient(ticker, "indicators", "not enough bars for ADX warmup")
	}
	out := talib.Adx(high, low, close, period)
	v, ok := lastNonNaN(out)
	if !ok {
		return 0, errs.Insufficient(ticker, "indicators", "ADX produced no value")
	}
	return v, nil
}

// WilliamsR returns Williams %R over `period` bars. Zero high-low range
// (a flat window) yields the documented degenerate value of -50.
func WilliamsR(ticker string, high, low, close []float64, period int) (float64, error) {
	if len(close) < period {
		return 0, errs.Insufficient(ticker, "indicators", "not enough bars for Williams %R warmup")
	}
	h := high[len(high)-period:]
	l := low[len(low)-period:]
	highestHigh, lowestLow := h[0], l[0]
	for i := range h {
		if h[i] > highestHigh {
			highestHigh = h[i]
		}
		if l[i] < lowestLow {
			lowestLow = l[i]
		}
	}
	rng := highestHigh - lowestLow
	if rng == 0 {
		return -50, nil
	}
	return (highestHigh - close[len(close)-1]) / rng * -100, nil
}

// StochRSI computes the stochastic oscillator of the RSI series over
// `stochPeriod` bars. A flat RSI window (zero range) yields 50.
func StochRSI(ticker string, closes []float64, rsiPeriod, stochPeriod int) (float64, error) {
	needed := rsiPeriod + 1 + stochPeriod
	if len(closes) < needed {
		return 0, errs.Insufficient(ticker, "indicators", "not enough closes for Stoch RSI warmup")
	}
	rsiSeries := make([]float64, 0, stochPeriod)
	for i := len(closes) - stochPeriod; i <= len(closes)-1; i++ {
		window := closes[:i+1]
		v, err := RSI(ticker, window, rsiPeriod)
		if err != nil {
			return 0, err
		}
		rsiSeries = append(rsiSeries, v)
	}
	lo, hi := rsiSeries[0], rsiSeries[0]
	for _, v := range rsiSeries {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	rng := hi - lo
	if rng == 0 {
		return 50, nil
	}
	current := rsiSeries[len(rsiSeries)-1]
	return (current - lo) / rng * 100, nil
}

// RelativeVolume returns the ratio of the most recent volume to the average
// of the prior `period` bars. A zero average (all-zero volume history)
// yields the neutral sentinel 1.0 rather than dividing by zero.
func RelativeVolume(ticker string, volumes []float64, period int) (float64, error) {
	if len(volumes) < period+1 {
		return 0, errs.Insufficient(ticker, "indicators", "not enough bars for relative volume warmup")
	}
	window := volumes[len(volumes)-period-1 : len(volumes)-1]
	var sum float64
	for _, v := range window {
		sum += v
	}
	avg := sum / float64(period)
	if avg == 0 {
		return 1.0, nil
	}
	return volumes[len(volumes)-1] / avg, nil
}

// SMAAlignment measures how far price sits from both a fast and slow SMA,
// averaged and clamped to [-1, 1] for use as determine_direction's
// sma_alignment input.
func SMAAlignment(price, smaFast, smaSlow float64) float64 {
	var fastScore, slowScore float64
	if smaFast != 0 {
		fastScore = (price - smaFast) / smaFast
	}
	if smaSlow != 0 {
		slowScore = (price - smaSlow) / smaSlow
	}
	alignment := (fastScore + slowScore) / 2 * 10
	if alignment > 1 {
		return 1
	}
	if alignment < -1 {
		return -1
	}
	return alignment
}

// Package scoring implements composite ticker scoring, catalyst-proximity
// adjustment, and directional classification over computed indicator
// signals. The exact weighting is a policy choice, not a semantic contract:
// what's guaranteed is determinism, monotonicity in each signal's
// bullishness dimension, and gapless rank assignment.
package scoring

import (
	"sort"
	"time"

	"github.com/optionalpha/scanner/internal/domain"
)

// CatalystPenaltyWeight scales how much a nearby earnings date discounts a score.
const CatalystPenaltyWeight = 0.5

// CatalystWindowDays is how many days ahead an earnings date starts to matter.
const CatalystWindowDays = 7.0

// TickerSignals is one ticker's computed indicator values, ready for scoring.
type TickerSignals struct {
	Ticker       string
	Signals      map[string]float64
	NextEarnings *time.Time
}

// contribution maps a known indicator's raw value to a [-1, 1] bullishness
// scalar. Unknown indicator names are ignored by ScoreUniverse.
var contribution = map[string]func(float64) float64{
	"rsi": func(v float64) float64 {
		// Oversold (low RSI) is bullish, overbought is bearish.
		return clamp((50-v)/50, -1, 1)
	},
	"macd_signal": func(v float64) float64 {
		return clamp(v, -1, 1)
	},
	"williams_r": func(v float64) float64 {
		// -100 (oversold) bullish, 0 (overbought) bearish.
		return clamp((-50-v)/50, -1, 1)
	},
	"stoch_rsi": func(v float64) float64 {
		return clamp((50-v)/50, -1, 1)
	},
	"relative_volume": func(v float64) float64 {
		// Elevated volume confirms whatever direction is already present;
		// taken alone it contributes a small bullish tilt above baseline.
		return clamp((v-1)/2, -1, 1)
	},
	"sma_alignment": func(v float64) float64 {
		return clamp(v, -1, 1)
	},
	"bb_width": func(v float64) float64 {
		// Wider bands signal building volatility, not direction; neutral weight.
		return 0
	},
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func compositeScore(signals map[string]float64) float64 {
	var sum float64
	var count int
	for name, value := range signals {
		fn, ok := contribution[name]
		if !ok {
			continue
		}
		sum += fn(value)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// CatalystProximityScore returns a penalty in [0, 1] for an earnings date
// within CatalystWindowDays of refDate; 0 when nextEarnings is nil, in the
// past, or further out than the window.
func CatalystProximityScore(nextEarnings *time.Time, refDate time.Time) float64 {
	if nextEarnings == nil {
		return 0
	}
	daysUntil := nextEarnings.Sub(refDate).Hours() / 24
	if daysUntil < 0 || daysUntil > CatalystWindowDays {
		return 0
	}
	return 1 - daysUntil/CatalystWindowDays
}

// ApplyCatalystAdjustment discounts score by penalty*CatalystPenaltyWeight.
func ApplyCatalystAdjustment(score, penalty float64) float64 {
	return score * (1 - penalty*CatalystPenaltyWeight)
}

// ScoreUniverse computes a composite score per ticker, applies the catalyst
// proximity adjustment, and returns results ranked 1..N with no gaps.
func ScoreUniverse(tickers []TickerSignals, refDate time.Time) []domain.TickerScore {
	type scored struct {
		ticker  string
		score   float64
		signals map[string]float64
	}

	rows := make([]scored, 0, len(tickers))
	for _, t := range tickers {
		base := compositeScore(t.Signals)
		penalty := CatalystProximityScore(t.NextEarnings, refDate)
		adjusted := ApplyCatalystAdjustment(base, penalty)
		rows = append(rows, scored{ticker: t.Ticker, score: adjusted, signals: t.Signals})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].ticker < rows[j].ticker
	})

	out := make([]domain.TickerScore, 0, len(rows))
	for i, r := range rows {
		ts, err := domain.NewTickerScore(r.ticker, r.score, r.signals, i+1)
		if err != nil {
			continue
		}
		out = append(out, ts)
	}
	return out
}

// DetermineDirection classifies a ticker's directional bias. ADX below 15
// suppresses any directional call regardless of RSI/SMA.
func DetermineDirection(adx, rsi, smaAlignment float64) domain.Direction {
	if adx < 15 {
		return domain.Neutral
	}

	var bullish, bearish float64
	switch {
	case rsi < 30:
		bullish += 1.0
	case rsi > 30 && rsi < 50:
		bullish += 0.5
	case rsi > 70:
		bearish += 1.0
	case rsi > 50 && rsi < 70:
		bearish += 0.5
	}

	switch {
	case smaAlignment > 0.5:
		bullish += 1.0
	case smaAlignment < -0.5:
		bearish += 1.0
	}

	switch {
	case bullish > bearish:
		return domain.Bullish
	case bearish > bullish:
		return domain.Bearish
	case smaAlignment > 0:
		return domain.Bullish
	case smaAlignment < 0:
		return domain.Bearish
	default:
		return domain.Neutral
	}
}

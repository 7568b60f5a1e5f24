package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionalpha/scanner/internal/domain"
)

func TestScoreUniverse_RanksDescendingWithNoGaps(t *testing.T) {
	tickers := []TickerSignals{
		{Ticker: "WEAK", Signals: map[string]float64{"rsi": 80}},  // bearish
		{Ticker: "STRONG", Signals: map[string]float64{"rsi": 20}}, // bullish
		{Ticker: "MID", Signals: map[string]float64{"rsi": 50}},
	}

	scores := ScoreUniverse(tickers, time.Now())

	require.Len(t, scores, 3)
	assert.Equal(t, "STRONG", scores[0].Ticker)
	assert.Equal(t, 1, scores[0].Rank)
	assert.Equal(t, 2, scores[1].Rank)
	assert.Equal(t, 3, scores[2].Rank)
	assert.True(t, scores[0].Score >= scores[1].Score)
	assert.True(t, scores[1].Score >= scores[2].Score)
}

func TestScoreUniverse_DeterministicForIdenticalInputs(t *testing.T) {
	tickers := []TickerSignals{
		{Ticker: "AAPL", Signals: map[string]float64{"rsi": 40, "macd_signal": 0.3}},
		{Ticker: "MSFT", Signals: map[string]float64{"rsi": 60, "macd_signal": -0.2}},
	}

	first := ScoreUniverse(tickers, time.Now())
	second := ScoreUniverse(tickers, time.Now())

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Ticker, second[i].Ticker)
		assert.Equal(t, first[i].Score, second[i].Score)
	}
}

func TestCatalystProximityScore_NilEarningsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, CatalystProximityScore(nil, time.Now()))
}

func TestCatalystProximityScore_TodayIsMaxPenalty(t *testing.T) {
	now := time.Now()
	earnings := now

	score := CatalystProximityScore(&earnings, now)

	assert.InDelta(t, 1.0, score, 1e-6)
}

func TestCatalystProximityScore_OutsideWindowIsZero(t *testing.T) {
	now := time.Now()
	earnings := now.AddDate(0, 0, 30)

	score := CatalystProximityScore(&earnings, now)

	assert.Equal(t, 0.0, score)
}

func TestCatalystProximityScore_PastEarningsIsZero(t *testing.T) {
	now := time.Now()
	earnings := now.AddDate(0, 0, -3)

	score := CatalystProximityScore(&earnings, now)

	assert.Equal(t, 0.0, score)
}

func TestApplyCatalystAdjustment_ReducesPositiveScoreNearEarnings(t *testing.T) {
	adjusted := ApplyCatalystAdjustment(1.0, 1.0)

	assert.Equal(t, 1-CatalystPenaltyWeight, adjusted)
}

func TestScoreUniverse_EarningsProximityReducesScore(t *testing.T) {
	now := time.Now()
	earningsToday := now
	withCatalyst := []TickerSignals{{Ticker: "AAPL", Signals: map[string]float64{"rsi": 20}, NextEarnings: &earningsToday}}
	withoutCatalyst := []TickerSignals{{Ticker: "AAPL", Signals: map[string]float64{"rsi": 20}}}

	scoredWith := ScoreUniverse(withCatalyst, now)
	scoredWithout := ScoreUniverse(withoutCatalyst, now)

	require.Len(t, scoredWith, 1)
	require.Len(t, scoredWithout, 1)
	assert.True(t, scoredWith[0].Score < scoredWithout[0].Score)
}

func TestDetermineDirection_LowADXForcesNeutral(t *testing.T) {
	direction := DetermineDirection(10, 20, 0.9)

	assert.Equal(t, domain.Neutral, direction)
}

func TestDetermineDirection_OversoldRSIAndPositiveSMAIsBullish(t *testing.T) {
	direction := DetermineDirection(25, 25, 0.8)

	assert.Equal(t, domain.Bullish, direction)
}

func TestDetermineDirection_OverboughtRSIAndNegativeSMAIsBearish(t *testing.T) {
	direction := DetermineDirection(25, 75, -0.8)

	assert.Equal(t, domain.Bearish, direction)
}

func TestDetermineDirection_TieBreaksOnSMASign(t *testing.T) {
	// RSI=50 contributes nothing either way; SMA between -0.5 and 0.5
	// contributes nothing either way. Net 0-0 tie breaks on SMA sign.
	direction := DetermineDirection(25, 50, 0.2)

	assert.Equal(t, domain.Bullish, direction)
}

func TestDetermineDirection_ZeroEverythingIsNeutral(t *testing.T) {
	direction := DetermineDirection(25, 50, 0)

	assert.Equal(t, domain.Neutral, direction)
}

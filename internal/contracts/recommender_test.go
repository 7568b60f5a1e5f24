package contracts

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionalpha/scanner/internal/domain"
)

func mustContract(t *testing.T, ticker string, optType domain.OptionType, strike float64, exp time.Time, bid, ask float64, volume, oi int64, iv float64, delta *float64) domain.OptionContract {
	t.Helper()
	var greeks *domain.OptionGreeks
	var source *domain.GreeksSource
	if delta != nil {
		g, err := domain.NewOptionGreeks(*delta, 0.02, -0.01, 0.1, 0.05)
		require.NoError(t, err)
		greeks = &g
		src := domain.GreeksMarket
		source = &src
	}
	c, err := domain.NewOptionContract(ticker, optType, decimal.NewFromFloat(strike), exp,
		decimal.NewFromFloat(bid), decimal.NewFromFloat(ask), decimal.NewFromFloat((bid+ask)/2),
		volume, oi, iv, greeks, source)
	require.NoError(t, err)
	return c
}

func TestFilterContracts_NeutralDirectionReturnsNone(t *testing.T) {
	asOf := time.Now()
	call := mustContract(t, "AAPL", domain.Call, 100, asOf.AddDate(0, 0, 45), 1.0, 1.1, 10, 200, 0.3, nil)

	out := FilterContracts([]domain.OptionContract{call}, domain.Neutral)

	assert.Empty(t, out)
}

func TestFilterContracts_DropsLowOpenInterest(t *testing.T) {
	asOf := time.Now()
	call := mustContract(t, "AAPL", domain.Call, 100, asOf.AddDate(0, 0, 45), 1.0, 1.1, 10, 50, 0.3, nil)

	out := FilterContracts([]domain.OptionContract{call}, domain.Bullish)

	assert.Empty(t, out)
}

func TestFilterContracts_DropsWideSpread(t *testing.T) {
	asOf := time.Now()
	call := mustContract(t, "AAPL", domain.Call, 100, asOf.AddDate(0, 0, 45), 1.0, 2.0, 10, 200, 0.3, nil)

	out := FilterContracts([]domain.OptionContract{call}, domain.Bullish)

	assert.Empty(t, out)
}

func TestFilterContracts_SortsByOpenInterestDescending(t *testing.T) {
	asOf := time.Now()
	low := mustContract(t, "AAPL", domain.Call, 100, asOf.AddDate(0, 0, 45), 1.0, 1.05, 10, 150, 0.3, nil)
	high := mustContract(t, "AAPL", domain.Call, 105, asOf.AddDate(0, 0, 45), 1.0, 1.05, 10, 500, 0.3, nil)

	out := FilterContracts([]domain.OptionContract{low, high}, domain.Bullish)

	require.Len(t, out, 2)
	assert.Equal(t, int64(500), out[0].OpenInterest)
}

func TestFilterContracts_AppliesDeltaBandWhenGreeksPresent(t *testing.T) {
	asOf := time.Now()
	outOfBand := 0.50
	inBand := 0.35
	low := mustContract(t, "AAPL", domain.Call, 100, asOf.AddDate(0, 0, 45), 1.0, 1.05, 10, 300, 0.3, &outOfBand)
	ok := mustContract(t, "AAPL", domain.Call, 105, asOf.AddDate(0, 0, 45), 1.0, 1.05, 10, 300, 0.3, &inBand)

	out := FilterContracts([]domain.OptionContract{low, ok}, domain.Bullish)

	require.Len(t, out, 1)
	assert.InDelta(t, 0.35, out[0].Greeks.Delta, 1e-9)
}

func TestSelectExpiration_PicksNearestToTargetWithinWindow(t *testing.T) {
	asOf := time.Now()
	candidates := []time.Time{
		asOf.AddDate(0, 0, 20),
		asOf.AddDate(0, 0, 40),
		asOf.AddDate(0, 0, 90),
	}

	picked, ok := SelectExpiration(candidates, asOf)

	require.True(t, ok)
	assert.Equal(t, candidates[1].Format("2006-01-02"), picked.Format("2006-01-02"))
}

func TestSelectExpiration_FallsBackToNearestOverallWhenNoneInWindow(t *testing.T) {
	asOf := time.Now()
	candidates := []time.Time{
		asOf.AddDate(0, 0, 5),
		asOf.AddDate(0, 0, 120),
	}

	picked, ok := SelectExpiration(candidates, asOf)

	require.True(t, ok)
	assert.Equal(t, candidates[0].Format("2006-01-02"), picked.Format("2006-01-02"))
}

func TestSelectExpiration_EmptyReturnsNotOK(t *testing.T) {
	_, ok := SelectExpiration(nil, time.Now())

	assert.False(t, ok)
}

func TestSelectByDelta_PicksClosestToTargetWithinBand(t *testing.T) {
	d30 := 0.30
	d35 := 0.35
	d40 := 0.40
	contracts := []domain.OptionContract{
		mustContract(t, "AAPL", domain.Call, 100, time.Now(), 1, 1.05, 10, 200, 0.3, &d30),
		mustContract(t, "AAPL", domain.Call, 105, time.Now(), 1, 1.05, 10, 200, 0.3, &d35),
		mustContract(t, "AAPL", domain.Call, 110, time.Now(), 1, 1.05, 10, 200, 0.3, &d40),
	}

	picked, ok := SelectByDelta(contracts)

	require.True(t, ok)
	assert.InDelta(t, 0.35, picked.Greeks.Delta, 1e-9)
}

func TestSelectByDelta_NoGreeksReturnsNotOK(t *testing.T) {
	contracts := []domain.OptionContract{
		mustContract(t, "AAPL", domain.Call, 100, time.Now(), 1, 1.05, 10, 200, 0.3, nil),
	}

	_, ok := SelectByDelta(contracts)

	assert.False(t, ok)
}

func TestRecommendContract_ReturnsAtMostOne(t *testing.T) {
	asOf := time.Now()
	d35 := 0.35
	call := mustContract(t, "AAPL", domain.Call, 100, asOf.AddDate(0, 0, 45), 1.0, 1.05, 10, 300, 0.3, &d35)

	picked, ok := RecommendContract([]domain.OptionContract{call}, domain.Bullish, asOf)

	require.True(t, ok)
	assert.Equal(t, "AAPL", picked.Ticker)
}

func TestRecommendContract_NeutralDirectionReturnsNone(t *testing.T) {
	asOf := time.Now()
	d35 := 0.35
	call := mustContract(t, "AAPL", domain.Call, 100, asOf.AddDate(0, 0, 45), 1.0, 1.05, 10, 300, 0.3, &d35)

	_, ok := RecommendContract([]domain.OptionContract{call}, domain.Neutral, asOf)

	assert.False(t, ok)
}

package repository

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionalpha/scanner/internal/database"
	"github.com/optionalpha/scanner/internal/domain"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    "file::memory:?cache=shared",
		Profile: database.ProfileStandard,
		Name:    "scanner",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return New(db.Conn(), testLogger())
}

func TestSaveAndGetScanRun(t *testing.T) {
	repo := newTestRepo(t)
	run, err := domain.NewScanRun("scan-1", time.Now(), "full", []string{"Technology"}, 10)
	require.NoError(t, err)

	require.NoError(t, repo.SaveScanRun(run))

	got, ok, err := repo.GetScanByID("scan-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "scan-1", got.ID)
	assert.Equal(t, domain.ScanRunning, got.Status)
	assert.Equal(t, []string{"Technology"}, got.Sectors)
}

func TestSaveScanRun_UpsertsCompletion(t *testing.T) {
	repo := newTestRepo(t)
	run, err := domain.NewScanRun("scan-1", time.Now(), "full", nil, 10)
	require.NoError(t, err)
	require.NoError(t, repo.SaveScanRun(run))

	completed := run.Completed(time.Now(), 42)
	require.NoError(t, repo.SaveScanRun(completed))

	got, ok, err := repo.GetScanByID("scan-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ScanCompleted, got.Status)
	assert.Equal(t, 42, got.TickerCount)
	assert.NotNil(t, got.CompletedAt)
}

func TestGetScanByID_MissingReturnsNotOK(t *testing.T) {
	repo := newTestRepo(t)

	_, ok, err := repo.GetScanByID("does-not-exist")

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetLatestScan_ReturnsMostRecentlyStarted(t *testing.T) {
	repo := newTestRepo(t)
	older, _ := domain.NewScanRun("older", time.Now().Add(-time.Hour), "full", nil, 10)
	newer, _ := domain.NewScanRun("newer", time.Now(), "full", nil, 10)
	require.NoError(t, repo.SaveScanRun(older))
	require.NoError(t, repo.SaveScanRun(newer))

	got, ok, err := repo.GetLatestScan()

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "newer", got.ID)
}

func TestListScanRuns_OrderedDescendingAndPaged(t *testing.T) {
	repo := newTestRepo(t)
	for i, id := range []string{"a", "b", "c"} {
		run, _ := domain.NewScanRun(id, time.Now().Add(time.Duration(i)*time.Hour), "full", nil, 10)
		require.NoError(t, repo.SaveScanRun(run))
	}

	runs, err := repo.ListScanRuns(2, 0)

	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestSaveScores_AndGetScoresForScanOrderedByRank(t *testing.T) {
	repo := newTestRepo(t)
	run, _ := domain.NewScanRun("scan-1", time.Now(), "full", nil, 10)
	require.NoError(t, repo.SaveScanRun(run))

	scores := []domain.TickerScore{
		mustScore(t, "AAPL", 0.8, 1),
		mustScore(t, "MSFT", 0.5, 2),
	}
	directions := map[string]domain.Direction{"AAPL": domain.Bullish, "MSFT": domain.Bearish}
	require.NoError(t, repo.SaveScores("scan-1", scores, directions))

	got, err := repo.GetScoresForScan("scan-1")

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AAPL", got[0].Ticker)
	assert.Equal(t, "MSFT", got[1].Ticker)
}

func mustScore(t *testing.T, ticker string, score float64, rank int) domain.TickerScore {
	t.Helper()
	s, err := domain.NewTickerScore(ticker, score, map[string]float64{"rsi": 40}, rank)
	require.NoError(t, err)
	return s
}

func TestGetTickerHistory_ReturnsAcrossScansMostRecentFirst(t *testing.T) {
	repo := newTestRepo(t)
	older, _ := domain.NewScanRun("scan-old", time.Now().Add(-time.Hour), "full", nil, 10)
	newer, _ := domain.NewScanRun("scan-new", time.Now(), "full", nil, 10)
	require.NoError(t, repo.SaveScanRun(older))
	require.NoError(t, repo.SaveScanRun(newer))

	require.NoError(t, repo.SaveScores("scan-old", []domain.TickerScore{mustScore(t, "AAPL", 0.3, 1)}, map[string]domain.Direction{"AAPL": domain.Bullish}))
	require.NoError(t, repo.SaveScores("scan-new", []domain.TickerScore{mustScore(t, "AAPL", 0.9, 1)}, map[string]domain.Direction{"AAPL": domain.Bullish}))

	history, err := repo.GetTickerHistory("AAPL", 10)

	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 0.9, history[0].Score)
}

func TestGetBatchTickerHistory_OneMissingSymbolDoesNotFailBatch(t *testing.T) {
	repo := newTestRepo(t)
	run, _ := domain.NewScanRun("scan-1", time.Now(), "full", nil, 10)
	require.NoError(t, repo.SaveScanRun(run))
	require.NoError(t, repo.SaveScores("scan-1", []domain.TickerScore{mustScore(t, "AAPL", 0.5, 1)}, map[string]domain.Direction{"AAPL": domain.Bullish}))

	out := repo.GetBatchTickerHistory([]string{"AAPL", "ZZZZ"}, 10)

	assert.Len(t, out["AAPL"], 1)
	assert.Empty(t, out["ZZZZ"])
}

func mustThesis(t *testing.T) domain.TradeThesis {
	t.Helper()
	thesis, err := domain.NewTradeThesis(domain.Bullish, 0.7, "oversold bounce", []string{"earnings in 3 days"},
		"buy call", "RSI oversold, ADX trending", "volume declining", "llama3.1:8b", 500, 1200,
		"This is not financial advice.")
	require.NoError(t, err)
	return thesis
}

func TestSaveAndGetAIThesis(t *testing.T) {
	repo := newTestRepo(t)
	thesis := mustThesis(t)

	id, err := repo.SaveAIThesis("AAPL", thesis, `{"raw":"full debate json"}`)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, ok, err := repo.GetDebateByID(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "AAPL", got.Ticker)
	assert.Equal(t, domain.Bullish, got.Thesis.Direction)
	assert.Equal(t, []string{"earnings in 3 days"}, got.Thesis.RiskFactors)
	assert.Equal(t, `{"raw":"full debate json"}`, got.FullThesis)
}

func TestGetDebateByID_MissingReturnsNotOK(t *testing.T) {
	repo := newTestRepo(t)

	_, ok, err := repo.GetDebateByID(9999)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetDebateHistory_FiltersByDirection(t *testing.T) {
	repo := newTestRepo(t)
	bullish := mustThesis(t)
	bearishThesis, err := domain.NewTradeThesis(domain.Bearish, 0.6, "breakdown", nil, "buy put", "bear case", "bull case",
		"llama3.1:8b", 400, 900, "This is not financial advice.")
	require.NoError(t, err)

	_, err = repo.SaveAIThesis("AAPL", bullish, "{}")
	require.NoError(t, err)
	_, err = repo.SaveAIThesis("AAPL", bearishThesis, "{}")
	require.NoError(t, err)

	bearish := domain.Bearish
	history, err := repo.GetDebateHistory("AAPL", &bearish, 10)

	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.Bearish, history[0].Thesis.Direction)
}

func TestListDebates_PagedMostRecentFirst(t *testing.T) {
	repo := newTestRepo(t)
	thesis := mustThesis(t)
	_, err := repo.SaveAIThesis("AAPL", thesis, "{}")
	require.NoError(t, err)
	_, err = repo.SaveAIThesis("MSFT", thesis, "{}")
	require.NoError(t, err)

	debates, err := repo.ListDebates(10, 0)

	require.NoError(t, err)
	assert.Len(t, debates, 2)
}

func TestCreateWatchlist_DuplicateNameRejected(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.CreateWatchlist("swing-trades")
	require.NoError(t, err)

	_, err = repo.CreateWatchlist("swing-trades")

	assert.ErrorIs(t, err, ErrDuplicateWatchlist)
}

func TestAddAndGetWatchlistTickers_Sorted(t *testing.T) {
	repo := newTestRepo(t)
	id, err := repo.CreateWatchlist("swing-trades")
	require.NoError(t, err)

	require.NoError(t, repo.AddTickers(id, []string{"MSFT", "AAPL", "GOOG"}))
	require.NoError(t, repo.AddTickers(id, []string{"AAPL"})) // duplicate ignored

	tickers, err := repo.GetWatchlistTickers(id)

	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOG", "MSFT"}, tickers)
}

func TestRemoveTickers_RemovesOnlyNamed(t *testing.T) {
	repo := newTestRepo(t)
	id, err := repo.CreateWatchlist("swing-trades")
	require.NoError(t, err)
	require.NoError(t, repo.AddTickers(id, []string{"AAPL", "MSFT"}))

	require.NoError(t, repo.RemoveTickers(id, []string{"AAPL"}))

	tickers, err := repo.GetWatchlistTickers(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT"}, tickers)
}

func TestDeleteWatchlist_CascadesTickers(t *testing.T) {
	repo := newTestRepo(t)
	id, err := repo.CreateWatchlist("swing-trades")
	require.NoError(t, err)
	require.NoError(t, repo.AddTickers(id, []string{"AAPL"}))

	require.NoError(t, repo.DeleteWatchlist(id))

	lists, err := repo.ListWatchlists()
	require.NoError(t, err)
	assert.Empty(t, lists)
}

func TestListWatchlists_SortedByName(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.CreateWatchlist("zeta")
	require.NoError(t, err)
	_, err = repo.CreateWatchlist("alpha")
	require.NoError(t, err)

	lists, err := repo.ListWatchlists()

	require.NoError(t, err)
	require.Len(t, lists, 2)
	assert.Equal(t, "alpha", lists[0].Name)
	assert.Equal(t, "zeta", lists[1].Name)
}

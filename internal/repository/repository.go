// Package repository implements the typed persistence operations (C14)
// against the single sqlite store: scan runs, ticker scores, AI theses, and
// watchlists. Every query is parameterized; none build SQL from user input.
package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/optionalpha/scanner/internal/domain"
)

// Repository wraps the shared sqlite connection with typed scan/thesis/
// watchlist operations. A single connection is serialized internally by
// sqlite's own locking; callers do not need an external mutex.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// New constructs a Repository over an already-migrated connection.
func New(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("component", "repository").Logger()}
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func marshalOrEmpty(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// --- Scans ---------------------------------------------------------------

// SaveScanRun upserts a ScanRun by id, enabling the running->completed
// transition via INSERT OR REPLACE.
func (r *Repository) SaveScanRun(run domain.ScanRun) error {
	sectorsJSON := marshalOrEmpty(run.Sectors)
	var completedAt sql.NullString
	if run.CompletedAt != nil {
		completedAt = sql.NullString{String: run.CompletedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO scan_runs (id, started_at, completed_at, status, preset, sectors, ticker_count, top_n)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC().Format(time.RFC3339), completedAt, string(run.Status),
		run.Preset, sectorsJSON, run.TickerCount, run.TopN,
	)
	if err != nil {
		return fmt.Errorf("save scan run %s: %w", run.ID, err)
	}
	return nil
}

func scanScanRun(row interface{ Scan(...interface{}) error }) (domain.ScanRun, error) {
	var run domain.ScanRun
	var id, startedAt, status, preset, sectorsJSON string
	var completedAt sql.NullString
	var tickerCount, topN int
	if err := row.Scan(&id, &startedAt, &completedAt, &status, &preset, &sectorsJSON, &tickerCount, &topN); err != nil {
		return run, err
	}
	started, _ := time.Parse(time.RFC3339, startedAt)
	var sectors []string
	_ = json.Unmarshal([]byte(sectorsJSON), &sectors)

	run.ID = id
	run.StartedAt = started
	run.Status = domain.ScanStatus(status)
	run.Preset = preset
	run.Sectors = sectors
	run.TickerCount = tickerCount
	run.TopN = topN
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		run.CompletedAt = &t
	}
	return run, nil
}

// GetScanByID fetches one ScanRun, returning ok=false if it does not exist.
func (r *Repository) GetScanByID(id string) (domain.ScanRun, bool, error) {
	row := r.db.QueryRow(
		"SELECT id, started_at, completed_at, status, preset, sectors, ticker_count, top_n FROM scan_runs WHERE id = ?", id,
	)
	run, err := scanScanRun(row)
	if err == sql.ErrNoRows {
		return domain.ScanRun{}, false, nil
	}
	if err != nil {
		return domain.ScanRun{}, false, fmt.Errorf("get scan run %s: %w", id, err)
	}
	return run, true, nil
}

// GetLatestScan returns the most recently started ScanRun.
func (r *Repository) GetLatestScan() (domain.ScanRun, bool, error) {
	row := r.db.QueryRow(
		"SELECT id, started_at, completed_at, status, preset, sectors, ticker_count, top_n FROM scan_runs ORDER BY started_at DESC LIMIT 1",
	)
	run, err := scanScanRun(row)
	if err == sql.ErrNoRows {
		return domain.ScanRun{}, false, nil
	}
	if err != nil {
		return domain.ScanRun{}, false, fmt.Errorf("get latest scan run: %w", err)
	}
	return run, true, nil
}

// ListScanRuns returns ScanRuns ordered by started_at descending, paged.
func (r *Repository) ListScanRuns(limit, offset int) ([]domain.ScanRun, error) {
	rows, err := r.db.Query(
		"SELECT id, started_at, completed_at, status, preset, sectors, ticker_count, top_n FROM scan_runs ORDER BY started_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list scan runs: %w", err)
	}
	defer rows.Close()

	var out []domain.ScanRun
	for rows.Next() {
		run, err := scanScanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scan run row: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// SaveScores replaces the ticker_scores rows for one scan run inside a
// transaction, insert-only per scan (the scan_run_id+ticker pair is unique).
func (r *Repository) SaveScores(scanRunID string, scores []domain.TickerScore, directions map[string]domain.Direction) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save scores transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO ticker_scores (scan_run_id, ticker, composite_score, direction, score_breakdown, rank)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare save scores statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range scores {
		direction := directions[s.Ticker]
		if _, err := stmt.Exec(scanRunID, s.Ticker, s.Score, string(direction), marshalOrEmpty(s.Signals), s.Rank); err != nil {
			return fmt.Errorf("save score for %s: %w", s.Ticker, err)
		}
	}
	return tx.Commit()
}

// GetScoresForScan returns TickerScore rows for a scan, ordered by rank.
func (r *Repository) GetScoresForScan(scanRunID string) ([]domain.TickerScore, error) {
	rows, err := r.db.Query(
		"SELECT ticker, composite_score, score_breakdown, rank FROM ticker_scores WHERE scan_run_id = ? ORDER BY rank ASC",
		scanRunID,
	)
	if err != nil {
		return nil, fmt.Errorf("get scores for scan %s: %w", scanRunID, err)
	}
	defer rows.Close()

	var out []domain.TickerScore
	for rows.Next() {
		var ticker, breakdownJSON string
		var score float64
		var rank int
		if err := rows.Scan(&ticker, &score, &breakdownJSON, &rank); err != nil {
			return nil, fmt.Errorf("scan ticker score row: %w", err)
		}
		var signals map[string]float64
		_ = json.Unmarshal([]byte(breakdownJSON), &signals)
		ts, err := domain.NewTickerScore(ticker, score, signals, rank)
		if err != nil {
			continue
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// --- Ticker history --------------------------------------------------------

// GetTickerHistory returns the most recent `limit` scores recorded for symbol
// across all scans, most recent first.
func (r *Repository) GetTickerHistory(symbol string, limit int) ([]domain.TickerScore, error) {
	rows, err := r.db.Query(
		`SELECT ts.ticker, ts.composite_score, ts.score_breakdown, ts.rank
		 FROM ticker_scores ts
		 JOIN scan_runs sr ON sr.id = ts.scan_run_id
		 WHERE ts.ticker = ?
		 ORDER BY sr.started_at DESC LIMIT ?`,
		symbol, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get ticker history for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []domain.TickerScore
	for rows.Next() {
		var ticker, breakdownJSON string
		var score float64
		var rank int
		if err := rows.Scan(&ticker, &score, &breakdownJSON, &rank); err != nil {
			return nil, fmt.Errorf("scan ticker history row: %w", err)
		}
		var signals map[string]float64
		_ = json.Unmarshal([]byte(breakdownJSON), &signals)
		ts, err := domain.NewTickerScore(ticker, score, signals, rank)
		if err != nil {
			continue
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// GetBatchTickerHistory fans GetTickerHistory out over multiple symbols,
// aggregating into a map keyed by symbol. One symbol's failure never fails
// the batch.
func (r *Repository) GetBatchTickerHistory(symbols []string, limit int) map[string][]domain.TickerScore {
	out := make(map[string][]domain.TickerScore, len(symbols))
	for _, symbol := range symbols {
		history, err := r.GetTickerHistory(symbol, limit)
		if err != nil {
			r.log.Warn().Err(err).Str("ticker", symbol).Msg("ticker history lookup failed")
			continue
		}
		out[symbol] = history
	}
	return out
}

// --- Theses ----------------------------------------------------------------

// ThesisRecord is a persisted AI thesis row, including the full JSON blob.
type ThesisRecord struct {
	ID         int64
	Ticker     string
	Timestamp  time.Time
	Thesis     domain.TradeThesis
	FullThesis string
}

// SaveAIThesis inserts a thesis; theses are insert-only, never updated.
func (r *Repository) SaveAIThesis(ticker string, thesis domain.TradeThesis, fullThesisJSON string) (int64, error) {
	result, err := r.db.Exec(
		`INSERT INTO ai_theses (ticker, timestamp, direction, conviction, model_used, total_tokens, duration_ms,
		 entry_rationale, risk_factors, recommended_action, bull_summary, bear_summary, disclaimer, full_thesis)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ticker, nowUTC(), string(thesis.Direction), thesis.Conviction, thesis.ModelUsed, thesis.TotalTokens, thesis.DurationMs,
		thesis.EntryRationale, marshalOrEmpty(thesis.RiskFactors), thesis.RecommendedAction,
		thesis.BullSummary, thesis.BearSummary, thesis.Disclaimer, fullThesisJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("save ai thesis for %s: %w", ticker, err)
	}
	return result.LastInsertId()
}

func scanThesisRow(row interface{ Scan(...interface{}) error }) (ThesisRecord, error) {
	var rec ThesisRecord
	var timestamp, direction, riskFactorsJSON string
	if err := row.Scan(
		&rec.ID, &rec.Ticker, &timestamp, &direction, &rec.Thesis.Conviction, &rec.Thesis.ModelUsed,
		&rec.Thesis.TotalTokens, &rec.Thesis.DurationMs, &rec.Thesis.EntryRationale, &riskFactorsJSON,
		&rec.Thesis.RecommendedAction, &rec.Thesis.BullSummary, &rec.Thesis.BearSummary, &rec.Thesis.Disclaimer, &rec.FullThesis,
	); err != nil {
		return rec, err
	}
	rec.Timestamp, _ = time.Parse(time.RFC3339, timestamp)
	rec.Thesis.Direction = domain.Direction(direction)
	_ = json.Unmarshal([]byte(riskFactorsJSON), &rec.Thesis.RiskFactors)
	return rec, nil
}

const thesisColumns = `id, ticker, timestamp, direction, conviction, model_used, total_tokens, duration_ms,
	entry_rationale, risk_factors, recommended_action, bull_summary, bear_summary, disclaimer, full_thesis`

// GetDebateByID fetches one thesis record by its autoincrement id.
func (r *Repository) GetDebateByID(id int64) (ThesisRecord, bool, error) {
	row := r.db.QueryRow("SELECT "+thesisColumns+" FROM ai_theses WHERE id = ?", id)
	rec, err := scanThesisRow(row)
	if err == sql.ErrNoRows {
		return ThesisRecord{}, false, nil
	}
	if err != nil {
		return ThesisRecord{}, false, fmt.Errorf("get debate %d: %w", id, err)
	}
	return rec, true, nil
}

// GetDebateHistory returns theses for symbol, optionally filtered by
// direction, most recent first.
func (r *Repository) GetDebateHistory(symbol string, direction *domain.Direction, limit int) ([]ThesisRecord, error) {
	query := "SELECT " + thesisColumns + " FROM ai_theses WHERE ticker = ?"
	args := []interface{}{symbol}
	if direction != nil {
		query += " AND direction = ?"
		args = append(args, string(*direction))
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get debate history for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []ThesisRecord
	for rows.Next() {
		rec, err := scanThesisRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan debate history row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListDebates returns all theses, most recent first, paged.
func (r *Repository) ListDebates(limit, offset int) ([]ThesisRecord, error) {
	rows, err := r.db.Query("SELECT "+thesisColumns+" FROM ai_theses ORDER BY timestamp DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list debates: %w", err)
	}
	defer rows.Close()

	var out []ThesisRecord
	for rows.Next() {
		rec, err := scanThesisRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan debate row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Watchlists --------------------------------------------------------

// ErrDuplicateWatchlist is returned when CreateWatchlist is called with a
// name that already exists.
var ErrDuplicateWatchlist = fmt.Errorf("watchlist name already exists")

// CreateWatchlist inserts a new watchlist, returning ErrDuplicateWatchlist if
// the name is already taken.
func (r *Repository) CreateWatchlist(name string) (int64, error) {
	var exists int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM watchlists WHERE name = ?", name).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check watchlist existence: %w", err)
	}
	if exists > 0 {
		return 0, ErrDuplicateWatchlist
	}

	result, err := r.db.Exec("INSERT INTO watchlists (name, created_at) VALUES (?, ?)", name, nowUTC())
	if err != nil {
		return 0, fmt.Errorf("create watchlist %s: %w", name, err)
	}
	return result.LastInsertId()
}

// AddTickers adds tickers to a watchlist, ignoring duplicates.
func (r *Repository) AddTickers(watchlistID int64, tickers []string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin add tickers transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT OR IGNORE INTO watchlist_tickers (watchlist_id, ticker, added_at) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare add tickers statement: %w", err)
	}
	defer stmt.Close()

	now := nowUTC()
	for _, ticker := range tickers {
		if _, err := stmt.Exec(watchlistID, ticker, now); err != nil {
			return fmt.Errorf("add ticker %s to watchlist %d: %w", ticker, watchlistID, err)
		}
	}
	return tx.Commit()
}

// RemoveTickers removes tickers from a watchlist.
func (r *Repository) RemoveTickers(watchlistID int64, tickers []string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin remove tickers transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("DELETE FROM watchlist_tickers WHERE watchlist_id = ? AND ticker = ?")
	if err != nil {
		return fmt.Errorf("prepare remove tickers statement: %w", err)
	}
	defer stmt.Close()

	for _, ticker := range tickers {
		if _, err := stmt.Exec(watchlistID, ticker); err != nil {
			return fmt.Errorf("remove ticker %s from watchlist %d: %w", ticker, watchlistID, err)
		}
	}
	return tx.Commit()
}

// Watchlist is a named, persisted collection of tickers.
type Watchlist struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// ListWatchlists returns all watchlists.
func (r *Repository) ListWatchlists() ([]Watchlist, error) {
	rows, err := r.db.Query("SELECT id, name, created_at FROM watchlists ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list watchlists: %w", err)
	}
	defer rows.Close()

	var out []Watchlist
	for rows.Next() {
		var w Watchlist
		var createdAt string
		if err := rows.Scan(&w.ID, &w.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan watchlist row: %w", err)
		}
		w.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetWatchlistTickers returns a watchlist's tickers, sorted.
func (r *Repository) GetWatchlistTickers(watchlistID int64) ([]string, error) {
	rows, err := r.db.Query("SELECT ticker FROM watchlist_tickers WHERE watchlist_id = ? ORDER BY ticker ASC", watchlistID)
	if err != nil {
		return nil, fmt.Errorf("get watchlist tickers for %d: %w", watchlistID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, fmt.Errorf("scan watchlist ticker row: %w", err)
		}
		out = append(out, ticker)
	}
	return out, rows.Err()
}

// DeleteWatchlist removes a watchlist; ON DELETE CASCADE removes its ticker
// membership rows.
func (r *Repository) DeleteWatchlist(watchlistID int64) error {
	if _, err := r.db.Exec("DELETE FROM watchlists WHERE id = ?", watchlistID); err != nil {
		return fmt.Errorf("delete watchlist %d: %w", watchlistID, err)
	}
	return nil
}

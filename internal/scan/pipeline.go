// Package scan implements the scan pipeline (C13), the central producer that
// composes universe resolution, batch market data, indicators, scoring,
// catalyst adjustment, option recommendation, and debate into a single
// five-phase run. Progress is reported on a channel; the caller drives
// cooperative cancellation through a CancelFlag checked between phases.
package scan

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/optionalpha/scanner/internal/contracts"
	"github.com/optionalpha/scanner/internal/debate"
	"github.com/optionalpha/scanner/internal/domain"
	"github.com/optionalpha/scanner/internal/indicators"
	"github.com/optionalpha/scanner/internal/marketdata"
	"github.com/optionalpha/scanner/internal/optionsdata"
	"github.com/optionalpha/scanner/internal/repository"
	"github.com/optionalpha/scanner/internal/scoring"
	"github.com/optionalpha/scanner/internal/universe"
)

const (
	totalPhases = 5

	// DefaultTopN mirrors the original pipeline's default result size.
	DefaultTopN = 50
	// DefaultMinScore is a composite-score cutoff on the [-1,1] scale the
	// scoring package produces (see scoring.ScoreUniverse), not the 0-100
	// scale the system this was ported from used.
	DefaultMinScore = 0.0

	ohlcvPeriod = "1y"

	rsiPeriod       = 14
	smaFastPeriod   = 20
	smaSlowPeriod   = 50
	adxPeriod       = 14
	macdFast        = 12
	macdSlow        = 26
	macdSignal      = 9
	stochRSIPeriod  = 14
	williamsRPeriod = 14
	relVolumePeriod = 20
	bbPeriod        = 20
	bbStdDev        = 2.0

	progressBatchSize = 50
)

// Progress is one intermediate status update.
type Progress struct {
	Phase     int
	PhaseName string
	Message   string
	Current   int
	Total     int
}

// Complete is the terminal event emitted when a scan finishes.
type Complete struct {
	ScanRun        domain.ScanRun
	Scores         []domain.TickerScore
	ElapsedSeconds float64
}

// Event is one item on a pipeline run's event channel. Exactly one field is set.
type Event struct {
	Progress *Progress
	Complete *Complete
}

// CancelFlag is a set-only, concurrency-safe cancellation token. Setting it
// never aborts an in-flight call; it only stops new work and persistence.
type CancelFlag struct {
	cancelled atomic.Bool
}

// NewCancelFlag returns a fresh, unset CancelFlag.
func NewCancelFlag() *CancelFlag {
	return &CancelFlag{}
}

// Set requests cancellation.
func (c *CancelFlag) Set() {
	c.cancelled.Store(true)
}

// IsSet reports whether cancellation has been requested.
func (c *CancelFlag) IsSet() bool {
	return c.cancelled.Load()
}

// Options configures one scan run.
type Options struct {
	Preset   string
	Sectors  []string
	TopN     int
	MinScore float64
}

func (o Options) withDefaults() Options {
	if o.Preset == "" {
		o.Preset = "full"
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	return o
}

// Pipeline composes the services a scan needs. All fields are required
// except repo, which may be nil (persistence and thesis storage become no-ops).
type Pipeline struct {
	universe *universe.Service
	market   *marketdata.Service
	options  *optionsdata.Service
	debate   *debate.Orchestrator
	repo     *repository.Repository
	log      zerolog.Logger
}

// New builds a Pipeline over already-constructed collaborators.
func New(universeSvc *universe.Service, marketSvc *marketdata.Service, optionsSvc *optionsdata.Service, debateOrch *debate.Orchestrator, repo *repository.Repository, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		universe: universeSvc,
		market:   marketSvc,
		options:  optionsSvc,
		debate:   debateOrch,
		repo:     repo,
		log:      log.With().Str("component", "scan_pipeline").Logger(),
	}
}

// Run executes one scan asynchronously, sending Progress and (on success) a
// terminal Complete event to the returned channel, which is closed when the
// run ends. A cancelled flag, or a whole-phase failure (empty universe, no
// indicators computed, nothing above threshold), ends the run without a
// Complete event and without persisting.
func (p *Pipeline) Run(ctx context.Context, opts Options, cancel *CancelFlag) <-chan Event {
	opts = opts.withDefaults()
	events := make(chan Event, 8)

	go func() {
		defer close(events)
		p.run(ctx, opts, cancel, events)
	}()

	return events
}

func (p *Pipeline) emit(events chan<- Event, phase int, phaseName, message string, current, total int) {
	events <- Event{Progress: &Progress{Phase: phase, PhaseName: phaseName, Message: message, Current: current, Total: total}}
}

func (p *Pipeline) run(ctx context.Context, opts Options, cancel *CancelFlag, events chan<- Event) {
	scanID := uuid.New().String()
	startedAt := time.Now().UTC()

	// --- Phase 1: resolve universe, fetch OHLCV -------------------------
	p.emit(events, 1, "Loading universe", "Loading universe and fetching market data", 0, totalPhases)

	tickers := p.universe.GetUniverse(opts.Preset)
	if len(tickers) == 0 {
		p.log.Warn().Str("preset", opts.Preset).Msg("universe empty for preset, attempting refresh")
		if _, err := p.universe.Refresh(); err != nil {
			p.log.Error().Err(err).Msg("universe refresh failed")
		}
		tickers = p.universe.GetUniverse(opts.Preset)
	}

	if len(opts.Sectors) > 0 {
		var filtered []domain.TickerInfo
		for _, sector := range opts.Sectors {
			filtered = append(filtered, universe.FilterBySector(tickers, sector)...)
		}
		tickers = filtered
	}

	if len(tickers) == 0 {
		p.log.Error().Str("preset", opts.Preset).Strs("sectors", opts.Sectors).Msg("no tickers found for preset/sectors")
		return
	}

	symbols := make([]string, len(tickers))
	sectorOf := make(map[string]string, len(tickers))
	for i, t := range tickers {
		symbols[i] = t.Symbol
		sectorOf[t.Symbol] = t.Sector
	}

	p.emit(events, 1, "Loading universe", "Fetching OHLCV for tickers", 0, len(symbols))

	ohlcv, fetchFailures := p.market.FetchBatchOHLCV(ctx, symbols)
	if len(fetchFailures) > 0 {
		p.log.Warn().Int("count", len(fetchFailures)).Msg("tickers failed OHLCV fetch")
	}
	if len(ohlcv) == 0 {
		p.log.Error().Msg("no OHLCV data retrieved, aborting scan")
		return
	}

	p.emit(events, 1, "Loading universe", "Fetched data for tickers", 1, totalPhases)

	if cancel.IsSet() {
		return
	}

	// --- Phase 2: indicators, scoring, direction -------------------------
	p.emit(events, 2, "Computing indicators", "Computing indicators and scoring", 0, len(ohlcv))

	type extras struct {
		adx, rsi, smaAlignment float64
	}
	var signalRows []scoring.TickerSignals
	extrasBySymbol := make(map[string]extras)
	processed := 0

	for symbol, bars := range ohlcv {
		if cancel.IsSet() {
			return
		}

		sig, ex, ok := computeSignals(symbol, bars, p.log)
		if ok {
			signalRows = append(signalRows, sig)
			extrasBySymbol[symbol] = ex
		}

		processed++
		if processed%progressBatchSize == 0 {
			p.emit(events, 2, "Computing indicators", "Processing indicators", processed, len(ohlcv))
		}
	}

	if len(signalRows) == 0 {
		p.log.Error().Msg("no indicators computed, aborting scan")
		return
	}

	scored := scoring.ScoreUniverse(signalRows, startedAt)
	scored = aboveThreshold(scored, opts.MinScore)
	if len(scored) == 0 {
		p.log.Warn().Float64("min_score", opts.MinScore).Msg("no tickers scored above threshold")
		return
	}

	directions := make(map[string]domain.Direction, len(scored))
	for _, ts := range scored {
		ex := extrasBySymbol[ts.Ticker]
		directions[ts.Ticker] = scoring.DetermineDirection(ex.adx, ex.rsi, ex.smaAlignment)
	}

	p.emit(events, 2, "Computing indicators", "Scored tickers above threshold", 2, totalPhases)

	if cancel.IsSet() {
		return
	}

	// --- Phase 3: catalyst adjustment, re-rank ----------------------------
	p.emit(events, 3, "Evaluating catalysts", "Evaluating earnings catalysts", 0, len(scored))

	// No earnings-calendar source is wired into the universe or market-data
	// services yet, so nextEarnings is always nil here; the proximity score
	// is consequently always 0 until one is added.
	scored = reRank(scored, startedAt)

	p.emit(events, 3, "Evaluating catalysts", "Catalyst adjustment applied", 3, totalPhases)

	if cancel.IsSet() {
		return
	}

	// --- Phase 4: options + debate for the top N non-neutral tickers -----
	topN := opts.TopN
	if topN > len(scored) {
		topN = len(scored)
	}
	p.emit(events, 4, "Fetching options", "Fetching option chains for top tickers", 0, topN)

	topTickers := scored[:topN]
	for _, ts := range topTickers {
		if cancel.IsSet() {
			return
		}

		direction := directions[ts.Ticker]
		if direction == domain.Neutral {
			continue
		}

		p.runOptionsAndDebate(ctx, ts, direction, ohlcv[ts.Ticker], sectorOf[ts.Ticker])
	}

	p.emit(events, 4, "Fetching options", "Options fetched for top tickers", 4, totalPhases)

	if cancel.IsSet() {
		return
	}

	// --- Phase 5: persist --------------------------------------------------
	p.emit(events, 5, "Persisting results", "Persisting results to database", 0, 1)

	completedAt := time.Now().UTC()
	run, err := domain.NewScanRun(scanID, startedAt, opts.Preset, opts.Sectors, opts.TopN)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to construct scan run")
		return
	}
	run = run.Completed(completedAt, len(scored))

	if p.repo != nil {
		if err := p.repo.SaveScanRun(run); err != nil {
			p.log.Error().Err(err).Msg("failed to persist scan run")
		} else if err := p.repo.SaveScores(run.ID, scored, directions); err != nil {
			p.log.Error().Err(err).Msg("failed to persist ticker scores")
		} else {
			p.log.Info().Int("tickers", len(scored)).Msg("scan results persisted")
		}
	}

	elapsed := completedAt.Sub(startedAt).Seconds()
	events <- Event{Complete: &Complete{ScanRun: run, Scores: scored, ElapsedSeconds: elapsed}}
}

// runOptionsAndDebate fetches the filtered chain, recommends a contract, and
// runs the debate orchestrator. Any failure here is logged and swallowed —
// per-symbol failures never fail the scan.
func (p *Pipeline) runOptionsAndDebate(ctx context.Context, ts domain.TickerScore, direction domain.Direction, bars []domain.PriceBar, sector string) {
	chain, err := p.options.FetchFilteredChain(ctx, ts.Ticker, direction)
	if err != nil {
		p.log.Warn().Err(err).Str("ticker", ts.Ticker).Msg("options fetch failed")
		return
	}
	if len(chain) == 0 {
		return
	}

	asOf := time.Now().UTC()
	recommended, ok := contracts.RecommendContract(chain, direction, asOf)
	if !ok {
		return
	}

	mc := buildMarketContext(ts.Ticker, bars, recommended, sector, ts.Signals, asOf)
	adx := ts.Signals["adx"]
	p.debate.Run(mc, direction, ts.Score, adx)
}

// aboveThreshold keeps only scores >= minScore.
func aboveThreshold(scores []domain.TickerScore, minScore float64) []domain.TickerScore {
	out := make([]domain.TickerScore, 0, len(scores))
	for _, s := range scores {
		if s.Score >= minScore {
			out = append(out, s)
		}
	}
	return out
}

// reRank applies the catalyst adjustment to each score (with no earnings date
// available the penalty is 0), re-sorts by score descending, and reassigns
// gapless ranks.
func reRank(scores []domain.TickerScore, refDate time.Time) []domain.TickerScore {
	adjusted := make([]domain.TickerScore, len(scores))
	for i, s := range scores {
		penalty := scoring.CatalystProximityScore(nil, refDate)
		adjustedScore := scoring.ApplyCatalystAdjustment(s.Score, penalty)
		ts, err := domain.NewTickerScore(s.Ticker, adjustedScore, s.Signals, s.Rank)
		if err != nil {
			continue
		}
		adjusted[i] = ts
	}

	sort.SliceStable(adjusted, func(i, j int) bool {
		if adjusted[i].Score != adjusted[j].Score {
			return adjusted[i].Score > adjusted[j].Score
		}
		return adjusted[i].Ticker < adjusted[j].Ticker
	})

	out := make([]domain.TickerScore, 0, len(adjusted))
	for i, s := range adjusted {
		ts, err := domain.NewTickerScore(s.Ticker, s.Score, s.Signals, i+1)
		if err != nil {
			continue
		}
		out = append(out, ts)
	}
	return out
}

// computeSignals computes every indicator signal the scoring package and
// direction classifier consume. It keeps going after a single indicator
// fails so a symbol with partial coverage is still scored; ok is false only
// when not even one indicator could be computed.
func computeSignals(symbol string, bars []domain.PriceBar, log zerolog.Logger) (scoring.TickerSignals, struct{ adx, rsi, smaAlignment float64 }, bool) {
	type extras = struct{ adx, rsi, smaAlignment float64 }

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
		volumes[i] = float64(b.Volume)
	}

	signals := make(map[string]float64)
	var ex extras

	if v, err := indicators.RSI(symbol, closes, rsiPeriod); err == nil {
		signals["rsi"] = v
		ex.rsi = v
	} else {
		log.Warn().Err(err).Str("ticker", symbol).Msg("RSI failed")
	}

	if v, err := indicators.MACDSignal(symbol, closes, macdFast, macdSlow, macdSignal); err == nil {
		signals["macd_signal"] = v
	} else {
		log.Warn().Err(err).Str("ticker", symbol).Msg("MACD failed")
	}

	if v, err := indicators.WilliamsR(symbol, highs, lows, closes, williamsRPeriod); err == nil {
		signals["williams_r"] = v
	} else {
		log.Warn().Err(err).Str("ticker", symbol).Msg("Williams %R failed")
	}

	if v, err := indicators.StochRSI(symbol, closes, rsiPeriod, stochRSIPeriod); err == nil {
		signals["stoch_rsi"] = v
	} else {
		log.Warn().Err(err).Str("ticker", symbol).Msg("Stoch RSI failed")
	}

	if v, err := indicators.RelativeVolume(symbol, volumes, relVolumePeriod); err == nil {
		signals["relative_volume"] = v
	} else {
		log.Warn().Err(err).Str("ticker", symbol).Msg("relative volume failed")
	}

	if v, err := indicators.BollingerWidth(symbol, closes, bbPeriod, bbStdDev); err == nil {
		signals["bb_width"] = v
	} else {
		log.Warn().Err(err).Str("ticker", symbol).Msg("Bollinger width failed")
	}

	smaFast, errFast := indicators.SMA(symbol, closes, smaFastPeriod)
	smaSlow, errSlow := indicators.SMA(symbol, closes, smaSlowPeriod)
	if errFast == nil && errSlow == nil {
		alignment := indicators.SMAAlignment(closes[len(closes)-1], smaFast, smaSlow)
		signals["sma_alignment"] = alignment
		ex.smaAlignment = alignment
	}

	if v, err := indicators.ADX(symbol, highs, lows, closes, adxPeriod); err == nil {
		ex.adx = v
		// adx is not a contribution key so it never affects compositeScore;
		// it rides along in Signals so runOptionsAndDebate can read it back.
		signals["adx"] = v
	} else {
		log.Warn().Err(err).Str("ticker", symbol).Msg("ADX failed")
	}

	if len(signals) == 0 {
		return scoring.TickerSignals{}, ex, false
	}
	return scoring.TickerSignals{Ticker: symbol, Signals: signals, NextEarnings: nil}, ex, true
}

// buildMarketContext assembles the flat snapshot the debate orchestrator
// needs from what the scan pipeline already has in hand: the bar history,
// the recommended contract, and the computed indicator signals.
func buildMarketContext(symbol string, bars []domain.PriceBar, recommended domain.OptionContract, sector string, signals map[string]float64, asOf time.Time) domain.MarketContext {
	last := bars[len(bars)-1]
	high, low := last.High, last.Low
	lookback := bars
	if len(lookback) > 252 {
		lookback = lookback[len(lookback)-252:]
	}
	for _, b := range lookback {
		if b.High.GreaterThan(high) {
			high = b.High
		}
		if b.Low.LessThan(low) {
			low = b.Low
		}
	}

	var targetDelta float64
	if recommended.Greeks != nil {
		targetDelta = recommended.Greeks.Delta
	} else {
		targetDelta = contracts.DeltaTarget
	}

	return domain.MarketContext{
		Ticker:           symbol,
		CurrentPrice:     last.Close,
		High52Week:       high,
		Low52Week:        low,
		IVRank:           0,
		IVPercentile:     0,
		ATMIV30D:         recommended.IV,
		RSI14:            signals["rsi"],
		MACDSignal:       signals["macd_signal"],
		PutCallRatio:     0,
		NextEarnings:     nil,
		DTETarget:        contracts.DTETarget,
		TargetStrike:     recommended.Strike,
		TargetDelta:      targetDelta,
		Sector:           sector,
		DataTimestampUTC: asOf,
	}
}

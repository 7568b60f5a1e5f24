// Package universe implements the optionable-equity universe service (C6):
// CBOE CSV ingestion, ETF/market-cap classification, preset slicing, GICS
// sector filtering, and miss-count auto-deactivation.
package universe

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/optionalpha/scanner/internal/cache"
	"github.com/optionalpha/scanner/internal/domain"
	"github.com/optionalpha/scanner/internal/errs"
)

// cboeOptionableURL and sp500WikiURL are vars rather than consts so tests
// can point them at a local httptest server.
var (
	cboeOptionableURL = "https://www.cboe.com/us/options/symboldir/equity-index-options/download/"
	sp500WikiURL      = "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"
)

const (
	source = "cboe"

	minTickersSafety = 100
	sp500MinExpected = 400

	universeCacheKey = "universe:cboe:full"
	universeCacheTTL = 24 * time.Hour
	sp500CacheKey    = "universe:wiki:sp500"
	sp500CacheTTL    = 7 * 24 * time.Hour

	httpTimeout = 30 * time.Second
)

// indexSymbols are CBOE index pseudo-symbols with no tradeable OHLCV data.
var indexSymbols = map[string]bool{
	"DJX": true, "NDX": true, "OEX": true, "RLV": true, "RUI": true, "RUT": true,
	"SPX": true, "VIX": true, "XEO": true, "XND": true, "XSP": true,
	"SIXB": true, "SIXI": true, "SIXM": true, "SIXRE": true, "SIXU": true, "SIXV": true,
}

var wellKnownETFs = map[string]bool{
	"SPY": true, "QQQ": true, "IWM": true, "DIA": true, "TLT": true, "GLD": true, "SLV": true,
	"XLF": true, "XLE": true, "XLK": true, "XLV": true, "XLI": true, "XLP": true, "XLY": true,
	"XLB": true, "XLU": true, "XLRE": true, "XLC": true, "VTI": true, "VOO": true, "VXX": true,
	"EEM": true, "EFA": true, "HYG": true, "LQD": true, "IEF": true, "SHY": true, "USO": true,
	"ARKK": true, "ARKG": true, "ARKW": true, "ARKF": true, "ARKQ": true,
}

var etfKeywords = []string{"etf", "fund", "trust", "index", "ishares", "spdr", "vanguard"}

// fallbackLargeCaps is used for market-cap classification when the S&P 500
// constituent fetch fails and no cached copy is available.
var fallbackLargeCaps = map[string]bool{
	"AAPL": true, "ABBV": true, "ABT": true, "ACN": true, "ADP": true, "ADI": true,
	"AMGN": true, "AMD": true, "AMZN": true, "AVGO": true, "BA": true, "BLK": true,
	"BKNG": true, "CAT": true, "COST": true, "CRM": true, "CSCO": true, "CVX": true,
	"DE": true, "DHR": true, "DIS": true, "GE": true, "GOOG": true, "GOOGL": true,
	"GS": true, "HD": true, "HON": true, "IBM": true, "INTC": true, "ISRG": true,
	"JNJ": true, "JPM": true, "KO": true, "LIN": true, "LLY": true, "LOW": true,
	"MA": true, "MCD": true, "MDLZ": true, "MRK": true, "META": true, "MSFT": true,
	"NEE": true, "NFLX": true, "NVDA": true, "ORCL": true, "PEP": true, "PG": true,
	"PM": true, "RTX": true, "SPGI": true, "SYK": true, "TMO": true, "TSLA": true,
	"TXN": true, "UNH": true, "UNP": true, "V": true, "WMT": true,
}

// GICSSectors lists the 11 standard GICS sector names, verbatim.
var GICSSectors = []string{
	"Energy", "Materials", "Industrials", "Consumer Discretionary", "Consumer Staples",
	"Health Care", "Financials", "Information Technology", "Communication Services",
	"Utilities", "Real Estate",
}

var gicsSet = func() map[string]bool {
	m := make(map[string]bool, len(GICSSectors))
	for _, s := range GICSSectors {
		m[s] = true
	}
	return m
}()

var presetTiers = map[string]domain.MarketCapTier{
	"sp500":    domain.TierLarge,
	"midcap":   domain.TierMid,
	"smallcap": domain.TierSmall,
	"etfs":     domain.TierETF,
}

// wikiTickerRE extracts ticker symbols from the S&P 500 Wikipedia constituents
// table, which links each symbol to its NYSE/NASDAQ quote page.
var wikiTickerRE = regexp.MustCompile(`<td[^>]*>\s*<a[^>]*class="external text"[^>]*>([A-Z]{1,5}(?:\.[A-Z])?)</a>`)

// Stats summarizes the current universe by status, tier, and sector.
type Stats struct {
	Total    int
	Active   int
	Inactive int
	ByTier   map[domain.MarketCapTier]int
	BySector map[string]int
}

// Service holds the in-memory universe plus the per-symbol miss-count map
// used for auto-deactivation. Refresh is not safe to call concurrently with
// itself; callers must serialize refreshes.
type Service struct {
	http  *http.Client
	cache *cache.Cache
	log   zerolog.Logger

	mu         sync.RWMutex
	universe   []domain.TickerInfo
	missCounts map[string]int
}

// New builds a Service.
func New(c *cache.Cache, log zerolog.Logger) *Service {
	return &Service{
		http:       &http.Client{Timeout: httpTimeout},
		cache:      c,
		log:        log.With().Str("component", "universe").Logger(),
		missCounts: make(map[string]int),
	}
}

// Refresh downloads the CBOE optionable list, classifies each symbol,
// applies auto-deactivation against the prior universe, and caches the
// result. Returns DataSourceUnavailable if fewer than 100 tickers are parsed.
func (s *Service) Refresh() ([]domain.TickerInfo, error) {
	sp500 := s.fetchSP500Constituents()

	csvText, err := s.fetchCBOECSV()
	if err != nil {
		return nil, err
	}

	rawTickers, err := s.parseCSV(csvText, sp500)
	if err != nil {
		return nil, err
	}
	if len(rawTickers) < minTickersSafety {
		return nil, errs.Unavailable(errs.UniverseTicker, source,
			fmt.Sprintf("cboe returned only %d tickers (minimum %d); data source may be broken", len(rawTickers), minTickersSafety), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	currentSymbols := make(map[string]bool, len(rawTickers))
	for _, t := range rawTickers {
		currentSymbols[t.Symbol] = true
	}
	for _, prev := range s.universe {
		if _, tracked := s.missCounts[prev.Symbol]; !tracked && !currentSymbols[prev.Symbol] {
			s.missCounts[prev.Symbol] = 0
		}
	}
	for symbol := range s.missCounts {
		if currentSymbols[symbol] {
			s.missCounts[symbol] = 0
		} else {
			s.missCounts[symbol]++
		}
	}

	active := make([]domain.TickerInfo, 0, len(rawTickers))
	for _, t := range rawTickers {
		missCount := s.missCounts[t.Symbol]
		if missCount >= domain.ConsecutiveMissThreshold {
			t.Status = domain.StatusInactive
			t.ConsecutiveMisses = missCount
			s.log.Info().Str("ticker", t.Symbol).Int("misses", missCount).Msg("ticker deactivated after consecutive misses")
		}
		active = append(active, t)
	}
	for _, prev := range s.universe {
		if missCount := s.missCounts[prev.Symbol]; !currentSymbols[prev.Symbol] {
			prev.ConsecutiveMisses = missCount
			if missCount >= domain.ConsecutiveMissThreshold {
				prev.Status = domain.StatusInactive
			}
			active = append(active, prev)
		}
	}

	s.universe = active
	s.cacheUniverse(active)

	s.log.Info().Int("count", len(active)).Msg("universe refreshed")
	return active, nil
}

// GetUniverse returns the universe sliced by preset, loading from cache
// first if nothing has been refreshed in this process yet.
func (s *Service) GetUniverse(preset string) []domain.TickerInfo {
	s.ensureLoaded()

	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]domain.TickerInfo, 0, len(s.universe))
	for _, t := range s.universe {
		if t.Status == domain.StatusActive {
			active = append(active, t)
		}
	}

	if preset == "full" {
		return active
	}
	tier, ok := presetTiers[preset]
	if !ok {
		s.log.Warn().Str("preset", preset).Msg("unknown preset, returning full active universe")
		return active
	}

	filtered := make([]domain.TickerInfo, 0, len(active))
	for _, t := range active {
		if t.MarketCapTier == tier {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// FilterBySector returns the subset of tickers matching a GICS sector name.
// An unrecognized sector returns an empty list.
func FilterBySector(tickers []domain.TickerInfo, sector string) []domain.TickerInfo {
	if !gicsSet[sector] {
		return nil
	}
	filtered := make([]domain.TickerInfo, 0, len(tickers))
	for _, t := range tickers {
		if t.Sector == sector {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// GetStats returns totals plus breakdowns by tier and sector.
func (s *Service) GetStats() Stats {
	s.ensureLoaded()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		ByTier:   make(map[domain.MarketCapTier]int),
		BySector: make(map[string]int),
	}
	stats.Total = len(s.universe)
	for _, t := range s.universe {
		if t.Status == domain.StatusActive {
			stats.Active++
		} else {
			stats.Inactive++
		}
		stats.ByTier[t.MarketCapTier]++
		if t.Sector != "" {
			stats.BySector[t.Sector]++
		}
	}
	return stats
}

func (s *Service) ensureLoaded() {
	s.mu.RLock()
	loaded := len(s.universe) > 0
	s.mu.RUnlock()
	if loaded {
		return
	}
	s.loadFromCache()
}

func (s *Service) loadFromCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.cache.Get(universeCacheKey)
	if !ok {
		s.log.Debug().Msg("no cached universe found")
		return
	}
	var tickers []domain.TickerInfo
	if err := json.Unmarshal(raw, &tickers); err != nil {
		s.log.Warn().Err(err).Msg("failed to decode cached universe")
		return
	}
	s.universe = tickers
	s.log.Info().Int("count", len(tickers)).Msg("universe loaded from cache")
}

func (s *Service) cacheUniverse(tickers []domain.TickerInfo) {
	encoded, err := json.Marshal(tickers)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to encode universe for cache")
		return
	}
	s.cache.Set(universeCacheKey, encoded, universeCacheTTL)
}

func (s *Service) fetchCBOECSV() (string, error) {
	req, err := http.NewRequest(http.MethodGet, cboeOptionableURL, nil)
	if err != nil {
		return "", errs.Unavailable(errs.UniverseTicker, source, "failed to build cboe request", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", errs.Unavailable(errs.UniverseTicker, source, "failed to fetch cboe optionable list", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errs.Unavailable(errs.UniverseTicker, source, fmt.Sprintf("cboe returned http %d", resp.StatusCode), nil)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Unavailable(errs.UniverseTicker, source, "failed to read cboe response body", err)
	}
	return string(body), nil
}

// parseCSV parses the CBOE equity & index options directory CSV, whose
// header row is "Company Name, Stock Symbol, DPM Name, Post/Station".
func (s *Service) parseCSV(csvText string, sp500 map[string]bool) ([]domain.TickerInfo, error) {
	now := time.Now().UTC()
	reader := csv.NewReader(strings.NewReader(csvText))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errs.Unavailable(errs.UniverseTicker, source, "failed to read cboe csv header", err)
	}
	nameIdx, symbolIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case "Company Name":
			nameIdx = i
		case "Stock Symbol":
			symbolIdx = i
		}
	}
	if symbolIdx == -1 {
		return nil, errs.Unavailable(errs.UniverseTicker, source, "cboe csv missing Stock Symbol column", nil)
	}

	var tickers []domain.TickerInfo
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping malformed cboe csv row")
			continue
		}
		if symbolIdx >= len(row) {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(row[symbolIdx]))
		if symbol == "" || !isAlpha(symbol) {
			continue
		}
		if indexSymbols[symbol] {
			continue
		}

		name := symbol
		if nameIdx != -1 && nameIdx < len(row) {
			if n := strings.TrimSpace(row[nameIdx]); n != "" {
				name = n
			}
		}

		assetType := classifyAssetType(symbol, name)
		tier := classifyMarketCapTier(symbol, assetType, sp500)

		t, err := domain.NewTickerInfo(symbol, name, "Unknown", tier, assetType, source, []string{"optionable"}, domain.StatusActive, now)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", symbol).Msg("dropping malformed ticker from cboe csv")
			continue
		}
		tickers = append(tickers, t)
	}

	s.log.Info().Int("count", len(tickers)).Msg("parsed tickers from cboe csv")
	return tickers, nil
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return len(s) > 0
}

func classifyAssetType(symbol, name string) domain.AssetType {
	if wellKnownETFs[symbol] {
		return domain.AssetETF
	}
	lowerName := strings.ToLower(name)
	for _, kw := range etfKeywords {
		if strings.Contains(lowerName, kw) {
			return domain.AssetETF
		}
	}
	return domain.AssetEquity
}

func classifyMarketCapTier(symbol string, assetType domain.AssetType, sp500 map[string]bool) domain.MarketCapTier {
	if assetType == domain.AssetETF {
		return domain.TierETF
	}
	largeCaps := sp500
	if len(largeCaps) == 0 {
		largeCaps = fallbackLargeCaps
	}
	if largeCaps[symbol] {
		return domain.TierLarge
	}
	return domain.TierMid
}

// fetchSP500Constituents returns the cached or freshly-fetched S&P 500
// symbol set, falling back to the embedded large-cap list on any failure.
func (s *Service) fetchSP500Constituents() map[string]bool {
	if cached, ok := s.loadCachedSP500(); ok {
		return cached
	}

	req, err := http.NewRequest(http.MethodGet, sp500WikiURL, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to build sp500 wikipedia request, using fallback")
		return fallbackLargeCaps
	}
	req.Header.Set("User-Agent", "OptionAlphaScanner/1.0 (options analysis tool)")
	req.Header.Set("Accept", "text/html")

	resp, err := s.http.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to fetch sp500 constituents, using fallback")
		return fallbackLargeCaps
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.log.Warn().Int("status", resp.StatusCode).Msg("sp500 wikipedia fetch returned non-200, using fallback")
		return fallbackLargeCaps
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read sp500 wikipedia response, using fallback")
		return fallbackLargeCaps
	}

	matches := wikiTickerRE.FindAllStringSubmatch(string(body), -1)
	if len(matches) < sp500MinExpected {
		s.log.Warn().Int("parsed", len(matches)).Msg("sp500 wikipedia parse below expected count, using fallback")
		return fallbackLargeCaps
	}

	symbols := make(map[string]bool, len(matches))
	for _, m := range matches {
		symbol := strings.SplitN(m[1], ".", 2)[0]
		symbols[symbol] = true
	}

	s.cacheSP500(symbols)
	s.log.Info().Int("count", len(symbols)).Msg("fetched sp500 constituents from wikipedia")
	return symbols
}

func (s *Service) loadCachedSP500() (map[string]bool, bool) {
	raw, ok := s.cache.Get(sp500CacheKey)
	if !ok {
		return nil, false
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		s.log.Warn().Err(err).Msg("failed to decode cached sp500 list")
		return nil, false
	}
	if len(list) < sp500MinExpected {
		return nil, false
	}
	symbols := make(map[string]bool, len(list))
	for _, sym := range list {
		symbols[sym] = true
	}
	return symbols, true
}

func (s *Service) cacheSP500(symbols map[string]bool) {
	list := make([]string, 0, len(symbols))
	for sym := range symbols {
		list = append(list, sym)
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to encode sp500 list for cache")
		return
	}
	s.cache.Set(sp500CacheKey, encoded, sp500CacheTTL)
}

// Package marketdata wraps the synchronous vendor port on a worker pool with
// a hard per-call timeout, rate-limiter gating, caching, and a transport
// retry wrapper that never retries domain errors.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/optionalpha/scanner/internal/cache"
	"github.com/optionalpha/scanner/internal/domain"
	"github.com/optionalpha/scanner/internal/errs"
	"github.com/optionalpha/scanner/internal/ports"
	"github.com/optionalpha/scanner/internal/ratelimit"
)

const (
	source           = "yf"
	minOHLCVBars     = 100
	callTimeout      = 30 * time.Second
	transportRetries = 3
)

var transportBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Config mirrors the source system's dynamic MarketDataService option dict.
type Config struct {
	Period string // default history window, e.g. "1y"
}

func (c Config) withDefaults() Config {
	if c.Period == "" {
		c.Period = "1y"
	}
	return c
}

// Service is the C4 market-data service.
type Service struct {
	vendor  ports.VendorPort
	limiter *ratelimit.Limiter
	cache   *cache.Cache
	cfg     Config
	log     zerolog.Logger
}

// New builds a Service over an already-constructed vendor port, limiter, and cache.
func New(vendor ports.VendorPort, limiter *ratelimit.Limiter, c *cache.Cache, cfg Config, log zerolog.Logger) *Service {
	return &Service{vendor: vendor, limiter: limiter, cache: c, cfg: cfg.withDefaults(), log: log.With().Str("component", "market_data").Logger()}
}

// withTransportRetry retries fn up to transportRetries times with exponential
// backoff, but only for non-domain (transport) errors; a *errs.Error is
// re-raised immediately on its first occurrence. Each attempt runs on its own
// goroutine so that ctx's deadline bounds the vendor call itself as well as
// the backoff waits; on expiry ctx.Err() is returned without waiting for it.
func withTransportRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= transportRetries; attempt++ {
		var result T
		var err error
		done := make(chan struct{})
		go func() {
			result, err = fn()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		if err == nil {
			return result, nil
		}
		if _, isDomain := errs.KindOf(err); isDomain {
			return zero, err
		}
		lastErr = err
		if attempt == transportRetries {
			break
		}
		delay := transportBackoff[attempt]
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, callTimeout)
}

// FetchOHLCV fetches daily bars for symbol, requiring at least minOHLCVBars rows.
func (s *Service) FetchOHLCV(ctx context.Context, symbol string) ([]domain.PriceBar, error) {
	key := fmt.Sprintf("%s:%s:%s:%s", source, cache.DataTypeOHLCV, symbol, s.cfg.Period)
	if cached, ok := s.cache.Get(key); ok {
		bars, err := decodeBars(cached)
		if err == nil {
			return bars, nil
		}
	}

	raw, err := s.limiter.Execute(ctx, func(callCtx context.Context) (any, error) {
		timeoutCtx, cancel := withTimeout(callCtx)
		defer cancel()
		return withTransportRetry(timeoutCtx, func() ([]ports.Bar, error) {
			return s.vendor.History(symbol, s.cfg.Period)
		})
	}, symbol, source)
	if err != nil {
		return nil, err
	}
	vendorBars, _ := raw.([]ports.Bar)

	if len(vendorBars) == 0 {
		return nil, errs.NotFound(symbol, source, "vendor returned no history rows")
	}

	bars := make([]domain.PriceBar, 0, len(vendorBars))
	for _, b := range vendorBars {
		bar, err := domain.NewPriceBar(b.Date, decimal.NewFromFloat(b.Open), decimal.NewFromFloat(b.High),
			decimal.NewFromFloat(b.Low), decimal.NewFromFloat(b.Close), b.Volume)
		if err != nil {
			return nil, errs.Unavailable(symbol, source, "vendor returned malformed OHLCV row", err)
		}
		bars = append(bars, bar)
	}

	if len(bars) < minOHLCVBars {
		return nil, errs.Insufficient(symbol, source, fmt.Sprintf("only %d bars available, need >= %d", len(bars), minOHLCVBars))
	}

	if encoded, err := encodeBars(bars); err == nil {
		s.cache.Set(key, encoded, s.cache.GetTTL(cache.DataTypeOHLCV))
	}
	return bars, nil
}

// FetchQuote fetches a point-in-time quote for symbol.
func (s *Service) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	key := fmt.Sprintf("%s:%s:%s", source, cache.DataTypeQuote, symbol)
	if cached, ok := s.cache.Get(key); ok {
		var q quoteDTO
		if msgpack.Unmarshal(cached, &q) == nil {
			return q.toDomain(symbol)
		}
	}

	raw, err := s.limiter.Execute(ctx, func(callCtx context.Context) (any, error) {
		timeoutCtx, cancel := withTimeout(callCtx)
		defer cancel()
		return withTransportRetry(timeoutCtx, func() (map[string]interface{}, error) {
			return s.vendor.Info(symbol)
		})
	}, symbol, source)
	if err != nil {
		return domain.Quote{}, err
	}
	info, _ := raw.(map[string]interface{})

	if len(info) == 0 {
		return domain.Quote{}, errs.NotFound(symbol, source, "empty quote info")
	}
	quoteType, hasType := info["quoteType"]
	price, hasPrice := firstFloat(info, "currentPrice", "regularMarketPrice")
	if !hasType || quoteType == "" || !hasPrice {
		return domain.Quote{}, errs.NotFound(symbol, source, "quote info missing quoteType and price")
	}

	bid, _ := firstFloat(info, "bid")
	ask, _ := firstFloat(info, "ask")
	volume, _ := firstInt(info, "regularMarketVolume")

	quote, err := domain.NewQuote(symbol, decimal.NewFromFloat(bid), decimal.NewFromFloat(ask),
		decimal.NewFromFloat(price), volume, time.Now().UTC())
	if err != nil {
		return domain.Quote{}, errs.Unavailable(symbol, source, "vendor returned malformed quote", err)
	}

	dto := quoteDTO{Bid: bid, Ask: ask, Last: price, Volume: volume}
	if encoded, err := msgpack.Marshal(dto); err == nil {
		s.cache.Set(key, encoded, s.cache.GetTTL(cache.DataTypeQuote))
	}
	return quote, nil
}

type quoteDTO struct {
	Bid, Ask, Last float64
	Volume         int64
}

func (q quoteDTO) toDomain(symbol string) (domain.Quote, error) {
	return domain.NewQuote(symbol, decimal.NewFromFloat(q.Bid), decimal.NewFromFloat(q.Ask),
		decimal.NewFromFloat(q.Last), q.Volume, time.Now().UTC())
}

// FetchTickerInfo fetches slow-changing metadata, classifying market cap tier.
func (s *Service) FetchTickerInfo(ctx context.Context, symbol string) (domain.TickerInfo, error) {
	raw, err := s.limiter.Execute(ctx, func(callCtx context.Context) (any, error) {
		timeoutCtx, cancel := withTimeout(callCtx)
		defer cancel()
		return withTransportRetry(timeoutCtx, func() (map[string]interface{}, error) {
			return s.vendor.Info(symbol)
		})
	}, symbol, source)
	if err != nil {
		return domain.TickerInfo{}, err
	}
	info, _ := raw.(map[string]interface{})
	if len(info) == 0 {
		return domain.TickerInfo{}, errs.NotFound(symbol, source, "empty ticker info")
	}

	marketCap, _ := firstFloat(info, "marketCap")
	tier := domain.TierFromMarketCap(marketCap)

	name, _ := firstString(info, "longName", "shortName")
	sector, _ := firstString(info, "sector")
	quoteType, _ := firstString(info, "quoteType")
	assetType := domain.AssetEquity
	if quoteType == "ETF" {
		assetType = domain.AssetETF
		tier = domain.TierETF
	}

	return domain.NewTickerInfo(symbol, name, sector, tier, assetType, source, nil, domain.StatusActive, time.Now().UTC())
}

// FetchBatchOHLCV fans FetchOHLCV out concurrently across symbols, aggregating
// successes and failures into maps keyed by symbol. One symbol's failure
// never fails the batch.
func (s *Service) FetchBatchOHLCV(ctx context.Context, symbols []string) (map[string][]domain.PriceBar, map[string]error) {
	type result struct {
		symbol string
		bars   []domain.PriceBar
		err    error
	}
	results := make(chan result, len(symbols))

	for _, symbol := range symbols {
		go func(symbol string) {
			bars, err := s.FetchOHLCV(ctx, symbol)
			results <- result{symbol: symbol, bars: bars, err: err}
		}(symbol)
	}

	bars := make(map[string][]domain.PriceBar, len(symbols))
	failures := make(map[string]error)
	for range symbols {
		r := <-results
		if r.err != nil {
			failures[r.symbol] = r.err
			s.log.Warn().Err(r.err).Str("ticker", r.symbol).Msg("batch OHLCV fetch failed")
			continue
		}
		bars[r.symbol] = r.bars
	}
	return bars, failures
}

func firstFloat(info map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := info[k]; ok && v != nil {
			switch n := v.(type) {
			case float64:
				if n != 0 {
					return n, true
				}
			case int:
				if n != 0 {
					return float64(n), true
				}
			}
		}
	}
	return 0, false
}

func firstInt(info map[string]interface{}, keys ...string) (int64, bool) {
	f, ok := firstFloat(info, keys...)
	return int64(f), ok
}

func firstString(info map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := info[k]; ok && v != nil {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

type barDTO struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

func encodeBars(bars []domain.PriceBar) ([]byte, error) {
	dtos := make([]barDTO, 0, len(bars))
	for _, b := range bars {
		open, _ := b.Open.Float64()
		high, _ := b.High.Float64()
		low, _ := b.Low.Float64()
		close, _ := b.Close.Float64()
		dtos = append(dtos, barDTO{Date: b.Date, Open: open, High: high, Low: low, Close: close, Volume: b.Volume})
	}
	return msgpack.Marshal(dtos)
}

func decodeBars(raw []byte) ([]domain.PriceBar, error) {
	var dtos []barDTO
	if err := msgpack.Unmarshal(raw, &dtos); err != nil {
		return nil, err
	}
	bars := make([]domain.PriceBar, 0, len(dtos))
	for _, d := range dtos {
		bar, err := domain.NewPriceBar(d.Date, decimal.NewFromFloat(d.Open), decimal.NewFromFloat(d.High),
			decimal.NewFromFloat(d.Low), decimal.NewFromFloat(d.Close), d.Volume)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

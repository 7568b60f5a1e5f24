package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a point-in-time bid/ask/last snapshot for a ticker.
type Quote struct {
	Ticker       string
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	Last         decimal.Decimal
	Volume       int64
	TimestampUTC time.Time
}

// NewQuote validates and constructs a Quote.
func NewQuote(ticker string, bid, ask, last decimal.Decimal, volume int64, timestampUTC time.Time) (Quote, error) {
	if ticker == "" {
		return Quote{}, fmt.Errorf("quote ticker must not be empty")
	}
	if volume < 0 {
		return Quote{}, fmt.Errorf("quote volume must be >= 0, got %d", volume)
	}
	zero := decimal.Zero
	if bid.GreaterThan(zero) && ask.GreaterThan(zero) && bid.GreaterThan(ask) {
		return Quote{}, fmt.Errorf("quote bid %s must be <= ask %s", bid, ask)
	}
	return Quote{Ticker: ticker, Bid: bid, Ask: ask, Last: last, Volume: volume, TimestampUTC: timestampUTC}, nil
}

// Mid is the derived midpoint between bid and ask.
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// Spread is the derived bid/ask spread.
func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// TickerInfo describes a tracked ticker's static/slow-changing metadata.
type TickerInfo struct {
	Symbol            string
	Name              string
	Sector            string
	MarketCapTier     MarketCapTier
	AssetType         AssetType
	Source            string
	Tags              []string
	Status            TickerStatus
	DiscoveredAt      time.Time
	LastScannedAt     *time.Time
	ConsecutiveMisses int
}

// NewTickerInfo validates and constructs a TickerInfo.
func NewTickerInfo(symbol, name, sector string, tier MarketCapTier, assetType AssetType, source string, tags []string, status TickerStatus, discoveredAt time.Time) (TickerInfo, error) {
	if symbol == "" {
		return TickerInfo{}, fmt.Errorf("ticker info symbol must not be empty")
	}
	switch status {
	case StatusActive, StatusInactive, StatusPending:
	default:
		return TickerInfo{}, fmt.Errorf("ticker info status %q is invalid", status)
	}
	return TickerInfo{
		Symbol:        symbol,
		Name:          name,
		Sector:        sector,
		MarketCapTier: tier,
		AssetType:     assetType,
		Source:        source,
		Tags:          tags,
		Status:        status,
		DiscoveredAt:  discoveredAt,
	}, nil
}

// WithMiss returns a copy with ConsecutiveMisses incremented, transitioning
// to StatusInactive once the threshold is reached. Entities are copy-on-change.
func (t TickerInfo) WithMiss() TickerInfo {
	t.ConsecutiveMisses++
	if t.ConsecutiveMisses >= ConsecutiveMissThreshold {
		t.Status = StatusInactive
	}
	return t
}

// WithHit returns a copy with the miss counter reset to zero and status
// restored to active.
func (t TickerInfo) WithHit(scannedAt time.Time) TickerInfo {
	t.ConsecutiveMisses = 0
	t.Status = StatusActive
	t.LastScannedAt = &scannedAt
	return t
}

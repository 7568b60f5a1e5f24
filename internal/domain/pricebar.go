package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar is one OHLCV daily bar. Instances are immutable once constructed;
// NewPriceBar is the only way to obtain one, so an invalid bar can never
// escape into the pipeline.
type PriceBar struct {
	Date   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// NewPriceBar validates and constructs a PriceBar.
func NewPriceBar(date time.Time, open, high, low, close decimal.Decimal, volume int64) (PriceBar, error) {
	if volume < 0 {
		return PriceBar{}, fmt.Errorf("price bar volume must be >= 0, got %d", volume)
	}
	zero := decimal.Zero
	if open.LessThanOrEqual(zero) || high.LessThanOrEqual(zero) || low.LessThanOrEqual(zero) || close.LessThanOrEqual(zero) {
		return PriceBar{}, fmt.Errorf("price bar OHLC must be strictly positive: O=%s H=%s L=%s C=%s", open, high, low, close)
	}
	minOC := decimal.Min(open, close)
	maxOC := decimal.Max(open, close)
	if low.GreaterThan(minOC) {
		return PriceBar{}, fmt.Errorf("price bar low %s must be <= min(open,close) %s", low, minOC)
	}
	if high.LessThan(maxOC) {
		return PriceBar{}, fmt.Errorf("price bar high %s must be >= max(open,close) %s", high, maxOC)
	}
	return PriceBar{Date: date, Open: open, High: high, Low: low, Close: close, Volume: volume}, nil
}

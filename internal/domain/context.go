package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketContext is the flat snapshot consumed by debate agents. Unlike the
// other entities it is a plain data carrier rather than an invariant-bearing
// value object — every field is computed upstream and already validated.
type MarketContext struct {
	Ticker           string
	CurrentPrice     decimal.Decimal
	High52Week       decimal.Decimal
	Low52Week        decimal.Decimal
	IVRank           float64
	IVPercentile     float64
	ATMIV30D         float64
	RSI14            float64
	MACDSignal       float64
	PutCallRatio     float64
	NextEarnings     *time.Time
	DTETarget        int
	TargetStrike     decimal.Decimal
	TargetDelta      float64
	Sector           string
	DataTimestampUTC time.Time
}

package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OptionGreeks holds an option's sensitivities. Rejected outside range at
// construction so a malformed Greeks value can never be attached to a contract.
type OptionGreeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Rho   float64
}

// NewOptionGreeks validates and constructs an OptionGreeks.
func NewOptionGreeks(delta, gamma, theta, vega, rho float64) (OptionGreeks, error) {
	if delta < -1 || delta > 1 {
		return OptionGreeks{}, fmt.Errorf("greeks delta %.4f out of range [-1,1]", delta)
	}
	if gamma < 0 {
		return OptionGreeks{}, fmt.Errorf("greeks gamma %.4f must be >= 0", gamma)
	}
	if vega < 0 {
		return OptionGreeks{}, fmt.Errorf("greeks vega %.4f must be >= 0", vega)
	}
	return OptionGreeks{Delta: delta, Gamma: gamma, Theta: theta, Vega: vega, Rho: rho}, nil
}

// OptionContract is one leg of an option chain.
type OptionContract struct {
	Ticker       string
	Type         OptionType
	Strike       decimal.Decimal
	Expiration   time.Time
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	Last         decimal.Decimal
	Volume       int64
	OpenInterest int64
	IV           float64
	Greeks       *OptionGreeks
	GreeksSource *GreeksSource
}

// NewOptionContract validates and constructs an OptionContract.
func NewOptionContract(ticker string, optType OptionType, strike decimal.Decimal, expiration time.Time, bid, ask, last decimal.Decimal, volume, openInterest int64, iv float64, greeks *OptionGreeks, greeksSource *GreeksSource) (OptionContract, error) {
	if ticker == "" {
		return OptionContract{}, fmt.Errorf("option contract ticker must not be empty")
	}
	if optType != Call && optType != Put {
		return OptionContract{}, fmt.Errorf("option contract type %q is invalid", optType)
	}
	if strike.LessThanOrEqual(decimal.Zero) {
		return OptionContract{}, fmt.Errorf("option contract strike must be > 0, got %s", strike)
	}
	if volume < 0 {
		return OptionContract{}, fmt.Errorf("option contract volume must be >= 0, got %d", volume)
	}
	if openInterest < 0 {
		return OptionContract{}, fmt.Errorf("option contract open interest must be >= 0, got %d", openInterest)
	}
	if iv <= 0 {
		return OptionContract{}, fmt.Errorf("option contract iv must be > 0, got %.6f", iv)
	}
	return OptionContract{
		Ticker: ticker, Type: optType, Strike: strike, Expiration: expiration,
		Bid: bid, Ask: ask, Last: last, Volume: volume, OpenInterest: openInterest,
		IV: iv, Greeks: greeks, GreeksSource: greeksSource,
	}, nil
}

// Mid is the derived bid/ask midpoint.
func (c OptionContract) Mid() decimal.Decimal {
	return c.Bid.Add(c.Ask).Div(decimal.NewFromInt(2))
}

// Spread is the derived bid/ask spread.
func (c OptionContract) Spread() decimal.Decimal {
	return c.Ask.Sub(c.Bid)
}

// DTE returns the signed days-to-expiration relative to asOf.
func (c OptionContract) DTE(asOf time.Time) int {
	return int(c.Expiration.Sub(asOf).Hours() / 24)
}

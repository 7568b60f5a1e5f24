// Package contracts implements the shared option-contract filtering pipeline
// and the three-stage contract recommender funnel (filter, expiration,
// delta band) used both by the options-data service and the debate pipeline.
package contracts

import (
	"math"
	"time"

	"github.com/optionalpha/scanner/internal/domain"
)

// Filtering thresholds shared by the options-data service's conversion
// pipeline and the recommender's first stage.
const (
	MinOpenInterest = 100
	MinVolume       = 1
	MaxSpreadRatio  = 0.30
	DeltaMinAbs     = 0.30
	DeltaMaxAbs     = 0.40
	DeltaTarget     = 0.35

	DTETarget = 45
	DTEMin    = 30
	DTEMax    = 60
)

// FilterContracts applies the side filter (bullish→calls, bearish→puts,
// neutral→none), liquidity thresholds, and spread ratio, returning survivors
// sorted by open interest descending.
func FilterContracts(contracts []domain.OptionContract, direction domain.Direction) []domain.OptionContract {
	var side domain.OptionType
	switch direction {
	case domain.Bullish:
		side = domain.Call
	case domain.Bearish:
		side = domain.Put
	default:
		return nil
	}

	out := make([]domain.OptionContract, 0, len(contracts))
	for _, c := range contracts {
		if c.Type != side {
			continue
		}
		if c.OpenInterest < MinOpenInterest {
			continue
		}
		if c.Volume < MinVolume {
			continue
		}
		mid := c.Mid()
		if mid.IsZero() {
			continue
		}
		spreadRatio, _ := c.Spread().Div(mid).Float64()
		if spreadRatio > MaxSpreadRatio {
			continue
		}
		if c.Greeks != nil {
			absDelta := math.Abs(c.Greeks.Delta)
			if absDelta < DeltaMinAbs || absDelta > DeltaMaxAbs {
				continue
			}
		}
		out = append(out, c)
	}

	sortByOpenInterestDesc(out)
	return out
}

func sortByOpenInterestDesc(contracts []domain.OptionContract) {
	for i := 1; i < len(contracts); i++ {
		for j := i; j > 0 && contracts[j].OpenInterest > contracts[j-1].OpenInterest; j-- {
			contracts[j], contracts[j-1] = contracts[j-1], contracts[j]
		}
	}
}

// SelectExpiration picks the expiration date among candidates minimizing
// |dte-DTETarget| within [DTEMin, DTEMax]; if none lie in that window, it
// falls back to the overall-nearest-to-target date.
func SelectExpiration(expirations []time.Time, asOf time.Time) (time.Time, bool) {
	if len(expirations) == 0 {
		return time.Time{}, false
	}

	var bestInWindow time.Time
	bestInWindowDiff := math.MaxInt64
	foundInWindow := false

	var bestOverall time.Time
	bestOverallDiff := math.MaxInt64

	for _, exp := range expirations {
		dte := int(exp.Sub(asOf).Hours() / 24)
		diff := absInt(dte - DTETarget)

		if diff < bestOverallDiff {
			bestOverallDiff = diff
			bestOverall = exp
		}
		if dte >= DTEMin && dte <= DTEMax && diff < bestInWindowDiff {
			bestInWindowDiff = diff
			bestInWindow = exp
			foundInWindow = true
		}
	}

	if foundInWindow {
		return bestInWindow, true
	}
	return bestOverall, true
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ContractsAtExpiration filters contracts to those expiring on exp (date-only comparison).
func ContractsAtExpiration(contracts []domain.OptionContract, exp time.Time) []domain.OptionContract {
	out := make([]domain.OptionContract, 0, len(contracts))
	for _, c := range contracts {
		if sameDate(c.Expiration, exp) {
			out = append(out, c)
		}
	}
	return out
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// SelectByDelta picks the contract with Greeks whose |delta| is closest to
// DeltaTarget within [DeltaMinAbs, DeltaMaxAbs]. Contracts without Greeks are
// ignored; returns ok=false if no candidate qualifies.
func SelectByDelta(contracts []domain.OptionContract) (domain.OptionContract, bool) {
	var best domain.OptionContract
	bestDiff := math.MaxFloat64
	found := false

	for _, c := range contracts {
		if c.Greeks == nil {
			continue
		}
		absDelta := math.Abs(c.Greeks.Delta)
		if absDelta < DeltaMinAbs || absDelta > DeltaMaxAbs {
			continue
		}
		diff := math.Abs(absDelta - DeltaTarget)
		if diff < bestDiff {
			bestDiff = diff
			best = c
			found = true
		}
	}
	return best, found
}

// RecommendContract composes the three-stage funnel and returns at most one
// contract: side/liquidity filter, nearest-to-target expiration, delta band.
func RecommendContract(contracts []domain.OptionContract, direction domain.Direction, asOf time.Time) (domain.OptionContract, bool) {
	filtered := FilterContracts(contracts, direction)
	if len(filtered) == 0 {
		return domain.OptionContract{}, false
	}

	expirations := make([]time.Time, 0, len(filtered))
	seen := make(map[string]bool)
	for _, c := range filtered {
		key := c.Expiration.Format("2006-01-02")
		if !seen[key] {
			seen[key] = true
			expirations = append(expirations, c.Expiration)
		}
	}

	exp, ok := SelectExpiration(expirations, asOf)
	if !ok {
		return domain.OptionContract{}, false
	}

	atExpiration := ContractsAtExpiration(filtered, exp)
	return SelectByDelta(atExpiration)
}

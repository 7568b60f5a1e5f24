// Package bsm implements the Black-Scholes-Merton option pricer: closed-form
// pricing, Greeks, and implied volatility solving for European-style options.
package bsm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/optionalpha/scanner/internal/domain"
)

const (
	maxIterations           = 50
	tolerance               = 1e-8
	ivLowerBound            = 0.001
	ivUpperBound            = 5.0
	bisectionMaxIterations  = 100
	daysPerYear             = 365.0
	ivInitialGuess          = 0.30
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// Greeks holds the five sensitivities computed from one BSM evaluation.
// Theta is per calendar day, Vega is per 1.00 change in IV (not per 1%).
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Rho   float64
}

func validateInputs(spot, strike, t, iv float64) error {
	if spot <= 0 {
		return fmt.Errorf("bsm: spot must be > 0, got %g", spot)
	}
	if strike <= 0 {
		return fmt.Errorf("bsm: strike must be > 0, got %g", strike)
	}
	if t <= 0 {
		return fmt.Errorf("bsm: time to expiry must be > 0, got %g", t)
	}
	if iv <= 0 {
		return fmt.Errorf("bsm: implied volatility must be > 0, got %g", iv)
	}
	return nil
}

func d1d2(spot, strike, t, r, iv float64) (d1, d2 float64) {
	d1 = (math.Log(spot/strike) + (r+0.5*iv*iv)*t) / (iv * math.Sqrt(t))
	d2 = d1 - iv*math.Sqrt(t)
	return d1, d2
}

// Price computes the BSM closed-form price for a European option.
func Price(spot, strike, t, r, iv float64, optType domain.OptionType) (float64, error) {
	if err := validateInputs(spot, strike, t, iv); err != nil {
		return 0, err
	}
	d1, d2 := d1d2(spot, strike, t, r, iv)
	discount := math.Exp(-r * t)

	switch optType {
	case domain.Call:
		return spot*stdNormal.CDF(d1) - strike*discount*stdNormal.CDF(d2), nil
	case domain.Put:
		return strike*discount*stdNormal.CDF(-d2) - spot*stdNormal.CDF(-d1), nil
	default:
		return 0, fmt.Errorf("bsm: unknown option type %q", optType)
	}
}

// ComputeGreeks returns delta, gamma, theta (per day), vega (per 1.00 IV), rho.
func ComputeGreeks(spot, strike, t, r, iv float64, optType domain.OptionType) (Greeks, error) {
	if err := validateInputs(spot, strike, t, iv); err != nil {
		return Greeks{}, err
	}
	d1, d2 := d1d2(spot, strike, t, r, iv)
	discount := math.Exp(-r * t)
	sqrtT := math.Sqrt(t)
	pdfD1 := stdNormal.Prob(d1)

	gamma := pdfD1 / (spot * iv * sqrtT)
	vega := spot * pdfD1 * sqrtT

	var delta, theta, rho float64
	switch optType {
	case domain.Call:
		delta = stdNormal.CDF(d1)
		thetaAnnual := -(spot*pdfD1*iv)/(2*sqrtT) - r*strike*discount*stdNormal.CDF(d2)
		theta = thetaAnnual / daysPerYear
		rho = strike * t * discount * stdNormal.CDF(d2)
	case domain.Put:
		delta = stdNormal.CDF(d1) - 1
		thetaAnnual := -(spot*pdfD1*iv)/(2*sqrtT) + r*strike*discount*stdNormal.CDF(-d2)
		theta = thetaAnnual / daysPerYear
		rho = -strike * t * discount * stdNormal.CDF(-d2)
	default:
		return Greeks{}, fmt.Errorf("bsm: unknown option type %q", optType)
	}

	return Greeks{Delta: delta, Gamma: gamma, Theta: theta, Vega: vega, Rho: rho}, nil
}

func europeanLowerBound(spot, strike, t, r float64, optType domain.OptionType) float64 {
	discount := math.Exp(-r * t)
	switch optType {
	case domain.Call:
		return math.Max(spot-strike*discount, 0)
	case domain.Put:
		return math.Max(strike*discount-spot, 0)
	default:
		return 0
	}
}

// ImpliedVolatility solves for the IV that reproduces marketPrice, using
// Newton-Raphson with a bisection fallback on [ivLowerBound, ivUpperBound].
func ImpliedVolatility(marketPrice, spot, strike, t, r float64, optType domain.OptionType) (float64, error) {
	if marketPrice <= 0 {
		return 0, fmt.Errorf("bsm: market price must be > 0, got %g", marketPrice)
	}
	if t <= 0 {
		return 0, fmt.Errorf("bsm: time to expiry must be > 0, got %g", t)
	}
	lowerBound := europeanLowerBound(spot, strike, t, r, optType)
	if marketPrice < lowerBound-tolerance {
		return 0, fmt.Errorf("bsm: market price %g below european lower bound %g", marketPrice, lowerBound)
	}

	if iv, ok := newtonRaphsonIV(marketPrice, spot, strike, t, r, optType); ok {
		return iv, nil
	}
	if iv, ok := bisectionIV(marketPrice, spot, strike, t, r, optType); ok {
		return iv, nil
	}
	return 0, fmt.Errorf("bsm: implied volatility did not converge for market price %g", marketPrice)
}

func newtonRaphsonIV(marketPrice, spot, strike, t, r float64, optType domain.OptionType) (float64, bool) {
	vol := ivInitialGuess
	for i := 0; i < maxIterations; i++ {
		price, err := Price(spot, strike, t, r, vol, optType)
		if err != nil {
			return 0, false
		}
		greeks, err := ComputeGreeks(spot, strike, t, r, vol, optType)
		if err != nil {
			return 0, false
		}
		diff := price - marketPrice
		if math.Abs(diff) < tolerance {
			return vol, true
		}
		if greeks.Vega < tolerance {
			return 0, false
		}
		vol -= diff / greeks.Vega
		if vol < ivLowerBound || vol > ivUpperBound {
			return 0, false
		}
	}
	return 0, false
}

func bisectionIV(marketPrice, spot, strike, t, r float64, optType domain.OptionType) (float64, bool) {
	lo, hi := ivLowerBound, ivUpperBound
	f := func(vol float64) (float64, error) {
		price, err := Price(spot, strike, t, r, vol, optType)
		if err != nil {
			return 0, err
		}
		return price - marketPrice, nil
	}

	fLo, err := f(lo)
	if err != nil {
		return 0, false
	}
	fHi, err := f(hi)
	if err != nil {
		return 0, false
	}
	if fLo*fHi > 0 {
		return 0, false
	}

	for i := 0; i < bisectionMaxIterations; i++ {
		mid := (lo + hi) / 2
		fMid, err := f(mid)
		if err != nil {
			return 0, false
		}
		if math.Abs(fMid) < tolerance {
			return mid, true
		}
		if fLo*fMid < 0 {
			hi = mid
			fHi = fMid
		} else {
			lo = mid
			fLo = fMid
		}
		_ = fHi
	}
	return 0, false
}

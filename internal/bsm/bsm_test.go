package bsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionalpha/scanner/internal/domain"
)

func TestPrice_CallPutParity(t *testing.T) {
	spot, strike, t0, r, iv := 100.0, 100.0, 1.0, 0.05, 0.20

	call, err := Price(spot, strike, t0, r, iv, domain.Call)
	require.NoError(t, err)
	put, err := Price(spot, strike, t0, r, iv, domain.Put)
	require.NoError(t, err)

	// call - put = spot - strike*e^(-rT)
	expected := spot - strike*0.951229424500714 // e^(-0.05)
	assert.InDelta(t, expected, call-put, 1e-6)
}

func TestPrice_RejectsNonPositiveInputs(t *testing.T) {
	_, err := Price(0, 100, 1, 0.05, 0.2, domain.Call)
	assert.Error(t, err)

	_, err = Price(100, 0, 1, 0.05, 0.2, domain.Call)
	assert.Error(t, err)

	_, err = Price(100, 100, 0, 0.05, 0.2, domain.Call)
	assert.Error(t, err)

	_, err = Price(100, 100, 1, 0.05, 0, domain.Call)
	assert.Error(t, err)
}

func TestComputeGreeks_DeltaInRange(t *testing.T) {
	greeks, err := ComputeGreeks(100, 100, 0.5, 0.03, 0.25, domain.Call)
	require.NoError(t, err)

	assert.True(t, greeks.Delta > 0 && greeks.Delta < 1)
	assert.True(t, greeks.Gamma > 0)
	assert.True(t, greeks.Vega > 0)
}

func TestComputeGreeks_PutDeltaIsNegative(t *testing.T) {
	greeks, err := ComputeGreeks(100, 100, 0.5, 0.03, 0.25, domain.Put)
	require.NoError(t, err)

	assert.True(t, greeks.Delta > -1 && greeks.Delta < 0)
}

func TestImpliedVolatility_RecoversKnownVol(t *testing.T) {
	spot, strike, t0, r, iv := 100.0, 105.0, 0.5, 0.03, 0.28

	price, err := Price(spot, strike, t0, r, iv, domain.Call)
	require.NoError(t, err)

	recovered, err := ImpliedVolatility(price, spot, strike, t0, r, domain.Call)
	require.NoError(t, err)
	assert.InDelta(t, iv, recovered, 1e-4)
}

func TestImpliedVolatility_RecoversDeepOTMPutViaBisectionFallback(t *testing.T) {
	spot, strike, t0, r, iv := 100.0, 60.0, 0.1, 0.02, 0.9

	price, err := Price(spot, strike, t0, r, iv, domain.Put)
	require.NoError(t, err)

	recovered, err := ImpliedVolatility(price, spot, strike, t0, r, domain.Put)
	require.NoError(t, err)
	assert.InDelta(t, iv, recovered, 1e-3)
}

func TestImpliedVolatility_RejectsPriceBelowLowerBound(t *testing.T) {
	_, err := ImpliedVolatility(0.01, 150, 100, 0.5, 0.03, domain.Call)
	assert.Error(t, err)
}

func TestImpliedVolatility_RejectsNonPositiveMarketPrice(t *testing.T) {
	_, err := ImpliedVolatility(0, 100, 100, 0.5, 0.03, domain.Call)
	assert.Error(t, err)
}

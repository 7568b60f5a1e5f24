// Package optionsdata implements the options-data service (C5): expiration
// selection, chain fetch/conversion, and the shared filtering pipeline.
package optionsdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/optionalpha/scanner/internal/cache"
	"github.com/optionalpha/scanner/internal/contracts"
	"github.com/optionalpha/scanner/internal/domain"
	"github.com/optionalpha/scanner/internal/errs"
	"github.com/optionalpha/scanner/internal/ports"
	"github.com/optionalpha/scanner/internal/ratelimit"
)

const source = "yf"

// Service is the C5 options-data service.
type Service struct {
	vendor  ports.VendorPort
	limiter *ratelimit.Limiter
	cache   *cache.Cache
	log     zerolog.Logger
}

// New builds a Service over an already-constructed vendor port, limiter, and cache.
func New(vendor ports.VendorPort, limiter *ratelimit.Limiter, c *cache.Cache, log zerolog.Logger) *Service {
	return &Service{vendor: vendor, limiter: limiter, cache: c, log: log.With().Str("component", "options_data").Logger()}
}

// SelectExpiration picks the expiration minimizing |dte-45| within [30,60],
// falling back to the nearest-to-45 overall with a warning if none qualify.
func (s *Service) SelectExpiration(ctx context.Context, symbol string) (time.Time, error) {
	raw, err := s.limiter.Execute(ctx, func(callCtx context.Context) (any, error) {
		return s.vendor.Options(symbol)
	}, symbol, source)
	if err != nil {
		return time.Time{}, err
	}
	expirations, _ := raw.([]time.Time)
	if len(expirations) == 0 {
		return time.Time{}, errs.Insufficient(symbol, source, "no expirations available")
	}

	exp, ok := contracts.SelectExpiration(expirations, time.Now().UTC())
	if !ok {
		return time.Time{}, errs.Insufficient(symbol, source, "no expirations available")
	}

	dte := int(exp.Sub(time.Now().UTC()).Hours() / 24)
	if dte < contracts.DTEMin || dte > contracts.DTEMax {
		s.log.Warn().Str("ticker", symbol).Time("expiration", exp).Int("dte", dte).
			Msg("no expiration within target window, using nearest overall")
	}
	return exp, nil
}

// FetchOptionChain fetches and converts the chain for one expiration on the
// requested side. A neutral direction short-circuits to an empty list without
// ever calling the vendor.
func (s *Service) FetchOptionChain(ctx context.Context, symbol string, direction domain.Direction) ([]domain.OptionContract, error) {
	if direction == domain.Neutral {
		return nil, nil
	}

	exp, err := s.SelectExpiration(ctx, symbol)
	if err != nil {
		return nil, err
	}

	raw, err := s.limiter.Execute(ctx, func(callCtx context.Context) (any, error) {
		calls, puts, err := s.vendor.OptionChain(symbol, exp)
		if err != nil {
			return nil, err
		}
		return [2][]ports.OptionRow{calls, puts}, nil
	}, symbol, source)
	if err != nil {
		return nil, err
	}
	sides, _ := raw.([2][]ports.OptionRow)

	var optType domain.OptionType
	var rows []ports.OptionRow
	switch direction {
	case domain.Bullish:
		optType = domain.Call
		rows = sides[0]
	case domain.Bearish:
		optType = domain.Put
		rows = sides[1]
	}

	contractsList := make([]domain.OptionContract, 0, len(rows))
	for _, row := range rows {
		if row.Bid == 0 && row.Ask == 0 {
			continue
		}

		var greeks *domain.OptionGreeks
		var greeksSource *domain.GreeksSource
		if row.Delta != nil && row.Gamma != nil && row.Theta != nil && row.Vega != nil && row.Rho != nil {
			g, err := domain.NewOptionGreeks(*row.Delta, *row.Gamma, *row.Theta, *row.Vega, *row.Rho)
			if err == nil {
				greeks = &g
				src := domain.GreeksMarket
				greeksSource = &src
			}
		}

		contract, err := domain.NewOptionContract(symbol, optType, decimal.NewFromFloat(row.Strike), row.Expiration,
			decimal.NewFromFloat(row.Bid), decimal.NewFromFloat(row.Ask), decimal.NewFromFloat(row.Last),
			row.Volume, row.OpenInterest, row.IV, greeks, greeksSource)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", symbol).Msg("dropping malformed option row")
			continue
		}
		contractsList = append(contractsList, contract)
	}

	return contractsList, nil
}

// FetchFilteredChain fetches and applies the shared filtering pipeline,
// returning survivors sorted by open interest descending.
func (s *Service) FetchFilteredChain(ctx context.Context, symbol string, direction domain.Direction) ([]domain.OptionContract, error) {
	chain, err := s.FetchOptionChain(ctx, symbol, direction)
	if err != nil {
		return nil, err
	}
	return contracts.FilterContracts(chain, direction), nil
}

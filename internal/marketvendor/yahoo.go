// Package marketvendor adapts the Yahoo Finance chart/quote/options HTTP
// endpoints to the ports.VendorPort interface. It is a thin, synchronous
// client; concurrency and retry policy belong to the caller (internal/marketdata).
package marketvendor

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/optionalpha/scanner/internal/ports"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// Endpoint base URLs, package vars so tests can redirect them to a local server.
var (
	chartURL   = "https://query1.finance.yahoo.com/v8/finance/chart/"
	quoteURL   = "https://query1.finance.yahoo.com/v7/finance/quote"
	optionsURL = "https://query1.finance.yahoo.com/v7/finance/options/"
)

// Client is a synchronous HTTP client for Yahoo Finance's public endpoints.
// It implements ports.VendorPort.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

// NewClient builds a Client with a bounded per-request timeout; the caller
// composes the 30-second hard timeout via context, not here.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log.With().Str("client", "yahoo").Logger(),
	}
}

func (c *Client) get(url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error interface{} `json:"error"`
	} `json:"chart"`
}

// History fetches daily bars for symbol over period (a Yahoo range token
// such as "1y" or "6mo"). Rows with any nil OHLCV field are skipped rather
// than synthesized, preserving the "missing columns" distinction upstream.
func (c *Client) History(symbol, period string) ([]ports.Bar, error) {
	reqURL := chartURL + url.PathEscape(symbol) + "?" + url.Values{
		"range":    {period},
		"interval": {"1d"},
	}.Encode()

	body, err := c.get(reqURL)
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", symbol, err)
	}

	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse history response for %s: %w", symbol, err)
	}
	if parsed.Chart.Error != nil || len(parsed.Chart.Result) == 0 {
		return nil, nil
	}

	result := parsed.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("history response for %s has no quote indicators", symbol)
	}
	quote := result.Indicators.Quote[0]

	bars := make([]ports.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) || i >= len(quote.Volume) {
			continue
		}
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil || quote.Close[i] == nil || quote.Volume[i] == nil {
			continue
		}
		bars = append(bars, ports.Bar{
			Date:   time.Unix(ts, 0).UTC(),
			Open:   *quote.Open[i],
			High:   *quote.High[i],
			Low:    *quote.Low[i],
			Close:  *quote.Close[i],
			Volume: *quote.Volume[i],
		})
	}
	return bars, nil
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []map[string]interface{} `json:"result"`
		Error  interface{}              `json:"error"`
	} `json:"quoteResponse"`
}

// Info returns the raw quote-info dict for symbol.
func (c *Client) Info(symbol string) (map[string]interface{}, error) {
	reqURL := quoteURL + "?" + url.Values{
		"symbols": {symbol},
		"fields": {"symbol,quoteType,regularMarketPrice,currentPrice,marketCap,sector,industry," +
			"longName,shortName,regularMarketVolume,bid,ask"},
	}.Encode()

	body, err := c.get(reqURL)
	if err != nil {
		return nil, fmt.Errorf("fetch info for %s: %w", symbol, err)
	}

	var parsed quoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse info response for %s: %w", symbol, err)
	}
	if parsed.QuoteResponse.Error != nil || len(parsed.QuoteResponse.Result) == 0 {
		return map[string]interface{}{}, nil
	}
	return parsed.QuoteResponse.Result[0], nil
}

type optionChainResponse struct {
	OptionChain struct {
		Result []struct {
			ExpirationDates []int64 `json:"expirationDates"`
			Options         []struct {
				Calls []yahooOption `json:"calls"`
				Puts  []yahooOption `json:"puts"`
			} `json:"options"`
		} `json:"result"`
		Error interface{} `json:"error"`
	} `json:"optionChain"`
}

type yahooOption struct {
	Strike            float64  `json:"strike"`
	Bid               float64  `json:"bid"`
	Ask               float64  `json:"ask"`
	LastPrice         float64  `json:"lastPrice"`
	Volume            int64    `json:"volume"`
	OpenInterest      int64    `json:"openInterest"`
	ImpliedVolatility float64  `json:"impliedVolatility"`
	Expiration        int64    `json:"expiration"`
	Delta             *float64 `json:"delta"`
	Gamma             *float64 `json:"gamma"`
	Theta             *float64 `json:"theta"`
	Vega              *float64 `json:"vega"`
	Rho               *float64 `json:"rho"`
}

func toRow(o yahooOption) ports.OptionRow {
	return ports.OptionRow{
		Strike:       o.Strike,
		Expiration:   time.Unix(o.Expiration, 0).UTC(),
		Bid:          o.Bid,
		Ask:          o.Ask,
		Last:         o.LastPrice,
		Volume:       o.Volume,
		OpenInterest: o.OpenInterest,
		IV:           o.ImpliedVolatility,
		Delta:        o.Delta,
		Gamma:        o.Gamma,
		Theta:        o.Theta,
		Vega:         o.Vega,
		Rho:          o.Rho,
	}
}

// OptionChain fetches calls and puts for symbol at one expiration.
func (c *Client) OptionChain(symbol string, expiration time.Time) ([]ports.OptionRow, []ports.OptionRow, error) {
	reqURL := optionsURL + url.PathEscape(symbol) + "?" + url.Values{
		"date": {strconv.FormatInt(expiration.Unix(), 10)},
	}.Encode()

	body, err := c.get(reqURL)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch option chain for %s: %w", symbol, err)
	}

	var parsed optionChainResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil, fmt.Errorf("parse option chain response for %s: %w", symbol, err)
	}
	if parsed.OptionChain.Error != nil || len(parsed.OptionChain.Result) == 0 || len(parsed.OptionChain.Result[0].Options) == 0 {
		return nil, nil, nil
	}

	opts := parsed.OptionChain.Result[0].Options[0]
	calls := make([]ports.OptionRow, 0, len(opts.Calls))
	for _, o := range opts.Calls {
		calls = append(calls, toRow(o))
	}
	puts := make([]ports.OptionRow, 0, len(opts.Puts))
	for _, o := range opts.Puts {
		puts = append(puts, toRow(o))
	}
	return calls, puts, nil
}

// Options returns the available expiration dates for symbol.
func (c *Client) Options(symbol string) ([]time.Time, error) {
	reqURL := optionsURL + url.PathEscape(symbol)

	body, err := c.get(reqURL)
	if err != nil {
		return nil, fmt.Errorf("fetch expirations for %s: %w", symbol, err)
	}

	var parsed optionChainResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse expirations response for %s: %w", symbol, err)
	}
	if parsed.OptionChain.Error != nil || len(parsed.OptionChain.Result) == 0 {
		return nil, nil
	}

	dates := make([]time.Time, 0, len(parsed.OptionChain.Result[0].ExpirationDates))
	for _, ts := range parsed.OptionChain.Result[0].ExpirationDates {
		dates = append(dates, time.Unix(ts, 0).UTC())
	}
	return dates, nil
}

var _ ports.VendorPort = (*Client)(nil)

package marketvendor

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func withEndpoints(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	prevChart, prevQuote, prevOptions := chartURL, quoteURL, optionsURL
	chartURL = server.URL + "/chart/"
	quoteURL = server.URL + "/quote"
	optionsURL = server.URL + "/options/"
	t.Cleanup(func() {
		chartURL, quoteURL, optionsURL = prevChart, prevQuote, prevOptions
	})
	return server
}

func TestHistory_ParsesBarsSkippingNilRows(t *testing.T) {
	body := `{"chart":{"result":[{"timestamp":[1000,2000,3000],"indicators":{"quote":[{
		"open":[100,null,102],"high":[101,105,103],"low":[99,100,101],"close":[100.5,104,102.5],"volume":[1000,2000,null]
	}]}}],"error":null}}`
	withEndpoints(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(body)) })

	c := NewClient(testLogger())
	bars, err := c.History("AAPL", "1y")
	require.NoError(t, err)
	require.Len(t, bars, 1, "rows with any nil OHLCV field are skipped, not synthesized")
	assert.Equal(t, 100.0, bars[0].Open)
	assert.Equal(t, int64(1000), bars[0].Volume)
}

func TestHistory_ChartErrorReturnsEmpty(t *testing.T) {
	body := `{"chart":{"result":[],"error":{"code":"Not Found"}}}`
	withEndpoints(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(body)) })

	c := NewClient(testLogger())
	bars, err := c.History("FAKE", "1y")
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestHistory_RateLimitedStatusReturnsError(t *testing.T) {
	withEndpoints(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	c := NewClient(testLogger())
	_, err := c.History("AAPL", "1y")
	assert.Error(t, err)
}

func TestInfo_ReturnsFirstResult(t *testing.T) {
	body := `{"quoteResponse":{"result":[{"symbol":"AAPL","currentPrice":150.0}],"error":null}}`
	withEndpoints(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(body)) })

	c := NewClient(testLogger())
	info, err := c.Info("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", info["symbol"])
}

func TestInfo_EmptyResultReturnsEmptyMap(t *testing.T) {
	body := `{"quoteResponse":{"result":[],"error":null}}`
	withEndpoints(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(body)) })

	c := NewClient(testLogger())
	info, err := c.Info("FAKE")
	require.NoError(t, err)
	assert.Empty(t, info)
}

func TestOptionChain_ReturnsCallsAndPuts(t *testing.T) {
	delta := 0.35
	body := fmt.Sprintf(`{"optionChain":{"result":[{"expirationDates":[1700000000],"options":[{
		"calls":[{"strike":100,"bid":2.0,"ask":2.1,"lastPrice":2.05,"volume":50,"openInterest":500,"impliedVolatility":0.3,"expiration":1700000000,"delta":%f}],
		"puts":[{"strike":100,"bid":1.9,"ask":2.0,"lastPrice":1.95,"volume":40,"openInterest":400,"impliedVolatility":0.3,"expiration":1700000000}]
	}]}],"error":null}}`, delta)
	withEndpoints(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(body)) })

	c := NewClient(testLogger())
	calls, puts, err := c.OptionChain("AAPL", time.Unix(1700000000, 0))
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.Len(t, puts, 1)
	require.NotNil(t, calls[0].Delta)
	assert.InDelta(t, delta, *calls[0].Delta, 1e-9)
	assert.Nil(t, puts[0].Delta)
}

func TestOptions_ReturnsExpirationDates(t *testing.T) {
	body := `{"optionChain":{"result":[{"expirationDates":[1700000000,1705000000],"options":[]}],"error":null}}`
	withEndpoints(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(body)) })

	c := NewClient(testLogger())
	dates, err := c.Options("AAPL")
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), dates[0])
}

func TestOptions_ErrorResponseReturnsEmpty(t *testing.T) {
	body := `{"optionChain":{"result":[],"error":"no options"}}`
	withEndpoints(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(body)) })

	c := NewClient(testLogger())
	dates, err := c.Options("FAKE")
	require.NoError(t, err)
	assert.Empty(t, dates)
}

// Package ports declares the interfaces the core pipeline depends on for two
// of its external collaborators: the market-data vendor and the local LLM.
// Concrete adapters live in internal/marketvendor and internal/llm, and a test
// double can stand in for either. The persistent store has no interface here;
// its consumers take *repository.Repository directly.
package ports

import "time"

// Bar is one OHLCV row as returned verbatim by the vendor's history call.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// OptionRow is one row of a vendor option chain, before conversion to the
// domain OptionContract and before any filtering.
type OptionRow struct {
	Strike       float64
	Expiration   time.Time
	Bid          float64
	Ask          float64
	Last         float64
	Volume       int64
	OpenInterest int64
	IV           float64
	Delta        *float64
	Gamma        *float64
	Theta        *float64
	Vega         *float64
	Rho          *float64
}

// VendorPort abstracts the synchronous third-party market-data library
// (history/info/option_chain/options) described in the external interfaces.
// Implementations are synchronous; callers that need concurrency run them on
// a worker pool.
type VendorPort interface {
	// History returns daily bars for symbol over period (e.g. "1y", "6mo").
	History(symbol, period string) ([]Bar, error)
	// Info returns a vendor info dict, as a loosely typed map mirroring the
	// wire shape (quoteType, price fields, marketCap, sector, etc).
	Info(symbol string) (map[string]interface{}, error)
	// OptionChain returns the calls and puts for one expiration.
	OptionChain(symbol string, expiration time.Time) (calls, puts []OptionRow, err error)
	// Options returns the available expiration dates for symbol.
	Options(symbol string) ([]time.Time, error)
}

// ChatMessage is one role/content pair in an LLM chat request.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatResult is the normalized response from an LLM chat call.
type ChatResult struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	DurationMs   int64
}

// LLMPort abstracts the local OpenAI-compatible chat endpoint.
type LLMPort interface {
	Chat(messages []ChatMessage, model string, timeout time.Duration) (ChatResult, error)
	ValidateModel(model string) bool
}

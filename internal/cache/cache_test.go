package cache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestGetSet_MemoryTierRoundTrip(t *testing.T) {
	c := New(nil, testLogger())

	c.Set("yf:quote:AAPL", []byte(`{"price":100}`), time.Minute)
	value, ok := c.Get("yf:quote:AAPL")

	require.True(t, ok)
	assert.Equal(t, `{"price":100}`, string(value))
}

func TestGet_MissingKeyReturnsNotOK(t *testing.T) {
	c := New(nil, testLogger())

	_, ok := c.Get("yf:quote:MISSING")

	assert.False(t, ok)
}

func TestGet_ExpiredMemoryEntryIsEvicted(t *testing.T) {
	c := New(nil, testLogger())
	c.Set("yf:quote:AAPL", []byte("stale"), time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("yf:quote:AAPL")

	assert.False(t, ok)
	c.mu.Lock()
	_, stillPresent := c.memory["yf:quote:AAPL"]
	c.mu.Unlock()
	assert.False(t, stillPresent, "expired entry should be removed on access")
}

func TestGet_ZeroTTLNeverExpires(t *testing.T) {
	c := New(nil, testLogger())
	c.Set("yf:ohlcv:AAPL:1d", []byte("bars"), 0)

	time.Sleep(5 * time.Millisecond)
	value, ok := c.Get("yf:ohlcv:AAPL:1d")

	require.True(t, ok)
	assert.Equal(t, "bars", string(value))
}

func TestInvalidate_RemovesKey(t *testing.T) {
	c := New(nil, testLogger())
	c.Set("yf:quote:AAPL", []byte("x"), time.Minute)

	c.Invalidate("yf:quote:AAPL")
	_, ok := c.Get("yf:quote:AAPL")

	assert.False(t, ok)
}

func TestInvalidatePattern_SuffixWildcardMatchesPrefix(t *testing.T) {
	c := New(nil, testLogger())
	c.Set("yf:chain:AAPL:2024-01-19", []byte("a"), time.Minute)
	c.Set("yf:chain:AAPL:2024-02-16", []byte("b"), time.Minute)
	c.Set("yf:chain:MSFT:2024-01-19", []byte("c"), time.Minute)

	c.InvalidatePattern("yf:chain:AAPL:*")

	_, aapl1 := c.Get("yf:chain:AAPL:2024-01-19")
	_, aapl2 := c.Get("yf:chain:AAPL:2024-02-16")
	_, msft := c.Get("yf:chain:MSFT:2024-01-19")
	assert.False(t, aapl1)
	assert.False(t, aapl2)
	assert.True(t, msft)
}

func TestInvalidatePattern_ExactKeyWithoutWildcard(t *testing.T) {
	c := New(nil, testLogger())
	c.Set("yf:quote:AAPL", []byte("a"), time.Minute)
	c.Set("yf:quote:AAPL2", []byte("b"), time.Minute)

	c.InvalidatePattern("yf:quote:AAPL")

	_, exact := c.Get("yf:quote:AAPL")
	_, other := c.Get("yf:quote:AAPL2")
	assert.False(t, exact)
	assert.True(t, other)
}

func TestGetTTL_UnknownDataTypeWarnsAndDefaults(t *testing.T) {
	c := New(nil, testLogger())

	ttl := c.GetTTL("made_up_type")

	assert.Equal(t, ttlUnknownDefault*time.Second, ttl)
}

func TestGetTTL_OHLCVAlwaysPermanent(t *testing.T) {
	c := New(nil, testLogger())

	assert.Equal(t, time.Duration(0), c.GetTTL(DataTypeOHLCV))
}

func TestIsMarketHours_WeekdayDuringSession(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	wednesdayNoon := time.Date(2024, 3, 6, 12, 0, 0, 0, loc)

	assert.True(t, IsMarketHours(wednesdayNoon))
}

func TestIsMarketHours_Weekend(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	saturday := time.Date(2024, 3, 9, 12, 0, 0, 0, loc)

	assert.False(t, IsMarketHours(saturday))
}

func TestIsMarketHours_BeforeOpen(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	earlyMorning := time.Date(2024, 3, 6, 8, 0, 0, 0, loc)

	assert.False(t, IsMarketHours(earlyMorning))
}

func TestDataTypeOf_ParsesKeyPrefix(t *testing.T) {
	assert.Equal(t, DataTypeQuote, dataTypeOf("yf:quote:AAPL"))
	assert.Equal(t, "", dataTypeOf("malformed"))
}

// Package cache implements the two-tier (memory + persistent) service cache:
// volatile data types stay in memory, persistent types are written through to
// the SQL store, and both tiers route their TTL by market-hours awareness.
package cache

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Data type strings recognized in cache keys of the form "<source>:<data_type>:<rest>".
const (
	DataTypeOHLCV        = "ohlcv"
	DataTypeChain        = "chain"
	DataTypeQuote        = "quote"
	DataTypeIVRank       = "iv_rank"
	DataTypeIVPercentile = "iv_percentile"
	DataTypeFundamentals = "fundamentals"
	DataTypeEarnings     = "earnings"
	DataTypeFailure      = "failure"
)

// TTLs in seconds. 0 means permanent (never expires).
const (
	ttlOHLCVPermanent     = 0
	ttlOptionChainMarket  = 5 * 60
	ttlOptionChainAfter   = 60 * 60
	ttlIntradayQuoteMkt   = 1 * 60
	ttlIntradayQuoteAfter = 5 * 60
	ttlIVRank             = 60 * 60
	ttlFundamentals       = 24 * 60 * 60
	ttlEarnings           = 24 * 60 * 60
	ttlFailure            = 24 * 60 * 60
	ttlUnknownDefault     = 5 * 60
)

const lazyCleanupInterval = 100

var persistentTypes = map[string]bool{
	DataTypeOHLCV:        true,
	DataTypeIVRank:       true,
	DataTypeIVPercentile: true,
	DataTypeFundamentals: true,
	DataTypeEarnings:     true,
	DataTypeFailure:      true,
}

// easternTZ is the timezone used for market-hours checks. Loaded once at
// package init; a missing tzdata install degrades to UTC rather than panicking.
var easternTZ = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

type entry struct {
	value     []byte
	createdAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	if e.ttl == 0 {
		return false
	}
	return now.Sub(e.createdAt) > e.ttl
}

// Cache is the two-tier service cache. The in-memory tier is a mutex-guarded
// map; the persistent tier is the shared SQL connection pool — callers are
// responsible for creating the service_cache table via a migration.
type Cache struct {
	db  *sql.DB // nil means memory-only
	log zerolog.Logger

	mu      sync.Mutex
	memory  map[string]entry
	access  int
}

// New constructs a Cache. db may be nil, in which case persistent-tier keys
// fall back to the in-memory tier.
func New(db *sql.DB, log zerolog.Logger) *Cache {
	return &Cache{
		db:     db,
		log:    log.With().Str("component", "cache").Logger(),
		memory: make(map[string]entry),
	}
}

// IsMarketHours returns true on weekdays between 09:30 and 16:00 Eastern.
// No holiday calendar is consulted.
func IsMarketHours(now time.Time) bool {
	et := now.In(easternTZ)
	if wd := et.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	open := time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, easternTZ)
	closeT := time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, easternTZ)
	return !et.Before(open) && et.Before(closeT)
}

// GetTTL returns the TTL for a data type, adjusted for market hours.
func (c *Cache) GetTTL(dataType string) time.Duration {
	duringMarket := IsMarketHours(time.Now())
	switch dataType {
	case DataTypeOHLCV:
		return ttlOHLCVPermanent
	case DataTypeChain:
		if duringMarket {
			return ttlOptionChainMarket * time.Second
		}
		return ttlOptionChainAfter * time.Second
	case DataTypeQuote:
		if duringMarket {
			return ttlIntradayQuoteMkt * time.Second
		}
		return ttlIntradayQuoteAfter * time.Second
	case DataTypeIVRank, DataTypeIVPercentile:
		return ttlIVRank * time.Second
	case DataTypeFundamentals:
		return ttlFundamentals * time.Second
	case DataTypeEarnings:
		return ttlEarnings * time.Second
	case DataTypeFailure:
		return ttlFailure * time.Second
	default:
		c.log.Warn().Str("data_type", dataType).Msg("unknown cache data type, using default TTL")
		return ttlUnknownDefault * time.Second
	}
}

func dataTypeOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func shouldUseSQL(key string) bool {
	return persistentTypes[dataTypeOf(key)]
}

// Get retrieves a cached value. Returns ok=false on miss or expiry; expired
// entries are lazily removed from whichever tier held them.
func (c *Cache) Get(key string) (value []byte, ok bool) {
	c.mu.Lock()
	c.bumpAccessLocked()
	if e, found := c.memory[key]; found {
		if e.expired(time.Now()) {
			delete(c.memory, key)
			c.mu.Unlock()
			return nil, false
		}
		c.mu.Unlock()
		return e.value, true
	}
	c.mu.Unlock()

	if c.db == nil || !shouldUseSQL(key) {
		return nil, false
	}
	return c.sqlGet(key)
}

// Set stores value under key with the given TTL, routed to the tier the
// key's data type belongs to (falling back to memory when no DB is configured).
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	now := time.Now()
	if shouldUseSQL(key) && c.db != nil {
		if err := c.sqlSet(key, value, now, ttl); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("sql cache set failed, falling back to memory")
		} else {
			return
		}
	}
	c.mu.Lock()
	c.memory[key] = entry{value: value, createdAt: now, ttl: ttl}
	c.mu.Unlock()
}

// Invalidate removes a single key from both tiers.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.memory, key)
	c.mu.Unlock()

	if c.db != nil {
		if _, err := c.db.Exec("DELETE FROM service_cache WHERE key = ?", key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("sql cache invalidate failed")
		}
	}
}

// InvalidatePattern removes all keys matching pattern, a plain key or a
// suffix wildcard like "yf:chain:AAPL:*".
func (c *Cache) InvalidatePattern(pattern string) {
	prefix, wildcard := strings.CutSuffix(pattern, "*")

	c.mu.Lock()
	for k := range c.memory {
		if (wildcard && strings.HasPrefix(k, prefix)) || (!wildcard && k == pattern) {
			delete(c.memory, k)
		}
	}
	c.mu.Unlock()

	if c.db == nil {
		return
	}
	if wildcard {
		if _, err := c.db.Exec("DELETE FROM service_cache WHERE key LIKE ?", prefix+"%"); err != nil {
			c.log.Warn().Err(err).Str("pattern", pattern).Msg("sql cache pattern invalidate failed")
		}
		return
	}
	if _, err := c.db.Exec("DELETE FROM service_cache WHERE key = ?", pattern); err != nil {
		c.log.Warn().Err(err).Str("pattern", pattern).Msg("sql cache pattern invalidate failed")
	}
}

// bumpAccessLocked must be called with c.mu held. It triggers a lazy sweep of
// expired in-memory entries every lazyCleanupInterval accesses.
func (c *Cache) bumpAccessLocked() {
	c.access++
	if c.access < lazyCleanupInterval {
		return
	}
	c.access = 0
	now := time.Now()
	for k, e := range c.memory {
		if e.expired(now) {
			delete(c.memory, k)
		}
	}
}

func (c *Cache) sqlGet(key string) ([]byte, bool) {
	var value []byte
	var createdAtStr string
	var ttlSeconds int64
	row := c.db.QueryRow("SELECT value, created_at, ttl_seconds FROM service_cache WHERE key = ?", key)
	if err := row.Scan(&value, &createdAtStr, &ttlSeconds); err != nil {
		return nil, false
	}
	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("sql cache entry has unparseable timestamp")
		return nil, false
	}
	e := entry{value: value, createdAt: createdAt, ttl: time.Duration(ttlSeconds) * time.Second}
	if e.expired(time.Now()) {
		_, _ = c.db.Exec("DELETE FROM service_cache WHERE key = ?", key)
		return nil, false
	}
	return value, true
}

func (c *Cache) sqlSet(key string, value []byte, createdAt time.Time, ttl time.Duration) error {
	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO service_cache (key, value, created_at, ttl_seconds) VALUES (?, ?, ?, ?)",
		key, value, createdAt.UTC().Format(time.RFC3339), int64(ttl/time.Second),
	)
	return err
}

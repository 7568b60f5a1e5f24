// Package ratelimit implements the rate limiter and retry executor shared by
// every vendor-facing service: a counting semaphore bounds concurrency and a
// token bucket paces the request rate: the retry executor wraps both and
// applies the taxonomy's retry rule (only RateLimitExceeded is retried).
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/optionalpha/scanner/internal/errs"
)

// Config configures a Limiter. Mirrors the dynamic option dict in the source
// system: {max_concurrent, requests_per_second, max_retries, backoff_delays}.
type Config struct {
	MaxConcurrent     int
	RequestsPerSecond float64
	MaxRetries        int
	BackoffDelays     []time.Duration
}

// DefaultBackoffDelays is the schedule used when Config.BackoffDelays is empty.
// The last entry is reused ("clamped") for any retry beyond its length.
var DefaultBackoffDelays = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = float64(c.MaxConcurrent) * 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if len(c.BackoffDelays) == 0 {
		c.BackoffDelays = DefaultBackoffDelays
	}
	return c
}

// Limiter combines a counting semaphore (bounds in-flight calls) with a
// token-bucket (paces request rate) and retries only rate-limit signals.
type Limiter struct {
	cfg     Config
	sem     chan struct{}
	tokens  *rate.Limiter
	log     zerolog.Logger
}

// New builds a Limiter from cfg, applying defaults for zero-valued fields.
func New(cfg Config, log zerolog.Logger) *Limiter {
	cfg = cfg.withDefaults()
	return &Limiter{
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		tokens: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.MaxConcurrent),
		log:    log.With().Str("component", "rate_limiter").Logger(),
	}
}

// acquire blocks until both a concurrency slot and a token are available.
func (l *Limiter) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := l.tokens.Wait(ctx); err != nil {
		<-l.sem
		return err
	}
	return nil
}

func (l *Limiter) release() {
	<-l.sem
}

// Factory produces a fresh awaitable on every call. Execute never re-awaits
// a completed attempt — it calls factory() again for each retry.
type Factory func(ctx context.Context) (any, error)

// Execute runs factory under the concurrency/rate gates, retrying up to
// MaxRetries times on a RateLimitExceeded error only. All other errors,
// including domain errors (not-found, insufficient-data), propagate on the
// first attempt without retry.
func (l *Limiter) Execute(ctx context.Context, factory Factory, ticker, source string) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if err := l.acquire(ctx); err != nil {
			return nil, err
		}
		result, err := factory(ctx)
		l.release()

		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errs.Retryable(err) {
			return nil, err
		}
		if attempt == l.cfg.MaxRetries {
			break
		}

		delay := l.backoffFor(attempt, err)
		l.log.Warn().Str("ticker", ticker).Str("source", source).Int("attempt", attempt+1).
			Dur("delay", delay).Msg("rate limited, retrying after backoff")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// backoffFor picks the configured schedule entry, clamped to the last one,
// unless err carries a positive RetryAfter hint which takes precedence.
func (l *Limiter) backoffFor(attempt int, err error) time.Duration {
	if rle, ok := err.(*errs.Error); ok && rle.RetryAfter > 0 {
		return time.Duration(rle.RetryAfter * float64(time.Second))
	}
	idx := attempt
	if idx >= len(l.cfg.BackoffDelays) {
		idx = len(l.cfg.BackoffDelays) - 1
	}
	return l.cfg.BackoffDelays[idx]
}

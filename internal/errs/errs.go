// Package errs defines the typed error taxonomy shared by every service in
// the scan pipeline. Every error carries a ticker (or "*" for universe-wide
// failures) and a source identifier so callers can log and branch on intent
// without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the taxonomy of domain failures.
type Kind string

const (
	// KindTickerNotFound means the vendor confirmed the symbol does not exist.
	KindTickerNotFound Kind = "ticker_not_found"
	// KindInsufficientData means the request succeeded but returned fewer
	// rows/fields than the minimum the caller requires.
	KindInsufficientData Kind = "insufficient_data"
	// KindDataSourceUnavailable covers transport, parse, or unexpected-response failures.
	KindDataSourceUnavailable Kind = "data_source_unavailable"
	// KindRateLimitExceeded means the vendor or LLM endpoint signalled throttling.
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
)

// UniverseTicker is used in place of a real ticker for universe-wide errors.
const UniverseTicker = "*"

// Error is the single error type used across the domain. It is never used
// for generic control flow — construct one of the Kind-specific helpers below.
type Error struct {
	Kind       Kind
	Ticker     string
	Source     string
	Message    string
	RetryAfter float64 // seconds; only meaningful for KindRateLimitExceeded
	cause      error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: ticker=%s source=%s", e.Kind, e.Ticker, e.Source)
	}
	return fmt.Sprintf("%s: ticker=%s source=%s: %s", e.Kind, e.Ticker, e.Source, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is makes errors.Is(err, errs.NotFound(...)) match on Kind rather than identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

func newErr(kind Kind, ticker, source, message string, cause error) *Error {
	if ticker == "" {
		ticker = UniverseTicker
	}
	return &Error{Kind: kind, Ticker: ticker, Source: source, Message: message, cause: cause}
}

// NotFound builds a KindTickerNotFound error.
func NotFound(ticker, source, message string) *Error {
	return newErr(KindTickerNotFound, ticker, source, message, nil)
}

// Insufficient builds a KindInsufficientData error.
func Insufficient(ticker, source, message string) *Error {
	return newErr(KindInsufficientData, ticker, source, message, nil)
}

// Unavailable builds a KindDataSourceUnavailable error, wrapping cause.
func Unavailable(ticker, source, message string, cause error) *Error {
	return newErr(KindDataSourceUnavailable, ticker, source, message, cause)
}

// RateLimited builds a KindRateLimitExceeded error. retryAfter <= 0 means
// "no hint given", and callers should fall back to their own backoff schedule.
func RateLimited(ticker, source, message string, retryAfter float64) *Error {
	e := newErr(KindRateLimitExceeded, ticker, source, message, nil)
	e.RetryAfter = retryAfter
	return e
}

// Retryable reports whether the rate limiter should retry this error.
// Only KindRateLimitExceeded is retried; not-found and insufficient-data
// errors are never retried, per the taxonomy's retry rule.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindRateLimitExceeded
}

// KindOf extracts the Kind from err, returning ok=false if err is not an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Kind, true
}

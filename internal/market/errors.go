package market

import "errors"

var (
	// ErrMalformedRecord marks a stored candle that fails decoding or its
	// OHLC invariant. Range readers skip such records and keep going.
	ErrMalformedRecord = errors.New("malformed candle record")

	// ErrUpstreamRateLimited is returned when the price API pushes back
	// with a rate-limit response. Retryable with backoff.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")

	// ErrUpstreamUnavailable covers timeouts and connection failures
	// against the price API. Retryable with a shorter cap.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUnknownStrategyType is a caller error: fail fast, no retry.
	ErrUnknownStrategyType = errors.New("unknown strategy type")

	// ErrInvalidRange is returned for malformed query input
	// (end before start). "No data" is never an error.
	ErrInvalidRange = errors.New("invalid time range")
)

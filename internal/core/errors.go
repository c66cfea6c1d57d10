package core

import (
	"errors"
	"fmt"
	"time"
)

// FailureKind classifies resolution and ledger failures into the stable
// categories surfaced to callers. Each kind maps to a distinct
// user-facing message category in the presentation layer.
type FailureKind string

const (
	KindInvalidInput        FailureKind = "invalid_input"
	KindRateLimited         FailureKind = "rate_limited"
	KindNotFound            FailureKind = "not_found"
	KindUpstreamUnavailable FailureKind = "upstream_unavailable"
	KindUpstreamDenied      FailureKind = "upstream_denied"
	KindMalformedResponse   FailureKind = "malformed_response"
	KindStorage             FailureKind = "storage"
)

// Failure is a typed error carrying its classification and, for rate
// limit failures, an estimated retry-after duration.
type Failure struct {
	Kind       FailureKind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches failures by kind so callers can use errors.Is with the
// sentinel values below.
func (f *Failure) Is(target error) bool {
	other, ok := target.(*Failure)
	if !ok {
		return false
	}
	return other.Kind == f.Kind && other.Message == ""
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidInput        = &Failure{Kind: KindInvalidInput}
	ErrRateLimited         = &Failure{Kind: KindRateLimited}
	ErrNotFound            = &Failure{Kind: KindNotFound}
	ErrUpstreamUnavailable = &Failure{Kind: KindUpstreamUnavailable}
	ErrUpstreamDenied      = &Failure{Kind: KindUpstreamDenied}
	ErrMalformedResponse   = &Failure{Kind: KindMalformedResponse}
	ErrStorage             = &Failure{Kind: KindStorage}
)

// InvalidInput builds an input validation failure.
func InvalidInput(message string) *Failure {
	return &Failure{Kind: KindInvalidInput, Message: message}
}

// NotFound builds a no-match failure.
func NotFound(message string) *Failure {
	return &Failure{Kind: KindNotFound, Message: message}
}

// RateLimited builds a rate limit failure with an estimated retry-after.
func RateLimited(message string, retryAfter time.Duration) *Failure {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Failure{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter}
}

// UpstreamUnavailable wraps a transient provider failure.
func UpstreamUnavailable(message string, err error) *Failure {
	return &Failure{Kind: KindUpstreamUnavailable, Message: message, Err: err}
}

// UpstreamDenied wraps a provider policy failure.
func UpstreamDenied(message string) *Failure {
	return &Failure{Kind: KindUpstreamDenied, Message: message}
}

// MalformedResponse wraps a provider contract violation.
func MalformedResponse(message string, err error) *Failure {
	return &Failure{Kind: KindMalformedResponse, Message: message, Err: err}
}

// StorageFailure wraps a durable store error.
func StorageFailure(message string, err error) *Failure {
	return &Failure{Kind: KindStorage, Message: message, Err: err}
}

// KindOf extracts the failure kind from an error chain; unclassified
// errors report KindUpstreamUnavailable as the conservative bucket.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUpstreamUnavailable
}

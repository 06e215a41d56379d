package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors forming the failure taxonomy. Engine-level errors are
// classified against these at the fallback-chain boundary; the batch runner
// only ever inspects the classification, never raw engine output.
var (
	// ErrTransient marks an engine as incompatible or unavailable for this
	// input; the chain moves on to the next engine.
	ErrTransient = errors.New("transient engine failure")
	// ErrRateLimited marks a service-wide throttle; the chain aborts
	// immediately and a shared cooldown begins.
	ErrRateLimited = errors.New("rate limited")
	// ErrAuthRequired is terminal for the item; the user must re-authenticate
	// in the browser profile externally.
	ErrAuthRequired = errors.New("authentication required")
	// ErrExhausted means every engine in the chain soft-failed.
	ErrExhausted = errors.New("all engines exhausted")
	// ErrCancelled is terminal for the item, user initiated.
	ErrCancelled = errors.New("cancelled")
)

// Kind is the user-visible classification of a failure.
type Kind string

const (
	KindTransient   Kind = "TransientEngineFailure"
	KindRateLimited Kind = "RateLimited"
	KindAuth        Kind = "AuthRequired"
	KindExhausted   Kind = "AllEnginesExhausted"
	KindCancelled   Kind = "Cancelled"
	KindUnknown     Kind = "Unknown"
)

// Classify maps an error to its taxonomy kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrAuthRequired):
		return KindAuth
	case errors.Is(err, ErrExhausted):
		return KindExhausted
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

// Retryable reports whether the batch runner may re-attempt an item that
// failed with this error. Rate limits, auth failures, and cancellations are
// terminal for the item.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindTransient, KindExhausted, KindUnknown:
		return err != nil
	default:
		return false
	}
}

// Wrap builds an error message that includes stage context while tagging it
// with the provided taxonomy marker.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// RateLimitError carries an optional retry-after hint from the external
// service alongside the ErrRateLimited marker.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
	Detail     string
}

func (e *RateLimitError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("rate limited by %s: %s", e.Service, e.Detail)
	}
	return fmt.Sprintf("rate limited by %s", e.Service)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterHint extracts the retry-after duration from an error chain, if
// the external signal specified one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		return rle.RetryAfter, true
	}
	return 0, false
}

// Reason produces the one-line failure reason shown in batch summaries.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	return msg
}

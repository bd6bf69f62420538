// Package apperr gives the engine's five error kinds (§7) a shared type
// instead of scattering ad hoc sentinel errors across packages: Transient,
// ValidationFailure, Business, ExchangeConflict, and Fatal. Callers branch
// on kind with errors.As, the same way internal/store/redis's
// CircuitBreaker exposed a single sentinel for "breaker open" — generalized
// here into a small typed hierarchy since five kinds (not one) need to flow
// through the scheduler, executor, and monitor uniformly.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/alerting policy (§7).
type Kind string

const (
	KindTransient          Kind = "TRANSIENT"
	KindValidationFailure  Kind = "VALIDATION_FAILURE"
	KindBusiness           Kind = "BUSINESS"
	KindExchangeConflict   Kind = "EXCHANGE_CONFLICT"
	KindFatal              Kind = "FATAL"
)

// Subkind refines ExchangeConflict: insufficient funds is fatal for the
// trade, stale price is retried once (§7).
type Subkind string

const (
	SubkindNone              Subkind = ""
	SubkindInsufficientFunds Subkind = "INSUFFICIENT_FUNDS"
	SubkindStalePrice        Subkind = "STALE_PRICE"
)

// Error carries a Kind, an optional Subkind, the stage it occurred in, and
// the underlying cause. It implements errors.Unwrap so errors.Is/As see
// through to the cause.
type Error struct {
	Kind    Kind
	Subkind Subkind
	Stage   string // e.g. "executor.place_stop", "ai.parse_response"
	Cause   error
}

func (e *Error) Error() string {
	if e.Subkind != SubkindNone {
		return fmt.Sprintf("%s/%s in %s: %v", e.Kind, e.Subkind, e.Stage, e.Cause)
	}
	return fmt.Sprintf("%s in %s: %v", e.Kind, e.Stage, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, stage string, cause error) *Error {
	return &Error{Kind: kind, Stage: stage, Cause: cause}
}

func NewWithSubkind(kind Kind, subkind Subkind, stage string, cause error) *Error {
	return &Error{Kind: kind, Subkind: subkind, Stage: stage, Cause: cause}
}

func Transient(stage string, cause error) *Error {
	return New(KindTransient, stage, cause)
}

func Validation(stage string, cause error) *Error {
	return New(KindValidationFailure, stage, cause)
}

func Business(stage string, cause error) *Error {
	return New(KindBusiness, stage, cause)
}

func Fatal(stage string, cause error) *Error {
	return New(KindFatal, stage, cause)
}

func ExchangeConflict(stage string, subkind Subkind, cause error) *Error {
	return NewWithSubkind(KindExchangeConflict, subkind, stage, cause)
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, falling
// back to KindTransient for unrecognized errors — unknown failures are
// assumed retryable rather than silently dropped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsRetryable reports whether an error's kind merits a retry with backoff.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient:
		return true
	case KindExchangeConflict:
		var e *Error
		if errors.As(err, &e) {
			return e.Subkind == SubkindStalePrice
		}
		return false
	default:
		return false
	}
}

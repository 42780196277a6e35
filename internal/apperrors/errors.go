// Package apperrors defines the typed error kinds shared across the
// trading core. Every component classifies failures into one of these
// kinds so callers can decide whether to retry, surface, or degrade —
// string-matching an error message is never the contract.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is a coarse classification of a failure.
type Kind string

const (
	KindTransient      Kind = "transient"      // network/5xx/rate-limited; safe to retry
	KindBadRequest     Kind = "bad_request"    // client-supplied invariant violation
	KindUnauthorized   Kind = "unauthorized"   // credential/token problem
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict" // non-idempotent collision
	KindVenueReject    Kind = "venue_reject" // live order rejected by the exchange
	KindInternal       Kind = "internal"      // bug or store failure
	KindNoMarketData   Kind = "no_market_data" // price lookup had nothing to return
	KindNotImplemented Kind = "not_implemented"
)

// Error wraps an underlying cause with a Kind and a stable, human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets the standard library's errors.Is match two *Error values by
// Kind alone, ignoring Reason and Cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Friendly aliases for the Kind constants, so call sites read
// apperrors.New(apperrors.BadRequest, ...) instead of spelling out
// apperrors.KindBadRequest everywhere.
var (
	Transient      = KindTransient
	BadRequest     = KindBadRequest
	Unauthorized   = KindUnauthorized
	NotFound       = KindNotFound
	Conflict       = KindConflict
	VenueReject    = KindVenueReject
	Internal       = KindInternal
	NoMarketData   = KindNoMarketData
	NotImplemented = KindNotImplemented
)

// New constructs a Kind error with a reason and no cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap constructs a Kind error carrying an underlying cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindInternal if err
// is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

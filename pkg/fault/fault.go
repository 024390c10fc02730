// Package fault defines the typed error taxonomy shared by the transport
// guards, ledger, and auction services. The HTTP layer maps kinds to status
// codes; everything below it only cares about the kind.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	// KindSchemaInvalid marks a body that violates its schema.
	KindSchemaInvalid Kind = "schema_invalid"

	// Timestamp guard failures.
	KindTimestampMissing   Kind = "timestamp_missing"
	KindTimestampMalformed Kind = "timestamp_malformed"
	KindTimestampSkew      Kind = "timestamp_skew"

	// Nonce guard failures.
	KindNonceMissing Kind = "nonce_missing"
	KindNonceReplay  Kind = "nonce_replay"

	// Signature guard failures.
	KindSignatureMissing   Kind = "signature_missing"
	KindSignatureMalformed Kind = "signature_malformed"
	KindSignatureInvalid   Kind = "signature_invalid"

	// Identity and auction gating failures.
	KindUnknownBidder     Kind = "unknown_bidder"
	KindUnknownServeToken Kind = "unknown_serve_token"
	KindNotSubscribed     Kind = "not_subscribed"
	KindAuctionNotActive  Kind = "auction_not_active"

	// KindPricingInvalid marks a bid with no parseable price.
	KindPricingInvalid Kind = "pricing_invalid"

	// Ledger failures.
	KindSingleChargeViolation Kind = "single_charge_violation"
	KindNoBidNoEvents         Kind = "no_bid_no_events"
	KindInvalidTransition     Kind = "invalid_transition"

	// KindMissingRequiredField marks a coordinator request missing a field.
	KindMissingRequiredField Kind = "missing_required_field"

	// Infrastructure failures.
	KindStorageUnavailable Kind = "storage_unavailable"
	KindPublishFailed      Kind = "publish_failed"
	KindInternal           Kind = "internal"
)

// Error is a failure tagged with a Kind. It supports errors.Is/As and
// optionally wraps a cause.
type Error struct {
	Kind  Kind
	Cause error
	msg   string
}

// New creates a fault of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault of the given kind around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Cause: err, msg: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.Cause)
	}

	return e.msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Detail returns the human-readable message without the cause chain.
func (e *Error) Detail() string {
	return e.msg
}

// KindOf extracts the Kind from an error chain. Errors outside the taxonomy
// report KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return KindInternal
}

// IsKind reports whether the error chain contains a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}

	return false
}

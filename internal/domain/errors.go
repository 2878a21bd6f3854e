package domain

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies why a stage of a trade did not succeed.
type FailureKind string

const (
	KindQuoteUnavailable         FailureKind = "QUOTE_UNAVAILABLE"
	KindQuoteExpired             FailureKind = "QUOTE_EXPIRED"
	KindSlippageToleranceInvalid FailureKind = "SLIPPAGE_TOLERANCE_INVALID"
	KindRouteEncodingError       FailureKind = "ROUTE_ENCODING_ERROR"
	KindSigningFailed            FailureKind = "SIGNING_FAILED"
	KindContextExpired           FailureKind = "CONTEXT_EXPIRED"
	KindRejected                 FailureKind = "REJECTED"
	KindTimedOut                 FailureKind = "TIMED_OUT"
	KindTransientNetworkError    FailureKind = "TRANSIENT_NETWORK_ERROR"
	KindCanceled                 FailureKind = "CANCELED"
	KindInvalidRequest           FailureKind = "INVALID_REQUEST"
)

// String returns the string representation of FailureKind.
func (k FailureKind) String() string {
	return string(k)
}

// Retriable reports whether the orchestrator may restart the full
// quote-to-submit cycle after a failure of this kind.
func (k FailureKind) Retriable() bool {
	return k == KindQuoteExpired || k == KindContextExpired
}

// Error is a classified trade failure.
type Error struct {
	Kind FailureKind
	Msg  string
	Err  error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrQuoteUnavailable         = &Error{Kind: KindQuoteUnavailable}
	ErrQuoteExpired             = &Error{Kind: KindQuoteExpired}
	ErrSlippageToleranceInvalid = &Error{Kind: KindSlippageToleranceInvalid}
	ErrRouteEncoding            = &Error{Kind: KindRouteEncodingError}
	ErrSigningFailed            = &Error{Kind: KindSigningFailed}
	ErrContextExpired           = &Error{Kind: KindContextExpired}
	ErrRejected                 = &Error{Kind: KindRejected}
	ErrTimedOut                 = &Error{Kind: KindTimedOut}
	ErrTransientNetwork         = &Error{Kind: KindTransientNetworkError}
	ErrCanceled                 = &Error{Kind: KindCanceled}
	ErrInvalidRequest           = &Error{Kind: KindInvalidRequest}
)

// NewError creates a classified error wrapping cause (which may be nil).
func NewError(kind FailureKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Errorf creates a classified error with a formatted message.
// A %w verb in format is honoured for unwrapping.
func Errorf(kind FailureKind, format string, args ...interface{}) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Msg: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil && !strings.HasSuffix(e.Msg, e.Err.Error()):
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrQuoteExpired)
// holds for every quote expiry regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the failure kind from err.
// Unclassified errors return the empty kind.
func KindOf(err error) FailureKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

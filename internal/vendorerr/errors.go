// Package vendorerr defines the closed set of error kinds a vendor
// operation can fail with, and how each kind is treated by the router
// and health monitor.
package vendorerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds a Dynamic Provider Adapter operation
// can return. The set is closed: no caller should construct a Kind
// value that is not one of the constants below.
type Kind string

const (
	BadCredentials   Kind = "BAD_CREDENTIALS"
	NoStock          Kind = "NO_STOCK"
	NoBalance        Kind = "NO_BALANCE"
	RateLimited      Kind = "RATE_LIMITED"
	ServerError      Kind = "SERVER_ERROR"
	Timeout          Kind = "TIMEOUT"
	BadRequest       Kind = "BAD_REQUEST"
	LifecycleTerminal Kind = "LIFECYCLE_TERMINAL"
	Unknown          Kind = "UNKNOWN"
)

// Error is a typed vendor-operation failure. Vendor is the slug of the
// vendor that produced it; Op is the logical operation name
// ("buy", "status", ...).
type Error struct {
	Kind   Kind
	Vendor string
	Op     string
	Msg    string
	Cause  error
}

func New(kind Kind, vendor, op, msg string) *Error {
	return &Error{Kind: kind, Vendor: vendor, Op: op, Msg: msg}
}

func Wrap(kind Kind, vendor, op string, cause error) *Error {
	return &Error{Kind: kind, Vendor: vendor, Op: op, Msg: cause.Error(), Cause: cause}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: vendor=%s op=%s: %s", e.Kind, e.Vendor, e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches a target *Error with the same Kind, so
// errors.Is(err, &vendorerr.Error{Kind: vendorerr.NoStock}) holds for
// any NO_STOCK error; a bare Kind is not an error and cannot be a target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the router should attempt the next vendor
// after this error. BAD_CREDENTIALS and BAD_REQUEST are permanent for
// the vendor that produced them; everything else, including the
// nominally-permanent-sounding NO_BALANCE, is failover-worthy.
func (k Kind) Retryable() bool {
	switch k {
	case BadCredentials, BadRequest:
		return false
	default:
		return true
	}
}

// Systemic reports whether a single occurrence of this error kind
// should immediately trip a vendor's circuit breaker, independent of
// the consecutive-failure counter.
func (k Kind) Systemic() bool {
	switch k {
	case BadCredentials, Unknown:
		return true
	default:
		return false
	}
}

// CountsAsSuccess reports whether the health monitor should record
// this outcome as a success. LIFECYCLE_TERMINAL means the activation
// finished in a non-SMS terminal state; it is not a vendor failure.
func (k Kind) CountsAsSuccess() bool {
	return k == LifecycleTerminal
}

// Of extracts the Kind from err if it is (or wraps) a *Error. It
// returns ("", false) for a nil err and (Unknown, false) otherwise.
func Of(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return Unknown, false
}

// Package sfuerr defines the fixed error taxonomy every client-visible
// failure is normalized into before it leaves the core. Every client
// frame carries one of these codes; the reason text is fixed except for
// NegotiationFailed, whose reason appends the wrapped cause's Error() text.
package sfuerr

import "errors"

// Sentinel errors for use with errors.Is.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrMediaServerOffline = errors.New("media server offline")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrMediaTimeout      = errors.New("media timeout")
)

// Numeric codes carried on the wire. These are stable and referenced by tests.
const (
	CodeInvalidRequest    = 2200
	CodeMediaServerOffline = 2201
	CodePermissionDenied  = 2202
	CodeNegotiationFailed = 2203
	CodeMediaTimeout      = 2211
)

// Error is the normalized, client-visible error shape: a numeric code plus
// a short textual reason, wrapping a sentinel so callers can errors.Is it.
type Error struct {
	Code   int
	Reason string
	cause  error
}

func (e *Error) Error() string {
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(sentinel error, code int, reason string) *Error {
	return &Error{Code: code, Reason: reason, cause: sentinel}
}

// InvalidRequest builds an SFU_INVALID_REQUEST error with a caller-supplied reason.
func InvalidRequest(reason string) *Error {
	return newError(ErrInvalidRequest, CodeInvalidRequest, reason)
}

// MediaServerOffline builds a MEDIA_SERVER_OFFLINE error.
func MediaServerOffline() *Error {
	return newError(ErrMediaServerOffline, CodeMediaServerOffline, "MEDIA_SERVER_OFFLINE")
}

// PermissionDenied builds a PERMISSION_DENIED error, preserving whatever code
// the permission oracle returned (it may differ from CodePermissionDenied).
func PermissionDenied(oracleCode int, reason string) *Error {
	if oracleCode == 0 {
		oracleCode = CodePermissionDenied
	}
	return newError(ErrPermissionDenied, oracleCode, reason)
}

// NegotiationFailed wraps an MCS RPC failure encountered during start.
func NegotiationFailed(cause error) *Error {
	reason := "NEGOTIATION_FAILED"
	if cause != nil {
		reason = "NEGOTIATION_FAILED: " + cause.Error()
	}
	return newError(ErrNegotiationFailed, CodeNegotiationFailed, reason)
}

// MediaTimeout builds the fixed code-2211 watchdog error.
func MediaTimeout() *Error {
	return newError(ErrMediaTimeout, CodeMediaTimeout, "MEDIA_TIMEOUT")
}

// Code returns the numeric code of err if it is (or wraps) an *Error, else 0.
func Code(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

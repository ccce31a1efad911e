// Package fberrors implements the error taxonomy shared by the Arbiter
// and Device request pipelines: every error a handler can return carries
// the CoAP response code it maps to and a message safe to put on the
// wire (never a raw cryptographic error string).
package fberrors

import "fmt"

// Code is a CoAP response code, expressed as (class, detail) per
// RFC 7252 §3 (e.g. 2.04 == Code{2, 4}).
type Code struct {
	Class  uint8
	Detail uint8
}

func (c Code) String() string {
	return fmt.Sprintf("%d.%02d", c.Class, c.Detail)
}

var (
	Changed     = Code{2, 4}
	Content     = Code{2, 5}
	BadRequest  = Code{4, 0}
	Forbidden   = Code{4, 3}
	NotFoundCode = Code{4, 4}
	Internal    = Code{5, 0}
)

// Error is a request-path error that maps directly to a CoAP response.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// BadRequestf builds a RequestError (4.00) with a descriptive, client-safe
// reason string. Use for malformed JSON, unparseable CIDs, duplicate
// registration, and empty required fields.
func BadRequestf(format string, args ...any) *Error {
	return &Error{Code: BadRequest, Message: fmt.Sprintf(format, args...)}
}

// Forbiddenf builds an AuthzError (4.03). The message must describe only
// the failure category (e.g. "expired", "No permission for parameter"),
// never echo claim contents or signature internals.
func Forbiddenf(format string, args ...any) *Error {
	return &Error{Code: Forbidden, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFoundError (4.04) for an unknown method/path
// combination.
func NotFound() *Error {
	return &Error{Code: NotFoundCode, Message: "not found"}
}

// Internalf builds an InternalError (5.00) wrapping cause. The wrapped
// cause stays reachable through Error and Unwrap; the Arbiter and Device
// handlers do not log it, and cause.Error() is never sent on the wire —
// callers must render e.Message, not e.Unwrap().
func Internalf(cause error, format string, args ...any) *Error {
	return &Error{Code: Internal, Message: fmt.Sprintf(format, args...), cause: cause}
}

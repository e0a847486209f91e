// Package apperrors is the user-facing error taxonomy of the booking core.
// Every error carries a stable code, a human message and, where it helps a
// client reconcile, the current authoritative state of the entity involved.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeCapacityExceeded   Code = "CAPACITY_EXCEEDED"
	CodeGeometryInvalid    Code = "GEOMETRY_INVALID"
	CodeRouteMismatch      Code = "ROUTE_MISMATCH"
	CodeVerificationFailed Code = "VERIFICATION_FAILED"
	CodeDuplicateBooking   Code = "DUPLICATE_BOOKING"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodePaymentFailed      Code = "PAYMENT_FAILED"
)

type Error struct {
	Code    Code
	Message string
	// Reason refines Code, e.g. MISMATCH for VERIFICATION_FAILED.
	Reason string
	// Current is the entity as it is now (booking or ride), when known.
	Current any
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, apperrors.ErrInvalidState).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Reason == "" || t.Reason == e.Reason)
}

var (
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrInvalidState       = &Error{Code: CodeInvalidState}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized}
	ErrCapacityExceeded   = &Error{Code: CodeCapacityExceeded}
	ErrGeometryInvalid    = &Error{Code: CodeGeometryInvalid}
	ErrRouteMismatch      = &Error{Code: CodeRouteMismatch}
	ErrVerificationFailed = &Error{Code: CodeVerificationFailed}
	ErrDuplicateBooking   = &Error{Code: CodeDuplicateBooking}
	ErrInvalidInput       = &Error{Code: CodeInvalidInput}
	ErrPaymentFailed      = &Error{Code: CodePaymentFailed}
)

func NotFound(kind, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", kind, id)}
}

// InvalidState reports a transition attempted from the wrong status. The
// message always names the current status.
func InvalidState(action string, current fmt.Stringer, entity any) *Error {
	return &Error{
		Code:    CodeInvalidState,
		Message: fmt.Sprintf("cannot %s: current status is %s", action, current),
		Reason:  current.String(),
		Current: entity,
	}
}

func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

func CapacityExceeded(msg string, entity any) *Error {
	return &Error{Code: CodeCapacityExceeded, Message: msg, Current: entity}
}

func GeometryInvalid(reason, msg string) *Error {
	return &Error{Code: CodeGeometryInvalid, Reason: reason, Message: msg}
}

// RouteMismatch reports a trip the ride's route does not serve. Reason is the
// matcher's failure reason.
func RouteMismatch(reason, msg string, entity any) *Error {
	return &Error{Code: CodeRouteMismatch, Reason: reason, Message: msg, Current: entity}
}

func VerificationFailed(reason string, entity any) *Error {
	return &Error{
		Code:    CodeVerificationFailed,
		Reason:  reason,
		Message: "verification failed: " + reason,
		Current: entity,
	}
}

func DuplicateBooking(entity any) *Error {
	return &Error{
		Code:    CodeDuplicateBooking,
		Message: "passenger already holds a live booking on this ride",
		Current: entity,
	}
}

func InvalidInput(msg string) *Error {
	return &Error{Code: CodeInvalidInput, Message: msg}
}

func PaymentFailed(err error, entity any) *Error {
	return &Error{Code: CodePaymentFailed, Message: "payment gateway error", Err: err, Current: entity}
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps an error to the status code the API answers with.
// Anything outside the taxonomy is an infrastructure failure.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidState, CodeCapacityExceeded, CodeDuplicateBooking:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeGeometryInvalid, CodeRouteMismatch, CodeVerificationFailed:
		return http.StatusUnprocessableEntity
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodePaymentFailed:
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

// Package apperr defines the domain error taxonomy. Every failure surfaced to a
// caller carries a stable numeric code so HTTP clients can branch on it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind groups errors by how they are handled upstream.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidState
	KindCapacity
	KindValidation
	KindConfigGap
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state_transition"
	case KindCapacity:
		return "capacity_exceeded"
	case KindValidation:
		return "validation"
	case KindConfigGap:
		return "configuration_gap"
	default:
		return "internal"
	}
}

// Error is a domain error. Two errors are equal under errors.Is when their
// codes match, so detail added with Withf does not break comparisons.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func New(kind Kind, code int, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Withf returns a copy of e with formatted detail appended to the message.
func (e *Error) Withf(format string, args ...interface{}) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message + ": " + fmt.Sprintf(format, args...), Err: e.Err}
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: cause}
}

// Not found.
var (
	ErrChildNotFound        = New(KindNotFound, 1001, "child not found")
	ErrAppointmentNotFound  = New(KindNotFound, 1002, "appointment not found")
	ErrVaccineNotFound      = New(KindNotFound, 1003, "vaccine not found")
	ErrDoseScheduleNotFound = New(KindNotFound, 1004, "dose schedule not found")
	ErrEnrollmentNotFound   = New(KindNotFound, 1005, "enrollment not found")
	ErrComboNotFound        = New(KindNotFound, 1006, "vaccine combo not found")
	ErrEntryNotFound        = New(KindNotFound, 1007, "appointment entry not found")
	ErrStaffNotFound        = New(KindNotFound, 1008, "staff member not found")
)

// Invalid state transitions.
var (
	ErrInvalidTransition = New(KindInvalidState, 2001, "invalid status transition")
	ErrEntryState        = New(KindInvalidState, 2002, "entry is not in the required state")
	ErrDoseState         = New(KindInvalidState, 2003, "dose is not in a reschedulable state")
)

// Capacity.
var (
	ErrSlotFull             = New(KindCapacity, 3001, "time slot is full")
	ErrNoAvailableSlot      = New(KindCapacity, 3002, "no clinician has an open slot")
	ErrClinicianUnavailable = New(KindCapacity, 3003, "clinician is not working in this slot")
)

// Validation.
var (
	ErrValidation          = New(KindValidation, 4001, "invalid request")
	ErrNotToday            = New(KindValidation, 4002, "appointment is not scheduled for today")
	ErrDateInPast          = New(KindValidation, 4003, "date is in the past")
	ErrInvalidInterval     = New(KindValidation, 4004, "invalid dose interval configuration")
	ErrInvalidPaymentProof = New(KindValidation, 4005, "invalid payment proof")
	ErrMissingCapability   = New(KindValidation, 4006, "staff member lacks the required capability")
	ErrObservationTooShort = New(KindValidation, 4007, "observation period has not elapsed")
	ErrInvalidSlot         = New(KindValidation, 4008, "unknown time slot")
)

// ErrConfigurationGap is recovered locally and never surfaced by an operation.
var ErrConfigurationGap = New(KindConfigGap, 5001, "dose interval not configured")

// InvalidTransition reports an operation attempted from the wrong status.
func InvalidTransition(from, to fmt.Stringer) *Error {
	return ErrInvalidTransition.Withf("%s -> %s", from, to)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to the status code handlers respond with.
func HTTPStatus(k Kind) int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	case KindCapacity:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error payload.
type Body struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToHTTP converts err into an echo error. Non-domain errors become an opaque 500.
func ToHTTP(err error) *echo.HTTPError {
	var e *Error
	if errors.As(err, &e) {
		return echo.NewHTTPError(HTTPStatus(e.Kind), Body{Code: e.Code, Message: e.Error()})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, Body{Code: 9000, Message: "internal server error"})
}

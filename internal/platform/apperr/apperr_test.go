package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type status string

func (s status) String() string { return string(s) }

func TestError_IsMatchesCode(t *testing.T) {
	err := ErrSlotFull.Withf("clinician %s at %s", "abc", "9-10")
	if !errors.Is(err, ErrSlotFull) {
		t.Error("detail should not break errors.Is")
	}
	if errors.Is(err, ErrNoAvailableSlot) {
		t.Error("different codes must not match")
	}

	wrapped := fmt.Errorf("booking: %w", err)
	if !errors.Is(wrapped, ErrSlotFull) {
		t.Error("expected match through fmt wrapping")
	}
}

func TestError_Wrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := ErrValidation.Wrap(cause)
	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
	if err.Error() != "invalid request: connection reset" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestInvalidTransition(t *testing.T) {
	err := InvalidTransition(status("COMPLETED"), status("PAID"))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("expected invalid transition")
	}
	if KindOf(err) != KindInvalidState {
		t.Errorf("expected invalid state kind, got %s", KindOf(err))
	}
}

func TestToHTTP(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code int
	}{
		{ErrAppointmentNotFound, http.StatusNotFound, 1002},
		{InvalidTransition(status("A"), status("B")), http.StatusConflict, 2001},
		{fmt.Errorf("reserve: %w", ErrSlotFull), http.StatusConflict, 3001},
		{ErrNotToday, http.StatusBadRequest, 4002},
		{ErrConfigurationGap, http.StatusInternalServerError, 5001},
		{errors.New("boom"), http.StatusInternalServerError, 9000},
	}
	for _, tt := range tests {
		he := ToHTTP(tt.err)
		if he.Code != tt.want {
			t.Errorf("%v: expected status %d, got %d", tt.err, tt.want, he.Code)
		}
		body, ok := he.Message.(Body)
		if !ok {
			t.Fatalf("expected Body message, got %T", he.Message)
		}
		if body.Code != tt.code {
			t.Errorf("%v: expected code %d, got %d", tt.err, tt.code, body.Code)
		}
	}
}

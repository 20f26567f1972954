package payment

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
)

func TestVerifier_Parse(t *testing.T) {
	v := NewVerifier("whsec_test")
	id := uuid.New()
	body := []byte(`{"appointment_id":"` + id.String() + `","outcome":"SUCCEEDED","method":"UPI","reference":"pay_123"}`)

	cb, err := v.Parse(body, v.Sign(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.AppointmentID != id || cb.Reference != "pay_123" {
		t.Errorf("unexpected callback: %+v", cb)
	}

	if _, err := v.Parse(body, "sha256="+v.Sign(body)); err != nil {
		t.Errorf("prefixed signature: %v", err)
	}
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("whsec_test")
	id := uuid.New().String()
	signed := func(body string) (string, string) { return body, v.Sign([]byte(body)) }

	tests := []struct {
		name string
		body string
		sig  string
	}{
		{"tampered", `{"appointment_id":"` + id + `","outcome":"SUCCEEDED","reference":"x"}`, v.Sign([]byte(`{}`))},
		{"missing signature", `{"appointment_id":"` + id + `","outcome":"SUCCEEDED","reference":"x"}`, ""},
	}
	for _, body := range []string{
		`not json`,
		`{"outcome":"SUCCEEDED","reference":"x"}`,
		`{"appointment_id":"` + id + `","outcome":"SUCCEEDED"}`,
		`{"appointment_id":"` + id + `","outcome":"REFUNDED","reference":"x"}`,
	} {
		b, s := signed(body)
		tests = append(tests, struct {
			name string
			body string
			sig  string
		}{body, b, s})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Parse([]byte(tt.body), tt.sig)
			if !errors.Is(err, apperr.ErrInvalidPaymentProof) {
				t.Errorf("expected invalid payment proof, got %v", err)
			}
		})
	}
}

func TestVerifier_NoSecret(t *testing.T) {
	v := NewVerifier("")
	body := []byte(`{}`)
	if _, err := v.Parse(body, v.Sign(body)); !errors.Is(err, apperr.ErrInvalidPaymentProof) {
		t.Errorf("expected rejection without a secret, got %v", err)
	}
}

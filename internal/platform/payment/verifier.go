// Package payment checks payment-gateway callbacks before the workflow
// trusts them.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw callback body.
const SignatureHeader = "X-Payment-Signature"

// Outcome values reported by the gateway.
const (
	OutcomeSucceeded = "SUCCEEDED"
	OutcomeFailed    = "FAILED"
)

// Callback is the body the gateway posts once a payment settles.
type Callback struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Outcome       string    `json:"outcome"`
	Method        string    `json:"method"`
	Reference     string    `json:"reference"`
	Reason        string    `json:"reason,omitempty"`
}

// Verifier authenticates callbacks with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the hex signature of payload.
func (v *Verifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Parse verifies signature over body and decodes the callback.
func (v *Verifier) Parse(body []byte, signature string) (*Callback, error) {
	if len(v.secret) == 0 {
		return nil, apperr.ErrInvalidPaymentProof.Withf("callbacks are not configured")
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if !hmac.Equal([]byte(v.Sign(body)), []byte(strings.ToLower(signature))) {
		return nil, apperr.ErrInvalidPaymentProof.Withf("signature mismatch")
	}

	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, apperr.ErrInvalidPaymentProof.Withf("malformed body")
	}
	if cb.AppointmentID == uuid.Nil {
		return nil, apperr.ErrInvalidPaymentProof.Withf("appointment_id is required")
	}
	switch cb.Outcome {
	case OutcomeSucceeded:
		if cb.Reference == "" {
			return nil, apperr.ErrInvalidPaymentProof.Withf("reference is required")
		}
	case OutcomeFailed:
	default:
		return nil, apperr.ErrInvalidPaymentProof.Withf("unknown outcome %q", cb.Outcome)
	}
	return &cb, nil
}

// Package payments integrates the external payment provider: webhook
// signature verification and payment-intent creation. The provider is always
// injected as an interface so business logic can be exercised with test
// doubles instead of a process-global client.
package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrBadSignature is returned when a webhook payload fails verification.
var ErrBadSignature = errors.New("webhook signature mismatch")

// SignatureVerifier checks the authenticity of a provider-signed payload.
// Implementations must reject before any caller-side state mutation.
type SignatureVerifier interface {
	// Verify returns nil when signature authenticates payload.
	Verify(payload []byte, signature string) error
}

// HMACVerifier verifies hex-encoded HMAC-SHA256 signatures computed over the
// raw request body with a shared webhook signing secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier builds a verifier for the given signing secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Verify recomputes the HMAC over payload and compares it to signature in
// constant time. An empty or malformed signature fails closed.
func (v *HMACVerifier) Verify(payload []byte, signature string) error {
	if signature == "" {
		return ErrBadSignature
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the hex-encoded HMAC-SHA256 of payload with secret. Exposed
// for tests and for local tooling that emulates the provider.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

package billing

import (
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// VerifyStripeWebhookSignature checks the Stripe-Signature header (t=...,v1=...)
// against an HMAC-SHA256 of "t.payload" and rejects timestamps outside the
// tolerance. It never looks inside the payload.
func VerifyStripeWebhookSignature(payload []byte, signatureHeader, webhookSecret string, tolerance time.Duration) error {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" {
		return newError(KindMissingSignature, "missing Stripe-Signature header")
	}
	secret := strings.TrimSpace(webhookSecret)
	if secret == "" {
		return newError(KindNotConfigured, "webhook secret is not configured")
	}
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}

	err := webhook.ValidatePayloadWithTolerance(payload, sig, secret, tolerance)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrTooOld):
		return wrapError(KindInvalidSignature, err, "webhook timestamp outside tolerance")
	case errors.Is(err, webhook.ErrNotSigned), errors.Is(err, webhook.ErrInvalidHeader):
		return wrapError(KindInvalidSignature, err, "malformed Stripe-Signature header")
	default:
		return wrapError(KindInvalidSignature, err, "webhook signature mismatch")
	}
}

// services/webhook_verifier.go
package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SquareSignatureHeader carries the base64 HMAC-SHA256 of the delivery.
const SquareSignatureHeader = "x-square-hmacsha256-signature"

// WebhookVerifier checks delivery signatures against the raw request body.
// When NotificationURL is set, the signed content is the URL followed by the
// body, which is how Square signs production subscriptions.
type WebhookVerifier struct {
	Secret          string
	NotificationURL string
}

func NewWebhookVerifier(secret, notificationURL string) *WebhookVerifier {
	return &WebhookVerifier{Secret: secret, NotificationURL: notificationURL}
}

// Sign returns the base64 signature for body. Used by tests and local tooling.
func (v *WebhookVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(v.Secret))
	if v.NotificationURL != "" {
		mac.Write([]byte(v.NotificationURL))
	}
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify fails closed on a missing secret, a missing header or any mismatch.
// body must be the exact bytes received, never a re-encoded payload.
func (v *WebhookVerifier) Verify(body []byte, signature string) error {
	if v.Secret == "" {
		return ErrMissingSecret
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	expected := v.Sign(body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

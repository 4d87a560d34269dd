/*
signature.go - Webhook signature verification

The provider signs each delivery with HMAC-SHA256 over the raw body using a
shared secret. Nothing in the payload is trusted before the signature
checks out. Comparison is constant-time.
*/
package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader is the HTTP header carrying the provider's signature.
const SignatureHeader = "X-Webhook-Signature"

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrBadSignature     = errors.New("webhook signature mismatch")
)

// Sign computes the hex HMAC-SHA256 signature for a body. Exposed for tests
// and for local replay tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the signature header against the raw body.
// Accepts an optional "sha256=" prefix on the header value.
func VerifySignature(secret string, body []byte, header string) error {
	if header == "" {
		return ErrMissingSignature
	}
	header = strings.TrimPrefix(header, "sha256=")

	got, err := hex.DecodeString(header)
	if err != nil {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

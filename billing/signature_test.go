package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/makos-ai/credit-engine/billing"
)

func TestVerifySignature_RoundTrip(t *testing.T) {
	body := []byte(`{"id":"evt-1","type":"order.paid"}`)
	sig := billing.Sign("secret-1", body)

	assert.NoError(t, billing.VerifySignature("secret-1", body, sig))
}

func TestVerifySignature_AcceptsSha256Prefix(t *testing.T) {
	body := []byte(`{"id":"evt-1"}`)
	sig := "sha256=" + billing.Sign("secret-1", body)

	assert.NoError(t, billing.VerifySignature("secret-1", body, sig))
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"id":"evt-1"}`)
	sig := billing.Sign("other-secret", body)

	assert.ErrorIs(t, billing.VerifySignature("secret-1", body, sig), billing.ErrBadSignature)
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	sig := billing.Sign("secret-1", []byte(`{"credits":"50"}`))

	err := billing.VerifySignature("secret-1", []byte(`{"credits":"5000"}`), sig)
	assert.ErrorIs(t, err, billing.ErrBadSignature)
}

func TestVerifySignature_MissingHeader(t *testing.T) {
	err := billing.VerifySignature("secret-1", []byte(`{}`), "")
	assert.ErrorIs(t, err, billing.ErrMissingSignature)
}

func TestVerifySignature_GarbageHex(t *testing.T) {
	err := billing.VerifySignature("secret-1", []byte(`{}`), "not-hex-at-all")
	assert.ErrorIs(t, err, billing.ErrBadSignature)
}

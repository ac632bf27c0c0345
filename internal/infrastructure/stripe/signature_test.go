package stripe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finrelay/finrelay/internal/shared/config"
)

func newTestVerifier(secret string) (*Verifier, *time.Time) {
	v := NewVerifier(&config.StripeConfig{WebhookSecret: secret})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }
	return v, &now
}

func TestVerifier_ValidSignature(t *testing.T) {
	v, now := newTestVerifier("whsec_test")
	payload := []byte(`{"id":"evt_1","type":"customer.updated"}`)

	header := Sign("whsec_test", *now, payload)
	assert.NoError(t, v.Verify(payload, header))
}

func TestVerifier_WrongSecret(t *testing.T) {
	v, now := newTestVerifier("whsec_test")
	payload := []byte(`{"id":"evt_1"}`)

	header := Sign("whsec_other", *now, payload)
	assert.Error(t, v.Verify(payload, header))
}

func TestVerifier_TamperedPayload(t *testing.T) {
	v, now := newTestVerifier("whsec_test")

	header := Sign("whsec_test", *now, []byte(`{"id":"evt_1"}`))
	assert.Error(t, v.Verify([]byte(`{"id":"evt_2"}`), header))
}

func TestVerifier_StaleTimestamp(t *testing.T) {
	v, now := newTestVerifier("whsec_test")
	payload := []byte(`{"id":"evt_1"}`)

	header := Sign("whsec_test", now.Add(-6*time.Minute), payload)
	err := v.Verify(payload, header)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tolerance")
}

func TestVerifier_MalformedHeader(t *testing.T) {
	v, _ := newTestVerifier("whsec_test")
	payload := []byte(`{}`)

	assert.Error(t, v.Verify(payload, ""))
	assert.Error(t, v.Verify(payload, "t=abc,v1=deadbeef"))
	assert.Error(t, v.Verify(payload, "v1=deadbeef"))
	assert.Error(t, v.Verify(payload, "t=1748779200"))
}

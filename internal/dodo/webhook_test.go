package dodo

import (
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T) *WebhookVerifier {
	t.Helper()
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("test-signing-key"))
	v, err := NewWebhookVerifier(secret)
	require.NoError(t, err)
	return v
}

func TestNewWebhookVerifier(t *testing.T) {
	t.Run("rejects invalid base64", func(t *testing.T) {
		_, err := NewWebhookVerifier("whsec_not-base64!!!")
		assert.Error(t, err)
	})

	t.Run("rejects empty secret", func(t *testing.T) {
		_, err := NewWebhookVerifier("whsec_")
		assert.Error(t, err)
	})

	t.Run("accepts secret without prefix", func(t *testing.T) {
		_, err := NewWebhookVerifier(base64.StdEncoding.EncodeToString([]byte("key")))
		assert.NoError(t, err)
	})
}

func TestWebhookVerify(t *testing.T) {
	payload := []byte(`{"type":"payment.succeeded","data":{"payload_type":"Payment","payment_id":"pay_123"}}`)
	msgID := "msg_test_1"

	t.Run("valid signature passes", func(t *testing.T) {
		v := newTestVerifier(t)
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		sig := v.Sign(msgID, ts, payload)
		assert.NoError(t, v.Verify(payload, msgID, sig, ts))
	})

	t.Run("tampered payload fails", func(t *testing.T) {
		v := newTestVerifier(t)
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		sig := v.Sign(msgID, ts, payload)
		tampered := []byte(`{"type":"payment.succeeded","data":{"payload_type":"Payment","payment_id":"pay_999"}}`)
		assert.ErrorIs(t, v.Verify(tampered, msgID, sig, ts), ErrSignatureMismatch)
	})

	t.Run("wrong key fails", func(t *testing.T) {
		v := newTestVerifier(t)
		other, err := NewWebhookVerifier("whsec_" + base64.StdEncoding.EncodeToString([]byte("another-key")))
		require.NoError(t, err)
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		sig := other.Sign(msgID, ts, payload)
		assert.ErrorIs(t, v.Verify(payload, msgID, sig, ts), ErrSignatureMismatch)
	})

	t.Run("missing headers fail", func(t *testing.T) {
		v := newTestVerifier(t)
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		sig := v.Sign(msgID, ts, payload)
		assert.ErrorIs(t, v.Verify(payload, "", sig, ts), ErrMissingHeaders)
		assert.ErrorIs(t, v.Verify(payload, msgID, "", ts), ErrMissingHeaders)
		assert.ErrorIs(t, v.Verify(payload, msgID, sig, ""), ErrMissingHeaders)
	})

	t.Run("stale timestamp fails", func(t *testing.T) {
		v := newTestVerifier(t)
		ts := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
		sig := v.Sign(msgID, ts, payload)
		assert.ErrorIs(t, v.Verify(payload, msgID, sig, ts), ErrStaleTimestamp)
	})

	t.Run("future timestamp fails", func(t *testing.T) {
		v := newTestVerifier(t)
		ts := strconv.FormatInt(time.Now().Add(10*time.Minute).Unix(), 10)
		sig := v.Sign(msgID, ts, payload)
		assert.ErrorIs(t, v.Verify(payload, msgID, sig, ts), ErrStaleTimestamp)
	})

	t.Run("unparseable timestamp fails", func(t *testing.T) {
		v := newTestVerifier(t)
		sig := v.Sign(msgID, "not-a-number", payload)
		assert.Error(t, v.Verify(payload, msgID, sig, "not-a-number"))
	})

	t.Run("matching signature among several passes", func(t *testing.T) {
		v := newTestVerifier(t)
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		good := v.Sign(msgID, ts, payload)
		header := "v1,bogus " + good + " v2,ignored"
		assert.NoError(t, v.Verify(payload, msgID, header, ts))
	})

	t.Run("unknown versions only fails", func(t *testing.T) {
		v := newTestVerifier(t)
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		assert.ErrorIs(t, v.Verify(payload, msgID, "v2,abc v3,def", ts), ErrSignatureMismatch)
	})
}

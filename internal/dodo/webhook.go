package dodo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dodo Payments signs webhooks per the Standard Webhooks convention: the
// webhook-signature header carries one or more "v1,<base64 hmac>" entries
// computed as HMAC-SHA256 over "<webhook-id>.<webhook-timestamp>.<body>".

const (
	secretPrefix       = "whsec_"
	timestampTolerance = 5 * time.Minute
	signatureVersion   = "v1"
)

var (
	ErrMissingHeaders    = errors.New("webhook: missing signature headers")
	ErrStaleTimestamp    = errors.New("webhook: timestamp outside tolerance")
	ErrSignatureMismatch = errors.New("webhook: no matching signature")
)

// WebhookVerifier validates inbound webhook signatures against the shared
// signing secret. It fails closed: any verification error means the payload
// must not be trusted.
type WebhookVerifier struct {
	key []byte
	now func() time.Time
}

func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	raw := strings.TrimPrefix(secret, secretPrefix)
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	if len(key) == 0 {
		return nil, errors.New("webhook secret is empty")
	}
	return &WebhookVerifier{key: key, now: time.Now}, nil
}

// Verify checks the signature headers against the raw request body.
func (v *WebhookVerifier) Verify(payload []byte, msgID, signature, timestamp string) error {
	if msgID == "" || signature == "" || timestamp == "" {
		return ErrMissingHeaders
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("webhook: parse timestamp: %w", err)
	}
	ts := time.Unix(unix, 0)
	now := v.now()
	if ts.Before(now.Add(-timestampTolerance)) || ts.After(now.Add(timestampTolerance)) {
		return ErrStaleTimestamp
	}

	expected := v.sign(msgID, timestamp, payload)

	// The header may list several space-separated versioned signatures.
	for _, part := range strings.Split(signature, " ") {
		version, sig, found := strings.Cut(part, ",")
		if !found || version != signatureVersion {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// Sign produces the versioned signature for a message. Exposed so local
// tooling and tests can craft valid deliveries.
func (v *WebhookVerifier) Sign(msgID, timestamp string, payload []byte) string {
	return signatureVersion + "," + v.sign(msgID, timestamp, payload)
}

func (v *WebhookVerifier) sign(msgID, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(msgID))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

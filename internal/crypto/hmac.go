package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// WebhookSigner signs outbound webhook deliveries so receivers can verify
// that a notification came from this daemon and was not replayed. The
// signature is HMAC-SHA256(secret, timestamp+"."+body) encoded as hex.
type WebhookSigner struct {
	secret []byte
}

// NewWebhookSigner creates a WebhookSigner for the given shared secret.
func NewWebhookSigner(secret string) *WebhookSigner {
	return &WebhookSigner{secret: []byte(secret)}
}

// Headers returns the HTTP headers for a webhook delivery of body.
//
// Returned header keys:
//   - X-Levyd-Timestamp
//   - X-Levyd-Signature
func (s *WebhookSigner) Headers(body []byte) map[string]string {
	return s.HeadersAt(body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (s *WebhookSigner) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		"X-Levyd-Timestamp": ts,
		"X-Levyd-Signature": s.sign(ts, body),
	}
}

// Verify reports whether sig is a valid signature over timestamp and body.
// Receivers should additionally reject stale timestamps.
func (s *WebhookSigner) Verify(timestamp string, body []byte, sig string) bool {
	return hmac.Equal([]byte(s.sign(timestamp, body)), []byte(sig))
}

func (s *WebhookSigner) sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

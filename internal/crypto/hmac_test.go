package crypto

import "testing"

func TestWebhookSignerRoundTrip(t *testing.T) {
	s := NewWebhookSigner("shared-secret")
	body := []byte(`{"title":"Tax collected","message":"50"}`)

	headers := s.HeadersAt(body, 1700000000)
	ts := headers["X-Levyd-Timestamp"]
	sig := headers["X-Levyd-Signature"]
	if ts != "1700000000" {
		t.Fatalf("timestamp header = %q", ts)
	}
	if !s.Verify(ts, body, sig) {
		t.Fatal("signature must verify against the same secret")
	}

	if s.Verify(ts, []byte("tampered"), sig) {
		t.Fatal("signature must not verify a tampered body")
	}
	if s.Verify("1700000001", body, sig) {
		t.Fatal("signature must not verify a shifted timestamp")
	}
	if NewWebhookSigner("other-secret").Verify(ts, body, sig) {
		t.Fatal("signature must not verify under a different secret")
	}
}

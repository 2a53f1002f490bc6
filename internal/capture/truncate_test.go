package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
)

func TestTruncateBytes(t *testing.T) {
	t.Run("no_truncation_when_within_limit", func(t *testing.T) {
		input := []byte("hello world")
		out, truncated, origLen, hash := truncateBytes(input, len(input))

		if truncated {
			t.Fatalf("expected truncated=false, got true")
		}
		if origLen != len(input) {
			t.Fatalf("expected original size %d, got %d", len(input), origLen)
		}
		if hash != "" {
			t.Fatalf("expected empty hash, got %q", hash)
		}
		if string(out) != string(input) {
			t.Fatalf("expected output %q, got %q", string(input), string(out))
		}
	})

	t.Run("truncate_large_slice", func(t *testing.T) {
		input := []byte("hello world")
		maxBytes := 5
		expectedHash := sha256.Sum256(input)
		out, truncated, origLen, hash := truncateBytes(input, maxBytes)

		if !truncated {
			t.Fatalf("expected truncated=true, got false")
		}
		if origLen != len(input) {
			t.Fatalf("expected original size %d, got %d", len(input), origLen)
		}
		if string(out) != "hello" {
			t.Fatalf("expected output %q, got %q", "hello", string(out))
		}
		if hash != hex.EncodeToString(expectedHash[:]) {
			t.Fatalf("unexpected hash %q", hash)
		}
	})
}

func TestAuditPayload(t *testing.T) {
	t.Run("valid_json_kept_verbatim", func(t *testing.T) {
		raw := []byte(`{"requestId":"1.2","data":"abc"}`)
		out, truncated, origLen, hash := auditPayload(raw, 1024)
		if truncated || hash != "" {
			t.Fatalf("expected no truncation, got truncated=%v hash=%q", truncated, hash)
		}
		if origLen != len(raw) {
			t.Fatalf("expected original size %d, got %d", len(raw), origLen)
		}
		if string(out) != string(raw) {
			t.Fatalf("expected payload %s, got %s", raw, out)
		}
	})

	t.Run("oversized_payload_becomes_json_string", func(t *testing.T) {
		raw := []byte(`{"requestId":"1.2","data":"abcdefghij"}`)
		out, truncated, origLen, hash := auditPayload(raw, 10)
		if !truncated {
			t.Fatalf("expected truncated=true, got false")
		}
		if origLen != len(raw) || hash == "" {
			t.Fatalf("expected size %d and hash, got %d %q", len(raw), origLen, hash)
		}
		var s string
		if err := json.Unmarshal(out, &s); err != nil {
			t.Fatalf("expected JSON string payload, got %s: %v", out, err)
		}
		if s != `{"requestId` {
			t.Fatalf("expected truncated prefix, got %q", s)
		}
	})

	t.Run("empty_payload", func(t *testing.T) {
		if out, _, _, _ := auditPayload(nil, 10); out != nil {
			t.Fatalf("expected nil payload, got %s", out)
		}
	})
}

package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

func truncateBytes(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}

// auditPayload prepares raw event JSON for the audit log. Oversized payloads
// are cut to maxBytes and stored as a JSON string so the line stays valid.
func auditPayload(raw []byte, maxBytes int) (json.RawMessage, bool, int, string) {
	if len(raw) == 0 {
		return nil, false, 0, ""
	}
	out, truncated, originalSize, hash := truncateBytes(raw, maxBytes)
	if !truncated && json.Valid(out) {
		return json.RawMessage(out), false, originalSize, ""
	}
	quoted, err := json.Marshal(strings.ToValidUTF8(string(out), string(utf8.RuneError)))
	if err != nil {
		return nil, truncated, originalSize, hash
	}
	return json.RawMessage(quoted), truncated, originalSize, hash
}

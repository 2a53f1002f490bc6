package capture

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

const (
	controlScanRunes = 200
	maxControlRunes   = 6
)

// decodeCDPData turns a protocol data field into text. Base64 input is
// decoded; if decoding fails or the result looks binary the input is
// returned unchanged.
func decodeCDPData(data string) string {
	if data == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return data
	}
	text := strings.ToValidUTF8(string(decoded), string(utf8.RuneError))
	if looksBinary(text) {
		return data
	}
	return text
}

func looksBinary(text string) bool {
	bad, seen := 0, 0
	for _, r := range text {
		if seen >= controlScanRunes {
			break
		}
		seen++
		if r < ' ' && r != '\r' && r != '\n' && r != '\t' {
			bad++
		}
	}
	return bad > maxControlRunes
}

package summary

import (
	"testing"
	"time"

	"github.com/dgnsrekt/chatcap/internal/extract"
	"github.com/dgnsrekt/chatcap/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	full := "data: {\"a\":1}\n\ndata: {\"a\":2}\n\ndata: [DONE]\n\n"
	partial := "data: {\"a\":1}\n\n"

	tests := []struct {
		name     string
		stream   string
		body     string
		expected string
	}{
		{name: "no body", stream: partial, body: "", expected: partial},
		{name: "empty stream prefers body", stream: "", body: full, expected: full},
		{name: "stream substring of body", stream: partial, body: full, expected: full},
		{name: "stream contains body", stream: full, body: partial, expected: full},
		{
			name:     "disjoint halves concatenate",
			stream:   "data: {\"a\":1}\n\ndata: {\"a\":2}\n\n",
			body:     "data: {\"a\":2}\n\ndata: {\"a\":3}\n\n",
			expected: "data: {\"a\":1}\n\ndata: {\"a\":2}\n\ndata: {\"a\":3}\n\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Merge(tt.stream, tt.body))
		})
	}
}

func TestDropRepeatedGroupsKeepsNonConsecutive(t *testing.T) {
	raw := "data: x\n\ndata: x\n\ndata: y\n\ndata: x\n\n"
	assert.Equal(t, "data: x\n\ndata: y\n\ndata: x\n\n", DropRepeatedGroups(raw))
	assert.Equal(t, "", DropRepeatedGroups("\n\n"))
}

func TestMergedDeltaStreamsDoNotDoubleAnswer(t *testing.T) {
	header := `data: {"v":{"message":{"id":"m1","author":{"role":"assistant"},"content":{"content_type":"text","parts":[""]}}}}` + "\n\n"
	hel := `data: {"p":"/message/content/parts/0","o":"append","v":"Hel"}` + "\n\n"
	lo := `data: {"p":"/message/content/parts/0","o":"append","v":"lo"}` + "\n\n"

	stream := header + hel
	body := hel + lo
	assert.Equal(t, "Hello", extract.Extract(Merge(stream, body)).Answer)
}

func TestDeduper(t *testing.T) {
	d := NewDeduper(8, time.Minute)
	res := types.CaptureResult{RequestID: "1.1", Answer: "hi", Citations: []types.Citation{{URL: "https://a.example"}}}

	assert.True(t, d.First(res))
	assert.False(t, d.First(res))

	other := res
	other.RequestID = "1.2"
	assert.True(t, d.First(other))

	changed := res
	changed.Answer = "hello"
	assert.True(t, d.First(changed))
	assert.NotEqual(t, Digest(res), Digest(changed))
}

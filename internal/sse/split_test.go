package sse

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/dgnsrekt/chatcap/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSSE(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected []types.LogicalEvent
	}{
		{
			name: "named and default events",
			raw:  "event: delta_encoding\ndata: \"v1\"\n\ndata: {\"v\":\"hi\"}\n\ndata: [DONE]\n\n",
			expected: []types.LogicalEvent{
				{Event: "delta_encoding", Data: `"v1"`},
				{Event: "message", Data: `{"v":"hi"}`},
				{Event: "message", Data: "[DONE]"},
			},
		},
		{
			name: "multiple data lines join with newline",
			raw:  "data: a\ndata:b\ndata:   c\n\n",
			expected: []types.LogicalEvent{
				{Event: "message", Data: "a\nb\nc"},
			},
		},
		{
			name: "comments and unknown fields ignored",
			raw:  ": keepalive\nid: 4\nretry: 10\ndata: x\n\n: ping\n\n",
			expected: []types.LogicalEvent{
				{Event: "message", Data: "x"},
			},
		},
		{
			name: "event without data is still emitted",
			raw:  "event: ping\n\n",
			expected: []types.LogicalEvent{
				{Event: "ping", Data: ""},
			},
		},
		{
			name: "trailing group without blank line",
			raw:  "data: first\n\ndata: last",
			expected: []types.LogicalEvent{
				{Event: "message", Data: "first"},
				{Event: "message", Data: "last"},
			},
		},
		{
			name: "crlf framing and whitespace-only separators",
			raw:  "event: delta\r\ndata: 1\r\n  \r\ndata: 2\r\n\r\n",
			expected: []types.LogicalEvent{
				{Event: "delta", Data: "1"},
				{Event: "message", Data: "2"},
			},
		},
		{
			name: "lone cr terminates lines",
			raw:  "event: delta\rdata: 1\r\rdata: 2\r\r",
			expected: []types.LogicalEvent{
				{Event: "delta", Data: "1"},
				{Event: "message", Data: "2"},
			},
		},
		{
			name: "mixed line terminators",
			raw:  "data: a\r\ndata: b\rdata: c\n\r\ndata: d\n\r",
			expected: []types.LogicalEvent{
				{Event: "message", Data: "a\nb\nc"},
				{Event: "message", Data: "d"},
			},
		},
		{
			name: "empty input",
			raw:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitSSE(tt.raw))
		})
	}
}

func TestSplitRoundTripsSyntheticEvents(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	names := []string{"delta", "message", "delta_encoding", "title_generation"}

	for round := 0; round < 20; round++ {
		n := 1 + rng.Intn(40)
		want := make([]types.LogicalEvent, 0, n)
		var b strings.Builder
		for i := 0; i < n; i++ {
			ev := types.LogicalEvent{
				Event: names[rng.Intn(len(names))],
				Data:  fmt.Sprintf(`{"o":"append","v":"tok-%d-%d"}`, round, rng.Intn(1000)),
			}
			want = append(want, ev)
			fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", ev.Event, ev.Data)
		}
		got := Split(b.String())
		require.Len(t, got, n)
		assert.Equal(t, want, got)
	}
}

func TestSplitFallsBackToDevToolsFormat(t *testing.T) {
	raw := "delta\t{\"v\":\"Hel\"}\t05:59:33.776\n" +
		"delta\t{\"v\":\"lo\"}\t05:59:33.801\n" +
		"delta {\"v\": \"a b\"} 05:59:33.900\n" +
		"noise\n"

	got := Split(raw)
	require.Len(t, got, 3)
	assert.Equal(t, types.LogicalEvent{Event: "delta", Data: `{"v":"Hel"}`}, got[0])
	assert.Equal(t, types.LogicalEvent{Event: "delta", Data: `{"v":"lo"}`}, got[1])
	assert.Equal(t, types.LogicalEvent{Event: "delta", Data: `{"v": "a b"}`}, got[2])
}

func TestSplitPrefersSSEWhenPresent(t *testing.T) {
	raw := "delta\t{\"v\":\"ignored\"}\t05:59:33.776\ndata: {\"v\":\"kept\"}\n\n"
	got := Split(raw)
	require.Len(t, got, 1)
	assert.Equal(t, `{"v":"kept"}`, got[0].Data)
}

func TestSplitDevToolsKeepsDataWithoutTimestamp(t *testing.T) {
	got := SplitDevTools("delta {\"v\": \"no time\"}\n")
	require.Len(t, got, 1)
	assert.Equal(t, `{"v": "no time"}`, got[0].Data)
}

func TestParserStreams(t *testing.T) {
	p := NewParser(strings.NewReader("data: 1\n\ndata: 2\n\n"))
	first, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, "1", first.Data)

	rest, err := p.ReadAll()
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "2", rest[0].Data)
}

func TestParserHandlesCRLFSplitAcrossReads(t *testing.T) {
	p := NewParser(iotest.OneByteReader(strings.NewReader("data: 1\r\n\r\ndata: 2\r\r")))
	events, err := p.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []types.LogicalEvent{
		{Event: "message", Data: "1"},
		{Event: "message", Data: "2"},
	}, events)
}

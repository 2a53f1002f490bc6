// Package sse splits captured response text into logical events.
package sse

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/dgnsrekt/chatcap/internal/types"
)

// DefaultEventName is used for groups without an event: line.
const DefaultEventName = "message"

// Parser reads standard SSE framing from a stream. It is lenient: unknown
// fields are ignored and a group without a trailing blank line is still
// returned at end of input.
type Parser struct {
	reader *bufio.Reader
	done   bool
}

func NewParser(r io.Reader) *Parser {
	return &Parser{reader: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF once the input is exhausted.
func (p *Parser) Next() (types.LogicalEvent, error) {
	var (
		name    string
		hasName bool
		data    []string
	)
	flush := func() types.LogicalEvent {
		if name == "" {
			name = DefaultEventName
		}
		return types.LogicalEvent{Event: name, Data: strings.Join(data, "\n")}
	}

	for !p.done {
		line, err := p.readLine()
		if err != nil {
			if err != io.EOF {
				return types.LogicalEvent{}, err
			}
			p.done = true
			if line == "" {
				break
			}
		}

		if strings.TrimSpace(line) == "" {
			if hasName || len(data) > 0 {
				return flush(), nil
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(line[len("event:"):])
			hasName = true
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimLeft(line[len("data:"):], " \t"))
		}
	}
	if hasName || len(data) > 0 {
		return flush(), nil
	}
	return types.LogicalEvent{}, io.EOF
}

// readLine returns the next line without its terminator. CRLF, LF and a lone
// CR all end a line. A non-nil error means input ended before a terminator.
func (p *Parser) readLine() (string, error) {
	var b strings.Builder
	for {
		c, err := p.reader.ReadByte()
		if err != nil {
			return b.String(), err
		}
		switch c {
		case '\n':
			return b.String(), nil
		case '\r':
			if next, err := p.reader.Peek(1); err == nil && next[0] == '\n' {
				_, _ = p.reader.ReadByte()
			}
			return b.String(), nil
		}
		b.WriteByte(c)
	}
}

// ReadAll drains the parser.
func (p *Parser) ReadAll() ([]types.LogicalEvent, error) {
	var events []types.LogicalEvent
	for {
		ev, err := p.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// SplitSSE parses raw as standard SSE.
func SplitSSE(raw string) []types.LogicalEvent {
	events, _ := NewParser(strings.NewReader(raw)).ReadAll()
	return events
}

var devtoolsTimestampRe = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}\.\d{3}$`)

// SplitDevTools parses the line-per-event format copied out of the browser's
// EventStream panel: "name<TAB>data<TAB>time" or "name data time".
func SplitDevTools(raw string) []types.LogicalEvent {
	var events []types.LogicalEvent
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		var name, data string
		if strings.Contains(line, "\t") {
			var parts []string
			for _, p := range strings.Split(line, "\t") {
				if p != "" {
					parts = append(parts, p)
				}
			}
			if len(parts) < 2 {
				continue
			}
			name, data = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		} else {
			s := strings.TrimSpace(line)
			head, rest, ok := strings.Cut(s, " ")
			if !ok {
				continue
			}
			name, data = strings.TrimSpace(head), strings.TrimSpace(rest)
			if i := strings.LastIndex(data, " "); i >= 0 && devtoolsTimestampRe.MatchString(strings.TrimSpace(data[i+1:])) {
				data = strings.TrimSpace(data[:i])
			}
		}
		if name == "" {
			continue
		}
		events = append(events, types.LogicalEvent{Event: name, Data: data})
	}
	return events
}

// Split parses raw as SSE and falls back to the DevTools format only when
// SSE framing yields no events.
func Split(raw string) []types.LogicalEvent {
	if events := SplitSSE(raw); len(events) > 0 {
		return events
	}
	return SplitDevTools(raw)
}

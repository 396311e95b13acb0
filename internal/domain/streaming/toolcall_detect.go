package streaming

import (
	"encoding/json"
	"strings"
)

// recognizedToolCallKeys are the top-level keys that mark a parsed JSON
// object as a tool-call/todo-list payload rather than incidental JSON
// the model happened to emit as prose.
var recognizedToolCallKeys = []string{"tool_name", "todos"}

// ToolCallDetector incrementally scans model output for embedded JSON
// objects shaped like a tool call, separating them from the surrounding
// prose text as they complete. Feed text as it streams in; each call
// returns the prose accumulated so far (with any detected objects
// excised) plus any newly completed tool-call objects.
type ToolCallDetector struct {
	buf        strings.Builder
	prose      strings.Builder
	depth      int
	inString   bool
	escaped    bool
	candidate  strings.Builder
	inCandidate bool
}

// ToolCallCandidate is one detected embedded JSON object.
type ToolCallCandidate struct {
	Raw    string
	Fields map[string]interface{}
}

// Feed appends delta to the scan and returns the prose text recognized
// so far (cumulative, already excised of any detected objects) plus any
// tool-call objects newly completed by this call.
func (d *ToolCallDetector) Feed(delta string) (prose string, calls []ToolCallCandidate) {
	for _, r := range delta {
		if !d.inCandidate {
			if r == '{' {
				d.inCandidate = true
				d.depth = 0
				d.inString = false
				d.escaped = false
				d.candidate.Reset()
			} else {
				d.prose.WriteRune(r)
				continue
			}
		}

		d.candidate.WriteRune(r)

		if d.inString {
			if d.escaped {
				d.escaped = false
			} else if r == '\\' {
				d.escaped = true
			} else if r == '"' {
				d.inString = false
			}
			continue
		}

		switch r {
		case '"':
			d.inString = true
		case '{':
			d.depth++
		case '}':
			d.depth--
			if d.depth == 0 {
				raw := d.candidate.String()
				d.inCandidate = false
				d.candidate.Reset()
				if cand, ok := tryParseToolCall(raw); ok {
					calls = append(calls, cand)
				} else {
					// Not a recognized tool-call shape: treat as prose.
					d.prose.WriteString(raw)
				}
			}
		}
	}
	return d.prose.String(), calls
}

func tryParseToolCall(raw string) (ToolCallCandidate, bool) {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return ToolCallCandidate{}, false
	}
	for _, key := range recognizedToolCallKeys {
		if _, ok := fields[key]; ok {
			return ToolCallCandidate{Raw: raw, Fields: fields}, true
		}
	}
	return ToolCallCandidate{}, false
}

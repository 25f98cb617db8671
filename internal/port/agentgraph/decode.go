package agentgraph

import (
	"encoding/json"
	"fmt"
)

// DecodeChunk parses the chunk or output payload of a chat model event.
func DecodeChunk(raw json.RawMessage) (*ChatChunk, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty chat chunk")
	}
	var c ChatChunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode chat chunk: %w", err)
	}
	return &c, nil
}

// DecodeArgs parses a tool argument object. Missing, null, non-object or
// string-encoded arguments that do not hold an object yield an empty map.
func DecodeArgs(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return args
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return args
		}
		raw = json.RawMessage(s)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return args
	}
	return m
}

// DecodeResult returns a tool result as text. JSON strings are unquoted;
// other JSON values are returned verbatim. ok is false when raw is absent.
func DecodeResult(raw json.RawMessage) (text string, ok bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err == nil {
			return text, true
		}
	}
	return string(raw), true
}

// TextOf concatenates the text blocks of c, or returns its plain string.
func TextOf(c Content) string {
	if c.Blocks == nil {
		return c.Text
	}
	var out string
	for i := range c.Blocks {
		switch c.Blocks[i].Type {
		case "text", "output_text", "text_delta":
			out += c.Blocks[i].Text
		}
	}
	return out
}

// ThinkingOf concatenates the thinking blocks of c.
func ThinkingOf(c Content) string {
	var out string
	for i := range c.Blocks {
		if c.Blocks[i].Type == "thinking" {
			out += c.Blocks[i].Thinking
		}
	}
	return out
}

package stream

import "strings"

// Accumulator concatenates content deltas of one turn. Chunk boundaries are
// provider-determined, so no separator is inserted. Not safe for concurrent use.
type Accumulator struct {
	buf    strings.Builder
	chunks int
}

// Append adds text. Empty strings are ignored.
func (a *Accumulator) Append(text string) {
	if text == "" {
		return
	}
	a.buf.WriteString(text)
	a.chunks++
}

// Content returns everything appended since the last Reset.
func (a *Accumulator) Content() string { return a.buf.String() }

// ChunkCount returns the number of non-empty appends.
func (a *Accumulator) ChunkCount() int { return a.chunks }

// HasContent reports whether any non-empty chunk was appended.
func (a *Accumulator) HasContent() bool { return a.chunks > 0 }

// Reset clears content and count so the accumulator can serve another turn.
func (a *Accumulator) Reset() {
	a.buf.Reset()
	a.chunks = 0
}

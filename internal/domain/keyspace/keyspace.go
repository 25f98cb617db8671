// Package keyspace encodes free-form identifiers into tokens that are safe in
// NATS subjects and KV keys.
package keyspace

import "strings"

const hexDigits = "0123456789ABCDEF"

// Token encodes s one-to-one into the alphabet [-/_=a-zA-Z0-9].
//
// Letters, digits, '-' and '/' pass through. Every other byte becomes '_'
// followed by two upper-case hex digits, so '.', '*' and '>' never reach a
// subject. The empty string encodes as "=", which keeps every token non-empty.
func Token(s string) string {
	if s == "" {
		return "="
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if plain(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('_')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0F])
	}
	return b.String()
}

// Key encodes each part with Token and joins them with '.'.
func Key(parts ...string) string {
	tokens := make([]string, len(parts))
	for i, p := range parts {
		tokens[i] = Token(p)
	}
	return strings.Join(tokens, ".")
}

func plain(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '/':
		return true
	}
	return false
}

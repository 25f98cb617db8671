package natskv

import (
	"strings"

	"github.com/Strob0t/turnforge/internal/domain/keyspace"
)

// kvKey maps a logical key onto the NATS KV key alphabet. Colons separate
// tokens and each token is escaped with keyspace.Token, so distinct logical
// keys never share a KV key.
func kvKey(key string) string {
	return keyspace.Key(strings.Split(key, ":")...)
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken derives the digest stored in place of a raw session token.
// The digest doubles as the lookup key for the batch token cache.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

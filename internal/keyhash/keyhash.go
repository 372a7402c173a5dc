// Package keyhash derives fixed-size partition keys from arbitrary strings.
package keyhash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns a hash-distributed partition key for key. Cache keys can be
// long and share prefixes; hashing spreads them across partitions and keeps
// them under the item key size limit.
func Sum(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:16]) // 128-bit hash as hex
}

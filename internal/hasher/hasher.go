// Package hasher implements the sole content-addressing function used by
// the storage core: SHA-256 over exact chunk bytes, never over an IMAP
// envelope. Collisions are assumed impossible for correctness purposes.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the 64-character lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

package util

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Checksum is the hex BLAKE2b-256 digest of content.
func Checksum(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

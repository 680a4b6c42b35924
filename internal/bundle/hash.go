package bundle

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashHexLen is the length of a hex-encoded save hash.
const HashHexLen = 64

// fileSum returns the SHA-256 of a single file's data, written into the
// file table on encode.
func fileSum(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}

// SaveHash computes the identity hash of a save: SHA-256 over the
// concatenation of each file's data in table order. Two saves are equal for
// sync purposes exactly when their save hashes are equal.
func SaveHash(files []File) [sha256.Size]byte {
	h := sha256.New()
	for _, f := range files {
		h.Write(f.Data)
	}

	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))

	return sum
}

// SaveHashHex returns the save hash as 64 lowercase hex characters, the
// form used in state files and the sync protocol.
func SaveHashHex(files []File) string {
	sum := SaveHash(files)
	return hex.EncodeToString(sum[:])
}

// IsHexHash reports whether s is a well-formed hex-encoded save hash.
func IsHexHash(s string) bool {
	if len(s) != HashHexLen {
		return false
	}

	_, err := hex.DecodeString(s)

	return err == nil
}

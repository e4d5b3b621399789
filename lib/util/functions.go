package util

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed, used to spread generated request ids
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashString generates a hash value for a string with a seed
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution
func HashString(s string, seed uint64) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed

	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}

	return hash
}

// ParseLogID converts a textual logical-request id into its numeric form.
// Decimal numbers are used as they are, anything else (e.g. a trace id) is hashed with seed 0,
// so every node derives the same id for the same text.
func ParseLogID(s string) uint64 {
	if id, err := strconv.ParseUint(s, 10, 64); err == nil {
		return id
	}
	return HashString(s, 0)
}

// Package token derives idempotency tokens for transactional writes.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Len is the length of a token. DynamoDB accepts ClientRequestToken values of
// 1 to 36 characters.
const Len = 32

// ForWrites derives the token for the writes an event produced. The same event
// and path set always map to the same token regardless of path order, so a
// redelivered event is deduplicated by DynamoDB for the token's lifetime.
// Returns "" when eventID is empty.
func ForWrites(eventID string, paths []string) string {
	if eventID == "" {
		return ""
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(eventID))
	for _, p := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:Len/2])
}

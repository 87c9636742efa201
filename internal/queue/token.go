package queue

import (
	"crypto/rand"
	"encoding/hex"
)

const tokenBytes = 16

// NewAccessToken mints the per-ticket self-service credential. Ticket
// numbers are small and sequential, so only this token may gate a
// ticket holder's status query.
func NewAccessToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

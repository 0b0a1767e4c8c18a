package id

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/gofrs/uuid/v5"
)

// New returns a random v4 UUID. If the uuid generator fails it falls back to
// 16 random hex encoded bytes.
func New() string {
	u, err := uuid.NewV4()
	if err == nil {
		return u.String()
	}

	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "job-fallback-id"
	}
	return hex.EncodeToString(b[:])
}

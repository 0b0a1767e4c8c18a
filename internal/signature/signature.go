// Package signature signs image paths with an HMAC so that only issued paths
// are rendered. The edge filter and the origin share this implementation.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// Marker separates a path from its signature.
const Marker = "/sig="

var ErrInvalidSignature = errors.New("invalid or missing signature")

// Compute returns the unpadded base64url HMAC-SHA256 of path.
func Compute(path, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(path))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func Sign(path, secret string) string {
	return path + Marker + Compute(path, secret)
}

// Verify checks the signature appended to signed and returns the path
// without it.
func Verify(signed, secret string) (string, error) {
	start := strings.LastIndex(signed, Marker)
	if start < 0 {
		return "", ErrInvalidSignature
	}

	given := signed[start+len(Marker):]
	if given == "" {
		return "", ErrInvalidSignature
	}

	path := signed[:start]
	if !hmac.Equal([]byte(Compute(path, secret)), []byte(given)) {
		return "", ErrInvalidSignature
	}
	return path, nil
}

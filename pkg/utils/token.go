package utils

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateURLToken returns a URL-safe random token of roughly 4/3*n
// characters, where n is the raw byte count (24 or 32 recommended).
// Used for table share links.
func GenerateURLToken(n int) (string, error) {
	if n <= 0 {
		n = 24
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// RawURLEncoding avoids '=' padding and the '+' '/' characters
	return base64.RawURLEncoding.EncodeToString(b), nil
}

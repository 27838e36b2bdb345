package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const DefaultTokenBytes = 32

// RandomToken returns n random bytes hex-encoded (2n characters).
func RandomToken(n int) (string, error) {
	if n <= 0 {
		n = DefaultTokenBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

package registry

import (
	"crypto/rand"
	"fmt"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	CodeLength   = 8
	codeAttempts = 5
)

// codeGen returns CodeLength URL-safe characters. The alphabet has 64 symbols so
// masking a random byte keeps the distribution uniform.
func codeGen() (string, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("registry: read random: %w", err)
	}
	for i := range b {
		b[i] = codeAlphabet[b[i]&63]
	}
	return string(b), nil
}

// ValidCode reports whether s could have been issued by codeGen.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

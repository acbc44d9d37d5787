package session

import (
	"crypto/rand"
	"fmt"
)

// CodeAlphabet is the character set for session codes. It drops 0/O and 1/I
// so codes survive being read aloud or copied off a projector. 32 characters
// keeps the modulo below unbiased.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength gives ~1e9 possible codes, plenty relative to the number
// of concurrently open sessions.
const DefaultCodeLength = 6

// GenerateCode produces a short human-enterable code. Uniqueness among
// active sessions is enforced by the store; callers retry on collision.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i := range buf {
		buf[i] = CodeAlphabet[int(buf[i])%len(CodeAlphabet)]
	}
	return string(buf), nil
}

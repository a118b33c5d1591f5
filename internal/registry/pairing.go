package registry

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet for pairing codes: 32 symbols, without 0, 1, I and O, which are
// easily confused when read off a screen.
const (
	PairingAlphabet   = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	PairingCodeLength = 6
)

// GenerateRandomString generates a random string of a given length using the specified alphabet.
func GenerateRandomString(length int, alphabet string) (string, error) {
	bytes := make([]byte, length)
	size := big.NewInt(int64(len(alphabet)))
	for i := range length {
		num, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		bytes[i] = alphabet[num.Int64()]
	}
	return string(bytes), nil
}

// NewPairingCode returns a random 6 character pairing code.
func NewPairingCode() (string, error) {
	return GenerateRandomString(PairingCodeLength, PairingAlphabet)
}

// NormalizePairingCode upper-cases and trims user input.
func NormalizePairingCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidPairingCode reports whether code is well formed.
func ValidPairingCode(code string) bool {
	if len(code) != PairingCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(PairingAlphabet, r) {
			return false
		}
	}
	return true
}

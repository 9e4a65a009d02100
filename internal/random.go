package internal

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const (
	// DefaultOTPAlphabet is the code alphabet used when none is configured.
	DefaultOTPAlphabet = "0123456789"

	MinOTPLength = 4
	MaxOTPLength = 10
)

var (
	errInvalidOTPLength   = errors.New("invalid otp length")
	errInvalidOTPAlphabet = errors.New("invalid otp alphabet")
)

// NewOTP returns a code of length characters drawn uniformly from alphabet
// using crypto/rand.
func NewOTP(length int, alphabet string) (string, error) {
	if length < MinOTPLength || length > MaxOTPLength {
		return "", errInvalidOTPLength
	}
	if alphabet == "" {
		alphabet = DefaultOTPAlphabet
	}
	if err := ValidOTPAlphabet(alphabet); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}

	return b.String(), nil
}

// ValidOTPAlphabet accepts at least two distinct printable ASCII characters
// with no repeats. Codes are built byte by byte and travel through JSON and
// message bodies, so multi-byte or whitespace characters are rejected.
func ValidOTPAlphabet(alphabet string) error {
	if len(alphabet) < 2 {
		return errInvalidOTPAlphabet
	}
	var seen [128]bool
	for i := 0; i < len(alphabet); i++ {
		c := alphabet[i]
		if c <= ' ' || c > '~' {
			return errInvalidOTPAlphabet
		}
		if seen[c] {
			return errInvalidOTPAlphabet
		}
		seen[c] = true
	}
	return nil
}

// HasOnlyDigits reports whether s is a non-empty run of ASCII digits.
func HasOnlyDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

package password

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const (
	DefaultMinLength     = 8
	DefaultMaxSimilarity = 0.7
)

// Policy checks candidate passwords before they are hashed. The zero value
// accepts everything; use DefaultPolicy for the usual rule set.
type Policy struct {
	MinLength     int
	RejectNumeric bool
	RejectCommon  bool
	// MaxSimilarity is the character-overlap ratio against user attributes at
	// which a password is rejected. Zero disables the check.
	MaxSimilarity float64
	// CommonPasswords overrides the built-in list when non-empty.
	CommonPasswords []string
}

// DefaultPolicy returns the rule set applied at registration.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:     DefaultMinLength,
		RejectNumeric: true,
		RejectCommon:  true,
		MaxSimilarity: DefaultMaxSimilarity,
	}
}

var attrSplit = regexp.MustCompile(`\W+`)

// Validate returns one message per failed rule, in a stable order. attrs maps
// a human-readable attribute name ("username", "email address") to its value.
// An empty result means the password is acceptable.
func (p Policy) Validate(password string, attrs map[string]string) []string {
	var problems []string

	if msg := p.similarity(password, attrs); msg != "" {
		problems = append(problems, msg)
	}
	if p.MinLength > 0 && len([]rune(password)) < p.MinLength {
		problems = append(problems, fmt.Sprintf(
			"This password is too short. It must contain at least %d characters.", p.MinLength))
	}
	if p.RejectCommon && p.isCommon(password) {
		problems = append(problems, "This password is too common.")
	}
	if p.RejectNumeric && password != "" && isNumeric(password) {
		problems = append(problems, "This password is entirely numeric.")
	}

	return problems
}

func (p Policy) similarity(password string, attrs map[string]string) string {
	if p.MaxSimilarity <= 0 || password == "" {
		return ""
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	lower := strings.ToLower(password)
	for _, name := range names {
		value := strings.ToLower(attrs[name])
		if value == "" {
			continue
		}
		parts := append(attrSplit.Split(value, -1), value)
		for _, part := range parts {
			if part == "" {
				continue
			}
			if overlapRatio(lower, part) >= p.MaxSimilarity {
				return fmt.Sprintf("The password is too similar to the %s.", name)
			}
		}
	}
	return ""
}

// overlapRatio is 2*M/T where M is the size of the character multiset
// intersection and T the combined length.
func overlapRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}

	avail := make(map[rune]int, len(rb))
	for _, r := range rb {
		avail[r]++
	}
	matches := 0
	for _, r := range ra {
		if avail[r] > 0 {
			avail[r]--
			matches++
		}
	}

	return 2 * float64(matches) / float64(total)
}

func (p Policy) isCommon(password string) bool {
	candidate := strings.ToLower(strings.TrimSpace(password))
	if len(p.CommonPasswords) > 0 {
		for _, c := range p.CommonPasswords {
			if strings.ToLower(c) == candidate {
				return true
			}
		}
		return false
	}
	_, ok := commonPasswords[candidate]
	return ok
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

var commonPasswords = toSet(
	"123456", "password", "12345678", "qwerty", "123456789", "12345", "1234",
	"111111", "1234567", "dragon", "123123", "baseball", "abc123", "football",
	"monkey", "letmein", "696969", "shadow", "master", "666666", "qwertyuiop",
	"123321", "mustang", "1234567890", "michael", "654321", "superman",
	"1qaz2wsx", "7777777", "121212", "000000", "qazwsx", "123qwe", "killer",
	"trustno1", "jordan", "jennifer", "zxcvbnm", "asdfgh", "hunter", "buster",
	"soccer", "harley", "batman", "andrew", "tigger", "sunshine", "iloveyou",
	"2000", "charlie", "robert", "thomas", "hockey", "ranger", "daniel",
	"starwars", "klaster", "112233", "george", "computer", "michelle",
	"jessica", "pepper", "1111", "zxcvbn", "555555", "11111111", "131313",
	"freedom", "777777", "pass", "maggie", "159753", "aaaaaa", "ginger",
	"princess", "joshua", "cheese", "amanda", "summer", "love", "ashley",
	"nicole", "chelsea", "biteme", "matthew", "access", "yankees", "987654321",
	"dallas", "austin", "thunder", "taylor", "matrix", "mobilemail", "mom",
	"monitor", "monitoring", "montana", "moon", "moscow", "passw0rd",
	"password1", "password123", "welcome", "welcome1", "admin", "admin123",
	"administrator", "changeme", "secret", "qwerty123", "1q2w3e4r", "1q2w3e",
	"q1w2e3r4", "abcd1234", "aa123456", "iloveyou1", "login", "princess1",
	"solo", "starwars1", "whatever", "zaq12wsx", "letmein1", "football1",
)

func toSet(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

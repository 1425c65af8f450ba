// Package password provides password hashing and rule-based strength
// assessment for marketplace accounts.
package password

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 14
	MinPasswordLen = 8
	MaxPasswordLen = 72 // bcrypt input limit
)

// Strength tiers, bucketed by score/MaxScore ratio.
const (
	StrengthVeryWeak   = "very-weak"   // < 40%
	StrengthWeak       = "weak"        // < 60%
	StrengthMedium     = "medium"      // < 80%
	StrengthStrong     = "strong"      // < 100%
	StrengthVeryStrong = "very-strong" // = 100%
)

// Common weak fragments rejected as substrings, case-insensitive.
var commonFragments = []string{
	"password",
	"123456",
	"qwerty",
	"abc123",
	"letmein",
	"admin",
	"welcome",
	"iloveyou",
	"dragon",
	"monkey",
}

// Checks reports the individual predicates behind an assessment.
type Checks struct {
	MinLength    bool `json:"min_length"`
	Uppercase    bool `json:"uppercase"`
	Lowercase    bool `json:"lowercase"`
	Digit        bool `json:"digit"`
	Special      bool `json:"special"`
	NoCommon     bool `json:"no_common"`
	NoRepeats    bool `json:"no_repeats"`
	NoSequential bool `json:"no_sequential"`
}

// Assessment is the result of scoring a password.
type Assessment struct {
	Score    int    `json:"score"`
	MaxScore int    `json:"max_score"`
	Strength string `json:"strength"`
	Message  string `json:"message"`
	Checks   Checks `json:"checks"`
}

// Assess scores a password against 8 independent predicates and buckets the
// result into five tiers. Pure and deterministic; no state is kept.
func Assess(password string) Assessment {
	checks := Checks{
		MinLength:    len(password) >= MinPasswordLen,
		NoCommon:     !containsCommonFragment(password),
		NoRepeats:    !hasRepeatedRun(password, 3),
		NoSequential: !hasSequentialRun(password, 3),
	}

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			checks.Uppercase = true
		case unicode.IsLower(r):
			checks.Lowercase = true
		case unicode.IsDigit(r):
			checks.Digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			checks.Special = true
		}
	}

	score := 0
	for _, ok := range []bool{
		checks.MinLength, checks.Uppercase, checks.Lowercase, checks.Digit,
		checks.Special, checks.NoCommon, checks.NoRepeats, checks.NoSequential,
	} {
		if ok {
			score++
		}
	}

	const maxScore = 8
	strength := bucket(score, maxScore)

	return Assessment{
		Score:    score,
		MaxScore: maxScore,
		Strength: strength,
		Message:  message(strength),
		Checks:   checks,
	}
}

// bucket maps score/max to a tier. Boundary values land in the upper tier:
// exactly 60% is medium, exactly 80% is strong, only a perfect score is
// very-strong.
func bucket(score, max int) string {
	ratio := float64(score) / float64(max)
	switch {
	case ratio < 0.4:
		return StrengthVeryWeak
	case ratio < 0.6:
		return StrengthWeak
	case ratio < 0.8:
		return StrengthMedium
	case ratio < 1.0:
		return StrengthStrong
	default:
		return StrengthVeryStrong
	}
}

func message(strength string) string {
	switch strength {
	case StrengthVeryWeak:
		return "Very weak - this password is easily guessed"
	case StrengthWeak:
		return "Weak - add more character variety"
	case StrengthMedium:
		return "Medium - acceptable, but could be stronger"
	case StrengthStrong:
		return "Strong - good password"
	default:
		return "Very strong - excellent password"
	}
}

func containsCommonFragment(password string) bool {
	lower := strings.ToLower(password)
	for _, frag := range commonFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// hasRepeatedRun reports whether any rune repeats n or more times in a row.
func hasRepeatedRun(password string, n int) bool {
	runes := []rune(password)
	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// hasSequentialRun reports whether the password contains n consecutively
// ascending letters or digits ("abc", "123"), case-insensitive.
func hasSequentialRun(password string, n int) bool {
	runes := []rune(strings.ToLower(password))
	run := 1
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		sequential := (isLowerAlnum(prev) && isLowerAlnum(cur) && cur == prev+1) &&
			(unicode.IsDigit(prev) == unicode.IsDigit(cur))
		if sequential {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

func isLowerAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// Hash returns the bcrypt hash of a password.
func Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if len(password) > MaxPasswordLen {
		return "", fmt.Errorf("password must be at most %d bytes", MaxPasswordLen)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Compare checks a password against its bcrypt hash.
func Compare(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

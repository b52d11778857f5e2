package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SpecialCharacters is the set counted by Policy.RequireSpecial.
const SpecialCharacters = "!@#$%^&*()_+-=[]{}|;:,.<>?"

// ErrWeakPassword is matched by every *PolicyError.
var ErrWeakPassword = errors.New("password does not satisfy policy")

// Policy describes the minimum strength of a new secret.
// MinLength counts characters; MaxLength counts bytes because bcrypt limits input bytes.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
	Banned         []string
}

// PolicyError lists every rule a secret failed.
type PolicyError struct {
	Reasons []string
}

func (e *PolicyError) Error() string {
	return "weak password: " + strings.Join(e.Reasons, ", ")
}

func (e *PolicyError) Is(target error) bool {
	return target == ErrWeakPassword
}

// DefaultPolicy returns the policy applied when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		MaxLength:      MaxInputBytes,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
		Banned:         []string{"password", "123456", "qwerty", "admin", "user", "login"},
	}
}

// Check returns nil or a *PolicyError.
func (p Policy) Check(secret string) error {
	var reasons []string

	if p.MinLength > 0 && utf8.RuneCountInString(secret) < p.MinLength {
		reasons = append(reasons, "too_short")
	}
	if p.MaxLength > 0 && len(secret) > p.MaxLength {
		reasons = append(reasons, "too_long")
	}

	var upper, lower, digit, special bool
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(SpecialCharacters, r):
			special = true
		}
	}
	if p.RequireUpper && !upper {
		reasons = append(reasons, "missing_uppercase")
	}
	if p.RequireLower && !lower {
		reasons = append(reasons, "missing_lowercase")
	}
	if p.RequireDigit && !digit {
		reasons = append(reasons, "missing_digit")
	}
	if p.RequireSpecial && !special {
		reasons = append(reasons, "missing_special")
	}

	for _, banned := range p.Banned {
		if strings.EqualFold(secret, banned) {
			reasons = append(reasons, "common_password")
			break
		}
	}

	if len(reasons) == 0 {
		return nil
	}
	return &PolicyError{Reasons: reasons}
}

// Package validate holds the predicates and sanitizers applied to every field that
// arrives from outside the trust boundary. Nothing here performs I/O.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxSanitizedLength = 1000
	maxEmailLength     = 254
)

// Roles accepted by the platform.
const (
	RoleClient       = "client"
	RoleProfessional = "professional"
	RoleOwner        = "owner"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	uidPattern   = regexp.MustCompile(`^[a-zA-Z0-9]{28}$`)

	stripChars = strings.NewReplacer("<", "", ">", "", "'", "", `"`, "", "{", "", "}", "")
)

// SanitizeString removes markup and template delimiters, trims the result and caps it
// at 1000 characters.
func SanitizeString(s string) string {
	s = strings.TrimSpace(stripChars.Replace(s))
	if utf8.RuneCountInString(s) <= maxSanitizedLength {
		return s
	}
	return string([]rune(s)[:maxSanitizedLength])
}

// SanitizeValue is SanitizeString for loosely typed payload values. Anything that is
// not a string sanitizes to "".
func SanitizeValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return SanitizeString(s)
}

// IsValidEmail reports whether s looks like local@domain.tld and fits the RFC 5321 bound.
func IsValidEmail(s string) bool {
	if s == "" || len(s) > maxEmailLength {
		return false
	}
	return emailPattern.MatchString(s)
}

// IsValidCPF checks the digit count only; check digits are not verified.
func IsValidCPF(s string) bool {
	return len(digits(s)) == 11
}

// IsValidCNPJ checks the digit count only; check digits are not verified.
func IsValidCNPJ(s string) bool {
	return len(digits(s)) == 14
}

// IsValidPhone accepts 10 to 15 digits once punctuation is removed.
func IsValidPhone(s string) bool {
	n := len(digits(s))
	return n >= 10 && n <= 15
}

// IsValidRole reports whether s is one of client, professional or owner.
func IsValidRole(s string) bool {
	switch s {
	case RoleClient, RoleProfessional, RoleOwner:
		return true
	default:
		return false
	}
}

// IsValidUID matches the identity provider's 28 character alphanumeric ids.
func IsValidUID(s string) bool {
	return uidPattern.MatchString(s)
}

// IsValidStringLength checks min <= len(s) <= max, counting characters.
func IsValidStringLength(s string, min, max int) bool {
	n := utf8.RuneCountInString(s)
	return n >= min && n <= max
}

func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

package domain

import (
	"strings"
	"unicode/utf8"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

// PasswordPolicyMessage is shown when a password fails CheckPassword.
const PasswordPolicyMessage = "Please add at least one capital letter, one small letter and password must be 6 character"

// CheckPassword enforces the registration password policy: at least one ASCII
// lowercase letter, at least one ASCII uppercase letter and at least
// MinPasswordLength characters, on a single line.
func CheckPassword(password string) error {
	var lower, upper bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		}
	}

	switch {
	case strings.ContainsAny(password, "\n\r\u2028\u2029"):
		return &ValidationError{Field: "password", Message: "must not contain line breaks"}
	case utf8.RuneCountInString(password) < MinPasswordLength:
		return &ValidationError{Field: "password", Message: "must be at least 6 characters"}
	case !lower:
		return &ValidationError{Field: "password", Message: "must contain a lowercase letter"}
	case !upper:
		return &ValidationError{Field: "password", Message: "must contain an uppercase letter"}
	}
	return nil
}

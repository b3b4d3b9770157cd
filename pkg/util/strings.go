package util

import (
	"fmt"
	"regexp"
)

var (
	usernameRegexp = regexp.MustCompile(`^[A-Za-z0-9@._-]+$`)
	nameRegexp     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
)

// ValidateUsername enforces the account naming rules: at least three
// characters from [A-Za-z0-9@._-].
func ValidateUsername(username string) error {
	if len(username) < 3 {
		return fmt.Errorf("username must be at least 3 characters: %w", ErrValidationFailed)
	}
	if !usernameRegexp.MatchString(username) {
		return fmt.Errorf("username may only contain letters, digits, '@', '.', '_', '-': %w", ErrValidationFailed)
	}
	return nil
}

// ValidateResourceName enforces naming rules for labs, nodes, and manifest
// bridges: leading alphanumeric, then alphanumerics, '_' or '-', at most 32
// characters. Names feed into domain, container, and directory names.
func ValidateResourceName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name must not be empty: %w", kind, ErrValidationFailed)
	}
	if len(name) > 32 {
		return fmt.Errorf("%s name %q exceeds 32 characters: %w", kind, name, ErrValidationFailed)
	}
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%s name %q may only contain letters, digits, '_', '-': %w", kind, name, ErrValidationFailed)
	}
	return nil
}

// SanitizeName replaces non-alphanumeric chars with hyphens for config key names.
func SanitizeName(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' {
			result = append(result, c)
		} else {
			result = append(result, '-')
		}
	}
	return string(result)
}

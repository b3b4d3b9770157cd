// Package auth covers credentials and sessions: Argon2id password
// hashing, HS256 JWT issuance and validation, and the cookie/header token
// transports. Resource-level authorization lives in the server dispatcher.
package auth

import (
	"fmt"

	"github.com/alexedwards/argon2id"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// MinPasswordLength is enforced on account creation and password changes.
const MinPasswordLength = 8

// HashPassword derives an Argon2id hash with the library defaults.
func HashPassword(plain string) (string, error) {
	if len(plain) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters: %w",
			MinPasswordLength, util.ErrValidationFailed)
	}
	hash, err := argon2id.CreateHash(plain, argon2id.DefaultParams)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// VerifyPassword checks a plaintext password against a stored hash in
// constant time. A mismatch returns ErrPermissionDenied.
func VerifyPassword(plain, hash string) error {
	match, err := argon2id.ComparePasswordAndHash(plain, hash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return fmt.Errorf("wrong password: %w", util.ErrPermissionDenied)
	}
	return nil
}

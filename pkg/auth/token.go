package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// Session lifetimes. "Remember me" logins get the longer one.
const (
	TokenTTL         = 7 * 24 * time.Hour
	TokenTTLRemember = 30 * 24 * time.Hour
)

// Sentinel token-validation failures, distinguished so the RPC layer can
// map them to separate wire codes.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
)

// Claims is the JWT payload sherpa issues.
type Claims struct {
	IsAdmin bool `json:"is_admin"`
	jwt.RegisteredClaims
}

// AuthContext identifies a validated caller. It is passed to every
// privileged operation.
type AuthContext struct {
	Username string
	IsAdmin  bool
}

// Issuer signs and validates tokens with a process-wide secret.
type Issuer struct {
	secret []byte
}

// NewIssuer returns an issuer for the given secret.
func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is empty: %w", util.ErrValidationFailed)
	}
	return &Issuer{secret: []byte(secret)}, nil
}

// Issue returns a signed token for the user plus its expiry time.
func (i *Issuer) Issue(username string, isAdmin, remember bool) (string, time.Time, error) {
	ttl := TokenTTL
	if remember {
		ttl = TokenTTLRemember
	}
	now := time.Now()
	exp := now.Add(ttl)

	claims := Claims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, exp, nil
}

// Validate parses and verifies a token, returning the caller identity.
func (i *Issuer) Validate(token string) (*AuthContext, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	case !parsed.Valid || claims.Subject == "":
		return nil, ErrTokenMalformed
	}
	return &AuthContext{Username: claims.Subject, IsAdmin: claims.IsAdmin}, nil
}

// Authorize implements the owner-or-admin check every lab-scoped method
// applies before doing work.
func (a *AuthContext) Authorize(owner string) error {
	if a.IsAdmin || a.Username == owner {
		return nil
	}
	return fmt.Errorf("user %s does not own this lab: %w", a.Username, util.ErrPermissionDenied)
}

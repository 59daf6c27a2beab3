// Package auth provides session tokens, survey access tokens, password
// hashing and the HTTP middleware that turns a session token into an
// explicit Session on the request context.
//
// Two different tokens exist:
//
//   - Session tokens (this file) are HS256 JWTs issued at login. They carry
//     the user ID in "sub" and the role in a private claim, and are sent on
//     every authenticated API request.
//   - Survey access tokens (accesstoken.go) are opaque random strings minted
//     on approval, stored on the user row and embedded in the emailed link.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/survey-access/internal/model"
)

const issuer = "survey-access"

// DefaultSessionTTL matches the 24h login session of the survey frontend.
const DefaultSessionTTL = 24 * time.Hour

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret and session
// lifetime. A zero ttl falls back to DefaultSessionTTL.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// claims is the JWT payload: registered claims plus the user's role.
type claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Generate creates and signs a session token for the user.
func (s *TokenService) Generate(userID string, role model.Role) (string, error) {
	return s.GenerateWithDuration(userID, role, s.ttl)
}

// GenerateWithDuration creates a token with a custom expiry duration.
// Used in tests to mint already-expired tokens.
func (s *TokenService) GenerateWithDuration(userID string, role model.Role, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a session token and returns the Session it
// describes.
//
// Checks: HS256 signature, issuer, expiry present and in the future, a
// non-empty subject and a known role. jwt.WithValidMethods rejects "none"
// and other algorithm substitutions.
func (s *TokenService) Validate(tokenStr string) (Session, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{}, fmt.Errorf("auth: token expired")
		}
		return Session{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Session{}, fmt.Errorf("auth: invalid token claims")
	}

	if c.Subject == "" {
		return Session{}, fmt.Errorf("auth: token has no subject")
	}
	if !c.Role.Valid() {
		return Session{}, fmt.Errorf("auth: token has unknown role %q", c.Role)
	}

	return Session{UserID: c.Subject, Role: c.Role}, nil
}

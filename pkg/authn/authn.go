// Package authn is the authentication collaborator: it exchanges a bearer
// token for a caller's user_id and role, or rejects it. Tokens are HS256
// JWTs carrying both claims directly — there is no separate identity
// lookup round trip.
package authn

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the caller's authorization role. Engineers see only their own
// commands; admins see everything and are exempt from rate limiting.
type Role string

const (
	RoleEngineer Role = "engineer"
	RoleAdmin    Role = "admin"
)

// ErrInvalidToken is returned for any token that fails verification:
// malformed, expired, wrong signature, or missing required claims. The
// caller never learns which — the HTTP/WebSocket layer maps all of these
// to the same 401/1008 outcome.
var ErrInvalidToken = errors.New("authn: invalid token")

// Claims is the JWT payload this system issues and verifies.
type Claims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// Verifier verifies bearer tokens against a shared HS256 secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier using secret as the HS256 signing key.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyToken parses and validates tokenString, returning the caller's
// user_id and role on success. Called from both the gin auth middleware
// and directly from the WebSocket handshake, since the socket endpoint
// carries its token in a query parameter rather than a header.
func (v *Verifier) VerifyToken(tokenString string) (userID string, role Role, err error) {
	if tokenString == "" {
		return "", "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("%w: unparseable claims", ErrInvalidToken)
	}
	if claims.UserID == "" {
		return "", "", fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}
	if claims.Role != RoleEngineer && claims.Role != RoleAdmin {
		return "", "", fmt.Errorf("%w: unrecognized role %q", ErrInvalidToken, claims.Role)
	}

	return claims.UserID, claims.Role, nil
}

// IssueToken creates a signed token for (userID, role), valid for ttl.
// Used by tests and by any operator tooling that mints tokens out of band —
// this system has no login endpoint of its own; identity issuance is an
// external collaborator's responsibility.
func (v *Verifier) IssueToken(userID string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Package auth issues and verifies operator session tokens and provides the
// gin middleware that binds a request to its acting operator.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the JWT claims carried by an operator session token. Actor is
// the operator's handle, the identity stamped on audit events and proposal
// signatures.
type Claims struct {
	jwt.RegisteredClaims
	Actor string `json:"actor"`
	Role  string `json:"role"`
}

// TokenIssuer issues and verifies session JWTs using an HMAC secret.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	secret — HMAC signing key shared by all service instances.
//	issuer — the "iss" claim value.
//	ttl    — token lifetime (default: 12 hours).
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = 12 * time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl}
}

// Issue creates a signed session token for an operator.
func (t *TokenIssuer) Issue(operatorID uuid.UUID, actor, role string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   operatorID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Actor: actor,
		Role:  role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify session token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token claims")
	}
	if claims.Actor == "" {
		return nil, fmt.Errorf("session token has no actor")
	}
	return claims, nil
}

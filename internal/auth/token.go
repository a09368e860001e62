// Package auth issues and verifies the bearer tokens that identify volunteers
// and administrators.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"relief-service/internal/clock"
	"relief-service/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the identity inside a token.
type Claims struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

type Tokens struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewTokens(secret string, ttl time.Duration, clk clock.Clock) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, clock: clk}
}

// Issue signs a token for the identity.
func (t *Tokens) Issue(ident models.Identity) (string, error) {
	if ident.UserID == "" || !ident.Role.Valid() {
		return "", fmt.Errorf("cannot issue token for %+v", ident)
	}
	now := t.clock.Now()
	claims := Claims{
		UserID: ident.UserID,
		Role:   ident.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ident.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the identity it carries.
func (t *Tokens) Verify(tokenString string) (models.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" || !claims.Role.Valid() {
		return models.Identity{}, ErrInvalidToken
	}
	return models.Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

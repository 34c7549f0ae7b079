// Package tokens issues and validates the bearer tokens hardware agents use
// after registration.
package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identifies the hardware unit a token was issued to.
type Claims struct {
	HardwareID string `json:"hardware_id"`
	jwt.RegisteredClaims
}

type TokenGenerator struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenGenerator(secret string, ttl time.Duration) *TokenGenerator {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &TokenGenerator{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// GenerateAgentToken issues a signed token for a registered hardware unit.
func (tg *TokenGenerator) GenerateAgentToken(hardwareID string) (string, error) {
	claims := Claims{
		HardwareID: hardwareID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tg.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "cartops-gateway",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tg.secret)
}

// ValidateAgentToken parses and verifies a token, returning its claims.
func (tg *TokenGenerator) ValidateAgentToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return tg.secret, nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.HardwareID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

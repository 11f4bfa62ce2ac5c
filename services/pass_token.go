// services/pass_token.go
package services

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PassTokens mints the per-pass authenticationToken embedded in pass.json.
// Devices send it back as "ApplePass <token>".
type PassTokens struct {
	Secret []byte
}

func NewPassTokens(secret string) *PassTokens {
	return &PassTokens{Secret: []byte(secret)}
}

// Mint returns an HS256 JWT whose subject is the serial number. Without a
// secret it falls back to 32 random bytes, which still satisfies the stored
// token comparison.
func (p *PassTokens) Mint(serial string) (string, error) {
	if len(p.Secret) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("random pass token: %w", err)
		}
		return hex.EncodeToString(buf), nil
	}
	claims := jwt.RegisteredClaims{
		Subject:  serial,
		ID:       uuid.NewString(),
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.Secret)
}

// Authenticate compares the presented token with the stored one in constant
// time and, when a secret is configured, checks the JWT belongs to serial.
func (p *PassTokens) Authenticate(serial, presented, stored string) bool {
	if presented == "" || stored == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) != 1 {
		return false
	}
	if len(p.Secret) == 0 {
		return true
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(presented, claims, func(*jwt.Token) (any, error) {
		return p.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return false
	}
	return claims.Subject == serial
}

package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrBadToken is returned for tokens that fail verification
var ErrBadToken = errors.New("invalid token")

// Tokens issues and verifies the HS256 tokens clients present as the
// password half of their Basic credentials.
type Tokens struct {
	secret []byte
	ttl    time.Duration // zero issues tokens that never expire
	now    func() time.Time
}

// NewTokens creates a token authority for secret
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a token whose subject is id
func (t *Tokens) Issue(id string) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:  id,
		IssuedAt: jwt.NewNumericDate(now),
		ID:       uuid.NewString(),
	}
	if t.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature and expiry and that it names id
func (t *Tokens) Verify(id, token string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if claims.Subject != id {
		return fmt.Errorf("%w: issued to another user", ErrBadToken)
	}
	return nil
}

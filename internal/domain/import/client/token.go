package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token sent with every backend request
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("backend token is empty")
	}
	return string(t), nil
}

// JWTSource mints short-lived HS256 tokens and reuses each one until it is
// close to expiry.
type JWTSource struct {
	secret  []byte
	subject string
	issuer  string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewJWTSource creates a token source signing with secret
func NewJWTSource(secret, subject string, ttl time.Duration) *JWTSource {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &JWTSource{
		secret:  []byte(secret),
		subject: subject,
		issuer:  "tenoris-import",
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *JWTSource) Token(context.Context) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	// Refresh a minute early so a token never expires mid-request
	if s.cached != "" && now.Add(time.Minute).Before(s.expires) {
		return s.cached, nil
	}

	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   s.subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.cached = signed
	s.expires = expires
	return signed, nil
}

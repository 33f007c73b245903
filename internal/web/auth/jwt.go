// Package auth issues and verifies the bearer tokens that identify actors
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSubject is returned for tokens without a sub claim
var ErrNoSubject = errors.New("token has no subject")

// AuthService signs and validates HS256 actor tokens
type AuthService struct {
	secretKey string
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewAuthService creates a new AuthService with the given secret key and token TTL
func NewAuthService(secretKey string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		secretKey: secretKey,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

// GenerateToken issues a token whose subject is actor
func (s *AuthService) GenerateToken(actor string) (string, error) {
	if actor == "" {
		return "", ErrNoSubject
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:  actor,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if s.tokenTTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.tokenTTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secretKey))
}

// ValidateToken verifies a token and returns its subject
func (s *AuthService) ValidateToken(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, s.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}

func (s *AuthService) key(*jwt.Token) (interface{}, error) {
	return []byte(s.secretKey), nil
}

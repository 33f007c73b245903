package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidate(t *testing.T) {
	service := NewAuthService("test-secret-key", time.Hour)

	token, err := service.GenerateToken("ada")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if len(strings.Split(token, ".")) != 3 {
		t.Errorf("token %q is not a JWT", token)
	}

	actor, err := service.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if actor != "ada" {
		t.Errorf("ValidateToken() = %q, want ada", actor)
	}
}

func TestGenerateTokenRequiresActor(t *testing.T) {
	service := NewAuthService("k", time.Hour)
	if _, err := service.GenerateToken(""); !errors.Is(err, ErrNoSubject) {
		t.Errorf("GenerateToken(\"\") error = %v, want ErrNoSubject", err)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	service := NewAuthService("right", time.Hour)

	wrongKey, _ := NewAuthService("wrong", time.Hour).GenerateToken("ada")

	expiredService := NewAuthService("right", time.Minute)
	expiredService.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _ := expiredService.GenerateToken("ada")

	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("right"))
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "ada"}).SignedString([]byte("right"))

	tests := map[string]string{
		"garbage":    "not-a-token",
		"wrong key":  wrongKey,
		"expired":    expired,
		"no subject": noSub,
		"wrong alg":  hs512,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := service.ValidateToken(token); err == nil {
				t.Error("ValidateToken() accepted an invalid token")
			}
		})
	}
}

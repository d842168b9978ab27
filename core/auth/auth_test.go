package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	token, err := GenerateToken(secret, "prov", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Provider != "prov" {
		t.Fatalf("provider = %q", claims.Provider)
	}
}

func TestTokenRejected(t *testing.T) {
	token, err := GenerateToken([]byte("a"), "prov", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken([]byte("b"), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret = %v", err)
	}
	expired, _ := GenerateToken([]byte("a"), "prov", -time.Minute)
	if _, err := ParseToken([]byte("a"), expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired = %v", err)
	}
}

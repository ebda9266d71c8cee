// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, invalid tokens, and expired tokens

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTVerifier_ValidToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	subject := "agent-123"
	token, err := verifier.Generate(subject, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if got != subject {
		t.Errorf("Verify() = %q, want %q", got, subject)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt-token",
		},
		{
			name:  "malformed JWT",
			token: "header.payload.signature",
		},
		{
			name: "wrong secret",
			token: func() string {
				otherVerifier := NewJWTVerifier([]byte("different-secret"))
				token, _ := otherVerifier.Generate("agent-123", time.Hour)
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if err == nil {
				t.Error("Verify() should have returned an error")
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	token, err := verifier.Generate("agent-123", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	token, err := verifier.Generate("", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
	}
}

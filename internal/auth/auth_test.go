package auth

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidate(t *testing.T) {
	SetSecret("test-secret")
	defer SetSecret("test-secret")

	token, err := GenerateToken("user-42", []string{"Admin", "author", "admin", ""}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != issuer {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if !slices.Contains(claims.Roles, "admin") || !slices.Contains(claims.Roles, "author") {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Fatal("expected a token id")
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	SetSecret("test-secret")

	if _, err := GenerateToken("  ", []string{"author"}, time.Minute); err == nil {
		t.Fatal("expected error for blank user")
	}
	if _, err := GenerateToken("user-1", []string{"author"}, 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestParseRejectsGarbageAndTampering(t *testing.T) {
	SetSecret("test-secret")

	for _, tok := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		if _, err := ParseAndValidate(tok); err != ErrInvalidToken {
			t.Fatalf("ParseAndValidate(%q): expected ErrInvalidToken, got %v", tok, err)
		}
	}

	token, err := GenerateToken("user-1", []string{"author"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + parts[2] + "A"
	if _, err := ParseAndValidate(tampered); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for tampered signature, got %v", err)
	}
}

func TestParseRejectsExpiredAndForeignIssuer(t *testing.T) {
	SetSecret("test-secret")

	sign := func(claims Claims) string {
		t.Helper()
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := tok.SignedString([]byte("test-secret"))
		if err != nil {
			t.Fatal(err)
		}
		return signed
	}

	past := time.Now().UTC().Add(-time.Hour)
	expired := sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "user-1",
		IssuedAt:  jwt.NewNumericDate(past),
		ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
	}})
	if _, err := ParseAndValidate(expired); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	now := time.Now().UTC()
	foreign := sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "user-1",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}})
	if _, err := ParseAndValidate(foreign); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for foreign issuer, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	SetSecret("")
	defer SetSecret("test-secret")

	if _, err := GenerateToken("user-1", []string{"author"}, time.Minute); err != errMissingSecret {
		t.Fatalf("expected errMissingSecret, got %v", err)
	}
}

package pairux

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := gojwt.MapClaims{"sub": sub, "email": sub + "@example.com"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestParseTokenClaims(t *testing.T) {
	exp := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	claims, err := ParseTokenClaims(signedToken(t, "u1", exp))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, claims.Subject, "u1")
	assert.Equal(t, claims.Email, "u1@example.com")
	assert.Equal(t, claims.ExpiresAt.Equal(exp), true)

	assert.Equal(t, claims.Expired(exp.Add(-time.Second)), false)
	assert.Equal(t, claims.Expired(exp), true)

	_, err = ParseTokenClaims("opaque-token")
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestValidateAccessToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"empty", "", true},
		{"opaque", "sk-live-abc", false},
		{"valid jwt", signedToken(t, "u1", now.Add(time.Hour)), false},
		{"no expiry", signedToken(t, "u1", time.Time{}), false},
		{"expired jwt", signedToken(t, "u1", now.Add(-time.Hour)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAccessToken(tt.token, now)
			if tt.wantErr {
				if !errors.Is(err, ErrAuth) {
					t.Fatalf("expected auth error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestTokenStore(t *testing.T) {
	s := NewTokenStore(Credentials{})
	if _, err := s.Credentials(); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}

	s.Set(Credentials{AccessToken: "t1", UserID: "u1", Username: "ada"})
	s.SetAccessToken("t2")
	creds, err := s.Credentials()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, creds, Credentials{AccessToken: "t2", UserID: "u1", Username: "ada"})

	s.Clear()
	assert.Equal(t, s.Current(), Credentials{})
}

package pairux

import (
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ============================================================================
// Credentials
// ============================================================================

// Credentials identify the signed-in user to the realtime backend.
type Credentials struct {
	AccessToken string
	UserID      string
	Username    string
}

// TokenSource supplies the current credentials. Implementations return an
// auth error when no user is signed in.
type TokenSource interface {
	Credentials() (Credentials, error)
}

// TokenStore is a mutable, concurrency-safe TokenSource.
type TokenStore struct {
	mu    sync.RWMutex
	creds Credentials
}

// NewTokenStore creates a store holding creds.
func NewTokenStore(creds Credentials) *TokenStore {
	return &TokenStore{creds: creds}
}

func (s *TokenStore) Credentials() (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds.AccessToken == "" {
		return Credentials{}, authError("not authenticated")
	}
	return s.creds, nil
}

// Current returns the stored credentials even when no token is set.
func (s *TokenStore) Current() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

func (s *TokenStore) Set(creds Credentials) {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
}

// SetAccessToken replaces only the token, keeping the user identity.
func (s *TokenStore) SetAccessToken(token string) {
	s.mu.Lock()
	s.creds.AccessToken = token
	s.mu.Unlock()
}

func (s *TokenStore) Clear() {
	s.Set(Credentials{})
}

// ============================================================================
// Token Claims
// ============================================================================

// TokenClaims are the fields read from an access token. The signature is
// not verified; the backend does that on join.
type TokenClaims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// ParseTokenClaims reads the claims of a JWT access token.
func ParseTokenClaims(token string) (TokenClaims, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return TokenClaims{}, newError(KindAuth, err, "parse access token")
	}

	claims := parsed.Claims.(gojwt.MapClaims)

	var tc TokenClaims
	if sub, err := claims.GetSubject(); err == nil {
		tc.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		tc.Email = email
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		tc.ExpiresAt = exp.Time
	}
	return tc, nil
}

// Expired reports whether the token carries an expiry at or before now.
func (c TokenClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ValidateAccessToken rejects an empty token and a JWT that has already
// expired. Opaque tokens are passed through.
func ValidateAccessToken(token string, now time.Time) error {
	if token == "" {
		return authError("access token required")
	}
	claims, err := ParseTokenClaims(token)
	if err != nil {
		return nil
	}
	if claims.Expired(now) {
		return authError("access token expired at %s", claims.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

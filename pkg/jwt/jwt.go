package jwt

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenStoreInterface holds the temporary access token used by the HTTP uplink path.
type TokenStoreInterface interface {
	SaveToken(token, endpoint string) error
	GetToken() (token, endpoint string)
	ExpiresAt() (time.Time, bool)
	IsTokenValid() bool
}

// TokenStore keeps the last access token pushed by the cloud. Tokens are opaque to
// the device; when a token happens to be a JWT its exp claim bounds its lifetime.
type TokenStore struct {
	mu        sync.RWMutex
	token     string
	endpoint  string
	expiresAt time.Time
	now       func() time.Time
}

// NewTokenStore returns an empty TokenStore.
func NewTokenStore() *TokenStore {
	return &TokenStore{now: time.Now}
}

// SaveToken replaces the current token and endpoint.
func (ts *TokenStore) SaveToken(token, endpoint string) error {
	if token == "" {
		return errors.New("access token is empty")
	}
	exp, _ := TokenExpiry(token)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = token
	ts.endpoint = endpoint
	ts.expiresAt = exp
	return nil
}

// GetToken returns the stored token and endpoint. The token is empty once it expired.
func (ts *TokenStore) GetToken() (string, string) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if !ts.validLocked() {
		return "", ts.endpoint
	}
	return ts.token, ts.endpoint
}

// ExpiresAt reports the exp claim of the stored token, if it carried one.
func (ts *TokenStore) ExpiresAt() (time.Time, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.expiresAt, !ts.expiresAt.IsZero()
}

// IsTokenValid reports whether a usable token is stored.
func (ts *TokenStore) IsTokenValid() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.validLocked()
}

func (ts *TokenStore) validLocked() bool {
	if ts.token == "" {
		return false
	}
	return ts.expiresAt.IsZero() || ts.now().Before(ts.expiresAt)
}

// TokenExpiry extracts the exp claim without verifying the signature; the device
// holds no key for the cloud's tokens.
func TokenExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := (&jwt.Parser{}).ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("JWT expiration (exp) claim missing")
	}
	return claims.ExpiresAt.Time, nil
}

package session

import (
	"strings"
	"time"
)

// DefaultTokenType is used when a provider does not report one.
const DefaultTokenType = "Bearer"

// TokenBundle is the OAuth credential material for one (session, provider) pair.
// A zero Expiry means the expiry is unknown.
type TokenBundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry,omitzero"`
	Scope        string    `json:"scope,omitempty"`
	IssuedAt     time.Time `json:"issued_at,omitzero"`
}

// Validate reports ErrInvalidToken for bundles that cannot produce a header.
func (b *TokenBundle) Validate() error {
	if b == nil || strings.TrimSpace(b.AccessToken) == "" {
		return ErrInvalidToken
	}
	return nil
}

// Type returns the token type, DefaultTokenType when unset. Providers that answer
// "bearer" are normalized to the canonical casing.
func (b *TokenBundle) Type() string {
	t := strings.TrimSpace(b.TokenType)
	if t == "" || strings.EqualFold(t, DefaultTokenType) {
		return DefaultTokenType
	}
	return t
}

// Expired reports whether the token expires within margin of now. Unknown expiry is
// never expired.
func (b *TokenBundle) Expired(now time.Time, margin time.Duration) bool {
	if b.Expiry.IsZero() {
		return false
	}
	return !now.Add(margin).Before(b.Expiry)
}

// Refreshable reports whether a refresh token is present.
func (b *TokenBundle) Refreshable() bool {
	return b.RefreshToken != ""
}

// AuthorizationHeader returns "<token_type> <access_token>".
func (b *TokenBundle) AuthorizationHeader() string {
	return b.Type() + " " + b.AccessToken
}

// Clone returns a copy so callers cannot mutate stored state.
func (b *TokenBundle) Clone() *TokenBundle {
	if b == nil {
		return nil
	}
	cp := *b
	return &cp
}

// Equal compares the credential fields.
func (b *TokenBundle) Equal(o *TokenBundle) bool {
	if b == nil || o == nil {
		return b == o
	}
	return b.AccessToken == o.AccessToken &&
		b.RefreshToken == o.RefreshToken &&
		b.TokenType == o.TokenType &&
		b.Expiry.Equal(o.Expiry) &&
		b.Scope == o.Scope
}

// TokenKey is the state key a provider's bundle is stored under.
func TokenKey(provider string) string {
	return provider + "_oauth_token"
}

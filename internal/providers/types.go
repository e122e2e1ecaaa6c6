package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Adapter defines the interface all fitness provider adapters implement
type Adapter interface {
	// Name returns the unique identifier for this provider
	Name() string

	// Metadata returns the provider's static OAuth characteristics
	Metadata() Metadata

	// AuthorizationURL builds the provider authorize URL with PKCE parameters
	AuthorizationURL(state, codeChallenge, redirectURI string) string

	// ExchangeCode exchanges an authorization code plus PKCE verifier for tokens
	ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*Token, error)

	// Refresh exchanges a refresh token for a new token pair
	Refresh(ctx context.Context, refreshToken string) (*Token, error)

	// Revoke invalidates the token at the provider; best effort on disconnect
	Revoke(ctx context.Context, accessToken string) error
}

// Metadata describes a provider's OAuth endpoints and refresh semantics.
type Metadata struct {
	Name          string
	AuthURL       string
	TokenURL      string
	RevokeURL     string
	DefaultScopes []string
	// ScopeSeparator joins DefaultScopes in the authorize URL; Strava uses
	// commas, everyone else spaces.
	ScopeSeparator string
	// RotatesRefreshToken records whether the provider issues a new refresh
	// token on every refresh. The coordinator consults this to decide what to
	// persist when a refresh response omits the refresh token.
	RotatesRefreshToken bool
}

// Token is a plaintext token pair as returned by a provider endpoint.
// Expiry is always an absolute UTC instant, converted from the provider's
// expires_in at receive time.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       string
}

// Credentials holds per-provider OAuth client configuration.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Error is a classified failure from a provider endpoint.
type Error struct {
	Provider   string
	StatusCode int
	Body       string
	// Transient marks timeouts and 5xx responses, eligible for one bounded
	// retry. Permanent failures (400/401 invalid_grant) must never be retried.
	Transient bool
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: request failed: %s", e.Provider, e.Body)
	}
	return fmt.Sprintf("%s: token endpoint returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsTransient reports whether err is a provider failure worth retrying.
func IsTransient(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Transient
	}
	return false
}

// IsPermanent reports whether err is a provider rejection of the grant
// itself (invalid_grant and friends). The refresh token is dead and the
// connection must be marked needs_reauth.
func IsPermanent(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return !perr.Transient
	}
	return false
}

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// tokenEndpointTimeout bounds every provider token call so a hung endpoint
// cannot hold the refresh lock indefinitely.
const tokenEndpointTimeout = 10 * time.Second

// tokenResponse covers the union of the providers' token payloads. Strava
// returns an absolute expires_at; everyone else returns expires_in.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	Scope        string `json:"scope"`
}

// tokenClient is the shared HTTP plumbing for provider token endpoints: a
// bounded-timeout client plus a per-provider limiter that paces calls to the
// endpoint so a refresh storm cannot trip provider-side abuse detection.
type tokenClient struct {
	provider   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newTokenClient(provider string) *tokenClient {
	return &tokenClient{
		provider: provider,
		httpClient: &http.Client{
			Timeout: tokenEndpointTimeout,
		},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
}

// postForm POSTs a form to a token endpoint and decodes the response,
// classifying failures as transient or permanent. An optional basicAuth pair
// is used by providers (Fitbit) that authenticate the client via header.
func (c *tokenClient) postForm(ctx context.Context, endpoint string, form url.Values, basicAuth *Credentials) (*tokenResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", c.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create token request: %w", c.provider, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if basicAuth != nil {
		req.SetBasicAuth(basicAuth.ClientID, basicAuth.ClientSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable.
		return nil, &Error{Provider: c.provider, Body: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			Transient:  resp.StatusCode >= 500,
		}
	}

	var result tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%s: failed to decode token response: %w", c.provider, err)
	}

	if result.AccessToken == "" {
		return nil, fmt.Errorf("%s: token response missing access_token", c.provider)
	}

	return &result, nil
}

// postRevoke POSTs a revocation form; non-2xx responses are reported but the
// caller treats revocation as best effort.
func (c *tokenClient) postRevoke(ctx context.Context, endpoint string, form url.Values, basicAuth *Credentials) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", c.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: failed to create revoke request: %w", c.provider, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicAuth != nil {
		req.SetBasicAuth(basicAuth.ClientID, basicAuth.ClientSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Provider: c.provider, Body: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			Transient:  resp.StatusCode >= 500,
		}
	}

	return nil
}

// token converts a decoded response into a Token with an absolute UTC expiry.
func (r *tokenResponse) token(now time.Time) *Token {
	expiresAt := now.UTC().Add(time.Duration(r.ExpiresIn) * time.Second)
	if r.ExpiresAt > 0 {
		expiresAt = time.Unix(r.ExpiresAt, 0).UTC()
	}

	return &Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    expiresAt,
		Scopes:       r.Scope,
	}
}

// authorizeURL builds the provider authorize URL with PKCE parameters.
func authorizeURL(meta Metadata, creds Credentials, state, codeChallenge, redirectURI string) string {
	params := url.Values{}
	params.Set("client_id", creds.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirectURI)
	params.Set("scope", strings.Join(meta.DefaultScopes, meta.ScopeSeparator))
	params.Set("state", state)
	params.Set("code_challenge", codeChallenge)
	params.Set("code_challenge_method", "S256")

	return meta.AuthURL + "?" + params.Encode()
}

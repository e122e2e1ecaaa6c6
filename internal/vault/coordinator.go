package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pulsekit/fitvault/internal/crypto"
	"github.com/pulsekit/fitvault/internal/models"
	"github.com/pulsekit/fitvault/internal/providers"
	"github.com/pulsekit/fitvault/internal/store"
)

// ExpirySafetyMargin is how close to expiry a token may get before it is
// treated as expired. A token handed to a caller must survive the caller's
// own provider API call.
const ExpirySafetyMargin = 60 * time.Second

// transientRetryDelay spaces the single bounded retry after a transient
// provider failure.
const transientRetryDelay = 500 * time.Millisecond

// Coordinator serves always-valid access tokens. Reads are lock-free; a
// refresh takes the per-connection lock so at most one refresh is in flight
// per (tenant, user, provider) no matter how many callers race.
type Coordinator struct {
	connections store.ConnectionStore
	registry    *providers.Registry
	crypto      *crypto.Engine
	locker      ConnectionLocker
	breakers    *breakerRegistry
	now         func() time.Time
}

// NewCoordinator creates a refresh coordinator.
func NewCoordinator(connections store.ConnectionStore, registry *providers.Registry, engine *crypto.Engine, locker ConnectionLocker) *Coordinator {
	return &Coordinator{
		connections: connections,
		registry:    registry,
		crypto:      engine,
		locker:      locker,
		breakers:    newBreakerRegistry(),
		now:         time.Now,
	}
}

// refreshOutcome distinguishes terminal grant failures from transport
// results inside the circuit breaker, so a dead refresh token for one user
// never counts as a provider outage.
type refreshOutcome struct {
	token    *providers.Token
	terminal error
}

// GetValidToken returns a decrypted access token guaranteed to be valid for
// at least ExpirySafetyMargin. The fast path is lock-free; expired
// connections are refreshed under the per-connection lock.
func (c *Coordinator) GetValidToken(ctx context.Context, tenantID, userID, provider string) (string, error) {
	adapter, err := c.registry.Get(provider)
	if err != nil {
		return "", err
	}

	conn, err := c.getConnection(ctx, tenantID, userID, provider)
	if err != nil {
		return "", err
	}

	if token, ok, err := c.tryFastPath(conn); err != nil || ok {
		return token, err
	}

	// The token needs a refresh. Fail fast while the provider's breaker is
	// open rather than queuing callers behind a doomed lock.
	cb := c.breakers.forProvider(provider)
	if cb.State() == gobreaker.StateOpen {
		return "", ErrProviderUnavailable
	}

	key := ConnectionKey{TenantID: tenantID, UserID: userID, Provider: provider}
	unlock, err := c.locker.Lock(ctx, key)
	if err != nil {
		return "", err
	}
	defer unlock()

	// Re-read under the lock: a concurrent caller may have finished the
	// refresh while we waited, in which case its result is reused and the
	// provider sees exactly one call.
	conn, err = c.getConnection(ctx, tenantID, userID, provider)
	if err != nil {
		return "", err
	}
	if token, ok, err := c.tryFastPath(conn); err != nil || ok {
		return token, err
	}

	return c.refreshLocked(ctx, adapter, cb, conn)
}

func (c *Coordinator) getConnection(ctx context.Context, tenantID, userID, provider string) (*models.OAuthConnection, error) {
	conn, err := c.connections.Get(ctx, tenantID, userID, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// tryFastPath returns the decrypted access token when the connection is
// active and comfortably unexpired. No lock is held.
func (c *Coordinator) tryFastPath(conn *models.OAuthConnection) (string, bool, error) {
	if conn.Status != models.StatusActive {
		return "", false, ErrNeedsReauth
	}

	if conn.AccessExpiresAt.After(c.now().UTC().Add(ExpirySafetyMargin)) {
		token, err := c.crypto.Decrypt(conn.EncryptedAccessToken)
		if err != nil {
			log.Printf("Vault: FATAL cannot decrypt access token for tenant=%s user=%s provider=%s: %v",
				conn.TenantID, conn.UserID, conn.Provider, err)
			return "", false, err
		}
		return token, true, nil
	}

	return "", false, nil
}

// refreshLocked performs the provider refresh while holding the connection
// lock, persists the re-encrypted result, and classifies failures.
func (c *Coordinator) refreshLocked(ctx context.Context, adapter providers.Adapter, cb *gobreaker.CircuitBreaker, conn *models.OAuthConnection) (string, error) {
	if conn.EncryptedRefreshToken == nil {
		// No refresh token was ever issued; the access token's expiry is
		// the end of the line.
		if err := c.markNeedsReauth(ctx, conn); err != nil {
			return "", err
		}
		return "", ErrNeedsReauth
	}

	refreshToken, err := c.crypto.Decrypt(*conn.EncryptedRefreshToken)
	if err != nil {
		log.Printf("Vault: FATAL cannot decrypt refresh token for tenant=%s user=%s provider=%s: %v",
			conn.TenantID, conn.UserID, conn.Provider, err)
		return "", err
	}

	out, err := cb.Execute(func() (interface{}, error) {
		token, rerr := c.refreshWithRetry(ctx, adapter, refreshToken)
		if rerr != nil {
			if providers.IsTransient(rerr) {
				return nil, rerr
			}
			// Permanent rejection is the user's problem, not the
			// provider's; report success to the breaker.
			return refreshOutcome{terminal: rerr}, nil
		}
		return refreshOutcome{token: token}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrProviderUnavailable
		}
		// Transient failure after the bounded retry. The connection is
		// left unmodified; the caller may retry later.
		return "", err
	}

	outcome := out.(refreshOutcome)
	if outcome.terminal != nil {
		log.Printf("Vault: %s refused refresh for tenant=%s user=%s, marking needs_reauth: %v",
			conn.Provider, conn.TenantID, conn.UserID, outcome.terminal)
		if err := c.markNeedsReauth(ctx, conn); err != nil {
			return "", err
		}
		return "", ErrNeedsReauth
	}

	token := outcome.token
	newRefresh := c.nextRefreshToken(adapter.Metadata(), token, refreshToken, conn)

	encAccess, err := c.crypto.Encrypt(token.AccessToken)
	if err != nil {
		return "", err
	}
	encRefresh, err := c.crypto.Encrypt(newRefresh)
	if err != nil {
		return "", err
	}

	conn.EncryptedAccessToken = encAccess
	conn.EncryptedRefreshToken = &encRefresh
	conn.AccessExpiresAt = token.ExpiresAt.UTC()
	if token.Scopes != "" {
		conn.GrantedScopes = token.Scopes
	}
	conn.Status = models.StatusActive
	conn.KeyVersion = c.crypto.ActiveKeyID()

	if err := c.connections.Upsert(ctx, conn); err != nil {
		return "", err
	}

	return token.AccessToken, nil
}

// nextRefreshToken applies the provider's rotation policy. A refresh
// response that omits the refresh token must never null out the stored one;
// that is the classic silent-lockout bug.
func (c *Coordinator) nextRefreshToken(meta providers.Metadata, token *providers.Token, stored string, conn *models.OAuthConnection) string {
	if !meta.RotatesRefreshToken {
		return stored
	}
	if token.RefreshToken == "" {
		log.Printf("Vault: %s rotates refresh tokens but omitted one for tenant=%s user=%s, keeping stored token",
			conn.Provider, conn.TenantID, conn.UserID)
		return stored
	}
	return token.RefreshToken
}

// refreshWithRetry calls the provider once, plus one bounded retry after a
// transient failure. Permanent failures are returned immediately; retrying
// invalid_grant risks provider-side client bans.
func (c *Coordinator) refreshWithRetry(ctx context.Context, adapter providers.Adapter, refreshToken string) (*providers.Token, error) {
	token, err := adapter.Refresh(ctx, refreshToken)
	if err == nil || !providers.IsTransient(err) {
		return token, err
	}

	select {
	case <-time.After(transientRetryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return adapter.Refresh(ctx, refreshToken)
}

func (c *Coordinator) markNeedsReauth(ctx context.Context, conn *models.OAuthConnection) error {
	err := c.connections.SetStatus(ctx, conn.TenantID, conn.UserID, conn.Provider, models.StatusNeedsReauth)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to flag connection for re-auth: %w", err)
	}
	return nil
}

// Disconnect revokes the token at the provider (best effort) and
// hard-deletes the connection so no stale ciphertext is retained. Calling it
// for a connection that does not exist is a no-op success.
func (c *Coordinator) Disconnect(ctx context.Context, tenantID, userID, provider string) error {
	conn, err := c.connections.Get(ctx, tenantID, userID, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if adapter, aerr := c.registry.Get(provider); aerr == nil {
		if accessToken, derr := c.crypto.Decrypt(conn.EncryptedAccessToken); derr == nil {
			if rerr := adapter.Revoke(ctx, accessToken); rerr != nil {
				log.Printf("Vault: best-effort revoke at %s failed for tenant=%s user=%s: %v",
					provider, tenantID, userID, rerr)
			}
		}
	}

	if _, err := c.connections.Delete(ctx, tenantID, userID, provider); err != nil {
		return err
	}

	log.Printf("Vault: disconnected %s for tenant=%s user=%s", provider, tenantID, userID)
	return nil
}

// ProviderStatus summarizes one provider's connection for a user. It never
// carries token material.
type ProviderStatus struct {
	Provider  string                  `json:"provider"`
	Connected bool                    `json:"connected"`
	Status    models.ConnectionStatus `json:"status,omitempty"`
	ExpiresAt *time.Time              `json:"expires_at,omitempty"`
	Scopes    string                  `json:"scopes,omitempty"`
}

// ConnectionStatus reports every configured provider for a user, connected
// or not.
func (c *Coordinator) ConnectionStatus(ctx context.Context, tenantID, userID string) ([]ProviderStatus, error) {
	conns, err := c.connections.List(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	byProvider := make(map[string]models.OAuthConnection, len(conns))
	for _, conn := range conns {
		byProvider[conn.Provider] = conn
	}

	statuses := make([]ProviderStatus, 0, len(c.registry.Names()))
	for _, name := range c.registry.Names() {
		conn, ok := byProvider[name]
		if !ok {
			statuses = append(statuses, ProviderStatus{Provider: name})
			continue
		}
		expiresAt := conn.AccessExpiresAt
		statuses = append(statuses, ProviderStatus{
			Provider:  name,
			Connected: true,
			Status:    conn.Status,
			ExpiresAt: &expiresAt,
			Scopes:    conn.GrantedScopes,
		})
	}

	return statuses, nil
}

package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pulsekit/fitvault/internal/crypto"
	"github.com/pulsekit/fitvault/internal/models"
	"github.com/pulsekit/fitvault/internal/providers"
	"github.com/pulsekit/fitvault/internal/store"
)

// pendingRequestTTL bounds how long an authorization may stay in flight.
const pendingRequestTTL = 10 * time.Minute

// Flow manages the PKCE authorization-code flow: it issues authorize URLs
// and turns provider callbacks into encrypted connections.
type Flow struct {
	registry    *providers.Registry
	pending     store.PendingStore
	connections store.ConnectionStore
	crypto      *crypto.Engine
	stateSecret []byte
	now         func() time.Time
}

// NewFlow creates a PKCE flow manager.
func NewFlow(registry *providers.Registry, pending store.PendingStore, connections store.ConnectionStore, engine *crypto.Engine, stateSecret []byte) *Flow {
	return &Flow{
		registry:    registry,
		pending:     pending,
		connections: connections,
		crypto:      engine,
		stateSecret: stateSecret,
		now:         time.Now,
	}
}

// BeginConnect starts an authorization: it generates the PKCE verifier and
// signed state, persists the pending request, and returns the provider's
// authorize URL.
func (f *Flow) BeginConnect(ctx context.Context, tenantID, userID, provider, redirectURI string) (string, error) {
	adapter, err := f.registry.Get(provider)
	if err != nil {
		return "", err
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		return "", err
	}

	now := f.now().UTC()
	state, err := signState(f.stateSecret, tenantID, userID, provider, pendingRequestTTL, now)
	if err != nil {
		return "", err
	}

	req := &models.PendingRequest{
		State:        state,
		TenantID:     tenantID,
		UserID:       userID,
		Provider:     provider,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
		ExpiresAt:    now.Add(pendingRequestTTL),
		CreatedAt:    now,
	}
	if err := f.pending.Create(ctx, req); err != nil {
		return "", err
	}

	return adapter.AuthorizationURL(state, codeChallenge(verifier), redirectURI), nil
}

// CompleteConnect validates a callback and exchanges the code for tokens.
// The pending request is consumed exactly once regardless of outcome, so a
// replayed callback fails with ErrInvalidState even when the first exchange
// failed.
func (f *Flow) CompleteConnect(ctx context.Context, state, code string) (*models.OAuthConnection, error) {
	// Reject forged or expired states before the database sees them.
	claims, err := verifyState(f.stateSecret, state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	req, err := f.pending.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidState
		}
		return nil, err
	}

	now := f.now().UTC()
	if req.ExpiresAt.Before(now) {
		return nil, ErrInvalidState
	}
	if req.TenantID != claims.TenantID || req.UserID != claims.UserID || req.Provider != claims.Provider {
		return nil, ErrInvalidState
	}

	adapter, err := f.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	token, err := adapter.ExchangeCode(ctx, code, req.CodeVerifier, req.RedirectURI)
	if err != nil {
		log.Printf("Vault: code exchange with %s failed: %v", req.Provider, err)
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	conn, err := f.encryptConnection(req.TenantID, req.UserID, req.Provider, token, adapter.Metadata())
	if err != nil {
		return nil, err
	}

	if err := f.connections.Upsert(ctx, conn); err != nil {
		return nil, err
	}

	log.Printf("Vault: connected %s for tenant=%s user=%s", req.Provider, req.TenantID, req.UserID)
	return conn, nil
}

// encryptConnection seals a token pair into a persistable connection.
func (f *Flow) encryptConnection(tenantID, userID, provider string, token *providers.Token, meta providers.Metadata) (*models.OAuthConnection, error) {
	encAccess, err := f.crypto.Encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}

	var encRefresh *string
	if token.RefreshToken != "" {
		enc, err := f.crypto.Encrypt(token.RefreshToken)
		if err != nil {
			return nil, err
		}
		encRefresh = &enc
	}

	scopes := token.Scopes
	if scopes == "" {
		scopes = joinScopes(meta)
	}

	return &models.OAuthConnection{
		TenantID:              tenantID,
		UserID:                userID,
		Provider:              provider,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		AccessExpiresAt:       token.ExpiresAt.UTC(),
		GrantedScopes:         scopes,
		Status:                models.StatusActive,
		KeyVersion:            f.crypto.ActiveKeyID(),
	}, nil
}

func joinScopes(meta providers.Metadata) string {
	sep := meta.ScopeSeparator
	if sep == "" {
		sep = " "
	}
	out := ""
	for i, s := range meta.DefaultScopes {
		if i > 0 {
			out += sep
		}
		out += s
	}
	return out
}

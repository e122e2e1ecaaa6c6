package vault

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pulsekit/fitvault/internal/crypto"
	"github.com/pulsekit/fitvault/internal/models"
	"github.com/pulsekit/fitvault/internal/providers"
	"github.com/pulsekit/fitvault/internal/store"
)

var testStateSecret = []byte("test-state-secret-0123456789abcdef")

// fakeAdapter is a scriptable provider adapter with call counters.
type fakeAdapter struct {
	name string
	meta providers.Metadata

	mu            sync.Mutex
	exchangeCalls int
	refreshCalls  int
	revokeCalls   int

	exchangeFn func(code, verifier string) (*providers.Token, error)
	refreshFn  func(refreshToken string) (*providers.Token, error)
	revokeErr  error
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		name: name,
		meta: providers.Metadata{
			Name:                name,
			AuthURL:             "https://" + name + ".example.com/oauth/authorize",
			TokenURL:            "https://" + name + ".example.com/oauth/token",
			DefaultScopes:       []string{"read"},
			ScopeSeparator:      " ",
			RotatesRefreshToken: true,
		},
	}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Metadata() providers.Metadata { return f.meta }

func (f *fakeAdapter) AuthorizationURL(state, codeChallenge, redirectURI string) string {
	q := url.Values{}
	q.Set("state", state)
	q.Set("code_challenge", codeChallenge)
	if redirectURI != "" {
		q.Set("redirect_uri", redirectURI)
	}
	return f.meta.AuthURL + "?" + q.Encode()
}

func (f *fakeAdapter) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*providers.Token, error) {
	f.mu.Lock()
	f.exchangeCalls++
	fn := f.exchangeFn
	f.mu.Unlock()
	if fn != nil {
		return fn(code, codeVerifier)
	}
	return &providers.Token{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		ExpiresAt:    time.Now().UTC().Add(6 * time.Hour),
		Scopes:       "read",
	}, nil
}

func (f *fakeAdapter) Refresh(ctx context.Context, refreshToken string) (*providers.Token, error) {
	f.mu.Lock()
	f.refreshCalls++
	fn := f.refreshFn
	f.mu.Unlock()
	if fn != nil {
		return fn(refreshToken)
	}
	return &providers.Token{
		AccessToken:  "refreshed-access",
		RefreshToken: "refreshed-refresh",
		ExpiresAt:    time.Now().UTC().Add(6 * time.Hour),
	}, nil
}

func (f *fakeAdapter) Revoke(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	f.revokeCalls++
	f.mu.Unlock()
	return f.revokeErr
}

func (f *fakeAdapter) calls() (exchange, refresh, revoke int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchangeCalls, f.refreshCalls, f.revokeCalls
}

func newTestStore(t *testing.T) *store.GormStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.OAuthConnection{}, &models.PendingRequest{}))

	return store.NewGormStore(db)
}

func newTestEngine(t *testing.T) *crypto.Engine {
	t.Helper()

	key := make([]byte, crypto.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	engine, err := crypto.NewEngine("v1", key, nil)
	require.NoError(t, err)
	return engine
}

func newTestFlow(t *testing.T) (*Flow, *fakeAdapter, *store.GormStore, *crypto.Engine) {
	t.Helper()

	adapter := newFakeAdapter("strava")
	registry := providers.NewRegistry(nil)
	registry.Register(adapter)

	s := newTestStore(t)
	engine := newTestEngine(t)
	flow := NewFlow(registry, s, s, engine, testStateSecret)
	return flow, adapter, s, engine
}

// stateFromURL pulls the state parameter back out of an authorize URL.
func stateFromURL(t *testing.T, authorizeURL string) string {
	t.Helper()
	parsed, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestBeginConnect(t *testing.T) {
	flow, _, _, _ := newTestFlow(t)
	ctx := context.Background()

	authorizeURL, err := flow.BeginConnect(ctx, "t1", "u1", "strava", "")
	require.NoError(t, err)

	parsed, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	q := parsed.Query()

	challenge := q.Get("code_challenge")
	require.NotEmpty(t, challenge)

	// The state is a valid signature over the requesting identity.
	claims, err := verifyState(testStateSecret, q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "t1", claims.TenantID)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "strava", claims.Provider)

	// Each authorization gets its own verifier and state.
	secondURL, err := flow.BeginConnect(ctx, "t1", "u1", "strava", "")
	require.NoError(t, err)
	parsed2, err := url.Parse(secondURL)
	require.NoError(t, err)
	assert.NotEqual(t, q.Get("state"), parsed2.Query().Get("state"))
	assert.NotEqual(t, challenge, parsed2.Query().Get("code_challenge"))
}

func TestBeginConnectUnknownProvider(t *testing.T) {
	flow, _, _, _ := newTestFlow(t)

	_, err := flow.BeginConnect(context.Background(), "t1", "u1", "peloton", "")
	var unknown *providers.ErrUnknownProvider
	assert.ErrorAs(t, err, &unknown)
}

func TestCompleteConnect(t *testing.T) {
	flow, adapter, s, engine := newTestFlow(t)
	ctx := context.Background()

	var gotVerifier string
	adapter.exchangeFn = func(code, verifier string) (*providers.Token, error) {
		gotVerifier = verifier
		return &providers.Token{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    time.Now().UTC().Add(6 * time.Hour),
			Scopes:       "read,activity:read_all",
		}, nil
	}

	authorizeURL, err := flow.BeginConnect(ctx, "t1", "u1", "strava", "")
	require.NoError(t, err)
	state := stateFromURL(t, authorizeURL)

	conn, err := flow.CompleteConnect(ctx, state, "code-1")
	require.NoError(t, err)

	assert.NotEmpty(t, gotVerifier, "exchange must carry the stored verifier")
	assert.Equal(t, models.StatusActive, conn.Status)
	assert.Equal(t, "read,activity:read_all", conn.GrantedScopes)
	assert.Equal(t, "v1", conn.KeyVersion)

	// Plaintext never reaches the store.
	stored, err := s.Get(ctx, "t1", "u1", "strava")
	require.NoError(t, err)
	assert.NotEqual(t, "access-1", stored.EncryptedAccessToken)

	access, err := engine.Decrypt(stored.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-1", access)

	require.NotNil(t, stored.EncryptedRefreshToken)
	refresh, err := engine.Decrypt(*stored.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", refresh)
}

func TestCompleteConnectForgedState(t *testing.T) {
	flow, adapter, _, _ := newTestFlow(t)
	ctx := context.Background()

	// Signed with the wrong secret.
	forged, err := signState([]byte("attacker-controlled-secret-123456"), "t1", "u1", "strava", pendingRequestTTL, time.Now().UTC())
	require.NoError(t, err)

	_, err = flow.CompleteConnect(ctx, forged, "code-1")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = flow.CompleteConnect(ctx, "garbage", "code-1")
	assert.ErrorIs(t, err, ErrInvalidState)

	exchange, _, _ := adapter.calls()
	assert.Zero(t, exchange, "forged state must not reach the provider")
}

func TestCompleteConnectReplay(t *testing.T) {
	flow, adapter, _, _ := newTestFlow(t)
	ctx := context.Background()

	authorizeURL, err := flow.BeginConnect(ctx, "t1", "u1", "strava", "")
	require.NoError(t, err)
	state := stateFromURL(t, authorizeURL)

	_, err = flow.CompleteConnect(ctx, state, "code-1")
	require.NoError(t, err)

	_, err = flow.CompleteConnect(ctx, state, "code-1")
	assert.ErrorIs(t, err, ErrInvalidState)

	exchange, _, _ := adapter.calls()
	assert.Equal(t, 1, exchange)
}

func TestCompleteConnectExpiredState(t *testing.T) {
	flow, _, _, _ := newTestFlow(t)
	ctx := context.Background()

	// Issue the state in the past so it is already beyond its TTL.
	flow.now = func() time.Time { return time.Now().Add(-2 * pendingRequestTTL) }
	authorizeURL, err := flow.BeginConnect(ctx, "t1", "u1", "strava", "")
	require.NoError(t, err)
	flow.now = time.Now

	_, err = flow.CompleteConnect(ctx, stateFromURL(t, authorizeURL), "code-1")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCompleteConnectExchangeFailure(t *testing.T) {
	flow, adapter, s, _ := newTestFlow(t)
	ctx := context.Background()

	adapter.exchangeFn = func(code, verifier string) (*providers.Token, error) {
		return nil, &providers.Error{Provider: "strava", StatusCode: 400, Body: "invalid_grant"}
	}

	authorizeURL, err := flow.BeginConnect(ctx, "t1", "u1", "strava", "")
	require.NoError(t, err)
	state := stateFromURL(t, authorizeURL)

	_, err = flow.CompleteConnect(ctx, state, "bad-code")
	assert.ErrorIs(t, err, ErrExchangeFailed)

	// The state was consumed by the failed attempt; retrying the callback
	// requires a fresh authorization.
	_, err = flow.CompleteConnect(ctx, state, "bad-code")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = s.Get(ctx, "t1", "u1", "strava")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestCompleteConnectReconnectReplacesTokens(t *testing.T) {
	flow, _, s, engine := newTestFlow(t)
	ctx := context.Background()

	for _, code := range []string{"first", "second"} {
		authorizeURL, err := flow.BeginConnect(ctx, "t1", "u1", "strava", "")
		require.NoError(t, err)
		_, err = flow.CompleteConnect(ctx, stateFromURL(t, authorizeURL), code)
		require.NoError(t, err)
	}

	stored, err := s.Get(ctx, "t1", "u1", "strava")
	require.NoError(t, err)

	access, err := engine.Decrypt(stored.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-second", access)
}

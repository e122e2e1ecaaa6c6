package store

import (
	"context"
	"errors"

	"github.com/pulsekit/fitvault/internal/models"
)

// ErrNotFound is returned when no row exists for the requested key.
var ErrNotFound = errors.New("store: not found")

// ErrTenantIsolation signals that a fetched row's tenant does not match the
// caller's tenant. This is a programming-error-level fault, never expected
// in normal operation.
var ErrTenantIsolation = errors.New("store: tenant isolation violation")

// ConnectionStore persists encrypted provider connections. Implementations
// never decrypt; ciphertext passes through untouched.
type ConnectionStore interface {
	// Get fetches the connection for a (tenant, user, provider) tuple.
	Get(ctx context.Context, tenantID, userID, provider string) (*models.OAuthConnection, error)

	// List returns all connections for a user within a tenant.
	List(ctx context.Context, tenantID, userID string) ([]models.OAuthConnection, error)

	// ListByStatus returns all connections in the given status, tenant-wide.
	ListByStatus(ctx context.Context, status models.ConnectionStatus) ([]models.OAuthConnection, error)

	// Upsert inserts or replaces the connection for its tuple. The unique
	// constraint on (tenant_id, user_id, provider) is the conflict target.
	Upsert(ctx context.Context, conn *models.OAuthConnection) error

	// SetStatus updates only the status of an existing connection.
	SetStatus(ctx context.Context, tenantID, userID, provider string, status models.ConnectionStatus) error

	// Delete hard-deletes the connection. Returns false if no row existed,
	// so disconnect stays idempotent.
	Delete(ctx context.Context, tenantID, userID, provider string) (bool, error)
}

// PendingStore persists in-flight PKCE authorization requests.
type PendingStore interface {
	// Create writes a new pending request keyed by its state.
	Create(ctx context.Context, req *models.PendingRequest) error

	// Consume atomically reads and deletes the request for a state. A
	// replayed state loses the delete race and gets ErrNotFound, which is
	// the single-use guarantee.
	Consume(ctx context.Context, state string) (*models.PendingRequest, error)

	// DeleteExpired removes requests past their TTL, returning the count.
	DeleteExpired(ctx context.Context) (int64, error)
}

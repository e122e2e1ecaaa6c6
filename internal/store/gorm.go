package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pulsekit/fitvault/internal/models"
)

// GormStore implements ConnectionStore and PendingStore on GORM, which keeps
// the vault agnostic between the SQLite and PostgreSQL backends.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store over an existing GORM connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Get fetches a connection scoped by tenant. The tenant re-check after the
// query is defensive; the WHERE clause already filters, so a mismatch means
// a query bug, not user error.
func (s *GormStore) Get(ctx context.Context, tenantID, userID, provider string) (*models.OAuthConnection, error) {
	var conn models.OAuthConnection
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND provider = ?", tenantID, userID, provider).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	if conn.TenantID != tenantID {
		return nil, ErrTenantIsolation
	}

	return &conn, nil
}

func (s *GormStore) List(ctx context.Context, tenantID, userID string) ([]models.OAuthConnection, error) {
	var conns []models.OAuthConnection
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("provider").
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	for i := range conns {
		if conns[i].TenantID != tenantID {
			return nil, ErrTenantIsolation
		}
	}

	return conns, nil
}

func (s *GormStore) ListByStatus(ctx context.Context, status models.ConnectionStatus) ([]models.OAuthConnection, error) {
	var conns []models.OAuthConnection
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list connections by status: %w", err)
	}
	return conns, nil
}

// Upsert relies on the schema-level unique constraint as the conflict
// target, which is the correctness anchor for refresh serialization.
func (s *GormStore) Upsert(ctx context.Context, conn *models.OAuthConnection) error {
	conn.UpdatedAt = time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = conn.UpdatedAt
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"encrypted_access_token", "encrypted_refresh_token",
			"access_expires_at", "granted_scopes", "status",
			"key_version", "updated_at",
		}),
	}).Create(conn).Error
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}

	return nil
}

func (s *GormStore) SetStatus(ctx context.Context, tenantID, userID, provider string, status models.ConnectionStatus) error {
	result := s.db.WithContext(ctx).
		Model(&models.OAuthConnection{}).
		Where("tenant_id = ? AND user_id = ? AND provider = ?", tenantID, userID, provider).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update connection status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, tenantID, userID, provider string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND provider = ?", tenantID, userID, provider).
		Delete(&models.OAuthConnection{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete connection: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) Create(ctx context.Context, req *models.PendingRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("failed to create pending request: %w", err)
	}
	return nil
}

// Consume is a guarded delete: the row is read and then deleted by primary
// key, and a delete that affects zero rows means another caller consumed the
// state first. Both callers racing end up with exactly one winner, which is
// what makes replayed states fail even under concurrency.
func (s *GormStore) Consume(ctx context.Context, state string) (*models.PendingRequest, error) {
	var req models.PendingRequest

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("state = ?", state).First(&req).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to look up pending request: %w", err)
		}

		result := tx.Where("state = ?", state).Delete(&models.PendingRequest{})
		if result.Error != nil {
			return fmt.Errorf("failed to consume pending request: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &req, nil
}

func (s *GormStore) DeleteExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Delete(&models.PendingRequest{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired pending requests: %w", result.Error)
	}
	return result.RowsAffected, nil
}

package models

import "time"

// ConnectionStatus is the lifecycle state of a provider connection.
type ConnectionStatus string

const (
	StatusActive      ConnectionStatus = "active"
	StatusNeedsReauth ConnectionStatus = "needs_reauth"
	StatusRevoked     ConnectionStatus = "revoked"
)

// OAuthConnection represents an encrypted provider token pair for one
// (tenant, user, provider) tuple. Token material is stored as ciphertext
// only; decryption happens at the point of use, never in the store.
type OAuthConnection struct {
	TenantID              string           `json:"tenant_id" gorm:"primaryKey"`
	UserID                string           `json:"user_id" gorm:"primaryKey"`
	Provider              string           `json:"provider" gorm:"primaryKey"`
	EncryptedAccessToken  string           `json:"-" gorm:"type:text;not null"`
	EncryptedRefreshToken *string          `json:"-" gorm:"type:text"`
	AccessExpiresAt       time.Time        `json:"access_expires_at" gorm:"not null"`
	GrantedScopes         string           `json:"granted_scopes"`
	Status                ConnectionStatus `json:"status" gorm:"not null;default:active"`
	KeyVersion            string           `json:"-" gorm:"not null"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// TableName specifies the table name for OAuthConnection
func (OAuthConnection) TableName() string {
	return "oauth_connections"
}

// PendingRequest is the ephemeral PKCE state for an in-flight authorization.
// Rows are consumed exactly once on callback and garbage-collected on expiry.
type PendingRequest struct {
	State        string    `json:"state" gorm:"primaryKey"`
	TenantID     string    `json:"tenant_id" gorm:"not null"`
	UserID       string    `json:"user_id" gorm:"not null"`
	Provider     string    `json:"provider" gorm:"not null"`
	CodeVerifier string    `json:"-" gorm:"not null"`
	RedirectURI  string    `json:"redirect_uri"`
	ExpiresAt    time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for PendingRequest
func (PendingRequest) TableName() string {
	return "oauth_pending_requests"
}

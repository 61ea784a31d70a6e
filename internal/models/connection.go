package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// Platform identifiers stored in platform_connections.platform
const (
	PlatformTikTok = "tiktok"
)

// PlatformConnection records that a user linked an external platform account.
// Tokens are not stored here: the row references vault secrets by id.
type PlatformConnection struct {
	ID                   string            `json:"id" gorm:"primaryKey;type:uuid"`
	UserID               string            `json:"user_id" gorm:"not null;uniqueIndex:platform_connections_user_platform_key,priority:1"`
	Platform             string            `json:"platform" gorm:"not null;uniqueIndex:platform_connections_user_platform_key,priority:2"`
	PlatformUserID       string            `json:"platform_user_id" gorm:"not null"`
	PlatformUsername     string            `json:"platform_username"`
	AccessTokenSecretID  string            `json:"-" gorm:"not null"`
	RefreshTokenSecretID *string           `json:"-"`
	TokenExpiresAt       *time.Time        `json:"token_expires_at"`
	Scopes               pq.StringArray    `json:"scopes" gorm:"type:text[]"`
	Metadata             datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	IsActive             bool              `json:"is_active" gorm:"not null;default:true"`
	LastSyncedAt         *time.Time        `json:"last_synced_at"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// TableName specifies the table name for PlatformConnection
func (PlatformConnection) TableName() string {
	return "platform_connections"
}

// SecretIDs returns the vault secret ids referenced by the connection.
func (c *PlatformConnection) SecretIDs() []string {
	ids := []string{}
	if c.AccessTokenSecretID != "" {
		ids = append(ids, c.AccessTokenSecretID)
	}
	if c.RefreshTokenSecretID != nil && *c.RefreshTokenSecretID != "" {
		ids = append(ids, *c.RefreshTokenSecretID)
	}
	return ids
}

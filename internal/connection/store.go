package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fuomag9/creator-connect/internal/database"
	"github.com/fuomag9/creator-connect/internal/models"
)

// ErrNotFound is returned when the user has no connection for a platform
var ErrNotFound = errors.New("platform connection not found")

// upsertColumns are overwritten when a user reconnects the same platform.
var upsertColumns = []string{
	"platform_user_id",
	"platform_username",
	"access_token_secret_id",
	"refresh_token_secret_id",
	"token_expires_at",
	"scopes",
	"metadata",
	"is_active",
	"updated_at",
}

// Store persists platform connections on behalf of end users. Every
// statement runs scoped to the acting user so row-level security applies.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store on the restricted (end-user) connection
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the user's connection for platform
func (s *Store) Get(ctx context.Context, userID, platform string) (*models.PlatformConnection, error) {
	var conn models.PlatformConnection
	err := database.AsUser(ctx, s.db, userID, func(tx *gorm.DB) error {
		return tx.Where("user_id = ? AND platform = ?", userID, platform).First(&conn).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	return &conn, nil
}

// List returns every connection owned by the user
func (s *Store) List(ctx context.Context, userID string) ([]models.PlatformConnection, error) {
	conns := []models.PlatformConnection{}
	err := database.AsUser(ctx, s.db, userID, func(tx *gorm.DB) error {
		return tx.Where("user_id = ?", userID).Order("platform").Find(&conns).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// Upsert inserts the connection or overwrites the existing row for the same
// (user_id, platform). It returns the stored row.
func (s *Store) Upsert(ctx context.Context, conn *models.PlatformConnection) (*models.PlatformConnection, error) {
	if conn.UserID == "" || conn.Platform == "" {
		return nil, fmt.Errorf("connection requires user_id and platform")
	}
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}

	var stored models.PlatformConnection
	err := database.AsUser(ctx, s.db, conn.UserID, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "platform"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(conn).Error
		if err != nil {
			return err
		}
		return tx.Where("user_id = ? AND platform = ?", conn.UserID, conn.Platform).First(&stored).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert connection: %w", err)
	}
	return &stored, nil
}

// Delete removes the user's connection for platform and returns the deleted row
func (s *Store) Delete(ctx context.Context, userID, platform string) (*models.PlatformConnection, error) {
	var conn models.PlatformConnection
	err := database.AsUser(ctx, s.db, userID, func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND platform = ?", userID, platform).First(&conn).Error; err != nil {
			return err
		}
		return tx.Delete(&conn).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete connection: %w", err)
	}
	return &conn, nil
}

// ReferencedSecretIDs returns every vault secret id referenced by any
// connection. db must bypass row-level security (service role).
func ReferencedSecretIDs(ctx context.Context, db *gorm.DB) (map[string]struct{}, error) {
	var rows []struct {
		AccessTokenSecretID  string
		RefreshTokenSecretID *string
	}
	err := db.WithContext(ctx).
		Model(&models.PlatformConnection{}).
		Select("access_token_secret_id", "refresh_token_secret_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load secret references: %w", err)
	}

	ids := make(map[string]struct{}, len(rows)*2)
	for _, row := range rows {
		ids[row.AccessTokenSecretID] = struct{}{}
		if row.RefreshTokenSecretID != nil {
			ids[*row.RefreshTokenSecretID] = struct{}{}
		}
	}
	return ids, nil
}

package database

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// AuthenticatedRole is the Postgres role end-user statements run as.
const AuthenticatedRole = "authenticated"

// ScopeToUser switches the current transaction to the end-user role and
// publishes the user's claims so row-level security policies apply. It is a
// no-op on dialects without RLS.
func ScopeToUser(tx *gorm.DB, userID string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}

	claims, err := json.Marshal(map[string]string{
		"sub":  userID,
		"role": AuthenticatedRole,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session claims: %w", err)
	}

	if err := tx.Exec("SET LOCAL ROLE " + AuthenticatedRole).Error; err != nil {
		return fmt.Errorf("failed to switch role: %w", err)
	}
	if err := tx.Exec("SELECT set_config('request.jwt.claims', ?, true)", string(claims)).Error; err != nil {
		return fmt.Errorf("failed to set session claims: %w", err)
	}
	return nil
}

// AsUser runs fn inside a transaction scoped to userID.
func AsUser(ctx context.Context, db *gorm.DB, userID string, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ScopeToUser(tx, userID); err != nil {
			return err
		}
		return fn(tx)
	})
}

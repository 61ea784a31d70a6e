package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrEmptySecretID is returned when the vault accepted a secret but did not
// report its id.
var ErrEmptySecretID = errors.New("vault returned an empty secret id")

// Secret is a vault entry as seen by the application: never the value.
type Secret struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Store creates and deletes secrets in the vault
type Store interface {
	CreateSecret(ctx context.Context, value, name, description string) (string, error)
	DeleteSecret(ctx context.Context, id string) error
	ListSecrets(ctx context.Context, namePrefix string) ([]Secret, error)
}

// PostgresStore talks to the vault RPCs. db must be the service-role
// connection; end-user sessions have no grant on these functions.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore creates a vault store on the service-role connection
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateSecret(ctx context.Context, value, name, description string) (string, error) {
	var id string
	err := s.db.WithContext(ctx).
		Raw("SELECT public.create_secret(?, ?, ?)::text", value, name, description).
		Scan(&id).Error
	if err != nil {
		return "", fmt.Errorf("failed to create secret %s: %w", name, err)
	}
	if id == "" {
		return "", ErrEmptySecretID
	}
	return id, nil
}

func (s *PostgresStore) DeleteSecret(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Exec("SELECT public.delete_secret(?::uuid)", id).Error; err != nil {
		return fmt.Errorf("failed to delete secret %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListSecrets(ctx context.Context, namePrefix string) ([]Secret, error) {
	var secrets []Secret
	err := s.db.WithContext(ctx).
		Raw(`SELECT id::text AS id, name, created_at FROM vault.secrets WHERE name LIKE ? ORDER BY created_at`, escapeLike(namePrefix)+"%").
		Scan(&secrets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	return secrets, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

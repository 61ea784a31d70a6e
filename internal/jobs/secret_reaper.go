package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fuomag9/creator-connect/internal/connection"
	"github.com/fuomag9/creator-connect/internal/metrics"
	"github.com/fuomag9/creator-connect/internal/vault"
)

// SecretReaper deletes connection token secrets that no platform connection
// references. These are left behind when best-effort compensation fails or
// when concurrent reconnects race.
type SecretReaper struct {
	vault   vault.Store
	db      *gorm.DB
	grace   time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewSecretReaper creates a reaper. db must be the service-role connection so
// every user's rows are visible. Secrets younger than grace are never touched:
// a callback may be between its vault write and its upsert.
func NewSecretReaper(store vault.Store, db *gorm.DB, grace time.Duration, m *metrics.Metrics, log *zap.Logger) *SecretReaper {
	return &SecretReaper{
		vault:   store,
		db:      db,
		grace:   grace,
		metrics: m,
		log:     log.Named("reaper"),
		now:     time.Now,
	}
}

// Run deletes unreferenced secrets older than the grace period and returns how
// many were deleted.
func (r *SecretReaper) Run(ctx context.Context) (int, error) {
	deleted, err := r.run(ctx)
	if err != nil {
		r.metrics.ReaperRun("error")
		return deleted, err
	}
	r.metrics.ReaperRun("ok")
	return deleted, nil
}

func (r *SecretReaper) run(ctx context.Context) (int, error) {
	// Secrets are listed before references are loaded, so a secret that got
	// referenced in between is still seen as referenced.
	secrets, err := r.vault.ListSecrets(ctx, vault.ConnectionSecretPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list secrets: %w", err)
	}
	if len(secrets) == 0 {
		return 0, nil
	}

	referenced, err := connection.ReferencedSecretIDs(ctx, r.db)
	if err != nil {
		return 0, err
	}

	cutoff := r.now().Add(-r.grace)
	var (
		deleted int
		errs    []error
	)
	for _, secret := range secrets {
		if secret.CreatedAt.After(cutoff) {
			continue
		}
		if _, ok := referenced[secret.ID]; ok {
			continue
		}

		if err := r.vault.DeleteSecret(ctx, secret.ID); err != nil {
			r.log.Warn("Failed to delete orphaned secret", zap.String("secret_id", secret.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		deleted++

		platform, userID, _ := vault.ParseSecretName(secret.Name)
		r.log.Info("Deleted orphaned secret",
			zap.String("secret_id", secret.ID),
			zap.String("platform", platform),
			zap.String("user_id", userID),
			zap.Time("created_at", secret.CreatedAt))
	}

	r.metrics.SecretsDeleted(metrics.ReasonOrphaned, deleted, len(errs))
	if len(errs) > 0 {
		return deleted, fmt.Errorf("failed to delete %d orphaned secrets: %w", len(errs), errors.Join(errs...))
	}
	return deleted, nil
}

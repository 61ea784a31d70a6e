package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConnectionSecretPrefix starts the name of every secret holding a platform
// connection token.
const ConnectionSecretPrefix = "conn:"

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// TokenSecrets references the vault entries written for one connection attempt
type TokenSecrets struct {
	AccessID  string
	RefreshID *string
}

// IDs lists every secret id in t
func (t TokenSecrets) IDs() []string {
	ids := []string{}
	if t.AccessID != "" {
		ids = append(ids, t.AccessID)
	}
	if t.RefreshID != nil {
		ids = append(ids, *t.RefreshID)
	}
	return ids
}

// SecretName builds a unique vault name for a connection token.
// Format: conn:<platform>:<kind>:<user_id>:<nonce>.
func SecretName(platform, kind, userID string) string {
	return fmt.Sprintf("%s%s:%s:%s:%s", ConnectionSecretPrefix, platform, kind, userID, uuid.NewString())
}

// ParseSecretName extracts the platform and user id from a connection secret name.
func ParseSecretName(name string) (platform, userID string, ok bool) {
	if !strings.HasPrefix(name, ConnectionSecretPrefix) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(name, ConnectionSecretPrefix), ":")
	if len(parts) != 4 {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// Writer stores OAuth tokens as vault secrets
type Writer struct {
	store Store
	log   *zap.Logger
}

// NewWriter creates a token writer over store
func NewWriter(store Store, log *zap.Logger) *Writer {
	return &Writer{store: store, log: log.Named("vault")}
}

// StoreTokens writes the access token and, when present, the refresh token.
// If the refresh write fails the access secret is deleted before returning,
// so a failed call leaves nothing behind.
func (w *Writer) StoreTokens(ctx context.Context, userID, platform, accessToken, refreshToken string) (TokenSecrets, error) {
	accessID, err := w.store.CreateSecret(ctx, accessToken,
		SecretName(platform, kindAccess, userID),
		fmt.Sprintf("%s access token for user %s", platform, userID))
	if err != nil {
		return TokenSecrets{}, fmt.Errorf("failed to store access token: %w", err)
	}

	secrets := TokenSecrets{AccessID: accessID}
	if refreshToken == "" {
		return secrets, nil
	}

	refreshID, err := w.store.CreateSecret(ctx, refreshToken,
		SecretName(platform, kindRefresh, userID),
		fmt.Sprintf("%s refresh token for user %s", platform, userID))
	if err != nil {
		if cleanupErr := w.store.DeleteSecret(ctx, accessID); cleanupErr != nil {
			w.log.Error("failed to delete access token secret after refresh write failure",
				zap.String("secret_id", accessID),
				zap.Error(cleanupErr))
			return TokenSecrets{}, errors.Join(fmt.Errorf("failed to store refresh token: %w", err), cleanupErr)
		}
		return TokenSecrets{}, fmt.Errorf("failed to store refresh token: %w", err)
	}

	secrets.RefreshID = &refreshID
	return secrets, nil
}

// DeleteSecrets deletes every id, continuing past failures. The returned
// error joins all failures.
func (w *Writer) DeleteSecrets(ctx context.Context, ids ...string) error {
	var errs []error
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := w.store.DeleteSecret(ctx, id); err != nil {
			w.log.Warn("failed to delete secret", zap.String("secret_id", id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package connect

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fuomag9/creator-connect/internal/connection"
	"github.com/fuomag9/creator-connect/internal/metrics"
	"github.com/fuomag9/creator-connect/internal/models"
	"github.com/fuomag9/creator-connect/internal/oauth"
	"github.com/fuomag9/creator-connect/internal/vault"
)

// Connection is the stored connection returned to callers
type Connection = models.PlatformConnection

// AuthRequest is a started authorization attempt. State and CodeVerifier must
// be kept by the caller (cookies) until the callback.
type AuthRequest struct {
	Provider     string
	AuthURL      string
	State        string
	CodeVerifier string
}

// CallbackRequest is everything the provider redirect and the browser carry
// back to the callback.
type CallbackRequest struct {
	Provider string
	// UserID is the authenticated application user, empty without a session.
	UserID string

	Code                     string
	State                    string
	ProviderError            string
	ProviderErrorDescription string

	StateCookie    string
	VerifierCookie string
}

// Service links application users to external platform accounts
type Service struct {
	providers   *oauth.Registry
	vault       *vault.Writer
	connections *connection.Store
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time
}

// NewService creates the connect service
func NewService(providers *oauth.Registry, writer *vault.Writer, connections *connection.Store, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		providers:   providers,
		vault:       writer,
		connections: connections,
		metrics:     m,
		log:         log.Named("connect"),
		now:         time.Now,
	}
}

// Initiate starts an authorization attempt for providerName. It fails with
// oauth.ErrUnknownProvider or oauth.ErrNotConfigured before any state is
// generated.
func (s *Service) Initiate(providerName string) (*AuthRequest, error) {
	provider, err := s.providers.Get(providerName)
	if err != nil {
		s.metrics.ObserveInitiate("unknown", "unknown_provider")
		return nil, err
	}
	if !provider.Configured() {
		s.metrics.ObserveInitiate(provider.Name(), "not_configured")
		return nil, fmt.Errorf("%s: %w", provider.Name(), oauth.ErrNotConfigured)
	}

	pkce, err := oauth.NewPKCE()
	if err != nil {
		return nil, err
	}

	authURL, err := provider.AuthorizationURL(pkce.State, pkce.CodeChallenge)
	if err != nil {
		s.metrics.ObserveInitiate(provider.Name(), "error")
		return nil, err
	}

	s.metrics.ObserveInitiate(provider.Name(), "ok")
	return &AuthRequest{
		Provider:     provider.Name(),
		AuthURL:      authURL,
		State:        pkce.State,
		CodeVerifier: pkce.CodeVerifier,
	}, nil
}

// Complete runs the callback state machine. It always returns an Outcome; a
// panic inside a provider or store becomes a server_error Outcome.
func (s *Service) Complete(ctx context.Context, req CallbackRequest) Outcome {
	started := s.now()
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))

	outcome := s.recoverComplete(ctx, req)
	outcome.Provider = req.Provider

	label := req.Provider
	if _, err := s.providers.Get(req.Provider); err != nil {
		label = "unknown"
	}
	s.metrics.ObserveCallback(label, string(outcome.Stage), outcome.Result(), s.now().Sub(started))

	fields := []zap.Field{
		zap.String("provider", req.Provider),
		zap.String("user_id", req.UserID),
		zap.String("stage", string(outcome.Stage)),
		zap.String("result", outcome.Result()),
	}
	if outcome.Succeeded() {
		s.log.Info("platform connected", append(fields, zap.String("connection_id", outcome.Connection.ID))...)
	} else {
		s.log.Warn("platform connection failed", append(fields, zap.Error(outcome.Err))...)
	}
	return outcome
}

func (s *Service) recoverComplete(ctx context.Context, req CallbackRequest) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("callback panicked",
				zap.String("provider", req.Provider),
				zap.Any("panic", r),
				zap.Stack("stack"))
			outcome = fail(StageAwaitingCode, CodeServerError, "Something went wrong. Please try again.",
				fmt.Errorf("callback panicked: %v", r))
		}
	}()
	return s.complete(ctx, req)
}

func (s *Service) complete(ctx context.Context, req CallbackRequest) Outcome {
	if req.State == "" || req.StateCookie == "" || req.VerifierCookie == "" ||
		subtle.ConstantTimeCompare([]byte(req.State), []byte(req.StateCookie)) != 1 {
		return fail(StageAwaitingCode, CodeInvalidState, "Invalid or expired authorization state. Please try again.", nil)
	}

	// error codes are only built from registered provider names
	provider, err := s.providers.Get(req.Provider)
	if err != nil {
		return fail(StageAwaitingCode, CodeServerMisconfigured, "This platform is not available right now.", err)
	}

	if req.ProviderError != "" {
		message := req.ProviderErrorDescription
		if message == "" {
			message = req.ProviderError
		}
		return fail(StageAwaitingCode, ConnectionFailedCode(provider.Name()), message,
			fmt.Errorf("provider returned error %q", req.ProviderError))
	}
	if req.Code == "" {
		return fail(StageAwaitingCode, CodeNoCode, "No authorization code was returned.", nil)
	}
	if req.UserID == "" {
		return fail(StageAwaitingCode, CodeNotAuthenticated, "Please sign in before connecting an account.", nil)
	}

	if !provider.Configured() {
		return fail(StageAwaitingCode, CodeServerMisconfigured, "This platform is not available right now.", oauth.ErrNotConfigured)
	}

	failed := ConnectionFailedCode(provider.Name())

	token, err := provider.ExchangeCode(ctx, req.Code, req.VerifierCookie)
	if err != nil {
		return fail(StageStateValidated, failed, providerMessage(err, "Failed to exchange authorization code."), err)
	}

	profile, err := provider.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		return fail(StageTokenExchanged, failed, providerMessage(err, "Failed to fetch account profile."), err)
	}

	secrets, err := s.vault.StoreTokens(ctx, req.UserID, provider.Name(), token.AccessToken, token.RefreshToken)
	if err != nil {
		return fail(StageProfileFetched, failed, "Failed to store account credentials.", err)
	}

	previous, err := s.connections.Get(ctx, req.UserID, provider.Name())
	if err != nil && !errors.Is(err, connection.ErrNotFound) {
		s.log.Warn("failed to load previous connection", zap.String("user_id", req.UserID), zap.Error(err))
	}

	record := buildConnection(req.UserID, provider.Name(), token, profile, secrets, s.now())
	stored, err := s.connections.Upsert(ctx, record)
	if err != nil {
		s.deleteSecrets(ctx, metrics.ReasonCompensation, secrets.IDs())
		return fail(StageSecretsStored, failed, "Failed to save the connection.", err)
	}

	if previous != nil {
		s.deleteSecrets(ctx, metrics.ReasonReplaced, staleSecretIDs(previous, stored))
	}

	return Outcome{Stage: StageConnectionUpserted, Connection: stored}
}

// Connections lists the user's connections
func (s *Service) Connections(ctx context.Context, userID string) ([]Connection, error) {
	return s.connections.List(ctx, userID)
}

// Disconnect removes the user's connection to platform and deletes its
// secrets. It returns connection.ErrNotFound when there is nothing to remove.
func (s *Service) Disconnect(ctx context.Context, userID, platform string) error {
	deleted, err := s.connections.Delete(ctx, userID, strings.ToLower(platform))
	if err != nil {
		return err
	}

	s.deleteSecrets(ctx, metrics.ReasonDisconnect, deleted.SecretIDs())
	s.log.Info("platform disconnected",
		zap.String("user_id", userID),
		zap.String("provider", deleted.Platform),
		zap.String("connection_id", deleted.ID))
	return nil
}

// deleteSecrets removes ids best-effort. Failures are logged and counted,
// never returned.
func (s *Service) deleteSecrets(ctx context.Context, reason string, ids []string) {
	if len(ids) == 0 {
		return
	}
	err := s.vault.DeleteSecrets(context.WithoutCancel(ctx), ids...)
	failed := 0
	if err != nil {
		failed = len(unwrapJoined(err))
		s.log.Error("failed to delete vault secrets",
			zap.String("reason", reason),
			zap.Strings("secret_ids", ids),
			zap.Error(err))
	}
	s.metrics.SecretsDeleted(reason, len(ids)-failed, failed)
}

func buildConnection(userID, platform string, token *oauth.TokenResponse, profile *oauth.ExternalProfile, secrets vault.TokenSecrets, now time.Time) *models.PlatformConnection {
	metadata := datatypes.JSONMap{
		"avatar_url":      profile.AvatarURL,
		"follower_count":  profile.FollowerCount,
		"following_count": profile.FollowingCount,
		"likes_count":     profile.LikesCount,
		"video_count":     profile.VideoCount,
	}
	if profile.ProfileDeepLink != "" {
		metadata["profile_deep_link"] = profile.ProfileDeepLink
	}
	if profile.UnionID != "" {
		metadata["union_id"] = profile.UnionID
	}
	if profile.Username != "" {
		metadata["username"] = profile.Username
	}

	return &models.PlatformConnection{
		UserID:               userID,
		Platform:             platform,
		PlatformUserID:       profile.OpenID,
		PlatformUsername:     profile.DisplayName,
		AccessTokenSecretID:  secrets.AccessID,
		RefreshTokenSecretID: secrets.RefreshID,
		TokenExpiresAt:       token.ExpiresAt(now),
		Scopes:               splitScopes(token.Scope),
		Metadata:             metadata,
		IsActive:             true,
	}
}

// splitScopes accepts comma or space separated scope strings
func splitScopes(scope string) pq.StringArray {
	scopes := pq.StringArray{}
	for _, s := range strings.FieldsFunc(scope, func(r rune) bool { return r == ',' || r == ' ' }) {
		scopes = append(scopes, s)
	}
	return scopes
}

// staleSecretIDs returns the previous row's secrets that the stored row no
// longer references.
func staleSecretIDs(previous, stored *models.PlatformConnection) []string {
	current := map[string]bool{}
	for _, id := range stored.SecretIDs() {
		current[id] = true
	}
	var stale []string
	for _, id := range previous.SecretIDs() {
		if !current[id] {
			stale = append(stale, id)
		}
	}
	return stale
}

func providerMessage(err error, fallback string) string {
	var perr *oauth.ProviderError
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	return fallback
}

func unwrapJoined(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func fail(stage Stage, code, message string, err error) Outcome {
	return Outcome{Stage: stage, Code: code, Message: message, Err: err}
}

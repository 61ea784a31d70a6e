package connect

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fuomag9/creator-connect/internal/connection"
	"github.com/fuomag9/creator-connect/internal/connection/connectiontest"
	"github.com/fuomag9/creator-connect/internal/metrics"
	"github.com/fuomag9/creator-connect/internal/models"
	"github.com/fuomag9/creator-connect/internal/oauth"
	"github.com/fuomag9/creator-connect/internal/oauth/oauthtest"
	"github.com/fuomag9/creator-connect/internal/vault"
	"github.com/fuomag9/creator-connect/internal/vault/vaulttest"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	provider *oauthtest.Provider
	secrets  *vaulttest.MemoryStore
	store    *connection.Store
	db       *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	provider := &oauthtest.Provider{
		Token: &oauth.TokenResponse{
			AccessToken:  "tok1",
			RefreshToken: "ref1",
			ExpiresIn:    3600,
			Scope:        "user.info.basic",
		},
		Profile: &oauth.ExternalProfile{
			OpenID:      "u1",
			DisplayName: "Jane",
			AvatarURL:   "https://cdn.example.com/jane.jpg",
		},
	}
	secrets := vaulttest.NewMemoryStore()
	db := connectiontest.OpenDB(t)
	store := connection.NewStore(db)

	svc := NewService(
		oauth.NewRegistry(provider),
		vault.NewWriter(secrets, zap.NewNop()),
		store,
		metrics.New(prometheus.NewRegistry()),
		zap.NewNop(),
	)
	svc.now = func() time.Time { return fixedNow }

	return &fixture{svc: svc, provider: provider, secrets: secrets, store: store, db: db}
}

func validCallback() CallbackRequest {
	return CallbackRequest{
		Provider:       "tiktok",
		UserID:         "user-1",
		Code:           "abc123",
		State:          "state-1",
		StateCookie:    "state-1",
		VerifierCookie: "verifier-1",
	}
}

func TestComplete_Success(t *testing.T) {
	f := newFixture(t)

	outcome := f.svc.Complete(context.Background(), validCallback())

	require.True(t, outcome.Succeeded(), "outcome: %+v", outcome)
	assert.Equal(t, StageConnectionUpserted, outcome.Stage)
	assert.Equal(t, url.Values{"success": {"tiktok_connected"}}, outcome.Query())

	code, verifier := f.provider.LastExchange()
	assert.Equal(t, "abc123", code)
	assert.Equal(t, "verifier-1", verifier)

	conn, err := f.store.Get(context.Background(), "user-1", models.PlatformTikTok)
	require.NoError(t, err)
	assert.Equal(t, "tiktok", conn.Platform)
	assert.Equal(t, "u1", conn.PlatformUserID)
	assert.Equal(t, "Jane", conn.PlatformUsername)
	assert.Equal(t, pq.StringArray{"user.info.basic"}, conn.Scopes)
	assert.True(t, conn.IsActive)
	require.NotNil(t, conn.TokenExpiresAt)
	assert.True(t, fixedNow.Add(time.Hour).Equal(*conn.TokenExpiresAt))
	assert.Equal(t, "https://cdn.example.com/jane.jpg", conn.Metadata["avatar_url"])

	access, ok := f.secrets.Value(conn.AccessTokenSecretID)
	require.True(t, ok)
	assert.Equal(t, "tok1", access)
	require.NotNil(t, conn.RefreshTokenSecretID)
	refresh, ok := f.secrets.Value(*conn.RefreshTokenSecretID)
	require.True(t, ok)
	assert.Equal(t, "ref1", refresh)

	// no orphans: every stored secret is referenced by the row
	assert.Equal(t, 2, f.secrets.Len())
}

func TestComplete_StateGuards(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CallbackRequest)
		code   string
	}{
		{"missing state cookie", func(r *CallbackRequest) { r.StateCookie = "" }, CodeInvalidState},
		{"missing state param", func(r *CallbackRequest) { r.State = "" }, CodeInvalidState},
		{"state mismatch", func(r *CallbackRequest) { r.State = "forged" }, CodeInvalidState},
		{"missing verifier cookie", func(r *CallbackRequest) { r.VerifierCookie = "" }, CodeInvalidState},
		{"missing code", func(r *CallbackRequest) { r.Code = "" }, CodeNoCode},
		{"no session", func(r *CallbackRequest) { r.UserID = "" }, CodeNotAuthenticated},
		{"unknown provider", func(r *CallbackRequest) { r.Provider = "myspace" }, CodeServerMisconfigured},
		{"unknown provider with provider error", func(r *CallbackRequest) {
			r.Provider = "evil"
			r.ProviderError = "access_denied"
		}, CodeServerMisconfigured},
		{"provider denied", func(r *CallbackRequest) {
			r.ProviderError = "access_denied"
			r.ProviderErrorDescription = "User cancelled"
			r.Code = ""
		}, "tiktok_connection_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := validCallback()
			tt.mutate(&req)

			outcome := f.svc.Complete(context.Background(), req)

			assert.False(t, outcome.Succeeded())
			assert.Equal(t, StageAwaitingCode, outcome.Stage)
			assert.Equal(t, tt.code, outcome.Code)
			assert.NotEmpty(t, outcome.Message)

			exchange, profile := f.provider.Calls()
			assert.Zero(t, exchange)
			assert.Zero(t, profile)
			assert.Zero(t, f.secrets.Creates())
		})
	}
}

func TestComplete_ProviderDeniedMessage(t *testing.T) {
	f := newFixture(t)
	req := validCallback()
	req.ProviderError = "access_denied"
	req.ProviderErrorDescription = "User cancelled the authorization"

	outcome := f.svc.Complete(context.Background(), req)

	assert.Equal(t, "User cancelled the authorization", outcome.Message)
}

func TestComplete_ProviderPanicBecomesServerError(t *testing.T) {
	f := newFixture(t)
	f.provider.ExchangePanic = "nil map write"

	var outcome Outcome
	require.NotPanics(t, func() {
		outcome = f.svc.Complete(context.Background(), validCallback())
	})

	assert.False(t, outcome.Succeeded())
	assert.Equal(t, CodeServerError, outcome.Code)
	assert.NotEmpty(t, outcome.Message)
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "nil map write")
	assert.Zero(t, f.secrets.Creates())
}

func TestComplete_Unconfigured(t *testing.T) {
	f := newFixture(t)
	f.provider.Unconfigured = true

	outcome := f.svc.Complete(context.Background(), validCallback())

	assert.Equal(t, CodeServerMisconfigured, outcome.Code)
	require.ErrorIs(t, outcome.Err, oauth.ErrNotConfigured)
	exchange, _ := f.provider.Calls()
	assert.Zero(t, exchange)
}

func TestComplete_ExchangeFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.TokenErr = &oauth.ProviderError{
		Provider:   "tiktok",
		Op:         "token exchange",
		StatusCode: http.StatusBadRequest,
		Message:    "invalid_grant",
	}

	outcome := f.svc.Complete(context.Background(), validCallback())

	assert.Equal(t, StageStateValidated, outcome.Stage)
	assert.Equal(t, "tiktok_connection_failed", outcome.Code)
	assert.Equal(t, "invalid_grant", outcome.Message)
	assert.Equal(t, url.Values{
		"error":   {"tiktok_connection_failed"},
		"message": {"invalid_grant"},
	}, outcome.Query())

	exchange, profile := f.provider.Calls()
	assert.Equal(t, 1, exchange)
	assert.Zero(t, profile)
	assert.Zero(t, f.secrets.Creates())
}

func TestComplete_ExchangeTransportErrorUsesGenericMessage(t *testing.T) {
	f := newFixture(t)
	f.provider.TokenErr = errors.New("dial tcp: connection refused to secret-host")

	outcome := f.svc.Complete(context.Background(), validCallback())

	assert.Equal(t, "tiktok_connection_failed", outcome.Code)
	assert.Equal(t, "Failed to exchange authorization code.", outcome.Message)
}

func TestComplete_ProfileFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.ProfileErr = &oauth.ProviderError{Provider: "tiktok", Op: "profile fetch", Message: "access_token_invalid"}

	outcome := f.svc.Complete(context.Background(), validCallback())

	assert.Equal(t, StageTokenExchanged, outcome.Stage)
	assert.Equal(t, "tiktok_connection_failed", outcome.Code)
	assert.Equal(t, "access_token_invalid", outcome.Message)
	assert.Zero(t, f.secrets.Creates())

	_, err := f.store.Get(context.Background(), "user-1", models.PlatformTikTok)
	require.ErrorIs(t, err, connection.ErrNotFound)
}

func TestComplete_NoRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.provider.Token.RefreshToken = ""

	outcome := f.svc.Complete(context.Background(), validCallback())
	require.True(t, outcome.Succeeded())

	assert.Nil(t, outcome.Connection.RefreshTokenSecretID)
	assert.Equal(t, 1, f.secrets.Creates())
	assert.Equal(t, 1, f.secrets.Len())
}

func TestComplete_RefreshWriteFailureLeavesNoSecrets(t *testing.T) {
	f := newFixture(t)
	f.secrets.FailCreateAt = 2

	outcome := f.svc.Complete(context.Background(), validCallback())

	assert.Equal(t, StageProfileFetched, outcome.Stage)
	assert.Equal(t, "tiktok_connection_failed", outcome.Code)
	require.ErrorIs(t, outcome.Err, vaulttest.ErrInjected)
	assert.Zero(t, f.secrets.Len())

	_, err := f.store.Get(context.Background(), "user-1", models.PlatformTikTok)
	require.ErrorIs(t, err, connection.ErrNotFound)
}

func TestComplete_UpsertFailureCompensates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Exec(`DROP TABLE platform_connections`).Error)

	outcome := f.svc.Complete(context.Background(), validCallback())

	assert.Equal(t, StageSecretsStored, outcome.Stage)
	assert.Equal(t, "tiktok_connection_failed", outcome.Code)
	assert.Equal(t, "Failed to save the connection.", outcome.Message)
	require.Error(t, outcome.Err)

	assert.Equal(t, 2, f.secrets.Creates())
	secrets, err := f.secrets.ListSecrets(context.Background(), vault.ConnectionSecretPrefix+"tiktok:")
	require.NoError(t, err)
	assert.Empty(t, secrets)
}

func TestComplete_UpsertFailureWithFailedCleanupKeepsOriginalError(t *testing.T) {
	f := newFixture(t)
	f.secrets.FailDelete = true
	require.NoError(t, f.db.Exec(`DROP TABLE platform_connections`).Error)

	outcome := f.svc.Complete(context.Background(), validCallback())

	assert.Equal(t, "tiktok_connection_failed", outcome.Code)
	assert.Equal(t, "Failed to save the connection.", outcome.Message)
	assert.NotErrorIs(t, outcome.Err, vaulttest.ErrInjected)
}

func TestComplete_ReconnectOverwritesAndDropsOldSecrets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.svc.Complete(ctx, validCallback())
	require.True(t, first.Succeeded())

	f.provider.Token = &oauth.TokenResponse{AccessToken: "tok2", RefreshToken: "ref2", ExpiresIn: 7200, Scope: "user.info.basic,video.list"}
	second := f.svc.Complete(ctx, validCallback())
	require.True(t, second.Succeeded())

	conns, err := f.store.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, first.Connection.ID, conns[0].ID)
	assert.Equal(t, pq.StringArray{"user.info.basic", "video.list"}, conns[0].Scopes)
	assert.True(t, fixedNow.Add(2*time.Hour).Equal(*conns[0].TokenExpiresAt))

	access, ok := f.secrets.Value(conns[0].AccessTokenSecretID)
	require.True(t, ok)
	assert.Equal(t, "tok2", access)

	_, ok = f.secrets.Value(first.Connection.AccessTokenSecretID)
	assert.False(t, ok)
	assert.Equal(t, 2, f.secrets.Len())
}

func TestInitiate(t *testing.T) {
	f := newFixture(t)

	req, err := f.svc.Initiate("TikTok")
	require.NoError(t, err)
	assert.Equal(t, "tiktok", req.Provider)
	assert.Len(t, req.State, 64)
	assert.NotEmpty(t, req.CodeVerifier)
	assert.Contains(t, req.AuthURL, "state="+req.State)
	assert.Contains(t, req.AuthURL, "code_challenge="+oauth.GenerateCodeChallenge(req.CodeVerifier))
	assert.NotContains(t, req.AuthURL, req.CodeVerifier)
}

func TestInitiate_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Initiate("myspace")
	require.ErrorIs(t, err, oauth.ErrUnknownProvider)

	f.provider.Unconfigured = true
	_, err = f.svc.Initiate("tiktok")
	require.ErrorIs(t, err, oauth.ErrNotConfigured)
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.svc.Complete(ctx, validCallback()).Succeeded())
	require.Equal(t, 2, f.secrets.Len())

	require.NoError(t, f.svc.Disconnect(ctx, "user-1", "tiktok"))
	assert.Zero(t, f.secrets.Len())

	conns, err := f.svc.Connections(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, conns)

	require.ErrorIs(t, f.svc.Disconnect(ctx, "user-1", "tiktok"), connection.ErrNotFound)
}

func TestDisconnect_OtherUserCannotRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.svc.Complete(ctx, validCallback()).Succeeded())

	require.ErrorIs(t, f.svc.Disconnect(ctx, "user-2", "tiktok"), connection.ErrNotFound)
	assert.Equal(t, 2, f.secrets.Len())
}

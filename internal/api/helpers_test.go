package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fuomag9/creator-connect/internal/config"
	"github.com/fuomag9/creator-connect/internal/connect"
	"github.com/fuomag9/creator-connect/internal/connection"
	"github.com/fuomag9/creator-connect/internal/connection/connectiontest"
	"github.com/fuomag9/creator-connect/internal/metrics"
	"github.com/fuomag9/creator-connect/internal/oauth"
	"github.com/fuomag9/creator-connect/internal/vault"
	"github.com/fuomag9/creator-connect/internal/vault/vaulttest"
)

const testJWTSecret = "test-session-secret-0123456789"

// fakeTikTok serves the token and user info endpoints and records calls
type fakeTikTok struct {
	server       *httptest.Server
	tokenCalls   atomic.Int32
	profileCalls atomic.Int32

	mu             sync.Mutex
	tokenStatus    int
	tokenBody      map[string]any
	lastVerifier   string
	lastAuthHeader string
}

func newFakeTikTok(t *testing.T) *fakeTikTok {
	t.Helper()
	f := &fakeTikTok{
		tokenStatus: http.StatusOK,
		tokenBody: map[string]any{
			"access_token":  "tok1",
			"refresh_token": "ref1",
			"expires_in":    3600,
			"scope":         "user.info.basic",
			"open_id":       "u1",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/oauth/token/", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		_ = r.ParseForm()
		f.mu.Lock()
		f.lastVerifier = r.PostForm.Get("code_verifier")
		status, body := f.tokenStatus, f.tokenBody
		f.mu.Unlock()
		writeTestJSON(w, status, body)
	})
	mux.HandleFunc("/v2/user/info/", func(w http.ResponseWriter, r *http.Request) {
		f.profileCalls.Add(1)
		f.mu.Lock()
		f.lastAuthHeader = r.Header.Get("Authorization")
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"user": map[string]any{
				"open_id":      "u1",
				"display_name": "Jane",
				"avatar_url":   "https://cdn.example.com/jane.jpg",
			}},
			"error": map[string]any{"code": "ok"},
		})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeTikTok) setTokenResponse(status int, body map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenStatus = status
	f.tokenBody = body
}

func (f *fakeTikTok) endpoints() oauth.TikTokEndpoints {
	return oauth.TikTokEndpoints{
		AuthURL:     "https://www.tiktok.com/v2/auth/authorize/",
		TokenURL:    f.server.URL + "/v2/oauth/token/",
		UserInfoURL: f.server.URL + "/v2/user/info/",
	}
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type testEnv struct {
	router   http.Handler
	cfg      *config.Config
	tiktok   *fakeTikTok
	secrets  *vaulttest.MemoryStore
	store    *connection.Store
	registry *prometheus.Registry
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:  "production",
		AppURL:       "https://app.example.com",
		SettingsPath: "/settings",
		CORSOrigins:  []string{"https://app.example.com"},
		Session: config.SessionConfig{
			JWTSecret:  testJWTSecret,
			CookieName: "sb-access-token",
		},
		TikTok: config.ProviderConfig{
			ClientKey:    "client-key",
			ClientSecret: "client-secret",
			RedirectURI:  "https://app.example.com/api/auth/tiktok/callback",
			Scopes:       []string{"user.info.basic", "video.list"},
		},
		OAuth: config.OAuthConfig{
			HTTPTimeout: 2 * time.Second,
			StateTTL:    10 * time.Minute,
		},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	}
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	tiktok := newFakeTikTok(t)
	secrets := vaulttest.NewMemoryStore()
	store := connection.NewStore(connectiontest.OpenDB(t))
	registry := prometheus.NewRegistry()
	log := zap.NewNop()

	svc := connect.NewService(
		oauth.NewRegistry(oauth.NewTikTokClient(cfg.TikTok, tiktok.endpoints(), cfg.OAuth.HTTPTimeout)),
		vault.NewWriter(secrets, log),
		store,
		metrics.New(registry),
		log,
	)

	router := NewRouter(Dependencies{
		Config:   cfg,
		Connect:  svc,
		Limiter:  NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		Gatherer: registry,
		Logger:   log,
	})

	return &testEnv{router: router, cfg: cfg, tiktok: tiktok, secrets: secrets, store: store, registry: registry}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func signSession(t *testing.T, secret, userID string, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": userID + "@example.com",
		"role":  "authenticated",
		"exp":   time.Now().Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

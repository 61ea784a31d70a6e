package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fuomag9/creator-connect/internal/config"
	"github.com/fuomag9/creator-connect/internal/connect"
	"github.com/fuomag9/creator-connect/internal/oauth"
)

// InitiateResponse is returned by the initiate endpoint. The code verifier is
// only ever sent as an HttpOnly cookie.
type InitiateResponse struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
}

func stateCookieName(provider string) string {
	return provider + "_oauth_state"
}

func verifierCookieName(provider string) string {
	return provider + "_code_verifier"
}

func providerParam(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
}

// HandleOAuthInitiate starts an OAuth attempt: it generates state and PKCE,
// stores them in short-lived cookies and returns the provider consent URL.
func HandleOAuthInitiate(svc *connect.Service, cfg *config.Config, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := providerParam(r)

		authReq, err := svc.Initiate(provider)
		switch {
		case errors.Is(err, oauth.ErrUnknownProvider):
			http.Error(w, "Unknown provider", http.StatusNotFound)
			return
		case errors.Is(err, oauth.ErrNotConfigured):
			log.Error("OAuth provider is not configured", zap.String("provider", provider))
			http.Error(w, "Provider is not configured", http.StatusInternalServerError)
			return
		case err != nil:
			log.Error("Failed to initiate OAuth", zap.String("provider", provider), zap.Error(err))
			http.Error(w, "Failed to initiate OAuth", http.StatusInternalServerError)
			return
		}

		secure := !cfg.IsDevelopment()
		setOAuthCookie(w, stateCookieName(authReq.Provider), authReq.State, cfg.OAuth.StateTTL, secure)
		setOAuthCookie(w, verifierCookieName(authReq.Provider), authReq.CodeVerifier, cfg.OAuth.StateTTL, secure)

		log.Info("OAuth attempt started",
			zap.String("provider", authReq.Provider),
			zap.String("user_id", UserIDFromContext(r.Context())))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(InitiateResponse{
			AuthURL: authReq.AuthURL,
			State:   authReq.State,
		})
	}
}

// HandleOAuthCallback completes an OAuth attempt. Every path clears the
// attempt cookies and redirects to the settings page.
func HandleOAuthCallback(svc *connect.Service, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := providerParam(r)
		query := r.URL.Query()

		req := connect.CallbackRequest{
			Provider:                 provider,
			UserID:                   UserIDFromContext(r.Context()),
			Code:                     query.Get("code"),
			State:                    query.Get("state"),
			ProviderError:            query.Get("error"),
			ProviderErrorDescription: query.Get("error_description"),
			StateCookie:              cookieValue(r, stateCookieName(provider)),
			VerifierCookie:           cookieValue(r, verifierCookieName(provider)),
		}

		finishCallback(w, r, cfg, provider, svc.Complete(r.Context(), req))
	}
}

// CallbackRateLimitMiddleware limits callbacks per client IP. A limited
// callback still ends the attempt: cookies are cleared and the browser is
// sent back to settings.
func CallbackRateLimitMiddleware(limiter *RateLimiter, cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(r) {
				provider := providerParam(r)
				finishCallback(w, r, cfg, provider, connect.Rejected(provider, connect.CodeRateLimited,
					"Too many attempts. Please try again later."))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func finishCallback(w http.ResponseWriter, r *http.Request, cfg *config.Config, provider string, outcome connect.Outcome) {
	secure := !cfg.IsDevelopment()
	clearOAuthCookie(w, stateCookieName(provider), secure)
	clearOAuthCookie(w, verifierCookieName(provider), secure)

	http.Redirect(w, r, outcome.RedirectURL(cfg.SettingsURL()), http.StatusFound)
}

func setOAuthCookie(w http.ResponseWriter, name, value string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearOAuthCookie(w http.ResponseWriter, name string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

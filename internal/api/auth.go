package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fuomag9/creator-connect/internal/config"
)

type contextKey string

const sessionContextKey contextKey = "session"

// ErrNoSession is returned when a request carries no valid session token
var ErrNoSession = errors.New("no valid session")

// Session is the authenticated application user of a request
type Session struct {
	UserID string
	Email  string
}

type sessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SessionAuthenticator verifies session tokens issued by the auth backend
type SessionAuthenticator struct {
	secret     []byte
	cookieName string
}

// NewSessionAuthenticator creates an authenticator for cfg
func NewSessionAuthenticator(cfg config.SessionConfig) *SessionAuthenticator {
	return &SessionAuthenticator{
		secret:     []byte(cfg.JWTSecret),
		cookieName: cfg.CookieName,
	}
}

// Authenticate reads the session token from the Authorization header or the
// session cookie and verifies it. The user id comes only from the signed sub
// claim.
func (a *SessionAuthenticator) Authenticate(r *http.Request) (*Session, error) {
	tokenString := bearerToken(r)
	if tokenString == "" && a.cookieName != "" {
		if cookie, err := r.Cookie(a.cookieName); err == nil {
			tokenString = cookie.Value
		}
	}
	if tokenString == "" {
		return nil, ErrNoSession
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrNoSession)
	}

	return &Session{UserID: claims.Subject, Email: claims.Email}, nil
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return ""
	}
	return strings.TrimSpace(tokenString)
}

// RequireSession rejects requests without a valid session with 401
func RequireSession(auth *SessionAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := auth.Authenticate(r)
			if err != nil {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// LoadSession attaches the session when present and lets the request
// through either way.
func LoadSession(auth *SessionAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if session, err := auth.Authenticate(r); err == nil {
				r = r.WithContext(WithSession(r.Context(), session))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSession stores session in ctx
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// SessionFromContext returns the request session, nil when unauthenticated
func SessionFromContext(ctx context.Context) *Session {
	session, _ := ctx.Value(sessionContextKey).(*Session)
	return session
}

// UserIDFromContext returns the authenticated user id or ""
func UserIDFromContext(ctx context.Context) string {
	if session := SessionFromContext(ctx); session != nil {
		return session.UserID
	}
	return ""
}

package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConfigured is returned when a provider lacks client credentials
	// or a redirect URI.
	ErrNotConfigured = errors.New("oauth provider is not configured")
	// ErrUnknownProvider is returned for provider names without a client.
	ErrUnknownProvider = errors.New("unknown oauth provider")
)

// Provider is an external platform that users can link through OAuth.
type Provider interface {
	// Name is the lowercase platform identifier used in routes and rows.
	Name() string
	Configured() bool
	AuthorizationURL(state, codeChallenge string) (string, error)
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResponse, error)
	FetchProfile(ctx context.Context, accessToken string) (*ExternalProfile, error)
}

// TokenResponse is the result of an authorization code exchange. It only
// lives for the duration of a callback request.
type TokenResponse struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int
	RefreshExpiresIn int
	Scope            string
	OpenID           string
}

// ExpiresAt converts ExpiresIn to an absolute time, nil when unknown.
func (t *TokenResponse) ExpiresAt(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	at := now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	return &at
}

// ExternalProfile is the linked account as reported by the platform.
type ExternalProfile struct {
	OpenID          string
	UnionID         string
	DisplayName     string
	Username        string
	AvatarURL       string
	ProfileDeepLink string
	FollowerCount   int64
	FollowingCount  int64
	LikesCount      int64
	VideoCount      int64
}

// ProviderError is a failed call to a provider endpoint. Message is safe to
// show to the user.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed with status %d: %s", e.Provider, e.Op, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Provider, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Provider, e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/fuomag9/creator-connect/internal/config"
	"github.com/fuomag9/creator-connect/internal/models"
)

const maxResponseBytes = 1 << 20

// tiktokProfileFields is the field list requested from the user info endpoint.
const tiktokProfileFields = "open_id,union_id,avatar_url,display_name,username,profile_deep_link,follower_count,following_count,likes_count,video_count"

// TikTokEndpoints holds the TikTok v2 OAuth and API endpoints
type TikTokEndpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// DefaultTikTokEndpoints are the production TikTok endpoints
var DefaultTikTokEndpoints = TikTokEndpoints{
	AuthURL:     "https://www.tiktok.com/v2/auth/authorize/",
	TokenURL:    "https://open.tiktokapis.com/v2/oauth/token/",
	UserInfoURL: "https://open.tiktokapis.com/v2/user/info/",
}

// TikTokClient implements Provider for TikTok Login Kit
type TikTokClient struct {
	config     config.ProviderConfig
	endpoints  TikTokEndpoints
	httpClient *http.Client
}

// NewTikTokClient creates a TikTok client. Every outbound call is bounded by
// timeout.
func NewTikTokClient(cfg config.ProviderConfig, endpoints TikTokEndpoints, timeout time.Duration) *TikTokClient {
	return &TikTokClient{
		config:    cfg,
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *TikTokClient) Name() string {
	return models.PlatformTikTok
}

func (c *TikTokClient) Configured() bool {
	return c.config.Configured() && c.config.ClientSecret != ""
}

// AuthorizationURL returns the TikTok consent URL with PKCE. TikTok expects
// client_key and comma-separated scopes.
func (c *TikTokClient) AuthorizationURL(state, codeChallenge string) (string, error) {
	if !c.config.Configured() {
		return "", ErrNotConfigured
	}

	u, err := url.Parse(c.endpoints.AuthURL)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	params := u.Query()
	params.Set("client_key", c.config.ClientKey)
	params.Set("response_type", "code")
	params.Set("scope", strings.Join(c.config.Scopes, ","))
	params.Set("redirect_uri", c.config.RedirectURI)
	params.Set("state", state)
	params.Set("code_challenge", codeChallenge)
	params.Set("code_challenge_method", "S256")
	u.RawQuery = params.Encode()

	return u.String(), nil
}

type tiktokTokenPayload struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
	OpenID           string `json:"open_id"`
	TokenType        string `json:"token_type"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
	LogID            string `json:"log_id"`
}

// ExchangeCode exchanges an authorization code for tokens. Codes are single
// use, so the request is sent exactly once.
func (c *TikTokClient) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	data := url.Values{}
	data.Set("client_key", c.config.ClientKey)
	data.Set("client_secret", c.config.ClientSecret)
	data.Set("code", code)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", c.config.RedirectURI)
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError("token exchange", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportError("token exchange", err)
	}

	var payload tiktokTokenPayload
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices || payload.Error != "" {
		return nil, &ProviderError{
			Provider:   c.Name(),
			Op:         "token exchange",
			StatusCode: resp.StatusCode,
			Message:    c.redact(firstNonEmpty(payload.Message, payload.ErrorDescription, payload.Error, http.StatusText(resp.StatusCode))),
		}
	}
	if decodeErr != nil {
		return nil, &ProviderError{
			Provider: c.Name(),
			Op:       "token exchange",
			Message:  "invalid token response",
			Err:      decodeErr,
		}
	}
	if payload.AccessToken == "" {
		return nil, &ProviderError{
			Provider: c.Name(),
			Op:       "token exchange",
			Message:  "token response missing access_token",
		}
	}

	return &TokenResponse{
		AccessToken:      payload.AccessToken,
		RefreshToken:     payload.RefreshToken,
		ExpiresIn:        payload.ExpiresIn,
		RefreshExpiresIn: payload.RefreshExpiresIn,
		Scope:            payload.Scope,
		OpenID:           payload.OpenID,
	}, nil
}

type tiktokUserPayload struct {
	Data struct {
		User struct {
			OpenID          string `json:"open_id"`
			UnionID         string `json:"union_id"`
			AvatarURL       string `json:"avatar_url"`
			DisplayName     string `json:"display_name"`
			Username        string `json:"username"`
			ProfileDeepLink string `json:"profile_deep_link"`
			FollowerCount   int64  `json:"follower_count"`
			FollowingCount  int64  `json:"following_count"`
			LikesCount      int64  `json:"likes_count"`
			VideoCount      int64  `json:"video_count"`
		} `json:"user"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		LogID   string `json:"log_id"`
	} `json:"error"`
}

// FetchProfile fetches the authenticated TikTok user's profile
func (c *TikTokClient) FetchProfile(ctx context.Context, accessToken string) (*ExternalProfile, error) {
	u, err := url.Parse(c.endpoints.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("invalid user info endpoint: %w", err)
	}
	query := u.Query()
	query.Set("fields", tiktokProfileFields)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	// oauth2 only borrows the context client's transport, not its timeout.
	bearerCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	client := oauth2.NewClient(bearerCtx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	client.Timeout = c.httpClient.Timeout

	resp, err := client.Do(req)
	if err != nil {
		return nil, c.transportError("profile fetch", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportError("profile fetch", err)
	}

	var payload tiktokUserPayload
	decodeErr := json.Unmarshal(body, &payload)

	providerFailed := payload.Error.Code != "" && payload.Error.Code != "ok"
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices || providerFailed {
		return nil, &ProviderError{
			Provider:   c.Name(),
			Op:         "profile fetch",
			StatusCode: resp.StatusCode,
			Message:    firstNonEmpty(payload.Error.Message, payload.Error.Code, http.StatusText(resp.StatusCode)),
		}
	}
	if decodeErr != nil {
		return nil, &ProviderError{
			Provider: c.Name(),
			Op:       "profile fetch",
			Message:  "invalid user info response",
			Err:      decodeErr,
		}
	}

	user := payload.Data.User
	if user.OpenID == "" || user.DisplayName == "" {
		return nil, &ProviderError{
			Provider: c.Name(),
			Op:       "profile fetch",
			Message:  "user info response missing open_id or display_name",
		}
	}

	return &ExternalProfile{
		OpenID:          user.OpenID,
		UnionID:         user.UnionID,
		DisplayName:     user.DisplayName,
		Username:        user.Username,
		AvatarURL:       user.AvatarURL,
		ProfileDeepLink: user.ProfileDeepLink,
		FollowerCount:   user.FollowerCount,
		FollowingCount:  user.FollowingCount,
		LikesCount:      user.LikesCount,
		VideoCount:      user.VideoCount,
	}, nil
}

func (c *TikTokClient) transportError(op string, err error) error {
	message := "could not reach TikTok"
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		message = "TikTok did not respond in time"
	}
	return &ProviderError{
		Provider: c.Name(),
		Op:       op,
		Message:  message,
		Err:      err,
	}
}

func (c *TikTokClient) redact(message string) string {
	if c.config.ClientSecret == "" {
		return message
	}
	return strings.ReplaceAll(message, c.config.ClientSecret, "[redacted]")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

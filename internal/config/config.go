package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port        int
	Environment string
	LogLevel    string

	// AppURL is the public base URL of the web application (no trailing slash).
	AppURL       string
	SettingsPath string
	CORSOrigins  []string

	// Database is the restricted connection used for end-user scoped writes.
	Database DatabaseConfig
	// ServiceDatabase is the elevated connection used only for vault
	// operations, migrations and maintenance jobs.
	ServiceDatabase DatabaseConfig

	Session SessionConfig
	TikTok  ProviderConfig
	OAuth   OAuthConfig
	Reaper  ReaperConfig

	RateLimitRPS   float64
	RateLimitBurst int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string // postgres
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// SessionConfig describes how end-user session tokens are verified
type SessionConfig struct {
	JWTSecret  string
	CookieName string
	// Generated is true when no secret was configured and a random one was
	// created for development.
	Generated bool
}

// ProviderConfig holds OAuth client settings for a single external platform
type ProviderConfig struct {
	ClientKey    string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// Configured reports whether the client can start an authorization flow.
func (p ProviderConfig) Configured() bool {
	return p.ClientKey != "" && p.RedirectURI != ""
}

// OAuthConfig holds settings shared by all provider flows
type OAuthConfig struct {
	HTTPTimeout time.Duration
	StateTTL    time.Duration
}

// ReaperConfig controls the orphaned vault secret cleanup job
type ReaperConfig struct {
	Enabled  bool
	Schedule string
	Grace    time.Duration
}

// Load loads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENVIRONMENT", "production")
	appURL := getAppURL()

	session, err := loadSessionConfig(env)
	if err != nil {
		return nil, err
	}

	dsn := getEnv("DATABASE_DSN", buildPostgresDSN())
	cfg := &Config{
		Port:         getEnvInt("PORT", 8080),
		Environment:  env,
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		AppURL:       appURL,
		SettingsPath: getEnv("SETTINGS_PATH", "/settings"),
		CORSOrigins:  loadCORSOrigins(appURL, env),
		Database: DatabaseConfig{
			Type:         getEnv("DATABASE_TYPE", "postgres"),
			DSN:          dsn,
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		ServiceDatabase: DatabaseConfig{
			Type:         getEnv("DATABASE_TYPE", "postgres"),
			DSN:          os.Getenv("SERVICE_DATABASE_DSN"),
			MaxOpenConns: getEnvInt("SERVICE_DB_MAX_OPEN_CONNS", 5),
			MaxIdleConns: getEnvInt("SERVICE_DB_MAX_IDLE_CONNS", 2),
		},
		Session: session,
		TikTok:  loadTikTokConfig(appURL),
		OAuth: OAuthConfig{
			HTTPTimeout: getEnvDuration("OAUTH_HTTP_TIMEOUT", 15*time.Second),
			StateTTL:    getEnvDuration("OAUTH_STATE_TTL", 10*time.Minute),
		},
		Reaper: ReaperConfig{
			Enabled:  getEnvBool("SECRET_REAPER_ENABLED", true),
			Schedule: getEnv("SECRET_REAPER_SCHEDULE", "*/30 * * * *"),
			Grace:    getEnvDuration("SECRET_REAPER_GRACE", time.Hour),
		},
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 1),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if len(c.Session.JWTSecret) < 32 {
			return fmt.Errorf("SESSION_JWT_SECRET must be at least 32 characters in production")
		}
		if c.AppURL == "" {
			return fmt.Errorf("APP_URL is required in production")
		}
	}

	if c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	if c.ServiceDatabase.DSN == "" {
		return fmt.Errorf("SERVICE_DATABASE_DSN is required for vault access")
	}
	if c.ServiceDatabase.DSN == c.Database.DSN && c.Environment == "production" {
		return fmt.Errorf("SERVICE_DATABASE_DSN must use different credentials than DATABASE_DSN")
	}

	if len(c.CORSOrigins) == 0 {
		return fmt.Errorf("at least one CORS origin must be configured")
	}
	if !strings.HasPrefix(c.SettingsPath, "/") {
		return fmt.Errorf("SETTINGS_PATH must start with /")
	}
	if c.OAuth.HTTPTimeout <= 0 {
		return fmt.Errorf("OAUTH_HTTP_TIMEOUT must be positive")
	}

	return nil
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// SettingsURL returns the absolute URL of the settings page that OAuth
// callbacks redirect to.
func (c *Config) SettingsURL() string {
	return c.AppURL + c.SettingsPath
}

func buildPostgresDSN() string {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "authenticator")
	password := getEnv("POSTGRES_PASSWORD", "secret")
	dbName := getEnv("POSTGRES_DB", "postgres")
	sslMode := getEnv("POSTGRES_SSLMODE", "disable")

	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   dbName,
	}

	query := u.Query()
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}

func loadSessionConfig(env string) (SessionConfig, error) {
	cfg := SessionConfig{
		JWTSecret:  os.Getenv("SESSION_JWT_SECRET"),
		CookieName: getEnv("SESSION_COOKIE", "sb-access-token"),
	}

	if cfg.JWTSecret == "" {
		if env == "production" {
			return cfg, fmt.Errorf("SESSION_JWT_SECRET environment variable is required in production")
		}
		secret, err := generateRandomSecret()
		if err != nil {
			return cfg, err
		}
		cfg.JWTSecret = secret
		cfg.Generated = true
		return cfg, nil
	}

	if len(cfg.JWTSecret) < 16 {
		return cfg, fmt.Errorf("SESSION_JWT_SECRET must be at least 16 characters long")
	}

	return cfg, nil
}

func loadCORSOrigins(appURL, env string) []string {
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		return splitAndTrim(origins, ",")
	}
	if appURL != "" {
		return []string{appURL}
	}
	if env == "development" {
		return []string{"http://localhost:3000", "http://localhost:5173"}
	}
	return []string{"http://localhost:3000"}
}

func loadTikTokConfig(appURL string) ProviderConfig {
	redirectURI := os.Getenv("TIKTOK_REDIRECT_URI")
	if redirectURI == "" && appURL != "" {
		redirectURI = appURL + "/api/auth/tiktok/callback"
	}

	scopes := []string{"user.info.basic", "user.info.profile", "user.info.stats", "video.list"}
	if scopesEnv := os.Getenv("TIKTOK_SCOPES"); scopesEnv != "" {
		scopes = splitAndTrim(scopesEnv, ",")
	}

	return ProviderConfig{
		ClientKey:    strings.TrimSpace(os.Getenv("TIKTOK_CLIENT_KEY")),
		ClientSecret: strings.TrimSpace(os.Getenv("TIKTOK_CLIENT_SECRET")),
		RedirectURI:  redirectURI,
		Scopes:       scopes,
	}
}

func splitAndTrim(s, sep string) []string {
	parts := []string{}
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func generateRandomSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

func getAppURL() string {
	return strings.TrimRight(os.Getenv("APP_URL"), "/")
}

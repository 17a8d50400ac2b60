package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Google OAuth（任意。3つ揃った場合のみ有効）
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge int

	// 外部IdPのセッション交換
	IdentityVerifierURL     string
	IdentityVerifierTimeout time.Duration

	// BoardGameGeek
	BGGAPIBaseURL  string
	BGGSiteBaseURL string
	BGGTimeout     time.Duration

	// AI (OpenAI互換エンドポイント)
	AIBaseURL string
	AIAPIKey  string
	AIModel   string
	AITimeout time.Duration

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral   int
	RateLimitExpensive int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigins []string
}

// GoogleOAuthEnabled はGoogleログインの設定が揃っているかを返す。
func (c *Config) GoogleOAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.IdentityVerifierURL = getEnvString("IDENTITY_VERIFIER_URL", "https://demobackend.emergentagent.com/auth/v1/env/oauth/session-data")
	cfg.IdentityVerifierTimeout = getEnvDuration("IDENTITY_VERIFIER_TIMEOUT", 10*time.Second)
	cfg.BGGAPIBaseURL = strings.TrimRight(getEnvString("BGG_API_BASE_URL", "https://boardgamegeek.com/xmlapi2"), "/")
	cfg.BGGSiteBaseURL = strings.TrimRight(getEnvString("BGG_SITE_BASE_URL", "https://boardgamegeek.com"), "/")
	cfg.BGGTimeout = getEnvDuration("BGG_TIMEOUT", 10*time.Second)
	cfg.AIBaseURL = strings.TrimRight(getEnvString("AI_BASE_URL", "https://api.openai.com/v1"), "/")
	cfg.AIAPIKey = getEnvString("AI_API_KEY", "")
	cfg.AIModel = getEnvString("AI_MODEL", "gemini-2.5-flash")
	cfg.AITimeout = getEnvDuration("AI_TIMEOUT", 10*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitExpensive = getEnvInt("RATE_LIMIT_EXPENSIVE", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

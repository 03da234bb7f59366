// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RefreshSecretSource はリフレッシュトークン署名シークレットの由来を表す。
// 専用シークレット未設定時のフォールバック連鎖（refresh → admin → access）は
// 互換性のために維持しているが、管理用シークレットの暗号用途への転用は
// 鍵分離を弱めるため、フォールバック発動時は起動時に警告ログを出す。
type RefreshSecretSource string

const (
	// RefreshSecretDedicated は専用のJWT_REFRESH_SECRETが設定されていることを示す。
	RefreshSecretDedicated RefreshSecretSource = "dedicated"
	// RefreshSecretAdminFallback はADMIN_SECRET_KEYへのフォールバックを示す。
	RefreshSecretAdminFallback RefreshSecretSource = "admin_secret"
	// RefreshSecretAccessFallback はアクセスシークレットへのフォールバックを示す。
	RefreshSecretAccessFallback RefreshSecretSource = "access_secret"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	AccessSecret        string
	RefreshSecret       string
	RefreshSecretSource RefreshSecretSource
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration

	// Admin
	AdminSecretKey string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string

	// Rate Limit
	RateLimitGeneral int
	RateLimitLogin   int

	// Logging
	LogRetentionDays int

	// Server
	ServerPort  string
	BaseURL     string
	FrontendURL string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// 環境変数の読み取りはこの1箇所でのみ行い、コアコンポーネントの構築前に実行する。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	// 旧構成との互換のため、ACCESS_TOKEN_SECRETも明示的な代替名として受け付ける。
	cfg.AccessSecret = os.Getenv("JWT_SECRET")
	if cfg.AccessSecret == "" {
		cfg.AccessSecret = os.Getenv("ACCESS_TOKEN_SECRET")
	}
	if cfg.AccessSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Adminロールでのサインアップに必要な共有シークレット。
	// 未設定の場合、Adminロールでのサインアップは常に拒否される。
	cfg.AdminSecretKey = os.Getenv("ADMIN_SECRET_KEY")

	// リフレッシュシークレットのフォールバック連鎖: refresh → admin → access
	switch {
	case os.Getenv("JWT_REFRESH_SECRET") != "":
		cfg.RefreshSecret = os.Getenv("JWT_REFRESH_SECRET")
		cfg.RefreshSecretSource = RefreshSecretDedicated
	case cfg.AdminSecretKey != "":
		cfg.RefreshSecret = cfg.AdminSecretKey
		cfg.RefreshSecretSource = RefreshSecretAdminFallback
	default:
		cfg.RefreshSecret = cfg.AccessSecret
		cfg.RefreshSecretSource = RefreshSecretAccessFallback
	}

	// Optional fields with defaults
	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
	cfg.RefreshTokenTTL = getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour)
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	cfg.GitHubClientID = os.Getenv("GITHUB_CLIENT_ID")
	cfg.GitHubClientSecret = os.Getenv("GITHUB_CLIENT_SECRET")
	cfg.GitHubRedirectURL = os.Getenv("GITHUB_REDIRECT_URL")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 90)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8000")
	cfg.FrontendURL = getEnvString("FRONTEND_URL", "http://localhost:5173")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.FrontendURL)

	if cfg.GoogleRedirectURL == "" {
		cfg.GoogleRedirectURL = cfg.BaseURL + "/api/auth/google/callback"
	}
	if cfg.GitHubRedirectURL == "" {
		cfg.GitHubRedirectURL = cfg.BaseURL + "/api/auth/github/callback"
	}

	return cfg, nil
}

// GoogleEnabled はGoogle OAuthプロバイダーが設定済みかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// GitHubEnabled はGitHub OAuthプロバイダーが設定済みかを返す。
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// OAuthProviders は設定済みプロバイダーの能力セットを返す。
// グローバルなストラテジーレジストリの代わりに、この値で利用可否を判定する。
func (c *Config) OAuthProviders() map[string]bool {
	return map[string]bool{
		"google": c.GoogleEnabled(),
		"github": c.GitHubEnabled(),
	}
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

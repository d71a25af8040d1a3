// Package config はアプリケーション設定の読み込みを提供する。
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
// 各コンポーネントには構築時にこの構造体（または必要な値）を明示的に注入し、
// グローバルな可変状態は持たない。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth（マーケティングプラットフォーム）
	MailchimpClientID     string
	MailchimpClientSecret string
	MailchimpRedirectURL  string

	// Linking
	SessionTTL          time.Duration // 保留セッションの有効期間（固定10分がデフォルト）
	SimilarityThreshold float64       // トライグラム類似度の下限

	// Upstream
	UpstreamTimeout time.Duration

	// Sweep
	SweepInterval time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitWebhook int

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
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

	cfg.MailchimpClientID = os.Getenv("MAILCHIMP_CLIENT_ID")
	if cfg.MailchimpClientID == "" {
		missing = append(missing, "MAILCHIMP_CLIENT_ID")
	}

	cfg.MailchimpClientSecret = os.Getenv("MAILCHIMP_CLIENT_SECRET")
	if cfg.MailchimpClientSecret == "" {
		missing = append(missing, "MAILCHIMP_CLIENT_SECRET")
	}

	cfg.MailchimpRedirectURL = os.Getenv("MAILCHIMP_REDIRECT_URL")
	if cfg.MailchimpRedirectURL == "" {
		missing = append(missing, "MAILCHIMP_REDIRECT_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 10*time.Minute)
	cfg.SimilarityThreshold = getEnvFloat("SIMILARITY_THRESHOLD", 0.3)
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 5*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitWebhook = getEnvInt("RATE_LIMIT_WEBHOOK", 300)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold >= 1 {
		return nil, fmt.Errorf("SIMILARITY_THRESHOLD must be in (0, 1): %v", cfg.SimilarityThreshold)
	}

	return cfg, nil
}

// CookieSecure はBASE_URLがhttpsの場合にtrueを返す。
func (c *Config) CookieSecure() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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

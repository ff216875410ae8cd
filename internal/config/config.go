// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（分散ロックと通知重複排除）。未設定の場合はインメモリ実装を使う。
	RedisAddr     string
	RedisPassword string

	// Crawl
	CrawlTimeout       time.Duration
	CrawlMaxSize       int64
	CrawlMaxConcurrent int
	CrawlInterval      time.Duration
	// PricingCrawlInterval は料金ページの再クロール間隔。
	PricingCrawlInterval time.Duration
	// ThrottleMaxRequests / ThrottlePeriod はホスト単位のアウトバウンド
	// スライディングウィンドウの設定。
	ThrottleMaxRequests int
	ThrottlePeriod      time.Duration
	// LockTTLBuffer はソースロックTTLに加算する安全マージン。
	LockTTLBuffer time.Duration

	// Notification
	DeliveryMaxAttempts   int
	DeliveryRetryDefault  time.Duration
	DeliveryInterval      time.Duration
	DeliveryMaxConcurrent int
	DedupTTL              time.Duration

	// Transport
	TelegramBotToken string
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	SMTPFrom         string

	// News
	NewsCrawlInterval time.Duration

	// Sources
	SourcesFile string

	// Rate Limit (API)
	RateLimitGeneral int
	RateLimitIngest  int

	// Server
	ServerPort string

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

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.CrawlTimeout = getEnvDuration("CRAWL_TIMEOUT", 10*time.Second)
	cfg.CrawlMaxSize = getEnvInt64("CRAWL_MAX_SIZE", 5242880)
	cfg.CrawlMaxConcurrent = getEnvInt("CRAWL_MAX_CONCURRENT", 10)
	cfg.CrawlInterval = getEnvDuration("CRAWL_INTERVAL", 5*time.Minute)
	cfg.PricingCrawlInterval = getEnvDuration("PRICING_CRAWL_INTERVAL", 6*time.Hour)
	cfg.ThrottleMaxRequests = getEnvInt("THROTTLE_MAX_REQUESTS", 6)
	cfg.ThrottlePeriod = getEnvDuration("THROTTLE_PERIOD", time.Minute)
	cfg.LockTTLBuffer = getEnvDuration("LOCK_TTL_BUFFER", 30*time.Second)
	cfg.DeliveryMaxAttempts = getEnvInt("DELIVERY_MAX_ATTEMPTS", 5)
	cfg.DeliveryRetryDefault = getEnvDuration("DELIVERY_RETRY_DEFAULT", 5*time.Minute)
	cfg.DeliveryInterval = getEnvDuration("DELIVERY_INTERVAL", time.Minute)
	cfg.DeliveryMaxConcurrent = getEnvInt("DELIVERY_MAX_CONCURRENT", 10)
	cfg.DedupTTL = getEnvDuration("DEDUP_TTL", time.Hour)
	cfg.TelegramBotToken = getEnvString("TELEGRAM_BOT_TOKEN", "")
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.SMTPFrom = getEnvString("SMTP_FROM", "")
	cfg.NewsCrawlInterval = getEnvDuration("NEWS_CRAWL_INTERVAL", 15*time.Minute)
	cfg.SourcesFile = getEnvString("SOURCES_FILE", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitIngest = getEnvInt("RATE_LIMIT_INGEST", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// SourceLockTTL はソースロックのTTLを返す。
// フェッチタイムアウト + 安全マージン。ロックはフェッチ1回より長く保持されない。
func (c *Config) SourceLockTTL() time.Duration {
	return c.CrawlTimeout + c.LockTTLBuffer
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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

// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// セッションストアの種類
const (
	SessionBackendDatabase = "database"
	SessionBackendRedis    = "redis"
	SessionBackendMemory   = "memory"
)

// 期限切れセッション掃除の実行方式
const (
	SweeperTicker = "ticker"
	SweeperQueue  = "queue"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// セッション設定
	SessionSecret      string        // セッションIDクッキー署名用の秘密鍵
	SessionCookieName  string        // セッションクッキー名
	SessionMaxAge      time.Duration // セッションの有効期間（クッキーの MaxAge と同じ）
	SessionBackend     string        // database / redis / memory
	SessionSweeper     string        // ticker / queue
	SessionSweepPeriod time.Duration // 期限切れセッションの掃除間隔

	// データベース設定
	DatabaseDriver string // sqlite3 または pgx
	DatabaseDSN    string // 接続文字列

	// Redis設定（セッションストアと掃除キューで共用）
	RedisURL string

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// パスワードハッシュ
	BcryptCost int
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8000"),
		GinMode: getEnv("GIN_MODE", "debug"),

		SessionSecret:      getEnv("SESSION_SECRET", ""),
		SessionCookieName:  getEnv("SESSION_COOKIE_NAME", "connect.sid"),
		SessionMaxAge:      time.Duration(getEnvAsInt("SESSION_MAX_AGE_SECONDS", 24*60*60)) * time.Second,
		SessionBackend:     strings.ToLower(getEnv("SESSION_BACKEND", SessionBackendDatabase)),
		SessionSweeper:     strings.ToLower(getEnv("SESSION_SWEEPER", SweeperTicker)),
		SessionSweepPeriod: time.Duration(getEnvAsInt("SESSION_SWEEP_INTERVAL_SECONDS", 120)) * time.Second,

		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseDSN:    getEnv("DATABASE_DSN", getEnv("DATABASE_URL", "file:auth.db?_foreign_keys=on")),

		RedisURL: getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		BcryptCost: getEnvAsInt("BCRYPT_COST", 10),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// IsRelease は本番モードかどうかを返します。
func (c *Config) IsRelease() bool {
	return c.GinMode == "release"
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.SessionBackend {
	case SessionBackendDatabase, SessionBackendRedis, SessionBackendMemory:
	default:
		return fmt.Errorf("SESSION_BACKEND must be one of database, redis, memory: %q", c.SessionBackend)
	}
	switch c.SessionSweeper {
	case SweeperTicker, SweeperQueue:
	default:
		return fmt.Errorf("SESSION_SWEEPER must be ticker or queue: %q", c.SessionSweeper)
	}
	switch c.DatabaseDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite3 or pgx: %q", c.DatabaseDriver)
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE_SECONDS must be positive")
	}
	if c.SessionSweepPeriod <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL_SECONDS must be positive")
	}

	// ローカル開発では秘密鍵は任意（起動時にランダム生成する）
	if c.IsRelease() {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.SessionBackend == SessionBackendMemory {
			return fmt.Errorf("SESSION_BACKEND=memory is not allowed in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

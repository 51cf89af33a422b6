package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// 実行環境（development / production）
	AppEnv string

	Database DatabaseConfig
	Worker   WorkerConfig
	Realtime RealtimeConfig
	Gateway  GatewayConfig
	OpenAI   OpenAIConfig
	Log      LogConfig
}

// DatabaseConfig はデータベース接続設定
// URL が指定されている場合は個別項目より優先します
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ConnString は接続文字列を返します
func (c DatabaseConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// WorkerConfig は生成ワーカーの設定
type WorkerConfig struct {
	Queue        string
	Concurrency  int
	PollInterval time.Duration
	Lease        time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// RealtimeConfig はリアルタイム配信の設定
type RealtimeConfig struct {
	Enabled      bool
	Channel      string
	CatchupLimit int
}

// GatewayConfig はリアルタイムゲートウェイの設定
type GatewayConfig struct {
	Port int
}

// OpenAIConfig はOpenAI API設定
// APIKey が空の場合はオフラインの合成エンジンを使用します
type OpenAIConfig struct {
	APIKey      string
	Model       string
	PricingFile string
}

// LogConfig はログ出力設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "production"),
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "novelforge"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "novelforge"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Worker: WorkerConfig{
			Queue:        getEnv("WORKER_QUEUE", "novel-generation"),
			Concurrency:  getEnvAsInt("WORKER_CONCURRENCY", 2),
			PollInterval: getEnvAsDuration("WORKER_POLL_INTERVAL", 2*time.Second),
			Lease:        getEnvAsDuration("WORKER_LEASE", 15*time.Minute),
			MaxAttempts:  getEnvAsInt("WORKER_MAX_ATTEMPTS", 3),
			BaseBackoff:  getEnvAsDuration("WORKER_BASE_BACKOFF", 5*time.Second),
			MaxBackoff:   getEnvAsDuration("WORKER_MAX_BACKOFF", 5*time.Minute),
		},
		Realtime: RealtimeConfig{
			Enabled:      getEnvAsBool("REALTIME_ENABLED", true),
			Channel:      getEnv("REALTIME_CHANNEL", "novel_job_events"),
			CatchupLimit: getEnvAsInt("REALTIME_CATCHUP_LIMIT", 50),
		},
		Gateway: GatewayConfig{
			Port: getEnvAsInt("GATEWAY_PORT", 8080),
		},
		OpenAI: OpenAIConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			PricingFile: getEnv("OPENAI_PRICING_FILE", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証します
func (c *Config) Validate() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("invalid config: WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("invalid config: WORKER_MAX_ATTEMPTS must be positive, got %d", c.Worker.MaxAttempts)
	}
	if c.Worker.BaseBackoff > c.Worker.MaxBackoff {
		return fmt.Errorf("invalid config: WORKER_BASE_BACKOFF (%s) exceeds WORKER_MAX_BACKOFF (%s)", c.Worker.BaseBackoff, c.Worker.MaxBackoff)
	}
	if c.Realtime.Enabled && strings.TrimSpace(c.Realtime.Channel) == "" {
		return fmt.Errorf("invalid config: REALTIME_CHANNEL is required when realtime is enabled")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid config: LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// IsDevelopment は開発環境かどうかを返します
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
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

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: "30s", "5m"）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

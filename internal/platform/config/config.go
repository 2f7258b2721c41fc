package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定（PIPELINE_STORE=postgres の場合に使用）
	Database DatabaseConfig

	// OpenAI設定
	OpenAI OpenAIConfig

	// Pipeline設定
	Pipeline PipelineConfig

	// Scraper設定
	Scraper ScraperConfig

	// HTTPサーバ設定
	Server ServerConfig

	// ProfilePath は長期記憶プロファイルのJSONファイルパス
	ProfilePath string

	// LogLevel はログレベル ("debug", "info", "warn", "error")
	LogLevel string

	// LogFormat はログ形式 ("json" or "text")
	LogFormat string
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ConnString はpgx用の接続文字列を返す
func (c DatabaseConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// PipelineConfig はパイプライン実行の設定
type PipelineConfig struct {
	// Store はスナップショット・トレースの保存先 ("memory" or "postgres")
	Store string

	// Workers は並列ステージのワーカー数上限
	Workers int

	// SectionFailureRatio は許容されるセクション失敗率 (0.0-1.0)。
	// 0 は1セクションの失敗でもジョブを失敗させる厳格モード。
	SectionFailureRatio float64

	// CancelGrace はキャンセル時にワーカーの終了を待つ猶予時間
	CancelGrace time.Duration
}

// ScraperConfig はWebスクレイパーの設定
type ScraperConfig struct {
	UserAgent string
	Timeout   time.Duration
	MaxChars  int
}

// ServerConfig はHTTPサーバの設定
type ServerConfig struct {
	Port int
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "blogforge"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "blogforge"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
			Timeout: getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
		},
		Pipeline: PipelineConfig{
			Store:               getEnv("PIPELINE_STORE", "memory"),
			Workers:             getEnvAsInt("PIPELINE_WORKERS", 4),
			SectionFailureRatio: getEnvAsFloat("PIPELINE_SECTION_FAILURE_RATIO", 0),
			CancelGrace:         getEnvAsDuration("PIPELINE_CANCEL_GRACE", 5*time.Second),
		},
		Scraper: ScraperConfig{
			UserAgent: getEnv("SCRAPER_USER_AGENT", "blogforge/1.0"),
			Timeout:   getEnvAsDuration("SCRAPER_TIMEOUT", 8*time.Second),
			MaxChars:  getEnvAsInt("SCRAPER_MAX_CHARS", 3000),
		},
		Server: ServerConfig{
			Port: getEnvAsInt("HTTP_PORT", 8080),
		},
		ProfilePath: getEnv("PROFILE_STORE_PATH", "profiles.json"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.SectionFailureRatio < 0 || c.Pipeline.SectionFailureRatio > 1 {
		return fmt.Errorf("PIPELINE_SECTION_FAILURE_RATIO must be between 0 and 1, got %g", c.Pipeline.SectionFailureRatio)
	}
	switch c.Pipeline.Store {
	case "memory", "postgres":
	default:
		return fmt.Errorf("PIPELINE_STORE must be \"memory\" or \"postgres\", got %q", c.Pipeline.Store)
	}
	return nil
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

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数をtime.Durationとして取得します（例: "5s", "2m"）
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

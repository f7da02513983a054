package configs

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"imagechat/internal/domain"
	"imagechat/internal/infrastructure/config"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config は、アプリケーション全体の設定を定義します
type Config struct {
	Discord    config.DiscordConfig
	Venice     config.VeniceConfig
	Gemini     config.GeminiConfig
	Mock       config.MockConfig
	Generation config.GenerationConfig
	Store      config.StoreConfig
}

// LoadConfig は、環境変数から設定を読み込みます
func LoadConfig() (*Config, error) {
	// .envファイルを読み込み（ファイルが存在しない場合は無視）
	if err := godotenv.Load(); err != nil {
		// .envファイルが存在しない場合は警告のみ出力（エラーにはしない）
		fmt.Printf("警告: .envファイルの読み込みに失敗しました: %v\n", err)
	}

	config := &Config{
		Discord: config.DiscordConfig{
			BotToken: getEnvOrDefault("DISCORD_BOT_TOKEN", ""),
			GuildID:  getEnvOrDefault("DISCORD_GUILD_ID", ""),
		},
		Venice: config.VeniceConfig{
			APIKey:            getEnvOrDefault("VENICE_API_KEY", ""),
			BaseURL:           getEnvOrDefault("VENICE_BASE_URL", "https://api.venice.ai/api/v1"),
			RequestsPerSecond: getEnvAsFloatOrDefault("VENICE_REQUESTS_PER_SECOND", 2),
			Burst:             getEnvAsIntOrDefault("VENICE_BURST", 4),
		},
		Gemini: config.GeminiConfig{
			APIKey:         getEnvOrDefault("GEMINI_API_KEY", ""),
			ImageModelName: getEnvOrDefault("GEMINI_IMAGE_MODEL_NAME", "gemini-2.5-flash-image"),
			MaxRetries:     getEnvAsIntOrDefault("GEMINI_MAX_RETRIES", 3),
		},
		Mock: config.MockConfig{
			Latency:     getEnvAsDurationOrDefault("MOCK_LATENCY", 800*time.Millisecond),
			FailureRate: getEnvAsFloatOrDefault("MOCK_FAILURE_RATE", 0),
		},
		Generation: config.GenerationConfig{
			Provider:          strings.ToLower(getEnvOrDefault("IMAGE_PROVIDER", config.ProviderVenice)),
			Timeout:           getEnvAsDurationOrDefault("GENERATION_TIMEOUT", 45*time.Second),
			MaxConcurrent:     getEnvAsIntOrDefault("MAX_CONCURRENT_GENERATIONS", 4),
			DefaultChatName:   getEnvOrDefault("DEFAULT_CHAT_NAME", domain.DefaultChatName),
			GeneratedChatName: getEnvOrDefault("GENERATED_CHAT_NAME", domain.GeneratedChatName),
			ImageDir:          getEnvOrDefault("IMAGE_DIR", "data/images"),
			SettingsFile:      getEnvOrDefault("SETTINGS_FILE", ""),
		},
		Store: config.StoreConfig{
			Backend:       strings.ToLower(getEnvOrDefault("STORE_BACKEND", config.BackendBolt)),
			Path:          getEnvOrDefault("STORE_PATH", "data/imagechat.db"),
			PostgresDSN:   getEnvOrDefault("POSTGRES_DSN", ""),
			RedisAddr:     getEnvOrDefault("REDIS_ADDR", ""),
			RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsIntOrDefault("REDIS_DB", 0),
			Key:           getEnvOrDefault("STORE_KEY", "imagechat:state"),
			SaveTimeout:   getEnvAsDurationOrDefault("STORE_SAVE_TIMEOUT", 10*time.Second),
		},
	}

	// 必須設定の検証
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate は、設定の妥当性を検証します
func (c *Config) Validate() error {
	switch c.Generation.Provider {
	case config.ProviderVenice:
		if c.Venice.APIKey == "" {
			return fmt.Errorf("VENICE_API_KEY が設定されていません")
		}
		if c.Venice.RequestsPerSecond <= 0 {
			return fmt.Errorf("VENICE_REQUESTS_PER_SECOND は正の値である必要があります")
		}
	case config.ProviderGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY が設定されていません")
		}
	case config.ProviderMock:
		if c.Mock.FailureRate < 0 || c.Mock.FailureRate > 1 {
			return fmt.Errorf("MOCK_FAILURE_RATE は0から1の範囲である必要があります")
		}
	default:
		return fmt.Errorf("IMAGE_PROVIDER が不正です: %q (venice, gemini, mock のいずれか)", c.Generation.Provider)
	}

	if c.Generation.Timeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT は正の値である必要があります")
	}

	if c.Generation.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_GENERATIONS は正の整数である必要があります")
	}

	switch c.Store.Backend {
	case config.BackendBolt, config.BackendSQLite, config.BackendFile:
		if c.Store.Path == "" {
			return fmt.Errorf("STORE_PATH が設定されていません")
		}
	case config.BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN が設定されていません")
		}
	case config.BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR が設定されていません")
		}
	case config.BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND が不正です: %q", c.Store.Backend)
	}

	return nil
}

// ValidateDiscord は、Discord Botとして起動するための設定を検証します
func (c *Config) ValidateDiscord() error {
	if c.Discord.BotToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN が設定されていません")
	}
	return nil
}

// LoadSettings は、設定ファイルから生成設定の既定値を読み込みます
// ファイルが指定されていない場合や存在しない場合は既定値をそのまま返します
func (c *Config) LoadSettings() (domain.Settings, error) {
	settings := domain.DefaultSettings()
	if err := readTOML(c.Generation.SettingsFile, &settings); err != nil {
		return domain.DefaultSettings(), fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	return settings, nil
}

// readTOML は、TOMLファイルを読み込んでoutに展開します
func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

// getEnvOrDefault は、環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は、環境変数を整数として取得し、存在しない場合はデフォルト値を返します
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloatOrDefault は、環境変数を浮動小数点数として取得し、存在しない場合はデフォルト値を返します
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault は、環境変数を時間として取得し、存在しない場合はデフォルト値を返します
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

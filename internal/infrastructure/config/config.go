package config

import "time"

// 画像生成プロバイダ
const (
	ProviderVenice = "venice"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// 永続化バックエンド
const (
	BackendBolt     = "bbolt"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendFile     = "file"
	BackendMemory   = "memory"
)

// VeniceConfig は、Venice API関連の設定を定義します
type VeniceConfig struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64 // 外部APIへのリクエスト頻度の上限
	Burst             int
}

// GeminiConfig は、Gemini API関連の設定を定義します
type GeminiConfig struct {
	APIKey         string
	ImageModelName string // 画像生成用モデル名
	MaxRetries     int    // 最大リトライ回数
}

// MockConfig は、オフライン用の生成クライアントの設定を定義します
type MockConfig struct {
	Latency     time.Duration
	FailureRate float64
}

// GenerationConfig は、画像生成の実行に関する設定を定義します
type GenerationConfig struct {
	Provider          string
	Timeout           time.Duration
	MaxConcurrent     int
	DefaultChatName   string
	GeneratedChatName string
	ImageDir          string
	SettingsFile      string
}

// StoreConfig は、状態の永続化に関する設定を定義します
type StoreConfig struct {
	Backend       string
	Path          string // bbolt, sqlite, file で使用するファイルパス
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Key           string // redisのキーやbboltのバケット内のキー
	SaveTimeout   time.Duration
}

// DiscordConfig は、Discord関連の設定を定義します
type DiscordConfig struct {
	BotToken string
	GuildID  string // 空の場合はグローバルコマンドとして登録
}

// AppConfig は、アプリケーション全体の設定を定義します
type AppConfig struct {
	Discord    DiscordConfig
	Venice     VeniceConfig
	Gemini     GeminiConfig
	Mock       MockConfig
	Generation GenerationConfig
	Store      StoreConfig
}

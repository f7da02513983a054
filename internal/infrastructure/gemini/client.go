package gemini

import (
	"context"
	"fmt"

	"imagechat/internal/infrastructure/config"

	"google.golang.org/genai"
)

// DefaultImageModelName は、画像生成に使うGeminiモデルの既定値です
const DefaultImageModelName = "gemini-2.5-flash-image"

// contentGenerator は、genai.ModelsのうちGeminiAPIClientが使う部分です
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiAPIClient は、Gemini APIで画像を生成するクライアントです
type GeminiAPIClient struct {
	models contentGenerator
	config config.GeminiConfig
}

// NewGeminiAPIClient は新しいGeminiAPIClientインスタンスを作成します
func NewGeminiAPIClient(ctx context.Context, geminiConfig config.GeminiConfig) (*GeminiAPIClient, error) {
	if geminiConfig.APIKey == "" {
		return nil, fmt.Errorf("Gemini APIキーが設定されていません")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  geminiConfig.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini APIクライアントの作成に失敗: %w", err)
	}

	return newGeminiAPIClient(client.Models, geminiConfig), nil
}

func newGeminiAPIClient(models contentGenerator, geminiConfig config.GeminiConfig) *GeminiAPIClient {
	if geminiConfig.ImageModelName == "" {
		geminiConfig.ImageModelName = DefaultImageModelName
	}
	if geminiConfig.MaxRetries < 0 {
		geminiConfig.MaxRetries = 0
	}
	return &GeminiAPIClient{
		models: models,
		config: geminiConfig,
	}
}

// Close は、Gemini APIクライアントを閉じます
func (g *GeminiAPIClient) Close() error {
	// genai.ClientにはCloseメソッドがないため、何もしない
	return nil
}

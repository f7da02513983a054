package venice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"imagechat/internal/application"
	"imagechat/internal/domain"
	"imagechat/internal/infrastructure/config"
)

const (
	// DefaultBaseURL は、Venice APIのベースURLです
	DefaultBaseURL = "https://api.venice.ai/api/v1"

	endpointImageGenerate = "/image/generate"
	endpointModels        = "/models?type=image"
	endpointStyles        = "/image/styles"

	// maxErrorBody は、エラー応答の本文を読み込む上限です
	maxErrorBody = 4 << 10
)

// Client は、Venice APIで画像を生成するクライアントです
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient は新しいVenice APIクライアントを作成します
// 個々のリクエストのタイムアウトは呼び出し側のcontextで制御します
func NewClient(cfg config.VeniceConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Venice APIキーが設定されていません")
	}
	return NewClientWithHTTPClient(cfg, &http.Client{})
}

// NewClientWithHTTPClient は、HTTPクライアントを指定してVenice APIクライアントを作成します
func NewClientWithHTTPClient(cfg config.VeniceConfig, httpClient *http.Client) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
	}, nil
}

// generateRequest は、画像生成APIのリクエストボディです
type generateRequest struct {
	Model          string  `json:"model"`
	Prompt         string  `json:"prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	SafeMode       bool    `json:"safe_mode"`
	HideWatermark  bool    `json:"hide_watermark"`
	CfgScale       float64 `json:"cfg_scale"`
	StylePreset    string  `json:"style_preset,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	ReturnBinary   bool    `json:"return_binary"`
}

func newGenerateRequest(prompt string, s domain.Settings) generateRequest {
	defaults := domain.DefaultSettings()
	req := generateRequest{
		Model:          s.Model,
		Prompt:         prompt,
		Width:          s.Width,
		Height:         s.Height,
		Steps:          s.Steps,
		SafeMode:       s.SafeMode,
		HideWatermark:  s.HideWatermark,
		CfgScale:       s.CfgScale,
		StylePreset:    s.StylePreset,
		NegativePrompt: s.NegativePrompt,
		ReturnBinary:   true,
	}
	if req.Model == "" {
		req.Model = defaults.Model
	}
	if req.Width <= 0 {
		req.Width = defaults.Width
	}
	if req.Height <= 0 {
		req.Height = defaults.Height
	}
	if req.Steps <= 0 {
		req.Steps = defaults.Steps
	}
	if req.CfgScale <= 0 {
		req.CfgScale = defaults.CfgScale
	}
	return req
}

// GenerateImage は、プロンプトと設定から画像を生成し、画像のバイト列を返します
func (c *Client) GenerateImage(ctx context.Context, prompt string, settings domain.Settings) (*application.ImageResult, error) {
	payload, err := json.Marshal(newGenerateRequest(prompt, settings))
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗: %w", err)
	}

	log.Printf("Venice APIに画像生成をリクエスト: モデル=%s, サイズ=%dx%d, スタイル=%s",
		settings.Model, settings.Width, settings.Height, settings.StylePreset)

	resp, err := c.do(ctx, http.MethodPost, endpointImageGenerate, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "image/") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Printf("画像以外の応答を受信しました: %s %s", contentType, string(body))
		if contentType == "" {
			contentType = "unknown"
		}
		return nil, domain.NewGenerationError(domain.ErrorKindGeneric,
			"API did not return an image. Received: "+contentType, domain.ErrEmptyResult)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	if len(data) == 0 {
		return nil, domain.NewGenerationError(domain.ErrorKindGeneric, "Received empty image data", domain.ErrEmptyResult)
	}

	log.Printf("Venice APIから画像を受信しました: %s, %dバイト", contentType, len(data))
	return &application.ImageResult{Data: data, MimeType: contentType}, nil
}

// do は、レート制限を守りながら認証付きのリクエストを送信します
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classifyLimiterError(ctx, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	return resp, nil
}

// checkStatus は、HTTPステータスを分類済みのエラーに変換します
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = "Unknown error"
	}
	cause := fmt.Errorf("Venice API error: %d - %s", resp.StatusCode, detail)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.NewGenerationError(domain.ErrorKindAuthentication, "Authentication failed. Check your Venice API key.", cause)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return domain.NewGenerationError(domain.ErrorKindTimeout, domain.UserMessage(domain.ErrorKindTimeout), cause)
	default:
		return domain.NewGenerationError(domain.ErrorKindGeneric, fmt.Sprintf("Server error: %d", resp.StatusCode), cause)
	}
}

// classifyLimiterError は、レート制限の待機エラーを分類します
// 待つと期限を過ぎる場合、Waitは期限前でもエラーを返すためタイムアウトとして扱います
func classifyLimiterError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return classifyTransportError(ctx, err)
	}
	if _, ok := ctx.Deadline(); ok {
		return domain.NewGenerationError(domain.ErrorKindTimeout, domain.UserMessage(domain.ErrorKindTimeout), err)
	}
	return domain.NewGenerationError(domain.ErrorKindGeneric, "Rate limiter rejected the request", err)
}

// classifyTransportError は、通信エラーをタイムアウトとネットワークエラーに振り分けます
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewGenerationError(domain.ErrorKindTimeout, domain.UserMessage(domain.ErrorKindTimeout), err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewGenerationError(domain.ErrorKindGeneric, "Request was cancelled", err)
	}
	return domain.NewGenerationError(domain.ErrorKindNetwork, "Network error: "+err.Error(), err)
}

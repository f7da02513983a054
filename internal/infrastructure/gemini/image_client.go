package gemini

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"imagechat/internal/application"
	"imagechat/internal/domain"

	"google.golang.org/genai"
)

// GenerateImage は、プロンプトと設定からGemini APIで画像を1枚生成します
func (g *GeminiAPIClient) GenerateImage(ctx context.Context, prompt string, settings domain.Settings) (*application.ImageResult, error) {
	text := buildImagePrompt(prompt, settings)
	log.Printf("Gemini APIに画像生成をリクエスト中: モデル=%s, %d文字", g.config.ImageModelName, len(text))

	return g.retryWithBackoffForImage(ctx, func() (*application.ImageResult, error) {
		resp, err := g.models.GenerateContent(ctx, g.config.ImageModelName, genai.Text(text), g.createImageConfig())
		if err != nil {
			return nil, g.classifyAPIError(ctx, err)
		}
		return g.processImageResponse(resp)
	})
}

// buildImagePrompt は、Geminiにはスタイルやサイズの専用パラメータがないため指示文に含めます
func buildImagePrompt(prompt string, settings domain.Settings) string {
	var b strings.Builder
	b.WriteString("Generate an image: ")
	b.WriteString(prompt)
	if settings.StylePreset != "" && settings.StylePreset != "None" {
		fmt.Fprintf(&b, "\nStyle: %s", settings.StylePreset)
	}
	if settings.Width > 0 && settings.Height > 0 {
		fmt.Fprintf(&b, "\nSize: %dx%d", settings.Width, settings.Height)
	}
	if settings.NegativePrompt != "" {
		fmt.Fprintf(&b, "\nAvoid: %s", settings.NegativePrompt)
	}
	return b.String()
}

// createImageConfig は、画像生成設定を作成します
func (g *GeminiAPIClient) createImageConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
		SafetySettings:     createSafetySettings(),
	}
}

// retryWithBackoffForImage は、画像生成用の指数バックオフでリトライを実行します
func (g *GeminiAPIClient) retryWithBackoffForImage(ctx context.Context, operation func() (*application.ImageResult, error)) (*application.ImageResult, error) {
	var lastErr error

	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// 指数バックオフ: 1秒、2秒、4秒...
			backoffDuration := time.Duration(1<<uint(attempt-1)) * time.Second
			log.Printf("画像生成リトライ %d/%d 回目: %v 後に再試行します", attempt, g.config.MaxRetries, backoffDuration)

			timer := time.NewTimer(backoffDuration)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, g.classifyAPIError(ctx, ctx.Err())
			case <-timer.C:
			}
		}

		result, err := operation()
		if err == nil {
			if attempt > 0 {
				log.Printf("画像生成リトライ成功: %d回目の試行で成功しました", attempt+1)
			}
			return result, nil
		}

		lastErr = err

		if !shouldRetry(err) {
			log.Printf("画像生成リトライ不可能なエラー: %v", err)
			return nil, err
		}

		if attempt < g.config.MaxRetries {
			log.Printf("画像生成リトライ可能なエラーが発生: %v", err)
		}
	}

	return nil, lastErr
}

// shouldRetry は、再試行で解決する可能性のあるエラーかどうかを判定します
func shouldRetry(err error) bool {
	var genErr *domain.GenerationError
	if !errors.As(err, &genErr) {
		return true
	}
	switch genErr.Kind {
	case domain.ErrorKindNetwork:
		return true
	case domain.ErrorKindGeneric:
		// 安全フィルターや空の応答は同じプロンプトで再試行しても変わらない
		return !errors.Is(err, errBlocked) && !errors.Is(err, domain.ErrEmptyResult)
	default:
		return false
	}
}

// errBlocked は、安全フィルターなどで生成が拒否された場合のエラーです
var errBlocked = errors.New("生成がブロックされました")

// classifyAPIError は、Gemini APIのエラーを分類済みのエラーに変換します
func (g *GeminiAPIClient) classifyAPIError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewGenerationError(domain.ErrorKindTimeout, domain.UserMessage(domain.ErrorKindTimeout), err)
	}
	if isFatalErrorForImage(err) {
		return domain.NewGenerationError(domain.ErrorKindAuthentication, "Authentication failed. Check your Gemini API key.", err)
	}
	kind := domain.Classify(err)
	if kind == domain.ErrorKindGeneric {
		return domain.NewGenerationError(kind, "Gemini API error: "+err.Error(), err)
	}
	return domain.NewGenerationError(kind, domain.UserMessage(kind), err)
}

// isFatalErrorForImage は、認証関連の再試行しても解決しないエラーかどうかを判定します
func isFatalErrorForImage(err error) bool {
	if err == nil {
		return false
	}

	errorMsg := strings.ToLower(err.Error())

	// 認証エラー
	for _, keyword := range []string{"authentication", "unauthorized", "unauthenticated", "permission_denied", "error 401", "error 403"} {
		if strings.Contains(errorMsg, keyword) {
			return true
		}
	}

	// APIキーエラー
	return strings.Contains(errorMsg, "api key") || strings.Contains(errorMsg, "invalid key")
}

// processImageResponse は、画像生成レスポンスから最初の画像を取り出します
func (g *GeminiAPIClient) processImageResponse(resp *genai.GenerateContentResponse) (*application.ImageResult, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, domain.NewGenerationError(domain.ErrorKindGeneric, "Gemini APIから有効な画像生成応答が得られませんでした", domain.ErrEmptyResult)
	}

	candidate := resp.Candidates[0]

	// FinishReasonをチェックして安全フィルターによるブロックを検出
	switch candidate.FinishReason {
	case genai.FinishReasonSafety:
		safetyDetails := formatSafetyRatings(candidate.SafetyRatings)
		return nil, domain.NewGenerationError(domain.ErrorKindGeneric,
			fmt.Sprintf("安全フィルターによって画像生成がブロックされました。詳細: %s", safetyDetails), errBlocked)
	case genai.FinishReasonRecitation:
		return nil, domain.NewGenerationError(domain.ErrorKindGeneric,
			"著作権で保護されたコンテンツが含まれている可能性があります", errBlocked)
	}

	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, domain.NewGenerationError(domain.ErrorKindGeneric,
			fmt.Sprintf("Gemini APIの画像生成応答にコンテンツが含まれていません。FinishReason: %s", candidate.FinishReason), domain.ErrEmptyResult)
	}

	for i, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			log.Printf("  Part[%d]: テキスト %d文字", i, len(part.Text))
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			log.Printf("Gemini APIから画像を受信しました: %s, %dバイト", part.InlineData.MIMEType, len(part.InlineData.Data))
			return &application.ImageResult{
				Data:     part.InlineData.Data,
				MimeType: part.InlineData.MIMEType,
			}, nil
		}
	}

	return nil, domain.NewGenerationError(domain.ErrorKindGeneric, "Gemini APIから画像データが取得できませんでした", domain.ErrEmptyResult)
}

// createSafetySettings は、安全フィルター設定を作成します
func createSafetySettings() []*genai.SafetySetting {
	return []*genai.SafetySetting{
		{
			Category:  genai.HarmCategoryHarassment,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		},
		{
			Category:  genai.HarmCategoryHateSpeech,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		},
		{
			Category:  genai.HarmCategorySexuallyExplicit,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		},
		{
			Category:  genai.HarmCategoryDangerousContent,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		},
	}
}

// formatSafetyRatings は、SafetyRatingsの詳細情報をフォーマットします
func formatSafetyRatings(ratings []*genai.SafetyRating) string {
	var details []string
	for _, rating := range ratings {
		if rating != nil {
			details = append(details, fmt.Sprintf("%s: %s",
				translateSafetyCategory(rating.Category), translateSafetyProbability(rating.Probability)))
		}
	}

	if len(details) == 0 {
		return "詳細情報なし"
	}
	return strings.Join(details, ", ")
}

// translateSafetyCategory は、SafetyCategoryを日本語に翻訳します
func translateSafetyCategory(category genai.HarmCategory) string {
	switch category {
	case genai.HarmCategoryHarassment:
		return "ハラスメント"
	case genai.HarmCategoryHateSpeech:
		return "ヘイトスピーチ"
	case genai.HarmCategorySexuallyExplicit:
		return "性的表現"
	case genai.HarmCategoryDangerousContent:
		return "危険なコンテンツ"
	default:
		return string(category)
	}
}

// translateSafetyProbability は、SafetyProbabilityを日本語に翻訳します
func translateSafetyProbability(probability genai.HarmProbability) string {
	switch probability {
	case genai.HarmProbabilityNegligible:
		return "無視できるレベル"
	case genai.HarmProbabilityLow:
		return "低レベル"
	case genai.HarmProbabilityMedium:
		return "中レベル"
	case genai.HarmProbabilityHigh:
		return "高レベル"
	default:
		return string(probability)
	}
}

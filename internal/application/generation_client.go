package application

import (
	"context"
	"time"

	"imagechat/internal/domain"
)

// GenerationClient は、外部の画像生成サービスと通信するクライアントのインターフェースです
// 呼び出しのたびに1回分の生成として課金される前提で扱います
type GenerationClient interface {
	// GenerateImage は、プロンプトと設定から画像を1枚生成します
	GenerateImage(ctx context.Context, prompt string, settings domain.Settings) (*ImageResult, error)
}

// ImageResult は、生成クライアントが返す結果です
// URLかDataのどちらかが設定されていれば成功として扱います
type ImageResult struct {
	URL      string
	Data     []byte
	MimeType string
}

// Usable は、画像として利用できる内容を含んでいるかを判定します
func (r *ImageResult) Usable() bool {
	return r != nil && (r.URL != "" || len(r.Data) > 0)
}

// ImageStore は、生成された画像のバイト列を保存し、参照用のハンドルを返します
type ImageStore interface {
	Store(ctx context.Context, image domain.GeneratedImage) (string, error)
}

// CatalogClient は、利用可能なモデルとスタイルを取得するクライアントのインターフェースです
type CatalogClient interface {
	ListModels(ctx context.Context) ([]domain.CatalogEntry, error)
	ListStyles(ctx context.Context) ([]domain.CatalogEntry, error)
}

// Clock は、現在時刻を返します。テストで時刻を固定するために使います
type Clock func() time.Time

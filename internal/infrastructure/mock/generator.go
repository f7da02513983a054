package mock

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"imagechat/internal/application"
	"imagechat/internal/domain"
	"imagechat/internal/infrastructure/config"
)

// DefaultLatency は、生成にかかる時間の既定値です
const DefaultLatency = 800 * time.Millisecond

// fallbackStyle は、対応する画像がないスタイルに使うキーです
const fallbackStyle = "fallback"

// imagesByStyle は、スタイルごとのサンプル画像です
var imagesByStyle = map[string][]string{
	"Photographic": {
		"https://images.unsplash.com/photo-1579273166152-d725a4e2d755?q=80&w=1024",
		"https://images.unsplash.com/photo-1580118797218-aca3560b8b3c?q=80&w=1024",
	},
	"None": {
		"https://images.unsplash.com/photo-1579273168832-1c6639363dad?q=80&w=1024",
		"https://images.unsplash.com/photo-1653379673670-e3257d356bf4?q=80&w=1024",
	},
	"Hyperrealism": {
		"https://images.unsplash.com/photo-1597691313449-bf91d1bad13a?q=80&w=1024",
		"https://images.unsplash.com/photo-1580118834580-49bf17f40a2e?q=80&w=1024",
	},
	"Enhance": {
		"https://images.unsplash.com/photo-1578593139771-28f5f893a507?q=80&w=1024",
		"https://images.unsplash.com/photo-1580118885462-c9b2c2a805fa?q=80&w=1024",
	},
	"Analog Film": {
		"https://images.unsplash.com/photo-1579273166031-ad9b7a3f8b68?q=80&w=1024",
		"https://images.unsplash.com/photo-1653379398025-f2bc80b1cbc3?q=80&w=1024",
	},
	"Cinematic": {
		"https://images.unsplash.com/photo-1545167496-c1e092d383a2?q=80&w=1024",
		"https://images.unsplash.com/photo-1482376297902-a54c222cec2b?q=80&w=1024",
	},
	fallbackStyle: {
		"https://images.unsplash.com/photo-1524721696987-b9527df9e512?q=80&w=1024",
		"https://images.unsplash.com/photo-1579702493440-8b1b56d47e03?q=80&w=1024",
	},
}

// Generator は、外部APIを呼ばずにサンプル画像のURLを返す生成クライアントです
// APIキーがない環境での動作確認に使います
type Generator struct {
	latency     time.Duration
	failureRate float64
	now         application.Clock

	mu  sync.Mutex
	rng *rand.Rand
}

// Option は、Generatorの設定を変更します
type Option func(*Generator)

// WithRand は、乱数生成器を差し替えます
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) {
		if rng != nil {
			g.rng = rng
		}
	}
}

// WithClock は、URLに付与する時刻の取得元を差し替えます
func WithClock(now application.Clock) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator は新しいGeneratorインスタンスを作成します
func NewGenerator(cfg config.MockConfig, opts ...Option) *Generator {
	latency := cfg.Latency
	if latency < 0 {
		latency = DefaultLatency
	}
	g := &Generator{
		latency:     latency,
		failureRate: cfg.FailureRate,
		now:         time.Now,
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateImage は、待ち時間の後にスタイルに応じたサンプル画像のURLを返します
func (g *Generator) GenerateImage(ctx context.Context, prompt string, settings domain.Settings) (*application.ImageResult, error) {
	log.Printf("モック画像を生成中: スタイル=%s, サイズ=%dx%d", settings.StylePreset, settings.Width, settings.Height)

	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	fail := g.failureRate > 0 && g.rng.Float64() < g.failureRate
	g.mu.Unlock()
	if fail {
		return nil, domain.NewGenerationError(domain.ErrorKindGeneric, "Mock generation failed", nil)
	}

	url := g.pick(settings.StylePreset)
	log.Printf("モック画像のURL: %s", url)
	return &application.ImageResult{URL: url}, nil
}

// pick は、スタイルに対応する画像から1枚を選び、キャッシュ回避用の時刻を付けて返します
func (g *Generator) pick(style string) string {
	if style == "" {
		style = "Photographic"
	}
	images, ok := imagesByStyle[style]
	if !ok {
		images = imagesByStyle[fallbackStyle]
	}

	g.mu.Lock()
	base := images[g.rng.IntN(len(images))]
	g.mu.Unlock()

	return fmt.Sprintf("%s&t=%d", base, g.now().UnixMilli())
}

// ListModels は、既定のモデル一覧を返します
func (g *Generator) ListModels(ctx context.Context) ([]domain.CatalogEntry, error) {
	return domain.FallbackModels(), nil
}

// ListStyles は、サンプル画像が用意されているスタイルの一覧を返します
func (g *Generator) ListStyles(ctx context.Context) ([]domain.CatalogEntry, error) {
	names := make([]string, 0, len(imagesByStyle))
	for name := range imagesByStyle {
		if name == fallbackStyle {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]domain.CatalogEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, domain.CatalogEntry{ID: name, Name: name})
	}
	return entries, nil
}

package application

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"imagechat/internal/domain"
)

// DefaultCatalogTTL は、取得したカタログを再利用する期間の既定値です
const DefaultCatalogTTL = 10 * time.Minute

// CatalogService は、利用可能なモデルとスタイルの一覧を提供するアプリケーションサービスです
// 取得に失敗した一覧は既定の一覧で置き換えます
type CatalogService struct {
	client CatalogClient
	ttl    time.Duration
	now    Clock

	mu        sync.Mutex
	cached    *domain.Catalog
	fetchedAt time.Time
}

// NewCatalogService は新しいCatalogServiceインスタンスを作成します
// clientがnilの場合は常に既定の一覧を返します
func NewCatalogService(client CatalogClient, ttl time.Duration) *CatalogService {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &CatalogService{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Catalog は、モデルとスタイルの一覧を返します
func (s *CatalogService) Catalog(ctx context.Context) domain.Catalog {
	s.mu.Lock()
	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		c := *s.cached
		s.mu.Unlock()
		return c
	}
	s.mu.Unlock()

	catalog := s.fetch(ctx)

	// 既定の一覧で置き換えた結果はキャッシュしない
	if !catalog.Fallback {
		s.mu.Lock()
		s.cached = &catalog
		s.fetchedAt = s.now()
		s.mu.Unlock()
	}
	return catalog
}

func (s *CatalogService) fetch(ctx context.Context) domain.Catalog {
	if s.client == nil {
		return domain.Catalog{
			Models:   domain.FallbackModels(),
			Styles:   domain.FallbackStyles(),
			Fallback: true,
		}
	}

	var models, styles []domain.CatalogEntry
	var modelsErr, stylesErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		models, modelsErr = s.client.ListModels(gctx)
		return nil
	})
	g.Go(func() error {
		styles, stylesErr = s.client.ListStyles(gctx)
		return nil
	})
	_ = g.Wait()

	catalog := domain.Catalog{Models: models, Styles: styles}
	if modelsErr != nil || len(models) == 0 {
		if modelsErr != nil {
			log.Printf("モデル一覧の取得に失敗したため既定の一覧を使用します: %v", modelsErr)
		}
		catalog.Models = domain.FallbackModels()
		catalog.Fallback = true
	}
	if stylesErr != nil || len(styles) == 0 {
		if stylesErr != nil {
			log.Printf("スタイル一覧の取得に失敗したため既定の一覧を使用します: %v", stylesErr)
		}
		catalog.Styles = domain.FallbackStyles()
		catalog.Fallback = true
	}
	return catalog
}

// ModelIDs は、モデルIDの一覧を返します
func (s *CatalogService) ModelIDs(ctx context.Context) []string {
	return entryIDs(s.Catalog(ctx).Models)
}

// StyleIDs は、スタイル名の一覧を返します
func (s *CatalogService) StyleIDs(ctx context.Context) []string {
	return entryIDs(s.Catalog(ctx).Styles)
}

// SupportedSizes は、よく使われる画像サイズの一覧を返します
func (s *CatalogService) SupportedSizes() []string {
	sizes := domain.AllImageSizes()
	result := make([]string, len(sizes))
	for i, size := range sizes {
		result[i] = size.String()
	}
	return result
}

func entryIDs(entries []domain.CatalogEntry) []string {
	result := make([]string, len(entries))
	for i, e := range entries {
		result[i] = e.ID
	}
	return result
}

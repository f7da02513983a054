package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"imagechat/internal/domain"
)

func TestCatalogService_WithoutClientUsesFallback(t *testing.T) {
	svc := NewCatalogService(nil, 0)

	catalog := svc.Catalog(context.Background())

	assert.True(t, catalog.Fallback)
	assert.Equal(t, []string{"venice-sd35", "lustify-sdxl"}, svc.ModelIDs(context.Background()))
	assert.Len(t, catalog.Styles, 9)
}

func TestCatalogService_PartialFailure(t *testing.T) {
	client := &stubCatalogClient{
		models:    []domain.CatalogEntry{{ID: "flux-dev", Name: "Flux"}},
		stylesErr: errBoom,
	}
	svc := NewCatalogService(client, 0)

	catalog := svc.Catalog(context.Background())

	assert.Equal(t, []domain.CatalogEntry{{ID: "flux-dev", Name: "Flux"}}, catalog.Models)
	assert.Equal(t, domain.FallbackStyles(), catalog.Styles)
	assert.True(t, catalog.Fallback)
}

func TestCatalogService_CachesSuccessfulFetch(t *testing.T) {
	client := &stubCatalogClient{
		models: []domain.CatalogEntry{{ID: "m1", Name: "m1"}},
		styles: []domain.CatalogEntry{{ID: "Anime", Name: "Anime"}},
	}
	svc := NewCatalogService(client, 0)

	first := svc.Catalog(context.Background())
	second := svc.Catalog(context.Background())

	assert.False(t, first.Fallback)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, []string{"Anime"}, svc.StyleIDs(context.Background()))
}

func TestCatalogService_EmptyListFallsBack(t *testing.T) {
	client := &stubCatalogClient{styles: []domain.CatalogEntry{{ID: "Anime"}}}
	svc := NewCatalogService(client, 0)

	catalog := svc.Catalog(context.Background())
	assert.Equal(t, domain.FallbackModels(), catalog.Models)
}

func TestCatalogService_SupportedSizes(t *testing.T) {
	svc := NewCatalogService(nil, 0)
	assert.Contains(t, svc.SupportedSizes(), "1024x1024")
}

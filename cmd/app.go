package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"imagechat/configs"
	"imagechat/internal/application"
	"imagechat/internal/domain"
	"imagechat/internal/infrastructure/config"
	"imagechat/internal/infrastructure/filesystem"
	"imagechat/internal/infrastructure/gemini"
	"imagechat/internal/infrastructure/mock"
	"imagechat/internal/infrastructure/persistence"
	"imagechat/internal/infrastructure/venice"
)

// shutdownTimeout は、終了時に保存を待つ時間の上限です
const shutdownTimeout = 15 * time.Second

// app は、起動したコンポーネント一式を保持します
type app struct {
	config       *configs.Config
	repo         *persistence.Repository
	core         *application.StateCore
	orchestrator *application.GenerationOrchestrator
	catalog      *application.CatalogService
	images       *filesystem.ImageStore
	closers      []func() error
}

// newApp は、設定に従って永続化・状態・生成の各コンポーネントを組み立てます
// withGenerator がfalseの場合は生成クライアントを作成しません
func newApp(ctx context.Context, cfg *configs.Config, withGenerator bool) (*app, error) {
	a := &app{config: cfg}

	repo, err := persistence.NewRepository(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("永続化ストアの作成に失敗: %w", err)
	}
	a.repo = repo
	log.Printf("永続化ストアを使用します: %s", repo.Backend())

	settings, err := cfg.LoadSettings()
	if err != nil {
		// 設定ファイルが読めない場合も既定値で起動する
		log.Printf("警告: %v", err)
	}

	core, err := application.NewStateCore(repo,
		application.WithDefaultSettings(settings),
		application.WithLifecyclePolicy(domain.NewLifecyclePolicy(cfg.Generation.DefaultChatName)),
		application.WithSaveTimeout(cfg.Store.SaveTimeout),
	)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("状態の初期化に失敗: %w", err)
	}
	if err := core.Bootstrap(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("状態の読み込みに失敗: %w", err)
	}
	a.core = core

	if !withGenerator {
		return a, nil
	}

	client, catalogClient, err := newGenerationClient(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := client.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	images, err := filesystem.NewImageStore(cfg.Generation.ImageDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("画像の保存先の作成に失敗: %w", err)
	}
	a.images = images

	orchestrator, err := application.NewGenerationOrchestrator(core, client, application.OrchestratorConfig{
		Timeout:       cfg.Generation.Timeout,
		MaxConcurrent: cfg.Generation.MaxConcurrent,
		ChatName:      cfg.Generation.GeneratedChatName,
	}, application.WithImageStore(images))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("生成オーケストレーターの作成に失敗: %w", err)
	}
	a.orchestrator = orchestrator
	a.catalog = application.NewCatalogService(catalogClient, application.DefaultCatalogTTL)

	return a, nil
}

// newGenerationClient は、プロバイダに応じた生成クライアントを作成します
// カタログを提供できないプロバイダの場合、CatalogClientはnilになります
func newGenerationClient(ctx context.Context, cfg *configs.Config) (application.GenerationClient, application.CatalogClient, error) {
	log.Printf("画像生成プロバイダ: %s", cfg.Generation.Provider)

	switch cfg.Generation.Provider {
	case config.ProviderVenice:
		client, err := venice.NewClient(cfg.Venice)
		if err != nil {
			return nil, nil, fmt.Errorf("Venice APIクライアントの作成に失敗: %w", err)
		}
		return client, client, nil
	case config.ProviderGemini:
		client, err := gemini.NewGeminiAPIClient(ctx, cfg.Gemini)
		if err != nil {
			return nil, nil, fmt.Errorf("Gemini APIクライアントの作成に失敗: %w", err)
		}
		return client, nil, nil
	case config.ProviderMock:
		client := mock.NewGenerator(cfg.Mock)
		return client, client, nil
	default:
		return nil, nil, fmt.Errorf("不明な画像生成プロバイダです: %s", cfg.Generation.Provider)
	}
}

// Close は、実行中の生成を待ってから状態を保存し、ストアを閉じます
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.orchestrator != nil {
		done := make(chan struct{})
		go func() {
			a.orchestrator.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			log.Printf("実行中の生成の完了を待たずに終了します")
		}
	}

	var firstErr error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// StateCoreは保存待ちの状態を書き込んでからストアを閉じる
	switch {
	case a.core != nil:
		if err := a.core.Close(ctx); err != nil {
			log.Printf("状態の保存に失敗: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	case a.repo != nil:
		if err := a.repo.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

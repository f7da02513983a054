package main

import (
	"fmt"
	"os"
	"strings"

	"imagechat/configs"

	"github.com/spf13/cobra"
)

// rootOptions は、すべてのサブコマンドで共通のフラグです
type rootOptions struct {
	provider string
	store    string
	mock     bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "imagechat",
		Short:        "複数チャットで画像生成を管理するクライアント",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.provider, "provider", "", "画像生成プロバイダ (venice, gemini, mock)")
	root.PersistentFlags().StringVar(&opts.store, "store", "", "永続化バックエンド (bbolt, sqlite, postgres, redis, file, memory)")
	root.PersistentFlags().BoolVar(&opts.mock, "mock", false, "モックの生成クライアントを使う (--provider mock と同じ)")

	root.AddCommand(
		newDiscordCommand(opts),
		newGenerateCommand(opts),
		newChatsCommand(opts),
		newSettingsCommand(opts),
		newCatalogCommand(opts),
	)
	return root
}

// loadConfig は、フラグで指定された値を環境変数より優先して設定を読み込みます
func (o *rootOptions) loadConfig() (*configs.Config, error) {
	provider := strings.TrimSpace(o.provider)
	if o.mock {
		provider = "mock"
	}
	if provider != "" {
		os.Setenv("IMAGE_PROVIDER", provider)
	}
	if store := strings.TrimSpace(o.store); store != "" {
		os.Setenv("STORE_BACKEND", store)
	}

	cfg, err := configs.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	return cfg, nil
}

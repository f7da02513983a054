package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"imagechat/configs"
	discordPres "imagechat/internal/presentation/discord"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
)

func newDiscordCommand(opts *rootOptions) *cobra.Command {
	var keepCommands bool

	cmd := &cobra.Command{
		Use:   "discord",
		Short: "Discord Botとして起動します",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateDiscord(); err != nil {
				return err
			}
			return runDiscord(cmd.Context(), cfg, keepCommands)
		},
	}
	cmd.Flags().BoolVar(&keepCommands, "keep-commands", false, "終了時にスラッシュコマンドを削除しない")
	return cmd
}

func runDiscord(ctx context.Context, cfg *configs.Config, keepCommands bool) error {
	log.Println("画像生成Discord Botを起動中...")

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("終了処理に失敗: %v", err)
		}
	}()

	// Discordセッションを作成
	session, err := discordgo.New("Bot " + cfg.Discord.BotToken)
	if err != nil {
		return fmt.Errorf("Discordセッションの作成に失敗: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	// Botの情報を取得
	user, err := session.User("@me")
	if err != nil {
		return fmt.Errorf("Bot情報の取得に失敗: %w", err)
	}
	log.Printf("Bot情報: %s#%s (ID: %s)", user.Username, user.Discriminator, user.ID)

	// Discordハンドラを作成
	handler := discordPres.NewDiscordHandler(session, a.core, a.orchestrator, a.catalog, a.images, user.ID, cfg.Discord.GuildID)
	handler.SetBotUsername(user.Username)
	handler.SetupHandlers()

	// Discordに接続
	if err := session.Open(); err != nil {
		return fmt.Errorf("Discordへの接続に失敗: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("Discordセッションのクローズに失敗: %v", err)
		}
	}()

	// スラッシュコマンドを設定
	if err := handler.RegisterCommands(); err != nil {
		return fmt.Errorf("スラッシュコマンドの設定に失敗: %w", err)
	}
	if !keepCommands {
		defer handler.RemoveCommands()
	}

	log.Println("Discordに接続しました。Botが準備完了しました！")
	log.Println("利用可能なスラッシュコマンド:")
	log.Println("  /imagine - プロンプトから画像を生成")
	log.Println("  /chat-new, /chat-list, /chat-switch - チャットを管理")
	log.Println("  /settings - 生成設定を表示・変更")

	// シグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// 終了シグナルを待機
	<-stop
	log.Println("終了シグナルを受信しました。Botを停止中...")

	return nil
}

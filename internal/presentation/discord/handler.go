package discord

import (
	"imagechat/internal/application"

	"github.com/bwmarrin/discordgo"
)

// DiscordHandler は、Discordのイベントハンドラです
type DiscordHandler struct {
	session             *discordgo.Session
	botID               string
	mentionHandler      *MentionHandler
	slashCommandHandler *SlashCommandHandler
}

// NewDiscordHandler は新しいDiscordHandlerインスタンスを作成します
func NewDiscordHandler(
	session *discordgo.Session,
	core *application.StateCore,
	orchestrator *application.GenerationOrchestrator,
	catalog *application.CatalogService,
	images ImageOpener,
	botID string,
	guildID string,
) *DiscordHandler {
	// ResponseHandlerを作成
	responseHandler := NewResponseHandler(images)

	return &DiscordHandler{
		session:             session,
		botID:               botID,
		mentionHandler:      NewMentionHandler(session, orchestrator, botID, responseHandler),
		slashCommandHandler: NewSlashCommandHandler(session, core, orchestrator, catalog, responseHandler, guildID),
	}
}

// SetBotUsername は、メンション判定に使うBotのユーザー名を設定します
func (h *DiscordHandler) SetBotUsername(username string) {
	h.mentionHandler.SetBotUsername(username)
}

// SetupHandlers は、Discordのイベントハンドラを設定します
func (h *DiscordHandler) SetupHandlers() {
	// メンションハンドラーを設定
	h.mentionHandler.SetupHandlers()

	// スラッシュコマンドハンドラーを設定
	h.slashCommandHandler.SetupSlashCommandHandlers()
}

// RegisterCommands は、スラッシュコマンドを登録します
// セッションの接続後に呼び出す必要があります
func (h *DiscordHandler) RegisterCommands() error {
	return h.slashCommandHandler.SetupSlashCommands()
}

// RemoveCommands は、登録したスラッシュコマンドを削除します
func (h *DiscordHandler) RemoveCommands() {
	h.slashCommandHandler.RemoveSlashCommands()
}

package discord

import (
	"context"
	"fmt"
	"log"
	"strings"

	"imagechat/internal/application"
	"imagechat/internal/domain"

	"github.com/bwmarrin/discordgo"
)

// maxAutocompleteChoices は、Discordが受け付ける候補数の上限です
const maxAutocompleteChoices = 25

// SlashCommandHandler は、Discordのスラッシュコマンドを処理するハンドラーです
type SlashCommandHandler struct {
	session         *discordgo.Session
	core            *application.StateCore
	orchestrator    *application.GenerationOrchestrator
	catalog         *application.CatalogService
	responseHandler *ResponseHandler
	guildID         string
	registered      []*discordgo.ApplicationCommand
}

// NewSlashCommandHandler は新しいSlashCommandHandlerインスタンスを作成します
// guildIDを指定するとそのサーバーだけにコマンドを登録します
func NewSlashCommandHandler(
	session *discordgo.Session,
	core *application.StateCore,
	orchestrator *application.GenerationOrchestrator,
	catalog *application.CatalogService,
	responseHandler *ResponseHandler,
	guildID string,
) *SlashCommandHandler {
	return &SlashCommandHandler{
		session:         session,
		core:            core,
		orchestrator:    orchestrator,
		catalog:         catalog,
		responseHandler: responseHandler,
		guildID:         guildID,
	}
}

// commandDefinitions は、登録するスラッシュコマンドの定義を返します
func commandDefinitions() []*discordgo.ApplicationCommand {
	minSteps := 1.0
	minCfg := 0.0

	sizeChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(domain.AllImageSizes()))
	for _, size := range domain.AllImageSizes() {
		sizeChoices = append(sizeChoices, &discordgo.ApplicationCommandOptionChoice{Name: size.String(), Value: size.String()})
	}

	chatOption := func(required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:         discordgo.ApplicationCommandOptionString,
			Name:         "chat",
			Description:  "対象のチャット (名前またはID)",
			Required:     required,
			Autocomplete: true,
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "imagine",
			Description: "プロンプトから画像を生成します",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "prompt",
					Description: "生成したい画像の説明",
					Required:    true,
					MaxLength:   domain.MaxPromptLength,
				},
			},
		},
		{
			Name:        "regenerate",
			Description: "同じプロンプトで画像を生成し直します",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "message-id",
					Description: "元の画像メッセージのID",
					Required:    true,
				},
			},
		},
		{
			Name:        "chat-new",
			Description: "新しいチャットを作成して切り替えます",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "チャット名 (省略時は自動で命名)",
				},
			},
		},
		{
			Name:        "chat-list",
			Description: "チャットの一覧を表示します",
		},
		{
			Name:        "chat-switch",
			Description: "アクティブなチャットを切り替えます",
			Options:     []*discordgo.ApplicationCommandOption{chatOption(true)},
		},
		{
			Name:        "chat-rename",
			Description: "チャットの名前を変更します",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "新しいチャット名",
					Required:    true,
				},
				chatOption(false),
			},
		},
		{
			Name:        "chat-delete",
			Description: "チャットを削除します (省略時はアクティブなチャット)",
			Options:     []*discordgo.ApplicationCommandOption{chatOption(false)},
		},
		{
			Name:        "settings",
			Description: "画像生成の設定を表示・変更します",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionString,
					Name:         "model",
					Description:  "使用するモデル",
					Autocomplete: true,
				},
				{
					Type:         discordgo.ApplicationCommandOptionString,
					Name:         "style",
					Description:  "スタイルプリセット",
					Autocomplete: true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "size",
					Description: "画像サイズ",
					Choices:     sizeChoices,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "steps",
					Description: "ステップ数",
					MinValue:    &minSteps,
					MaxValue:    50,
				},
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "cfg-scale",
					Description: "CFGスケール",
					MinValue:    &minCfg,
					MaxValue:    20,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "negative-prompt",
					Description: "避けたい要素",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "safe-mode",
					Description: "セーフモード",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "hide-watermark",
					Description: "透かしを隠す",
				},
			},
		},
		{
			Name:        "status",
			Description: "生成状況とアクティブなチャットを表示します",
		},
	}
}

// SetupSlashCommands は、スラッシュコマンドを設定します
func (h *SlashCommandHandler) SetupSlashCommands() error {
	// BotのユーザーIDを取得
	user, err := h.session.User("@me")
	if err != nil {
		return fmt.Errorf("Botユーザー情報の取得に失敗: %w", err)
	}

	for _, command := range commandDefinitions() {
		created, err := h.session.ApplicationCommandCreate(user.ID, h.guildID, command)
		if err != nil {
			log.Printf("スラッシュコマンド %s の登録に失敗: %v", command.Name, err)
			return err
		}
		h.registered = append(h.registered, created)
		log.Printf("スラッシュコマンド %s を登録しました", command.Name)
	}

	return nil
}

// RemoveSlashCommands は、登録したスラッシュコマンドを削除します
func (h *SlashCommandHandler) RemoveSlashCommands() {
	for _, command := range h.registered {
		if err := h.session.ApplicationCommandDelete(command.ApplicationID, h.guildID, command.ID); err != nil {
			log.Printf("スラッシュコマンド %s の削除に失敗: %v", command.Name, err)
		}
	}
	h.registered = nil
}

// SetupSlashCommandHandlers は、スラッシュコマンドのハンドラーを設定します
func (h *SlashCommandHandler) SetupSlashCommandHandlers() {
	h.session.AddHandler(h.handleInteractionCreate)
}

// handleInteractionCreate は、インタラクション作成イベントを処理します
func (h *SlashCommandHandler) handleInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
	case discordgo.InteractionApplicationCommandAutocomplete:
		h.handleAutocomplete(s, i)
		return
	case discordgo.InteractionMessageComponent:
		h.handleComponent(s, i)
		return
	default:
		return
	}

	switch i.ApplicationCommandData().Name {
	case "imagine":
		h.handleImagineCommand(s, i)
	case "regenerate":
		h.handleRegenerateCommand(s, i)
	case "chat-new":
		h.handleChatNewCommand(s, i)
	case "chat-list":
		h.respondToInteraction(s, i, formatChatList(h.core.Snapshot()), true)
	case "chat-switch":
		h.handleChatSwitchCommand(s, i)
	case "chat-rename":
		h.handleChatRenameCommand(s, i)
	case "chat-delete":
		h.handleChatDeleteCommand(s, i)
	case "settings":
		h.handleSettingsCommand(s, i)
	case "status":
		h.respondToInteraction(s, i, formatStatus(h.core.Snapshot(), h.orchestrator.InFlight(), h.core.PersistFailures()), true)
	default:
		log.Printf("未知のスラッシュコマンド: %s", i.ApplicationCommandData().Name)
	}
}

// handleImagineCommand は、/imagineコマンドを処理します
func (h *SlashCommandHandler) handleImagineCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	prompt := optionMap(i.ApplicationCommandData().Options)["prompt"].StringValue()
	log.Printf("画像生成コマンドを受信: %s (ユーザー: %s)", domain.ShortenPrompt(prompt, 0), interactionUsername(i))

	h.runGeneration(s, i, func(ctx context.Context) (string, error) {
		return h.orchestrator.Generate(ctx, prompt)
	})
}

// handleRegenerateCommand は、/regenerateコマンドを処理します
func (h *SlashCommandHandler) handleRegenerateCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	messageID := strings.TrimSpace(optionMap(i.ApplicationCommandData().Options)["message-id"].StringValue())

	h.runGeneration(s, i, func(ctx context.Context) (string, error) {
		return h.orchestrator.Regenerate(ctx, messageID)
	})
}

// handleComponent は、結果メッセージのボタン操作を処理します
func (h *SlashCommandHandler) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	action, messageID, ok := parseCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}

	h.runGeneration(s, i, func(ctx context.Context) (string, error) {
		if action == "retry" {
			return h.orchestrator.Retry(ctx, messageID)
		}
		return h.orchestrator.Regenerate(ctx, messageID)
	})
}

// runGeneration は、応答を保留してから生成を開始し、完了後にフォローアップで結果を送信します
func (h *SlashCommandHandler) runGeneration(s *discordgo.Session, i *discordgo.InteractionCreate, start func(ctx context.Context) (string, error)) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		log.Printf("インタラクションの保留に失敗: %v", err)
		return
	}

	ctx := context.Background()
	messageID, err := start(ctx)
	if err != nil {
		log.Printf("画像生成の開始に失敗: %v", err)
		h.sendFollowup(s, i, &resultMessage{Content: h.responseHandler.formatError(err)})
		return
	}

	// 生成の完了を非同期で待つ
	go func() {
		msg, err := h.orchestrator.Await(ctx, messageID)
		if err != nil {
			log.Printf("生成結果の取得に失敗: %v", err)
			h.sendFollowup(s, i, &resultMessage{Content: h.responseHandler.formatError(err)})
			return
		}
		h.sendFollowup(s, i, h.responseHandler.buildResultMessage(msg))
	}()
}

// sendFollowup は、保留したインタラクションに結果を送信します
func (h *SlashCommandHandler) sendFollowup(s *discordgo.Session, i *discordgo.InteractionCreate, result *resultMessage) {
	defer result.Close()

	if _, err := s.FollowupMessageCreate(i.Interaction, true, result.webhookParams()); err != nil {
		log.Printf("フォローアップメッセージの送信に失敗: %v", err)
	}
}

// handleChatNewCommand は、/chat-newコマンドを処理します
func (h *SlashCommandHandler) handleChatNewCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	name := ""
	if opt, ok := optionMap(i.ApplicationCommandData().Options)["name"]; ok {
		name = strings.TrimSpace(opt.StringValue())
	}

	id := h.core.CreateChat(name)
	chat, _ := h.core.Snapshot().Chat(id)
	log.Printf("チャットを作成しました: %s (%s)", chat.Name, id)

	h.respondToInteraction(s, i, fmt.Sprintf("✅ チャット **%s** を作成しました。", chat.Name), false)
}

// handleChatSwitchCommand は、/chat-switchコマンドを処理します
func (h *SlashCommandHandler) handleChatSwitchCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	value := optionMap(i.ApplicationCommandData().Options)["chat"].StringValue()

	chat, err := h.core.Snapshot().ResolveChat(value)
	if err == nil {
		err = h.core.SetActiveChat(chat.ID)
	}
	if err != nil {
		h.respondToInteraction(s, i, h.responseHandler.formatError(err), true)
		return
	}

	h.respondToInteraction(s, i, fmt.Sprintf("▶ チャット **%s** に切り替えました。", chat.Name), false)
}

// handleChatRenameCommand は、/chat-renameコマンドを処理します
func (h *SlashCommandHandler) handleChatRenameCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	options := optionMap(i.ApplicationCommandData().Options)
	name := strings.TrimSpace(options["name"].StringValue())
	if name == "" {
		h.respondToInteraction(s, i, "❌ チャット名が指定されていません。", true)
		return
	}

	chat, err := h.targetChat(options)
	if err != nil {
		h.respondToInteraction(s, i, h.responseHandler.formatError(err), true)
		return
	}

	h.core.RenameChat(chat.ID, name)
	h.respondToInteraction(s, i, fmt.Sprintf("✏️ チャット **%s** の名前を **%s** に変更しました。", chat.Name, name), false)
}

// handleChatDeleteCommand は、/chat-deleteコマンドを処理します
func (h *SlashCommandHandler) handleChatDeleteCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	chat, err := h.targetChat(optionMap(i.ApplicationCommandData().Options))
	if err == nil {
		err = h.core.DeleteChat(chat.ID)
	}
	if err != nil {
		h.respondToInteraction(s, i, h.responseHandler.formatError(err), true)
		return
	}

	active, _ := h.core.ActiveChat()
	h.respondToInteraction(s, i,
		fmt.Sprintf("🗑️ チャット **%s** を削除しました。\nアクティブなチャット: **%s**", chat.Name, active.Name), false)
}

// targetChat は、chatオプションのチャットか、省略時はアクティブなチャットを返します
func (h *SlashCommandHandler) targetChat(options map[string]*discordgo.ApplicationCommandInteractionDataOption) (domain.Chat, error) {
	snapshot := h.core.Snapshot()
	if opt, ok := options["chat"]; ok && strings.TrimSpace(opt.StringValue()) != "" {
		return snapshot.ResolveChat(opt.StringValue())
	}
	chat, ok := snapshot.ActiveChat()
	if !ok {
		return domain.Chat{}, domain.ErrChatNotFound
	}
	return chat, nil
}

// handleSettingsCommand は、/settingsコマンドを処理します
func (h *SlashCommandHandler) handleSettingsCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	patch, err := settingsPatchFromOptions(i.ApplicationCommandData().Options)
	if err != nil {
		h.respondToInteraction(s, i, "❌ "+err.Error(), true)
		return
	}

	if patch.IsEmpty() {
		h.respondToInteraction(s, i, formatSettings(h.core.Settings()), true)
		return
	}

	settings := h.core.UpdateSettings(patch)
	log.Printf("生成設定を更新しました (ユーザー: %s)", interactionUsername(i))
	h.respondToInteraction(s, i, "✅ 設定を更新しました。\n"+formatSettings(settings), true)
}

// settingsPatchFromOptions は、/settingsのオプションから部分更新を作成します
func settingsPatchFromOptions(options []*discordgo.ApplicationCommandInteractionDataOption) (domain.SettingsPatch, error) {
	var patch domain.SettingsPatch
	for _, opt := range options {
		switch opt.Name {
		case "model":
			v := strings.TrimSpace(opt.StringValue())
			patch.Model = &v
		case "style":
			v := strings.TrimSpace(opt.StringValue())
			patch.StylePreset = &v
		case "size":
			w, h, err := parseSize(opt.StringValue())
			if err != nil {
				return domain.SettingsPatch{}, err
			}
			patch.Width, patch.Height = &w, &h
		case "steps":
			v := int(opt.IntValue())
			patch.Steps = &v
		case "cfg-scale":
			v := opt.FloatValue()
			patch.CfgScale = &v
		case "negative-prompt":
			v := opt.StringValue()
			patch.NegativePrompt = &v
		case "safe-mode":
			v := opt.BoolValue()
			patch.SafeMode = &v
		case "hide-watermark":
			v := opt.BoolValue()
			patch.HideWatermark = &v
		}
	}
	return patch, nil
}

// parseSize は、"幅x高さ" 形式のサイズを解釈します
func parseSize(value string) (int, int, error) {
	for _, size := range domain.AllImageSizes() {
		if size.String() == value {
			w, h := size.Dimensions()
			return w, h, nil
		}
	}
	return 0, 0, fmt.Errorf("サポートされていない画像サイズです: %s", value)
}

// handleAutocomplete は、チャット・モデル・スタイルの入力候補を返します
func (h *SlashCommandHandler) handleAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var focused *discordgo.ApplicationCommandInteractionDataOption
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Focused {
			focused = opt
			break
		}
	}
	if focused == nil {
		return
	}

	var entries []domain.CatalogEntry
	switch focused.Name {
	case "chat":
		entries = chatEntries(h.core.Snapshot())
	case "model":
		entries = h.catalog.Catalog(context.Background()).Models
	case "style":
		entries = h.catalog.Catalog(context.Background()).Styles
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{
			Choices: autocompleteChoices(entries, focused.StringValue()),
		},
	})
	if err != nil {
		log.Printf("入力候補の送信に失敗: %v", err)
	}
}

func chatEntries(s domain.Snapshot) []domain.CatalogEntry {
	entries := make([]domain.CatalogEntry, len(s.Chats))
	for i, chat := range s.Chats {
		entries[i] = domain.CatalogEntry{ID: chat.ID, Name: chat.Name}
	}
	return entries
}

// autocompleteChoices は、入力中の文字列を含む候補を上限数まで返します
func autocompleteChoices(entries []domain.CatalogEntry, typed string) []*discordgo.ApplicationCommandOptionChoice {
	typed = strings.ToLower(strings.TrimSpace(typed))
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, maxAutocompleteChoices)
	for _, e := range entries {
		if len(choices) == maxAutocompleteChoices {
			break
		}
		if typed != "" && !strings.Contains(strings.ToLower(e.Name), typed) && !strings.Contains(strings.ToLower(e.ID), typed) {
			continue
		}
		name := e.Name
		if name == "" {
			name = e.ID
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  domain.ShortenPrompt(name, 100),
			Value: e.ID,
		})
	}
	return choices
}

// optionMap は、オプションを名前で引けるようにします
func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

// interactionUsername は、インタラクションを実行したユーザー名を返します
func interactionUsername(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.Username
	}
	if i.User != nil {
		return i.User.Username
	}
	return "unknown"
}

// respondToInteraction は、インタラクションに応答します
func (h *SlashCommandHandler) respondToInteraction(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	parts := splitMessage(content, DiscordMessageLimit)

	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: parts[0],
			Flags:   flags,
		},
	})
	if err != nil {
		log.Printf("インタラクション応答の送信に失敗: %v", err)
		return
	}

	// 制限を超えた分はフォローアップで送信
	for _, part := range parts[1:] {
		if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{Content: part, Flags: flags}); err != nil {
			log.Printf("フォローアップメッセージの送信に失敗: %v", err)
			return
		}
	}
}

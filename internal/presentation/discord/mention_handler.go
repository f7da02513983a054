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

// threadArchiveMinutes は、生成用スレッドが自動アーカイブされるまでの時間です
const threadArchiveMinutes = 60

// MentionHandler は、Discordのメンション処理を担当するハンドラーです
// メンション本文をプロンプトとして画像を生成します
type MentionHandler struct {
	session         *discordgo.Session
	orchestrator    *application.GenerationOrchestrator
	botID           string
	botUsername     string
	responseHandler *ResponseHandler
}

// NewMentionHandler は新しいMentionHandlerインスタンスを作成します
func NewMentionHandler(
	session *discordgo.Session,
	orchestrator *application.GenerationOrchestrator,
	botID string,
	responseHandler *ResponseHandler,
) *MentionHandler {
	return &MentionHandler{
		session:         session,
		orchestrator:    orchestrator,
		botID:           botID,
		responseHandler: responseHandler,
	}
}

// SetupHandlers は、メンション関連のイベントハンドラを設定します
func (h *MentionHandler) SetupHandlers() {
	h.session.AddHandler(h.handleMessageCreate)
	h.session.AddHandler(h.handleReady)
}

// SetBotUsername は、Botのユーザー名を設定します
func (h *MentionHandler) SetBotUsername(username string) {
	h.botUsername = username
}

// handleReady は、Botが準備完了した際のイベントを処理します
func (h *MentionHandler) handleReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("Botが準備完了しました: %s#%s", event.User.Username, event.User.Discriminator)
	h.botUsername = event.User.Username
}

// handleMessageCreate は、メッセージ作成イベントを処理します
func (h *MentionHandler) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Bot自身のメッセージは無視
	if m.Author == nil || m.Author.ID == h.botID || m.Author.Bot {
		return
	}

	if !h.isMentioned(m) {
		return
	}

	prompt := h.extractUserContent(m)
	log.Printf("Botへのメンションを検出: %s", domain.ShortenPrompt(prompt, 0))

	if prompt == "" {
		h.reply(s, m, "🎨 メンションに続けて生成したい画像の説明を書いてください。\n例: `@bot 夕焼けの海辺を歩く猫`")
		return
	}

	// 非同期で画像生成を処理
	go h.processImageGenerationAsync(s, m, prompt)
}

// isMentioned は、メッセージがBotへのメンションかどうかを判定します
func (h *MentionHandler) isMentioned(m *discordgo.MessageCreate) bool {
	// メンション配列をチェック
	for _, mention := range m.Mentions {
		if mention.ID == h.botID {
			return true
		}
	}

	// メンション配列が空の場合、コンテンツをチェック
	if len(m.Mentions) == 0 && h.botUsername != "" {
		content := strings.ToLower(m.Content)
		botMention := fmt.Sprintf("@%s", strings.ToLower(h.botUsername))
		return strings.Contains(content, botMention)
	}

	return false
}

// extractUserContent は、メンション部分を除去したユーザーのコンテンツを抽出します
func (h *MentionHandler) extractUserContent(m *discordgo.MessageCreate) string {
	content := m.Content

	// メンション配列がある場合、それらを除去
	for _, mention := range m.Mentions {
		content = strings.ReplaceAll(content, fmt.Sprintf("<@%s>", mention.ID), "")
		content = strings.ReplaceAll(content, fmt.Sprintf("<@!%s>", mention.ID), "")
	}

	// ユーザー名でのメンションを除去
	if len(m.Mentions) == 0 && h.botUsername != "" {
		lower := strings.ToLower(content)
		botMention := "@" + strings.ToLower(h.botUsername)
		if idx := strings.Index(lower, botMention); idx >= 0 {
			content = content[:idx] + content[idx+len(botMention):]
		}
	}

	return strings.TrimSpace(content)
}

// processImageGenerationAsync は、スレッド内で画像生成を行い結果を送信します
func (h *MentionHandler) processImageGenerationAsync(s *discordgo.Session, m *discordgo.MessageCreate, prompt string) {
	ctx := context.Background()

	channelID := m.ChannelID
	thread, err := s.MessageThreadStart(m.ChannelID, m.ID, threadName(prompt), threadArchiveMinutes)
	if err != nil {
		// スレッドを作成できない場合は元のチャンネルに返信する
		log.Printf("スレッド作成に失敗: %v", err)
	} else {
		channelID = thread.ID
	}

	// 処理中メッセージを送信
	thinkingMsg, err := s.ChannelMessageSend(channelID, "🎨 画像を生成中...")
	if err != nil {
		log.Printf("処理中メッセージの送信に失敗: %v", err)
	}
	deleteThinking := func() {
		if thinkingMsg != nil {
			s.ChannelMessageDelete(channelID, thinkingMsg.ID)
		}
	}

	messageID, err := h.orchestrator.Generate(ctx, prompt)
	if err != nil {
		deleteThinking()
		log.Printf("画像生成の開始に失敗: %v", err)
		h.send(s, channelID, &resultMessage{Content: h.responseHandler.formatError(err)})
		return
	}

	msg, err := h.orchestrator.Await(ctx, messageID)
	deleteThinking()
	if err != nil {
		log.Printf("生成結果の取得に失敗: %v", err)
		h.send(s, channelID, &resultMessage{Content: h.responseHandler.formatError(err)})
		return
	}

	h.send(s, channelID, h.responseHandler.buildResultMessage(msg))
}

// send は、結果をチャンネルに送信します
func (h *MentionHandler) send(s *discordgo.Session, channelID string, result *resultMessage) {
	defer result.Close()

	if _, err := s.ChannelMessageSendComplex(channelID, result.messageSend()); err != nil {
		log.Printf("メッセージ送信に失敗: %v", err)
	}
}

// reply は、元のメッセージへのリプライとして送信します
func (h *MentionHandler) reply(s *discordgo.Session, m *discordgo.MessageCreate, content string) {
	_, err := s.ChannelMessageSendReply(m.ChannelID, content, &discordgo.MessageReference{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
	})
	if err != nil {
		log.Printf("リプライの送信に失敗: %v", err)
	}
}

// threadName は、プロンプトからスレッド名を作成します
func threadName(prompt string) string {
	name := domain.ShortenPrompt(prompt, 90)
	if name == "" {
		return "画像生成"
	}
	return "🎨 " + name
}

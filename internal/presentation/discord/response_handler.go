package discord

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"imagechat/internal/domain"

	"github.com/bwmarrin/discordgo"
)

// DiscordMessageLimit は、Discordのメッセージ長制限です
const DiscordMessageLimit = 2000

const (
	// customIDRegenerate は、再生成ボタンのカスタムIDの接頭辞です
	customIDRegenerate = "regenerate:"
	// customIDRetry は、再試行ボタンのカスタムIDの接頭辞です
	customIDRetry = "retry:"
)

const (
	colorComplete = 0x57F287
	colorError    = 0xED4245
)

// ImageOpener は、生成結果のハンドルから画像ファイルを開きます
type ImageOpener interface {
	Open(handle string) (io.ReadCloser, string, error)
}

// ResponseHandler は、生成結果や一覧をDiscordのメッセージに変換します
type ResponseHandler struct {
	images ImageOpener
}

// NewResponseHandler は新しいResponseHandlerインスタンスを作成します
func NewResponseHandler(images ImageOpener) *ResponseHandler {
	return &ResponseHandler{images: images}
}

// resultMessage は、Discordに送信する1件分の内容です
// 添付ファイルを開いている場合は送信後にCloseが必要です
type resultMessage struct {
	Content    string
	Files      []*discordgo.File
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
	closers    []io.Closer
}

// Close は、添付ファイルのために開いたファイルを閉じます
func (r *resultMessage) Close() {
	for _, c := range r.closers {
		c.Close()
	}
	r.closers = nil
}

// webhookParams は、インタラクションのフォローアップ用に変換します
func (r *resultMessage) webhookParams() *discordgo.WebhookParams {
	return &discordgo.WebhookParams{
		Content:    r.Content,
		Files:      r.Files,
		Embeds:     r.Embeds,
		Components: r.Components,
	}
}

// messageSend は、チャンネルへの送信用に変換します
func (r *resultMessage) messageSend() *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content:    r.Content,
		Files:      r.Files,
		Embeds:     r.Embeds,
		Components: r.Components,
	}
}

// buildResultMessage は、終端状態の画像メッセージから送信内容を作成します
func (h *ResponseHandler) buildResultMessage(msg domain.Message) *resultMessage {
	footer := &discordgo.MessageEmbedFooter{Text: "ID: " + msg.ID}
	title := domain.ShortenPrompt(msg.Prompt, 200)

	if msg.Status == domain.StatusError {
		return &resultMessage{
			Content: formatErrorKind(msg.ErrorKind, msg.Error),
			Embeds: []*discordgo.MessageEmbed{{
				Title:  title,
				Color:  colorError,
				Footer: footer,
			}},
			Components: actionButtons(msg.ID, true),
		}
	}

	image, ok := msg.LatestImage()
	if !ok {
		return &resultMessage{Content: "⏳ まだ画像が生成されていません。"}
	}

	embed := &discordgo.MessageEmbed{
		Title:     title,
		Color:     colorComplete,
		Footer:    footer,
		Timestamp: image.Timestamp.Format(time.RFC3339),
	}
	result := &resultMessage{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: actionButtons(msg.ID, false),
	}

	switch {
	case strings.HasPrefix(image.URL, "http://"), strings.HasPrefix(image.URL, "https://"):
		embed.Image = &discordgo.MessageEmbedImage{URL: image.URL}
	case h.images != nil:
		rc, name, err := h.images.Open(image.URL)
		if err != nil {
			log.Printf("画像ファイルを開けませんでした: %v", err)
			result.Content = "⚠️ 画像は生成されましたが、ファイルを読み込めませんでした。"
			return result
		}
		result.Files = []*discordgo.File{{
			Name:        name,
			ContentType: contentTypeForName(name),
			Reader:      rc,
		}}
		result.closers = append(result.closers, rc)
		embed.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + name}
	default:
		result.Content = image.URL
	}
	return result
}

// actionButtons は、結果メッセージに付ける再生成・再試行ボタンを作成します
func actionButtons(messageID string, failed bool) []discordgo.MessageComponent {
	buttons := []discordgo.MessageComponent{
		discordgo.Button{
			Label:    "🔁 再生成",
			Style:    discordgo.PrimaryButton,
			CustomID: customIDRegenerate + messageID,
		},
	}
	if failed {
		buttons = []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "🔄 再試行",
				Style:    discordgo.DangerButton,
				CustomID: customIDRetry + messageID,
			},
		}
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

// parseCustomID は、ボタンのカスタムIDから操作とメッセージIDを取り出します
func parseCustomID(customID string) (action, messageID string, ok bool) {
	for _, prefix := range []string{customIDRegenerate, customIDRetry} {
		if strings.HasPrefix(customID, prefix) {
			id := strings.TrimPrefix(customID, prefix)
			if id == "" {
				return "", "", false
			}
			return strings.TrimSuffix(prefix, ":"), id, true
		}
	}
	return "", "", false
}

func contentTypeForName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// formatError は、エラーを適切なメッセージにフォーマットします
func (h *ResponseHandler) formatError(err error) string {
	if err == nil {
		return "❌ **不明なエラーが発生しました**"
	}

	switch {
	case errors.Is(err, domain.ErrEmptyPrompt):
		return "📝 **プロンプトが空です**\n生成したい画像の説明を入力してください。"
	case errors.Is(err, domain.ErrPromptTooLong):
		return fmt.Sprintf("📏 **プロンプトが長すぎます**\n%d文字以内でお願いします。", domain.MaxPromptLength)
	case errors.Is(err, domain.ErrChatNotFound):
		return "🔍 **チャットが見つかりません**\n`/chat-list` で一覧を確認してください。"
	case errors.Is(err, domain.ErrMessageNotFound):
		return "🔍 **メッセージが見つかりません**\n既に削除されている可能性があります。"
	case errors.Is(err, domain.ErrNotImageMessage):
		return "❌ **画像メッセージではありません**"
	}

	kind, message := domain.DescribeError(err)
	return formatErrorKind(kind, message)
}

// formatErrorKind は、エラーの分類ごとに見出しを付けたメッセージを作成します
func formatErrorKind(kind domain.ErrorKind, message string) string {
	if message == "" {
		message = domain.UserMessage(kind)
	}

	switch kind {
	case domain.ErrorKindTimeout:
		return "⏰ **タイムアウトしました**\n\n" + message + "\n\n" +
			"• プロンプトを短くしてみる\n" +
			"• しばらく待ってから再度お試しください"
	case domain.ErrorKindNetwork:
		return "📡 **画像生成サービスに接続できません**\n" + message
	case domain.ErrorKindAuthentication:
		return "🔑 **認証に失敗しました**\n" + message
	default:
		return "❌ **エラーが発生しました**\n" + message
	}
}

// formatChatList は、チャットの一覧をアクティブなチャットに印を付けて整形します
func formatChatList(s domain.Snapshot) string {
	if len(s.Chats) == 0 {
		return "💬 チャットはまだありません。"
	}

	var b strings.Builder
	b.WriteString("💬 **チャット一覧**\n")
	for _, chat := range s.Chats {
		marker := "　"
		if chat.ID == s.ActiveChatID {
			marker = "▶"
		}
		fmt.Fprintf(&b, "%s **%s** (%d件 / 画像%d枚) `%s`\n",
			marker, chat.Name, chat.MessageCount(), chat.ImageCount(), chat.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatSettings は、現在の生成設定を整形します
func formatSettings(settings domain.Settings) string {
	var b strings.Builder
	b.WriteString("⚙️ **生成設定**\n")
	fmt.Fprintf(&b, "• モデル: `%s`\n", settings.Model)
	fmt.Fprintf(&b, "• スタイル: `%s`\n", settings.StylePreset)
	fmt.Fprintf(&b, "• サイズ: `%dx%d`\n", settings.Width, settings.Height)
	fmt.Fprintf(&b, "• ステップ数: `%d`\n", settings.Steps)
	fmt.Fprintf(&b, "• CFGスケール: `%.1f`\n", settings.CfgScale)
	fmt.Fprintf(&b, "• セーフモード: `%t`\n", settings.SafeMode)
	fmt.Fprintf(&b, "• 透かしを隠す: `%t`\n", settings.HideWatermark)
	fmt.Fprintf(&b, "• ネガティブプロンプト: %s", domain.ShortenPrompt(settings.NegativePrompt, 100))
	return b.String()
}

// formatStatus は、生成状況と直近のエラーを整形します
func formatStatus(s domain.Snapshot, inFlight int, persistFailures int64) string {
	var b strings.Builder
	b.WriteString("📊 **ステータス**\n")

	if chat, ok := s.ActiveChat(); ok {
		fmt.Fprintf(&b, "• アクティブなチャット: **%s** (%d件)\n", chat.Name, chat.MessageCount())
	} else {
		b.WriteString("• アクティブなチャット: なし\n")
	}
	fmt.Fprintf(&b, "• チャット数: %d\n", len(s.Chats))

	if s.Busy() {
		fmt.Fprintf(&b, "• 生成中: 🎨 %d件 (実行中 %d件)\n", len(s.ActiveGenerations), inFlight)
	} else {
		b.WriteString("• 生成中: なし\n")
	}
	if persistFailures > 0 {
		fmt.Fprintf(&b, "• 保存の失敗: ⚠️ %d回\n", persistFailures)
	}
	if s.LastError != nil {
		fmt.Fprintf(&b, "• 直近のエラー: [%s] %s", s.LastError.Kind, s.LastError.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

// splitMessage は、長いメッセージを行単位で制限内に分割します
func splitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = DiscordMessageLimit
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			parts = append(parts, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		lineLen := utf8.RuneCountInString(line)

		// 1行が制限を超える場合は強制的に分割
		for lineLen > limit {
			flush()
			runes := []rune(line)
			parts = append(parts, string(runes[:limit]))
			line = string(runes[limit:])
			lineLen = utf8.RuneCountInString(line)
		}

		extra := lineLen
		if currentLen > 0 {
			extra++
		}
		if currentLen+extra > limit {
			flush()
			extra = lineLen
		}
		if currentLen > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
		currentLen += extra
	}
	flush()
	return parts
}

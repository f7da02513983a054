package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestNewDiscordHandler(t *testing.T) {
	session := &discordgo.Session{}
	botID := "bot123"

	handler := NewDiscordHandler(session, nil, nil, nil, nil, botID, "")

	if handler.session != session {
		t.Error("セッションが正しく設定されていません")
	}
	if handler.botID != botID {
		t.Error("BotIDが正しく設定されていません")
	}
	if handler.mentionHandler == nil || handler.slashCommandHandler == nil {
		t.Fatal("ハンドラーが作成されていません")
	}
	if handler.mentionHandler.responseHandler != handler.slashCommandHandler.responseHandler {
		t.Error("ResponseHandlerが共有されていません")
	}

	handler.SetBotUsername("TestBot")
	if handler.mentionHandler.botUsername != "TestBot" {
		t.Error("Botのユーザー名が設定されていません")
	}
}

func TestMentionHandler_IsMentioned_WithMentions(t *testing.T) {
	handler := &MentionHandler{
		botID:       "bot123",
		botUsername: "TestBot",
	}

	// メンション配列がある場合
	message := &discordgo.MessageCreate{
		Message: &discordgo.Message{
			Content: "<@bot123> 夕焼けの海",
			Mentions: []*discordgo.User{
				{ID: "bot123"},
			},
		},
	}

	if !handler.isMentioned(message) {
		t.Error("メンション配列での判定が失敗しました")
	}
}

func TestMentionHandler_IsMentioned_WithUsername(t *testing.T) {
	handler := &MentionHandler{
		botID:       "bot123",
		botUsername: "TestBot",
	}

	// メンション配列が空で、ユーザー名でのメンション
	message := &discordgo.MessageCreate{
		Message: &discordgo.Message{
			Content:  "@testbot 夕焼けの海",
			Mentions: []*discordgo.User{},
		},
	}

	if !handler.isMentioned(message) {
		t.Error("ユーザー名でのメンション判定が失敗しました")
	}
}

func TestMentionHandler_IsMentioned_NotMentioned(t *testing.T) {
	handler := &MentionHandler{
		botID:       "bot123",
		botUsername: "TestBot",
	}

	// メンションされていない場合
	message := &discordgo.MessageCreate{
		Message: &discordgo.Message{
			Content:  "こんにちは",
			Mentions: []*discordgo.User{},
		},
	}

	if handler.isMentioned(message) {
		t.Error("メンションされていないのに判定されました")
	}

	// 他のユーザーへのメンション
	other := &discordgo.MessageCreate{
		Message: &discordgo.Message{
			Content:  "<@user456> こんにちは",
			Mentions: []*discordgo.User{{ID: "user456"}},
		},
	}

	if handler.isMentioned(other) {
		t.Error("他のユーザーへのメンションで判定されました")
	}
}

func TestMentionHandler_ExtractUserContent(t *testing.T) {
	handler := &MentionHandler{
		botID:       "bot123",
		botUsername: "TestBot",
	}

	tests := []struct {
		name     string
		content  string
		mentions []*discordgo.User
		want     string
	}{
		{"IDメンション", "<@bot123> a red fox", []*discordgo.User{{ID: "bot123"}}, "a red fox"},
		{"ニックネーム形式", "<@!bot123>   a red fox  ", []*discordgo.User{{ID: "bot123"}}, "a red fox"},
		{"途中のメンション", "draw <@bot123> a cat", []*discordgo.User{{ID: "bot123"}}, "draw  a cat"},
		{"ユーザー名", "@TestBot a red fox", nil, "a red fox"},
		{"本文なし", "<@bot123>", []*discordgo.User{{ID: "bot123"}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &discordgo.MessageCreate{Message: &discordgo.Message{Content: tt.content, Mentions: tt.mentions}}
			if got := handler.extractUserContent(m); got != tt.want {
				t.Errorf("期待される値: %q, 実際: %q", tt.want, got)
			}
		})
	}
}

func TestThreadName(t *testing.T) {
	if got := threadName("   "); got != "画像生成" {
		t.Errorf("空のプロンプトの場合は既定の名前になるべきです: %s", got)
	}
	if got := threadName("a red fox"); got != "🎨 a red fox" {
		t.Errorf("期待される値: 🎨 a red fox, 実際: %s", got)
	}

	long := ""
	for i := 0; i < 50; i++ {
		long += "word "
	}
	if got := []rune(threadName(long)); len(got) > 100 {
		t.Errorf("スレッド名は100文字以内であるべきです: %d", len(got))
	}
}

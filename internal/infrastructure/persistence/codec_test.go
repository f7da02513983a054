package persistence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagechat/internal/domain"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// sampleSnapshot は、全種類のメッセージを含む状態を作成します
func sampleSnapshot() domain.Snapshot {
	s := domain.EmptySnapshot()
	errTime := baseTime.Add(3 * time.Minute)

	first := domain.NewChat("chat-1", "Landscapes", baseTime)
	first.Messages = append(first.Messages,
		domain.NewPromptMessage("m1", "a quiet lake", baseTime),
		domain.ApplyPatches(domain.NewPendingImageMessage("m2", "a quiet lake", baseTime),
			domain.AppendImage{URL: "https://example.com/1.png", Timestamp: baseTime.Add(time.Minute)},
			domain.AppendImage{URL: "file:///tmp/2.png", Timestamp: baseTime.Add(2 * time.Minute)},
			domain.StatusChange{Status: domain.StatusComplete},
		),
		domain.ApplyPatches(domain.NewPendingImageMessage("m3", "storm", baseTime),
			domain.ErrorSet{Kind: domain.ErrorKindTimeout, Message: "took too long", Time: errTime},
			domain.StatusChange{Status: domain.StatusError},
		),
	)

	second := domain.NewChat("chat-2", "Portraits", baseTime.Add(time.Hour))
	second.Messages = append(second.Messages,
		domain.NewPendingImageMessage("m4", "a cat", baseTime.Add(time.Hour)),
	)

	s.Chats = []domain.Chat{first, second}
	s.ActiveChatID = "chat-2"
	s.ActiveGenerations = []string{"m4"}
	s.Settings.StylePreset = "Anime"
	s.Settings.Steps = 42
	return s
}

func TestCodec_RoundTrip(t *testing.T) {
	want := sampleSnapshot()

	data, err := Encode(want, baseTime)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCodec_DropsLastError(t *testing.T) {
	s := sampleSnapshot()
	s.LastError = &domain.GlobalError{Kind: domain.ErrorKindNetwork, Message: "offline", Time: baseTime}

	data, err := Encode(s, baseTime)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Nil(t, got.LastError)
}

func TestCodec_DocumentHasVersion(t *testing.T) {
	data, err := Encode(domain.EmptySnapshot(), baseTime)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.EqualValues(t, CurrentVersion, doc["version"])
	assert.Contains(t, doc, "state")
}

func TestCodec_MigratesLegacyState(t *testing.T) {
	legacy := `{
		"chats": [{
			"id": 1714564800000,
			"name": "",
			"createdAt": "2024-05-01T12:00:00.000Z",
			"messages": [
				{"id": 1, "type": "prompt", "text": "a red fox"},
				{"id": 2, "type": "image", "promptText": "a red fox", "url": "blob:http://localhost/abc", "isLoading": false},
				{"id": 3, "type": "image", "promptText": "a blue fox", "url": "", "isLoading": true, "images": []},
				{"id": 4, "type": "image", "promptText": "a green fox", "isError": true, "error": "Server error: 500"},
				{"id": 5, "type": "image", "promptText": "stacked", "url": "https://example.com/b.png",
				 "images": [{"url": "https://example.com/a.png", "timestamp": "2024-05-01T12:01:00Z"},
				            {"url": "https://example.com/b.png", "timestamp": "2024-05-01T12:02:00Z"}]}
			]
		}],
		"activeChatId": 1714564800000,
		"isLoading": true,
		"error": null,
		"settings": {"model": "lustify-sdxl", "stylePreset": "Cinematic"}
	}`

	s, err := Decode([]byte(legacy))
	require.NoError(t, err)
	require.Len(t, s.Chats, 1)

	chat := s.Chats[0]
	assert.Equal(t, "1714564800000", chat.ID)
	assert.Equal(t, "1714564800000", s.ActiveChatID)
	assert.Equal(t, domain.DefaultChatName, chat.Name)
	require.Len(t, chat.Messages, 5)

	assert.Equal(t, domain.MessageKindPrompt, chat.Messages[0].Kind)
	assert.Equal(t, "a red fox", chat.Messages[0].Text)

	single := chat.Messages[1]
	assert.Equal(t, "2", single.ID)
	assert.Equal(t, domain.StatusComplete, single.Status)
	require.Len(t, single.Images, 1)
	assert.Equal(t, "blob:http://localhost/abc", single.Images[0].URL)

	assert.Equal(t, domain.StatusPending, chat.Messages[2].Status)
	assert.Empty(t, chat.Messages[2].Images)

	failed := chat.Messages[3]
	assert.Equal(t, domain.StatusError, failed.Status)
	assert.Equal(t, "Server error: 500", failed.Error)
	assert.Equal(t, domain.ErrorKindGeneric, failed.ErrorKind)

	stacked := chat.Messages[4]
	require.Len(t, stacked.Images, 2)
	assert.Equal(t, "https://example.com/b.png", stacked.Images[1].URL)

	assert.Empty(t, s.ActiveGenerations)
	assert.Equal(t, "lustify-sdxl", s.Settings.Model)
	assert.Equal(t, "Cinematic", s.Settings.StylePreset)
	assert.Equal(t, domain.DefaultSettings().Steps, s.Settings.Steps, "欠けている設定は既定値で補う")
}

func TestCodec_NormalizesActiveGenerations(t *testing.T) {
	raw := `{"version":1,"state":{"chats":[],"activeGenerations":["b","a","b",7]}}`

	s, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "a", "b"}, s.ActiveGenerations)
	assert.True(t, s.IsGenerating("a"))
}

func TestCodec_FixesDanglingActiveChat(t *testing.T) {
	raw := `{"version":1,"state":{"chats":[{"id":"c1","name":"One","messages":[]}],"activeChatId":"gone"}}`

	s, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "c1", s.ActiveChatID)
	assert.NoError(t, domain.CheckInvariant(s))
}

func TestCodec_RejectsInvalidData(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"空", ""},
		{"空白のみ", "   \n"},
		{"JSONではない", "not json"},
		{"配列", "[1,2,3]"},
		{"未来のバージョン", `{"version":99,"state":{}}`},
		{"チャットの型が不正", `{"chats":"oops"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

package domain

import (
	"fmt"
	"time"
)

// MessageKind は、メッセージの種類を表します
type MessageKind string

const (
	// MessageKindPrompt は、ユーザーが入力したテキストだけのメッセージです
	MessageKindPrompt MessageKind = "prompt"
	// MessageKindImage は、1回の画像生成リクエストとその結果を表すメッセージです
	MessageKindImage MessageKind = "image"
)

// MessageStatus は、画像メッセージの生成状態です
// pending から complete か error のどちらかへ一度だけ遷移します
type MessageStatus string

const (
	StatusPending  MessageStatus = "pending"
	StatusComplete MessageStatus = "complete"
	StatusError    MessageStatus = "error"
)

// IsTerminal は、これ以上遷移しない状態かどうかを判定します
func (s MessageStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// Image は、生成された1枚の画像を表す値オブジェクトです
// URLは不透明なハンドルで、コアは中身を解釈しません
type Image struct {
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// Message は、チャット内の1件のメッセージです
type Message struct {
	ID        string        `json:"id"`
	Kind      MessageKind   `json:"type"`
	Text      string        `json:"text,omitempty"`
	Prompt    string        `json:"promptText,omitempty"`
	Status    MessageStatus `json:"status,omitempty"`
	Images    []Image       `json:"images,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorKind ErrorKind     `json:"errorKind,omitempty"`
	ErrorTime *time.Time    `json:"errorTime,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// NewPromptMessage は、ユーザー入力のプロンプトメッセージを作成します
func NewPromptMessage(id, text string, createdAt time.Time) Message {
	return Message{
		ID:        id,
		Kind:      MessageKindPrompt,
		Text:      text,
		CreatedAt: createdAt,
	}
}

// NewPendingImageMessage は、生成待ちの画像メッセージを作成します
func NewPendingImageMessage(id, prompt string, createdAt time.Time) Message {
	return Message{
		ID:        id,
		Kind:      MessageKindImage,
		Prompt:    prompt,
		Status:    StatusPending,
		Images:    []Image{},
		CreatedAt: createdAt,
	}
}

// IsImage は、画像メッセージかどうかを判定します
func (m Message) IsImage() bool {
	return m.Kind == MessageKindImage
}

// IsTerminal は、画像メッセージが終端状態にあるかを判定します
func (m Message) IsTerminal() bool {
	return m.Status.IsTerminal()
}

// LatestImage は、最後に追加された画像を返します
func (m Message) LatestImage() (Image, bool) {
	if len(m.Images) == 0 {
		return Image{}, false
	}
	return m.Images[len(m.Images)-1], true
}

// clone は、スライスを共有しないコピーを返します
func (m Message) clone() Message {
	if m.Images != nil {
		images := make([]Image, len(m.Images))
		copy(images, m.Images)
		m.Images = images
	}
	if m.ErrorTime != nil {
		t := *m.ErrorTime
		m.ErrorTime = &t
	}
	return m
}

// String はMessageの文字列表現を返します
func (m Message) String() string {
	return fmt.Sprintf("Message{ID: %s, Kind: %s, Status: %s, Images: %d}",
		m.ID, m.Kind, m.Status, len(m.Images))
}

// Chat は、1つの会話を表します。メッセージはチャットが排他的に所有します
type Chat struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewChat は、メッセージが空の新しいChatを作成します
func NewChat(id, name string, createdAt time.Time) Chat {
	return Chat{
		ID:        id,
		Name:      name,
		Messages:  []Message{},
		CreatedAt: createdAt,
	}
}

// FindMessage は、IDに一致するメッセージの位置を返します
func (c Chat) FindMessage(messageID string) (int, bool) {
	for i, msg := range c.Messages {
		if msg.ID == messageID {
			return i, true
		}
	}
	return -1, false
}

// MessageCount は、メッセージ数を返します
func (c Chat) MessageCount() int {
	return len(c.Messages)
}

// ImageCount は、チャット内の画像の総数を返します
func (c Chat) ImageCount() int {
	total := 0
	for _, msg := range c.Messages {
		total += len(msg.Images)
	}
	return total
}

func (c Chat) clone() Chat {
	messages := make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		messages[i] = msg.clone()
	}
	c.Messages = messages
	return c
}

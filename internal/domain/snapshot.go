package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// GlobalError は、一時的にユーザーへ通知するための直近のエラーです
// 勧告的な値で、以降の操作を妨げません
type GlobalError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	MessageID string    `json:"messageId,omitempty"`
	Time      time.Time `json:"time"`
}

// Snapshot は、永続化の単位となるアプリケーション状態全体です
// 一度作られたSnapshotは変更されず、コマンドごとに丸ごと置き換えられます
type Snapshot struct {
	Chats             []Chat       `json:"chats"`
	ActiveChatID      string       `json:"activeChatId,omitempty"`
	ActiveGenerations []string     `json:"activeGenerations"`
	Settings          Settings     `json:"settings"`
	LastError         *GlobalError `json:"-"`
}

// EmptySnapshot は、チャットが1つもない初期状態を返します
func EmptySnapshot() Snapshot {
	return Snapshot{
		Chats:             []Chat{},
		ActiveGenerations: []string{},
		Settings:          DefaultSettings(),
	}
}

// Clone は、どのスライスも共有しない深いコピーを返します
func (s Snapshot) Clone() Snapshot {
	chats := make([]Chat, len(s.Chats))
	for i, chat := range s.Chats {
		chats[i] = chat.clone()
	}
	s.Chats = chats

	generations := make([]string, len(s.ActiveGenerations))
	copy(generations, s.ActiveGenerations)
	s.ActiveGenerations = generations

	if s.LastError != nil {
		e := *s.LastError
		s.LastError = &e
	}
	return s
}

// FindChat は、IDに一致するチャットの位置を返します
func (s Snapshot) FindChat(chatID string) (int, bool) {
	for i, chat := range s.Chats {
		if chat.ID == chatID {
			return i, true
		}
	}
	return -1, false
}

// Chat は、IDに一致するチャットを返します
func (s Snapshot) Chat(chatID string) (Chat, bool) {
	idx, ok := s.FindChat(chatID)
	if !ok {
		return Chat{}, false
	}
	return s.Chats[idx], true
}

// ActiveChat は、アクティブなチャットを返します
func (s Snapshot) ActiveChat() (Chat, bool) {
	if s.ActiveChatID == "" {
		return Chat{}, false
	}
	return s.Chat(s.ActiveChatID)
}

// ResolveChat は、IDまたは名前でチャットを探します
// 名前の比較では大文字と小文字を区別しません
func (s Snapshot) ResolveChat(ref string) (Chat, error) {
	ref = strings.TrimSpace(ref)
	if chat, ok := s.Chat(ref); ok {
		return chat, nil
	}
	for _, chat := range s.Chats {
		if strings.EqualFold(chat.Name, ref) {
			return chat, nil
		}
	}
	return Chat{}, fmt.Errorf("%w: %s", ErrChatNotFound, ref)
}

// FindMessage は、チャットIDとメッセージIDでメッセージを探します
func (s Snapshot) FindMessage(chatID, messageID string) (Message, bool) {
	chat, ok := s.Chat(chatID)
	if !ok {
		return Message{}, false
	}
	idx, ok := chat.FindMessage(messageID)
	if !ok {
		return Message{}, false
	}
	return chat.Messages[idx], true
}

// LocateMessage は、全チャットからメッセージを探し、所属するチャットIDと共に返します
func (s Snapshot) LocateMessage(messageID string) (string, Message, bool) {
	for _, chat := range s.Chats {
		if idx, ok := chat.FindMessage(messageID); ok {
			return chat.ID, chat.Messages[idx], true
		}
	}
	return "", Message{}, false
}

// IsGenerating は、指定したIDが生成待ちの集合に含まれるかを判定します
func (s Snapshot) IsGenerating(messageID string) bool {
	i := sort.SearchStrings(s.ActiveGenerations, messageID)
	return i < len(s.ActiveGenerations) && s.ActiveGenerations[i] == messageID
}

// Busy は、生成待ちのリクエストが1つ以上あるかを返します
func (s Snapshot) Busy() bool {
	return len(s.ActiveGenerations) > 0
}

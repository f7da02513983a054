package domain

import (
	"fmt"
	"time"
)

const (
	// DefaultChatName は、起動時や削除時に自動作成されるチャットの名前です
	DefaultChatName = "New Chat"
	// GeneratedChatName は、チャットがない状態で画像生成を始めた時に作成されるチャットの名前です
	GeneratedChatName = "Generated Images"
)

// LifecyclePolicy は、アクティブチャットが常に1つだけ存在することを保証するドメインサービスです
// Snapshotを受け取り、適用すべきコマンド列を返すだけで、状態は持ちません
type LifecyclePolicy struct {
	defaultName string
}

// NewLifecyclePolicy は新しいLifecyclePolicyインスタンスを作成します
func NewLifecyclePolicy(defaultName string) *LifecyclePolicy {
	if defaultName == "" {
		defaultName = DefaultChatName
	}
	return &LifecyclePolicy{defaultName: defaultName}
}

// DefaultName は、自動作成するチャットの名前を返します
func (p *LifecyclePolicy) DefaultName() string {
	return p.defaultName
}

// Startup は、起動直後の状態を整えるためのコマンドを返します
func (p *LifecyclePolicy) Startup(s Snapshot, newID string, now time.Time) []Command {
	if len(s.Chats) == 0 {
		return []Command{CreateChat{ID: newID, Name: p.defaultName, CreatedAt: now}}
	}
	if _, ok := s.ActiveChat(); !ok {
		return []Command{SetActiveChat{ChatID: s.Chats[0].ID}}
	}
	return nil
}

// DeleteCommands は、チャット削除のためのコマンドを返します
// 最後の1つを削除する場合は、先に代わりのチャットを作成してから削除します
// 返されたコマンドは1回の操作としてまとめて適用する必要があります
func (p *LifecyclePolicy) DeleteCommands(s Snapshot, chatID string, newID string, now time.Time) []Command {
	if _, ok := s.FindChat(chatID); !ok {
		return nil
	}
	if len(s.Chats) == 1 {
		return []Command{
			CreateChat{ID: newID, Name: p.defaultName, CreatedAt: now},
			DeleteChat{ChatID: chatID},
		}
	}
	return []Command{DeleteChat{ChatID: chatID}}
}

// EnsureActiveCommands は、アクティブなチャットがない場合に作成するコマンドを返します
func (p *LifecyclePolicy) EnsureActiveCommands(s Snapshot, name string, newID string, now time.Time) []Command {
	if _, ok := s.ActiveChat(); ok {
		return nil
	}
	if len(s.Chats) > 0 {
		return []Command{SetActiveChat{ChatID: s.Chats[0].ID}}
	}
	if name == "" {
		name = p.defaultName
	}
	return []Command{CreateChat{ID: newID, Name: name, CreatedAt: now}}
}

// InterruptedMessage は、結果を受け取れなくなった生成に記録するエラーメッセージです
const InterruptedMessage = "Generation was interrupted before it finished. Please retry."

// RecoverCommands は、追跡されていない生成待ちのメッセージをエラーに変えるコマンドを返します
// 前回の実行中に終了した生成は結果を受け取れないため、再試行できる状態にします
func (p *LifecyclePolicy) RecoverCommands(s Snapshot, now time.Time) []Command {
	var cmds []Command
	for _, chat := range s.Chats {
		for _, msg := range chat.Messages {
			if !msg.IsImage() || msg.Status != StatusPending || s.IsGenerating(msg.ID) {
				continue
			}
			cmds = append(cmds, UpdateMessage{
				ChatID:    chat.ID,
				MessageID: msg.ID,
				Patches: []MessagePatch{
					StatusChange{Status: StatusError},
					ErrorSet{Kind: ErrorKindGeneric, Message: InterruptedMessage, Time: now},
				},
			})
		}
	}
	return cmds
}

// NextChatName は、名前が指定されなかった場合のチャット名を決めます
func (p *LifecyclePolicy) NextChatName(s Snapshot) string {
	return fmt.Sprintf("%s %d", p.defaultName, len(s.Chats)+1)
}

// CheckInvariant は、チャットが1つ以上ある時にアクティブチャットが有効かを検証します
func CheckInvariant(s Snapshot) error {
	if len(s.Chats) == 0 {
		if s.ActiveChatID != "" {
			return fmt.Errorf("チャットがないのにアクティブチャットが設定されています: %s", s.ActiveChatID)
		}
		return nil
	}
	if _, ok := s.ActiveChat(); !ok {
		return fmt.Errorf("アクティブチャットが無効です: %q", s.ActiveChatID)
	}
	seen := make(map[string]struct{}, len(s.Chats))
	for _, chat := range s.Chats {
		if _, dup := seen[chat.ID]; dup {
			return fmt.Errorf("チャットIDが重複しています: %s", chat.ID)
		}
		seen[chat.ID] = struct{}{}
	}
	return nil
}

package domain

import "time"

// Command は、State Coreに対する状態変更コマンドです
// 型はこのパッケージ内で閉じており、Reduceが型スイッチで処理します
type Command interface {
	commandName() string
}

// CreateChat は、空のチャットを追加してアクティブにします
type CreateChat struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// DeleteChat は、チャットを削除します
type DeleteChat struct {
	ChatID string
}

// RenameChat は、チャットの表示名を変更します
type RenameChat struct {
	ChatID string
	Name   string
}

// SetActiveChat は、以降のメッセージ操作の対象チャットを切り替えます
type SetActiveChat struct {
	ChatID string
}

// AddMessage は、アクティブなチャットの末尾にメッセージを追加します
type AddMessage struct {
	Message Message
}

// DeleteMessage は、アクティブなチャットからメッセージを削除します
type DeleteMessage struct {
	MessageID string
}

// UpdateMessage は、指定したメッセージにパッチを適用します
// ChatIDが空の場合はアクティブなチャットを対象にします
type UpdateMessage struct {
	ChatID    string
	MessageID string
	Patches   []MessagePatch
}

// UpdateSettings は、グローバル設定を浅くマージします
type UpdateSettings struct {
	Patch SettingsPatch
}

// TrackGeneration は、生成待ちの集合にIDを追加します
type TrackGeneration struct {
	MessageID string
}

// UntrackGeneration は、生成待ちの集合からIDを取り除きます
type UntrackGeneration struct {
	MessageID string
}

// SetError は、グローバルエラーを設定します
type SetError struct {
	Error GlobalError
}

// ClearError は、グローバルエラーを消去します
type ClearError struct{}

func (CreateChat) commandName() string        { return "CreateChat" }
func (DeleteChat) commandName() string        { return "DeleteChat" }
func (RenameChat) commandName() string        { return "RenameChat" }
func (SetActiveChat) commandName() string     { return "SetActiveChat" }
func (AddMessage) commandName() string        { return "AddMessage" }
func (DeleteMessage) commandName() string     { return "DeleteMessage" }
func (UpdateMessage) commandName() string     { return "UpdateMessage" }
func (UpdateSettings) commandName() string    { return "UpdateSettings" }
func (TrackGeneration) commandName() string   { return "TrackGeneration" }
func (UntrackGeneration) commandName() string { return "UntrackGeneration" }
func (SetError) commandName() string          { return "SetError" }
func (ClearError) commandName() string        { return "ClearError" }

// CommandName は、ログ出力用のコマンド名を返します
func CommandName(c Command) string {
	if c == nil {
		return "<nil>"
	}
	return c.commandName()
}

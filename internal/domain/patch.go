package domain

import "time"

// MessagePatch は、画像メッセージへの更新指示です
// 具体的な型ごとに適用方法が決まっており、フィールドの有無で振る舞いは変わりません
type MessagePatch interface {
	apply(Message) Message
}

// StatusChange は、生成状態を変更します
// 完了または失敗したメッセージの状態は変わりません
type StatusChange struct {
	Status MessageStatus
}

func (p StatusChange) apply(m Message) Message {
	if m.Status.IsTerminal() {
		return m
	}
	m.Status = p.Status
	return m
}

// AppendImage は、画像を1枚追加します。既存の画像は置き換えません
type AppendImage struct {
	URL       string
	Timestamp time.Time
}

func (p AppendImage) apply(m Message) Message {
	images := make([]Image, 0, len(m.Images)+1)
	images = append(images, m.Images...)
	m.Images = append(images, Image{URL: p.URL, Timestamp: p.Timestamp})
	return m
}

// ErrorSet は、分類済みのエラーを記録します
type ErrorSet struct {
	Kind    ErrorKind
	Message string
	Time    time.Time
}

func (p ErrorSet) apply(m Message) Message {
	t := p.Time
	m.Error = p.Message
	m.ErrorKind = p.Kind
	m.ErrorTime = &t
	return m
}

// ErrorClear は、記録済みのエラーを消去します
type ErrorClear struct{}

func (ErrorClear) apply(m Message) Message {
	m.Error = ""
	m.ErrorKind = ""
	m.ErrorTime = nil
	return m
}

// PromptChange は、再生成用に保持しているプロンプトを変更します
type PromptChange struct {
	Prompt string
}

func (p PromptChange) apply(m Message) Message {
	m.Prompt = p.Prompt
	return m
}

// ApplyPatches は、パッチを順に適用した新しいメッセージを返します
func ApplyPatches(m Message, patches ...MessagePatch) Message {
	m = m.clone()
	for _, p := range patches {
		if p == nil {
			continue
		}
		m = p.apply(m)
	}
	return m
}

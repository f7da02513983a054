package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"imagechat/internal/domain"
)

// CurrentVersion は、保存するドキュメントの形式のバージョンです
const CurrentVersion = 1

// document は、永続化されるJSONドキュメントの外枠です
type document struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"savedAt"`
	State   json.RawMessage `json:"state"`
}

// Encode は、Snapshotを保存用のJSONに変換します
// LastErrorは一時的な値のため含めません
func Encode(s domain.Snapshot, savedAt time.Time) ([]byte, error) {
	state, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "スナップショットのエンコードに失敗")
	}
	data, err := json.Marshal(document{
		Version: CurrentVersion,
		SavedAt: savedAt.UTC(),
		State:   state,
	})
	if err != nil {
		return nil, errors.Wrap(err, "ドキュメントのエンコードに失敗")
	}
	return data, nil
}

// Decode は、保存されたJSONからSnapshotを復元します
// バージョン情報のない古い形式はそのまま状態として解釈し、現在の形式に変換します
func Decode(data []byte) (domain.Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return domain.Snapshot{}, fmt.Errorf("保存データが空です")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return domain.Snapshot{}, errors.Wrap(err, "保存データの解析に失敗")
	}

	stateData := data
	if _, ok := probe["version"]; ok {
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return domain.Snapshot{}, errors.Wrap(err, "ドキュメントの解析に失敗")
		}
		if doc.Version > CurrentVersion {
			return domain.Snapshot{}, fmt.Errorf("未対応の保存形式です: version=%d", doc.Version)
		}
		stateData = doc.State
	}

	var raw rawState
	if err := json.Unmarshal(stateData, &raw); err != nil {
		return domain.Snapshot{}, errors.Wrap(err, "状態の解析に失敗")
	}
	return raw.toSnapshot(), nil
}

// rawState は、古い形式も受け付けるための緩い状態表現です
type rawState struct {
	Chats             []rawChat       `json:"chats"`
	ActiveChatID      flexibleID      `json:"activeChatId"`
	ActiveGenerations []flexibleID    `json:"activeGenerations"`
	Settings          json.RawMessage `json:"settings"`
}

type rawChat struct {
	ID        flexibleID   `json:"id"`
	Name      string       `json:"name"`
	Messages  []rawMessage `json:"messages"`
	CreatedAt flexibleTime `json:"createdAt"`
}

type rawImage struct {
	URL       string       `json:"url"`
	Timestamp flexibleTime `json:"timestamp"`
}

type rawMessage struct {
	ID         flexibleID    `json:"id"`
	Type       string        `json:"type"`
	Text       string        `json:"text"`
	PromptText string        `json:"promptText"`
	Status     string        `json:"status"`
	Images     []rawImage    `json:"images"`
	URL        string        `json:"url"`
	IsLoading  bool          `json:"isLoading"`
	IsError    bool          `json:"isError"`
	Error      string        `json:"error"`
	ErrorKind  string        `json:"errorKind"`
	ErrorTime  *flexibleTime `json:"errorTime"`
	CreatedAt  flexibleTime  `json:"createdAt"`
	Timestamp  flexibleTime  `json:"timestamp"`
}

func (r rawState) toSnapshot() domain.Snapshot {
	s := domain.EmptySnapshot()
	s.Settings = decodeSettings(r.Settings)

	for _, rc := range r.Chats {
		if rc.ID == "" {
			continue
		}
		if _, dup := s.FindChat(string(rc.ID)); dup {
			continue
		}
		chat := domain.NewChat(string(rc.ID), rc.Name, rc.CreatedAt.Time())
		if strings.TrimSpace(chat.Name) == "" {
			chat.Name = domain.DefaultChatName
		}
		seen := make(map[string]bool, len(rc.Messages))
		for _, rm := range rc.Messages {
			msg, ok := rm.toMessage()
			if !ok || seen[msg.ID] {
				continue
			}
			seen[msg.ID] = true
			chat.Messages = append(chat.Messages, msg)
		}
		s.Chats = append(s.Chats, chat)
	}

	if _, ok := s.FindChat(string(r.ActiveChatID)); ok {
		s.ActiveChatID = string(r.ActiveChatID)
	} else if len(s.Chats) > 0 {
		s.ActiveChatID = s.Chats[0].ID
	}

	for _, id := range r.ActiveGenerations {
		if id != "" {
			s.ActiveGenerations = append(s.ActiveGenerations, string(id))
		}
	}
	sort.Strings(s.ActiveGenerations)
	s.ActiveGenerations = dedupSorted(s.ActiveGenerations)
	return s
}

func (rm rawMessage) toMessage() (domain.Message, bool) {
	if rm.ID == "" {
		return domain.Message{}, false
	}

	createdAt := rm.CreatedAt.Time()
	if createdAt.IsZero() {
		createdAt = rm.Timestamp.Time()
	}

	if rm.Type != string(domain.MessageKindImage) {
		return domain.NewPromptMessage(string(rm.ID), rm.Text, createdAt), true
	}

	msg := domain.Message{
		ID:        string(rm.ID),
		Kind:      domain.MessageKindImage,
		Prompt:    rm.PromptText,
		Images:    []domain.Image{},
		Error:     rm.Error,
		ErrorKind: domain.ErrorKind(rm.ErrorKind),
		CreatedAt: createdAt,
	}
	for _, img := range rm.Images {
		if img.URL == "" {
			continue
		}
		msg.Images = append(msg.Images, domain.Image{URL: img.URL, Timestamp: img.Timestamp.Time()})
	}
	// 単数形のurlしか持たない古い形式
	if len(msg.Images) == 0 && rm.URL != "" {
		msg.Images = append(msg.Images, domain.Image{URL: rm.URL, Timestamp: createdAt})
	}
	if rm.ErrorTime != nil && !rm.ErrorTime.Time().IsZero() {
		t := rm.ErrorTime.Time()
		msg.ErrorTime = &t
	}

	msg.Status = migrateStatus(rm, len(msg.Images) > 0)
	if msg.Status == domain.StatusError && msg.ErrorKind == "" {
		msg.ErrorKind = domain.ErrorKindGeneric
	}
	if msg.Status == domain.StatusError && msg.Error == "" {
		msg.Error = domain.UserMessage(msg.ErrorKind)
	}
	return msg, true
}

// migrateStatus は、statusがない古い形式のフラグから状態を決めます
func migrateStatus(rm rawMessage, hasImages bool) domain.MessageStatus {
	switch domain.MessageStatus(rm.Status) {
	case domain.StatusPending, domain.StatusComplete, domain.StatusError:
		return domain.MessageStatus(rm.Status)
	}
	switch {
	case rm.IsError || rm.Error != "":
		return domain.StatusError
	case rm.IsLoading:
		return domain.StatusPending
	case hasImages:
		return domain.StatusComplete
	default:
		return domain.StatusPending
	}
}

// decodeSettings は、保存された設定を既定値の上に重ねて読み込みます
func decodeSettings(data json.RawMessage) domain.Settings {
	settings := domain.DefaultSettings()
	if len(data) == 0 || string(data) == "null" {
		return settings
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return domain.DefaultSettings()
	}
	return settings
}

func dedupSorted(ids []string) []string {
	out := ids[:0]
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

// flexibleID は、文字列と数値のどちらのIDも受け付けます
type flexibleID string

func (id *flexibleID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("IDの形式が不正です: %s", string(data))
	}
	*id = flexibleID(n.String())
	return nil
}

// flexibleTime は、RFC3339の文字列とUnixミリ秒の数値のどちらも受け付けます
type flexibleTime time.Time

func (t *flexibleTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil
		}
		*t = flexibleTime(parsed)
		return nil
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return nil
	}
	*t = flexibleTime(time.UnixMilli(ms))
	return nil
}

func (t flexibleTime) Time() time.Time {
	return time.Time(t)
}

package domain

import (
	"sort"
	"strings"
)

// Reduce は、コマンドを適用した新しいSnapshotを返します
// 入力のSnapshotは変更しません。対象が存在しないコマンドは何もしません
func Reduce(s Snapshot, c Command) Snapshot {
	next := s.Clone()

	switch cmd := c.(type) {
	case CreateChat:
		return reduceCreateChat(next, cmd)
	case DeleteChat:
		return reduceDeleteChat(next, cmd)
	case RenameChat:
		if idx, ok := next.FindChat(cmd.ChatID); ok {
			next.Chats[idx].Name = cmd.Name
		}
		return next
	case SetActiveChat:
		if _, ok := next.FindChat(cmd.ChatID); ok {
			next.ActiveChatID = cmd.ChatID
		}
		return next
	case AddMessage:
		return reduceAddMessage(next, cmd)
	case DeleteMessage:
		return reduceDeleteMessage(next, cmd)
	case UpdateMessage:
		return reduceUpdateMessage(next, cmd)
	case UpdateSettings:
		next.Settings = next.Settings.Merge(cmd.Patch)
		return next
	case TrackGeneration:
		if cmd.MessageID != "" {
			next.ActiveGenerations = addToSet(next.ActiveGenerations, cmd.MessageID)
		}
		return next
	case UntrackGeneration:
		next.ActiveGenerations = removeFromSet(next.ActiveGenerations, cmd.MessageID)
		return next
	case SetError:
		e := cmd.Error
		next.LastError = &e
		return next
	case ClearError:
		next.LastError = nil
		return next
	default:
		return s
	}
}

// ReduceAll は、コマンドを順に適用します
func ReduceAll(s Snapshot, cmds ...Command) Snapshot {
	for _, c := range cmds {
		s = Reduce(s, c)
	}
	return s
}

func reduceCreateChat(s Snapshot, cmd CreateChat) Snapshot {
	if cmd.ID == "" {
		return s
	}
	if _, exists := s.FindChat(cmd.ID); exists {
		return s
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		name = DefaultChatName
	}
	s.Chats = append(s.Chats, NewChat(cmd.ID, name, cmd.CreatedAt))
	s.ActiveChatID = cmd.ID
	return s
}

func reduceDeleteChat(s Snapshot, cmd DeleteChat) Snapshot {
	idx, ok := s.FindChat(cmd.ChatID)
	if !ok {
		return s
	}

	// 削除されるチャットのメッセージは追跡対象からも外す
	for _, msg := range s.Chats[idx].Messages {
		s.ActiveGenerations = removeFromSet(s.ActiveGenerations, msg.ID)
	}

	s.Chats = append(s.Chats[:idx], s.Chats[idx+1:]...)

	if s.ActiveChatID == cmd.ChatID {
		s.ActiveChatID = ""
		if len(s.Chats) > 0 {
			s.ActiveChatID = s.Chats[0].ID
		}
	}
	return s
}

func reduceAddMessage(s Snapshot, cmd AddMessage) Snapshot {
	idx, ok := s.FindChat(s.ActiveChatID)
	if !ok || cmd.Message.ID == "" {
		return s
	}
	chat := &s.Chats[idx]
	if _, dup := chat.FindMessage(cmd.Message.ID); dup {
		return s
	}
	msg := cmd.Message.clone()
	if msg.IsImage() && msg.Images == nil {
		msg.Images = []Image{}
	}
	chat.Messages = append(chat.Messages, msg)
	return s
}

func reduceDeleteMessage(s Snapshot, cmd DeleteMessage) Snapshot {
	idx, ok := s.FindChat(s.ActiveChatID)
	if !ok {
		return s
	}
	chat := &s.Chats[idx]
	msgIdx, ok := chat.FindMessage(cmd.MessageID)
	if !ok {
		return s
	}
	chat.Messages = append(chat.Messages[:msgIdx], chat.Messages[msgIdx+1:]...)
	s.ActiveGenerations = removeFromSet(s.ActiveGenerations, cmd.MessageID)
	return s
}

func reduceUpdateMessage(s Snapshot, cmd UpdateMessage) Snapshot {
	chatID := cmd.ChatID
	if chatID == "" {
		chatID = s.ActiveChatID
	}
	idx, ok := s.FindChat(chatID)
	if !ok {
		return s
	}
	chat := &s.Chats[idx]
	msgIdx, ok := chat.FindMessage(cmd.MessageID)
	if !ok {
		return s
	}
	chat.Messages[msgIdx] = ApplyPatches(chat.Messages[msgIdx], cmd.Patches...)
	return s
}

func addToSet(set []string, id string) []string {
	i := sort.SearchStrings(set, id)
	if i < len(set) && set[i] == id {
		return set
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = id
	return set
}

func removeFromSet(set []string, id string) []string {
	i := sort.SearchStrings(set, id)
	if i < len(set) && set[i] == id {
		return append(set[:i], set[i+1:]...)
	}
	return set
}

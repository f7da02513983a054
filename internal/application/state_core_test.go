package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagechat/internal/domain"
)

func newTestCore(t *testing.T, repo *memoryRepository) *StateCore {
	t.Helper()
	core, err := NewStateCore(repo,
		WithIDAllocator(domain.NewSequenceAllocator("chat-")),
		WithClock(fixedClock),
		WithSaveTimeout(time.Second),
	)
	require.NoError(t, err)
	require.NoError(t, core.Bootstrap(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = core.Close(ctx)
	})
	return core
}

func flush(t *testing.T, core *StateCore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, core.Flush(ctx))
}

func TestNewStateCore_RequiresRepository(t *testing.T) {
	_, err := NewStateCore(nil)
	assert.Error(t, err)
}

func TestStateCore_BootstrapWithNoChats(t *testing.T) {
	repo := &memoryRepository{}
	core := newTestCore(t, repo)

	chat, ok := core.ActiveChat()
	require.True(t, ok)
	assert.Equal(t, domain.DefaultChatName, chat.Name)

	core.AddPrompt("a lighthouse at night")
	chat, _ = core.ActiveChat()
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, domain.MessageKindPrompt, chat.Messages[0].Kind)

	flush(t, core)
	saved, ok := repo.last()
	require.True(t, ok)
	assert.Equal(t, core.Snapshot().Chats, saved.Chats)
}

func TestStateCore_BootstrapFallsBackOnLoadError(t *testing.T) {
	repo := &memoryRepository{loadErr: errors.New("unexpected end of JSON input")}
	core := newTestCore(t, repo)

	s := core.Snapshot()
	require.Len(t, s.Chats, 1)
	assert.Equal(t, domain.DefaultSettings(), s.Settings)
	assert.NoError(t, domain.CheckInvariant(s))
}

func TestStateCore_BootstrapRestoresAndRecoversPending(t *testing.T) {
	stored := domain.ReduceAll(domain.EmptySnapshot(),
		domain.CreateChat{ID: "a", Name: "A"},
		domain.CreateChat{ID: "b", Name: "B"},
		domain.AddMessage{Message: domain.NewPendingImageMessage("m1", "a cat", fixedNow)},
		domain.TrackGeneration{MessageID: "m1"},
	)
	stored.ActiveChatID = ""
	repo := &memoryRepository{stored: &stored}

	core := newTestCore(t, repo)
	s := core.Snapshot()

	assert.Equal(t, "a", s.ActiveChatID)
	assert.Empty(t, s.ActiveGenerations)
	msg, ok := s.FindMessage("b", "m1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusError, msg.Status)
	assert.Equal(t, domain.InterruptedMessage, msg.Error)
}

func TestStateCore_DeleteOnlyChatNeverObservesZeroChats(t *testing.T) {
	core := newTestCore(t, &memoryRepository{})
	original, _ := core.ActiveChat()

	updates, cancel := core.Subscribe()
	defer cancel()

	require.NoError(t, core.DeleteChat(original.ID))

	select {
	case s := <-updates:
		assert.Len(t, s.Chats, 1)
	case <-time.After(time.Second):
		t.Fatal("状態の変更が通知されませんでした")
	}

	s := core.Snapshot()
	require.Len(t, s.Chats, 1)
	assert.NotEqual(t, original.ID, s.ActiveChatID)
	_, found := s.FindChat(original.ID)
	assert.False(t, found)
	assert.NoError(t, domain.CheckInvariant(s))
}

func TestStateCore_DeleteActiveChatActivatesRemaining(t *testing.T) {
	core := newTestCore(t, &memoryRepository{})
	first, _ := core.ActiveChat()
	second := core.CreateChat("B")
	require.NoError(t, core.SetActiveChat(first.ID))

	require.NoError(t, core.DeleteChat(first.ID))

	chat, ok := core.ActiveChat()
	require.True(t, ok)
	assert.Equal(t, second, chat.ID)
	assert.Len(t, core.Snapshot().Chats, 1)
}

func TestStateCore_DeleteUnknownChat(t *testing.T) {
	core := newTestCore(t, &memoryRepository{})
	err := core.DeleteChat("missing")
	assert.ErrorIs(t, err, domain.ErrChatNotFound)
}

func TestStateCore_CreateChatDefaultName(t *testing.T) {
	core := newTestCore(t, &memoryRepository{})
	id := core.CreateChat("")

	chat, ok := core.ActiveChat()
	require.True(t, ok)
	assert.Equal(t, id, chat.ID)
	assert.Equal(t, "New Chat 2", chat.Name)
}

func TestStateCore_SetActiveChatUnknown(t *testing.T) {
	core := newTestCore(t, &memoryRepository{})
	before, _ := core.ActiveChat()

	assert.ErrorIs(t, core.SetActiveChat("missing"), domain.ErrChatNotFound)

	after, _ := core.ActiveChat()
	assert.Equal(t, before.ID, after.ID)
}

func TestStateCore_ReadersReceiveCopies(t *testing.T) {
	core := newTestCore(t, &memoryRepository{})
	core.AddPrompt("hello")

	s := core.Snapshot()
	s.Chats[0].Name = "mutated"
	s.Chats[0].Messages[0].Text = "mutated"

	fresh := core.Snapshot()
	assert.Equal(t, domain.DefaultChatName, fresh.Chats[0].Name)
	assert.Equal(t, "hello", fresh.Chats[0].Messages[0].Text)
}

func TestStateCore_UpdateSettingsIsIdempotent(t *testing.T) {
	core := newTestCore(t, &memoryRepository{})
	steps := 40

	once := core.UpdateSettings(domain.SettingsPatch{Steps: &steps})
	twice := core.UpdateSettings(domain.SettingsPatch{Steps: &steps})

	assert.Equal(t, once, twice)
	assert.Equal(t, 40, core.Settings().Steps)
}

func TestStateCore_SaveFailureDoesNotStopCommands(t *testing.T) {
	repo := &memoryRepository{saveErr: errors.New("disk full")}
	core := newTestCore(t, repo)

	core.RenameChat(core.Snapshot().ActiveChatID, "renamed")
	core.AddPrompt("still works")
	flush(t, core)

	chat, _ := core.ActiveChat()
	assert.Equal(t, "renamed", chat.Name)
	assert.Len(t, chat.Messages, 1)
	assert.GreaterOrEqual(t, core.PersistFailures(), int64(1))
}

func TestStateCore_GlobalErrorIsAdvisory(t *testing.T) {
	core := newTestCore(t, &memoryRepository{})
	core.SetError(domain.GlobalError{Kind: domain.ErrorKindNetwork, Message: "offline", Time: fixedNow})

	require.NotNil(t, core.LastError())
	core.AddPrompt("after error")
	chat, _ := core.ActiveChat()
	assert.Len(t, chat.Messages, 1)

	core.ClearError()
	assert.Nil(t, core.LastError())
}

func TestStateCore_CloseFlushesAndClosesRepository(t *testing.T) {
	repo := &memoryRepository{}
	core, err := NewStateCore(repo, WithClock(fixedClock))
	require.NoError(t, err)
	require.NoError(t, core.Bootstrap(context.Background()))
	core.AddPrompt("persist me")

	require.NoError(t, core.Close(context.Background()))

	assert.True(t, repo.closed)
	saved, ok := repo.last()
	require.True(t, ok)
	chat, _ := saved.ActiveChat()
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, "persist me", chat.Messages[0].Text)
}

func TestStateCore_ConcurrentCommandsAreSerialized(t *testing.T) {
	core := newTestCore(t, &memoryRepository{})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			core.CreateChat("")
		}()
	}
	wg.Wait()

	s := core.Snapshot()
	assert.Len(t, s.Chats, n+1)
	assert.NoError(t, domain.CheckInvariant(s))

	seen := make(map[string]bool, len(s.Chats))
	for _, chat := range s.Chats {
		assert.False(t, seen[chat.ID], "IDが重複しています: %s", chat.ID)
		seen[chat.ID] = true
	}
}

func TestStateCore_EnsureActiveChatKeepsExisting(t *testing.T) {
	core := newTestCore(t, &memoryRepository{})
	active, ok := core.ActiveChat()
	require.True(t, ok)

	id := core.EnsureActiveChat(domain.GeneratedChatName)
	assert.Equal(t, active.ID, id)
	assert.Len(t, core.Snapshot().Chats, 1)
}

func TestStateCore_SubscribeReceivesLatestSnapshot(t *testing.T) {
	core := newTestCore(t, &memoryRepository{})
	updates, cancel := core.Subscribe()
	defer cancel()

	core.CreateChat("first")
	core.CreateChat("second")

	select {
	case s := <-updates:
		require.Len(t, s.Chats, 3)
		chat, ok := s.ActiveChat()
		require.True(t, ok)
		assert.Equal(t, "second", chat.Name)
	case <-time.After(time.Second):
		t.Fatal("通知を受け取れませんでした")
	}

	cancel()
	_, open := <-updates
	assert.False(t, open, "キャンセル後はチャネルが閉じられる")
}

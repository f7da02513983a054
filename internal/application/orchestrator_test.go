package application

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagechat/internal/domain"
)

func newTestOrchestrator(t *testing.T, client GenerationClient, cfg OrchestratorConfig, opts ...OrchestratorOption) (*GenerationOrchestrator, *StateCore) {
	t.Helper()
	core := newTestCore(t, &memoryRepository{})
	opts = append([]OrchestratorOption{
		WithOrchestratorIDs(domain.NewSequenceAllocator("msg-")),
		WithOrchestratorClock(fixedClock),
	}, opts...)
	o, err := NewGenerationOrchestrator(core, client, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(o.Wait)
	return o, core
}

func await(t *testing.T, o *GenerationOrchestrator, id string) domain.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := o.Await(ctx, id)
	require.NoError(t, err)
	return msg
}

func TestNewGenerationOrchestrator_Validation(t *testing.T) {
	_, err := NewGenerationOrchestrator(nil, newControlledClient(), OrchestratorConfig{})
	assert.Error(t, err)

	core := newTestCore(t, &memoryRepository{})
	_, err = NewGenerationOrchestrator(core, nil, OrchestratorConfig{})
	assert.Error(t, err)
}

func TestGenerate_SuccessAppendsImage(t *testing.T) {
	client := newControlledClient()
	o, core := newTestOrchestrator(t, client, OrchestratorConfig{},
		WithOrchestratorIDs(&fixedIDs{ids: []string{"7"}}))

	id, err := o.Generate(context.Background(), "a fox in the snow")
	require.NoError(t, err)
	assert.Equal(t, "7", id)

	chat, _ := core.ActiveChat()
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, domain.StatusPending, chat.Messages[0].Status)
	assert.True(t, core.Busy())

	client.waitStarted(t, "a fox in the snow")
	client.resolve("a fox in the snow", &ImageResult{URL: "h1"}, nil)

	msg := await(t, o, id)
	assert.Equal(t, domain.StatusComplete, msg.Status)
	assert.Equal(t, []domain.Image{{URL: "h1", Timestamp: fixedNow}}, msg.Images)
	assert.Empty(t, msg.Error)
	assert.False(t, core.Busy())
	assert.NotContains(t, core.ActiveGenerations(), "7")
}

func TestGenerate_TimeoutMarksError(t *testing.T) {
	client := newControlledClient()
	o, core := newTestOrchestrator(t, client, OrchestratorConfig{Timeout: 20 * time.Millisecond},
		WithOrchestratorIDs(&fixedIDs{ids: []string{"7"}}))

	id, err := o.Generate(context.Background(), "never returns")
	require.NoError(t, err)

	msg := await(t, o, id)
	assert.Equal(t, domain.StatusError, msg.Status)
	assert.Equal(t, domain.ErrorKindTimeout, msg.ErrorKind)
	assert.Contains(t, msg.Error, "took too long to respond")
	require.NotNil(t, msg.ErrorTime)
	assert.Empty(t, msg.Images)

	assert.NotContains(t, core.ActiveGenerations(), "7")
	require.NotNil(t, core.LastError())
	assert.Equal(t, domain.ErrorKindTimeout, core.LastError().Kind)
	assert.Equal(t, "7", core.LastError().MessageID)
}

func TestGenerate_OutOfOrderResolution(t *testing.T) {
	client := newControlledClient()
	o, core := newTestOrchestrator(t, client, OrchestratorConfig{})

	idA, err := o.Generate(context.Background(), "prompt A")
	require.NoError(t, err)
	idB, err := o.Generate(context.Background(), "prompt B")
	require.NoError(t, err)
	client.waitStarted(t, "prompt A")
	client.waitStarted(t, "prompt B")

	client.resolve("prompt B", &ImageResult{URL: "hB"}, nil)
	msgB := await(t, o, idB)
	assert.Equal(t, []string{"hB"}, imageURLs(msgB))

	chatID, msgA, ok := core.Snapshot().LocateMessage(idA)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, msgA.Status)
	assert.Empty(t, msgA.Images)
	assert.Equal(t, []string{idA}, core.ActiveGenerations())

	client.resolve("prompt A", &ImageResult{URL: "hA"}, nil)
	msgA = await(t, o, idA)
	assert.Equal(t, []string{"hA"}, imageURLs(msgA))

	s := core.Snapshot()
	finalB, _ := s.FindMessage(chatID, idB)
	assert.Equal(t, []string{"hB"}, imageURLs(finalB))
	assert.False(t, s.Busy())
}

func TestGenerate_ChatDeletedBeforeResolution(t *testing.T) {
	client := newControlledClient()
	o, core := newTestOrchestrator(t, client, OrchestratorConfig{})
	original, _ := core.ActiveChat()

	id, err := o.Generate(context.Background(), "orphan")
	require.NoError(t, err)
	client.waitStarted(t, "orphan")

	require.NoError(t, core.DeleteChat(original.ID))
	before := core.Snapshot().Chats

	client.resolve("orphan", &ImageResult{URL: "late"}, nil)
	o.Wait()

	s := core.Snapshot()
	assert.Equal(t, before, s.Chats)
	assert.Empty(t, s.ActiveGenerations)
	_, _, found := s.LocateMessage(id)
	assert.False(t, found)
}

func TestGenerate_ClientErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind domain.ErrorKind
	}{
		{"auth", domain.NewGenerationError(domain.ErrorKindAuthentication, "invalid key", nil), domain.ErrorKindAuthentication},
		{"network", domain.NewGenerationError(domain.ErrorKindNetwork, "offline", nil), domain.ErrorKindNetwork},
		{"generic", errBoom, domain.ErrorKindGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newControlledClient()
			o, core := newTestOrchestrator(t, client, OrchestratorConfig{})

			id, err := o.Generate(context.Background(), tt.name)
			require.NoError(t, err)
			client.resolve(tt.name, nil, tt.err)

			msg := await(t, o, id)
			assert.Equal(t, domain.StatusError, msg.Status)
			assert.Equal(t, tt.kind, msg.ErrorKind)
			assert.NotEmpty(t, msg.Error)
			assert.Equal(t, tt.kind, core.LastError().Kind)
		})
	}
}

func TestGenerate_EmptyResultIsError(t *testing.T) {
	client := newControlledClient()
	o, _ := newTestOrchestrator(t, client, OrchestratorConfig{})

	id, err := o.Generate(context.Background(), "nothing")
	require.NoError(t, err)
	client.resolve("nothing", &ImageResult{}, nil)

	msg := await(t, o, id)
	assert.Equal(t, domain.StatusError, msg.Status)
	assert.Equal(t, domain.ErrorKindGeneric, msg.ErrorKind)
}

func TestGenerate_StoresBinaryResults(t *testing.T) {
	client := newControlledClient()
	store := &recordingImageStore{}
	o, _ := newTestOrchestrator(t, client, OrchestratorConfig{}, WithImageStore(store))

	id, err := o.Generate(context.Background(), "Binary Sunset Over Hills")
	require.NoError(t, err)
	client.resolve("Binary Sunset Over Hills", &ImageResult{Data: []byte{0x89, 'P', 'N', 'G'}, MimeType: "image/png"}, nil)

	msg := await(t, o, id)
	require.Equal(t, domain.StatusComplete, msg.Status)
	require.Len(t, msg.Images, 1)
	assert.True(t, strings.HasPrefix(msg.Images[0].URL, "file:///tmp/imagechat-binary-sunset-over-"))
	require.Len(t, store.images, 1)
	assert.Equal(t, "Binary Sunset Over Hills", store.images[0].Prompt)
}

func TestGenerate_RejectsInvalidPrompts(t *testing.T) {
	client := newControlledClient()
	o, core := newTestOrchestrator(t, client, OrchestratorConfig{})

	_, err := o.Generate(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyPrompt)

	_, err = o.Generate(context.Background(), strings.Repeat("a", domain.MaxPromptLength+1))
	assert.ErrorIs(t, err, domain.ErrPromptTooLong)

	chat, _ := core.ActiveChat()
	assert.Empty(t, chat.Messages)
	assert.False(t, core.Busy())
}

func TestGenerate_UsesSettingsAtDispatch(t *testing.T) {
	client := newControlledClient()
	o, core := newTestOrchestrator(t, client, OrchestratorConfig{})
	style := "Anime"
	core.UpdateSettings(domain.SettingsPatch{StylePreset: &style})

	id, err := o.Generate(context.Background(), "styled")
	require.NoError(t, err)
	client.waitStarted(t, "styled")
	client.resolve("styled", &ImageResult{URL: "u"}, nil)
	await(t, o, id)

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.settings, 1)
	assert.Equal(t, "Anime", client.settings[0].StylePreset)
}

func TestRegenerate_AlwaysCreatesNewMessage(t *testing.T) {
	client := newControlledClient()
	o, core := newTestOrchestrator(t, client, OrchestratorConfig{})

	first, err := o.Generate(context.Background(), "again")
	require.NoError(t, err)
	client.resolve("again", nil, errBoom)
	failed := await(t, o, first)
	require.Equal(t, domain.StatusError, failed.Status)

	second, err := o.Retry(context.Background(), first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	client.resolve("again", &ImageResult{URL: "ok"}, nil)
	retried := await(t, o, second)
	assert.Equal(t, domain.StatusComplete, retried.Status)

	third, err := o.Regenerate(context.Background(), second)
	require.NoError(t, err)
	client.resolve("again", &ImageResult{URL: "ok2"}, nil)
	await(t, o, third)

	chat, _ := core.ActiveChat()
	require.Len(t, chat.Messages, 3)
	original, _ := core.Snapshot().FindMessage(chat.ID, first)
	assert.Equal(t, domain.StatusError, original.Status)
	assert.Empty(t, original.Images)
}

func TestRegenerate_UnknownMessage(t *testing.T) {
	o, _ := newTestOrchestrator(t, newControlledClient(), OrchestratorConfig{})

	_, err := o.Regenerate(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	_, err = o.Retry(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestGenerate_BoundedConcurrency(t *testing.T) {
	client := newControlledClient()
	o, _ := newTestOrchestrator(t, client, OrchestratorConfig{MaxConcurrent: 1})

	first, err := o.Generate(context.Background(), "one")
	require.NoError(t, err)
	client.waitStarted(t, "one")
	second, err := o.Generate(context.Background(), "two")
	require.NoError(t, err)

	client.mu.Lock()
	assert.Zero(t, client.calls["two"])
	client.mu.Unlock()
	assert.Equal(t, 2, o.InFlight())

	client.resolve("one", &ImageResult{URL: "1"}, nil)
	await(t, o, first)
	client.waitStarted(t, "two")
	client.resolve("two", &ImageResult{URL: "2"}, nil)
	await(t, o, second)
	assert.Zero(t, o.InFlight())
}

// slowClient は、一定時間待ってから画像URLを返すクライアントです
type slowClient struct {
	delay time.Duration
}

func (c slowClient) GenerateImage(ctx context.Context, prompt string, settings domain.Settings) (*ImageResult, error) {
	select {
	case <-time.After(c.delay):
		return &ImageResult{URL: "https://example.com/" + prompt + ".png"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestGenerate_QueueWaitDoesNotCountTowardTimeout(t *testing.T) {
	o, _ := newTestOrchestrator(t, slowClient{delay: 300 * time.Millisecond},
		OrchestratorConfig{MaxConcurrent: 1, Timeout: 500 * time.Millisecond})

	first, err := o.Generate(context.Background(), "one")
	require.NoError(t, err)
	second, err := o.Generate(context.Background(), "two")
	require.NoError(t, err)

	for _, id := range []string{first, second} {
		msg := await(t, o, id)
		assert.Equal(t, domain.StatusComplete, msg.Status, "順番待ちの時間でタイムアウトしてはいけない: %s", id)
		assert.Empty(t, msg.ErrorKind)
	}
}

func TestGenerate_CancelledContextAddsNothing(t *testing.T) {
	o, core := newTestOrchestrator(t, newControlledClient(), OrchestratorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Generate(ctx, "a castle")
	assert.ErrorIs(t, err, context.Canceled)

	chat, ok := core.ActiveChat()
	require.True(t, ok)
	assert.Empty(t, chat.Messages)
	assert.False(t, core.Busy())
}

func imageURLs(m domain.Message) []string {
	urls := make([]string, 0, len(m.Images))
	for _, img := range m.Images {
		urls = append(urls, img.URL)
	}
	return urls
}

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagechat/configs"
	"imagechat/internal/domain"
	"imagechat/internal/infrastructure/config"
)

func testConfig(t *testing.T) *configs.Config {
	t.Helper()
	return &configs.Config{
		Mock: config.MockConfig{Latency: 0},
		Generation: config.GenerationConfig{
			Provider:          config.ProviderMock,
			Timeout:           5 * time.Second,
			MaxConcurrent:     2,
			DefaultChatName:   domain.DefaultChatName,
			GeneratedChatName: domain.GeneratedChatName,
			ImageDir:          t.TempDir(),
		},
		Store: config.StoreConfig{Backend: config.BackendMemory, SaveTimeout: time.Second},
	}
}

func TestRunGenerate_PrintsResultsInStartOrder(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, testConfig(t), true)
	require.NoError(t, err)
	defer a.Close()

	var out bytes.Buffer
	require.NoError(t, runGenerate(ctx, a, &out, "a red fox", 3))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		require.Len(t, fields, 3)
		assert.Equal(t, string(domain.StatusComplete), fields[1])
		assert.True(t, strings.HasPrefix(fields[2], "https://"), fields[2])
	}

	chat, ok := a.core.ActiveChat()
	require.True(t, ok)
	assert.Equal(t, 3, chat.MessageCount())
	assert.False(t, a.core.Busy())
}

func TestRunGenerate_RejectsEmptyPrompt(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, testConfig(t), true)
	require.NoError(t, err)
	defer a.Close()

	err = runGenerate(ctx, a, &bytes.Buffer{}, "   ", 1)
	assert.ErrorIs(t, err, domain.ErrEmptyPrompt)
}

func TestNewApp_WithoutGenerator(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), false)
	require.NoError(t, err)

	assert.Nil(t, a.orchestrator)
	assert.Len(t, a.core.Snapshot().Chats, 1, "起動時にチャットが1つ作成される")
	assert.NoError(t, a.Close())
}

func TestNewGenerationClient_UnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.Provider = "dall-e"

	_, _, err := newGenerationClient(context.Background(), cfg)
	assert.Error(t, err)
}

func TestParseSizeFlag(t *testing.T) {
	w, h, err := parseSizeFlag(" 1280X720 ")
	require.NoError(t, err)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)

	for _, bad := range []string{"", "big", "0x10", "10x"} {
		_, _, err := parseSizeFlag(bad)
		assert.Error(t, err, bad)
	}
}

func TestPrintChats_MarksActive(t *testing.T) {
	s := domain.EmptySnapshot()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.Chats = []domain.Chat{domain.NewChat("c1", "One", now), domain.NewChat("c2", "Two", now)}
	s.ActiveChatID = "c2"

	var out bytes.Buffer
	printChats(&out, s)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[2], "*"), lines[2])
	assert.False(t, strings.HasPrefix(lines[1], "*"), lines[1])
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"discord", "generate", "chats", "settings", "catalog"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

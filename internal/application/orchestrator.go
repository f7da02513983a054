package application

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"imagechat/internal/domain"
)

const (
	// DefaultGenerationTimeout は、生成クライアント呼び出しのタイムアウトの既定値です
	DefaultGenerationTimeout = 45 * time.Second
	// DefaultMaxConcurrentGenerations は、同時に実行する生成の上限の既定値です
	DefaultMaxConcurrentGenerations = 4
)

// OrchestratorConfig は、GenerationOrchestratorの設定です
type OrchestratorConfig struct {
	Timeout       time.Duration
	MaxConcurrent int
	ChatName      string
}

// GenerationOrchestrator は、画像生成リクエストのライフサイクルを管理するアプリケーションサービスです
// 結果はメッセージIDで対象を特定して反映するため、完了順序に依存しません
type GenerationOrchestrator struct {
	core   *StateCore
	client GenerationClient
	images ImageStore
	ids    domain.IDAllocator
	now    Clock

	timeout  time.Duration
	chatName string
	sem      *semaphore.Weighted
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[string]chan struct{}
}

// OrchestratorOption は、GenerationOrchestratorの構成を変更します
type OrchestratorOption func(*GenerationOrchestrator)

// WithImageStore は、バイト列で返された画像の保存先を指定します
func WithImageStore(store ImageStore) OrchestratorOption {
	return func(o *GenerationOrchestrator) {
		o.images = store
	}
}

// WithOrchestratorIDs は、メッセージIDの払い出し方法を指定します
func WithOrchestratorIDs(ids domain.IDAllocator) OrchestratorOption {
	return func(o *GenerationOrchestrator) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithOrchestratorClock は、時刻の取得方法を指定します
func WithOrchestratorClock(now Clock) OrchestratorOption {
	return func(o *GenerationOrchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewGenerationOrchestrator は新しいGenerationOrchestratorインスタンスを作成します
func NewGenerationOrchestrator(core *StateCore, client GenerationClient, cfg OrchestratorConfig, opts ...OrchestratorOption) (*GenerationOrchestrator, error) {
	if core == nil {
		return nil, fmt.Errorf("StateCoreが指定されていません")
	}
	if client == nil {
		return nil, fmt.Errorf("GenerationClientが指定されていません")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGenerationTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrentGenerations
	}
	if cfg.ChatName == "" {
		cfg.ChatName = domain.GeneratedChatName
	}

	o := &GenerationOrchestrator{
		core:     core,
		client:   client,
		ids:      domain.UUIDAllocator{},
		now:      time.Now,
		timeout:  cfg.Timeout,
		chatName: cfg.ChatName,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		pending:  make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Generate は、プロンプトから画像生成を開始し、作成した画像メッセージのIDを返します
// 生成の完了は待たずに戻ります
func (o *GenerationOrchestrator) Generate(ctx context.Context, prompt string) (string, error) {
	validPrompt, err := domain.ValidatePrompt(prompt)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("生成を開始できません: %w", err)
	}

	o.core.EnsureActiveChat(o.chatName)
	return o.start(validPrompt)
}

// Regenerate は、既存の画像メッセージと同じプロンプトで新しいメッセージとして生成し直します
func (o *GenerationOrchestrator) Regenerate(ctx context.Context, messageID string) (string, error) {
	snapshot := o.core.Snapshot()
	_, msg, ok := snapshot.LocateMessage(messageID)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrMessageNotFound, messageID)
	}

	prompt := msg.Prompt
	if !msg.IsImage() {
		prompt = msg.Text
	}
	if prompt == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrNotImageMessage, messageID)
	}

	log.Printf("画像を再生成します: 元のメッセージ=%s", messageID)
	return o.Generate(ctx, prompt)
}

// Retry は、失敗した画像メッセージを新しいメッセージとして再試行します
func (o *GenerationOrchestrator) Retry(ctx context.Context, messageID string) (string, error) {
	snapshot := o.core.Snapshot()
	_, msg, ok := snapshot.LocateMessage(messageID)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrMessageNotFound, messageID)
	}
	if !msg.IsImage() {
		return "", fmt.Errorf("%w: %s", domain.ErrNotImageMessage, messageID)
	}
	return o.Generate(ctx, msg.Prompt)
}

// Await は、指定した生成が完了するまで待ち、完了後のメッセージを返します
func (o *GenerationOrchestrator) Await(ctx context.Context, messageID string) (domain.Message, error) {
	o.mu.Lock()
	done, inFlight := o.pending[messageID]
	o.mu.Unlock()

	if inFlight {
		select {
		case <-done:
		case <-ctx.Done():
			return domain.Message{}, ctx.Err()
		}
	}

	_, msg, ok := o.core.Snapshot().LocateMessage(messageID)
	if !ok {
		return domain.Message{}, fmt.Errorf("%w: %s", domain.ErrMessageNotFound, messageID)
	}
	return msg, nil
}

// Wait は、実行中のすべての生成が完了するまで待ちます
func (o *GenerationOrchestrator) Wait() {
	o.wg.Wait()
}

// InFlight は、実行中の生成の数を返します
func (o *GenerationOrchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// start は、生成待ちのメッセージを追加してからバックグラウンドで生成を開始します
func (o *GenerationOrchestrator) start(prompt string) (string, error) {
	id := o.ids.NewID()

	done := make(chan struct{})
	o.mu.Lock()
	o.pending[id] = done
	o.mu.Unlock()

	snapshot := o.core.DispatchBatch(
		domain.AddMessage{Message: domain.NewPendingImageMessage(id, prompt, o.now())},
		domain.TrackGeneration{MessageID: id},
	)

	// 以降の更新はメッセージが実際に追加されたチャットを対象にする
	chatID, _, ok := snapshot.LocateMessage(id)
	if !ok {
		o.core.UntrackGeneration(id)
		o.mu.Lock()
		delete(o.pending, id)
		o.mu.Unlock()
		close(done)
		return "", fmt.Errorf("%w: アクティブなチャットがありません", domain.ErrChatNotFound)
	}
	log.Printf("画像生成を開始: チャット=%s, メッセージ=%s, プロンプト=%s", chatID, id, domain.ShortenPrompt(prompt, domain.DefaultLabelLength))

	o.wg.Add(1)
	go o.run(chatID, id, prompt, snapshot.Settings, done)
	return id, nil
}

func (o *GenerationOrchestrator) run(chatID, id, prompt string, settings domain.Settings, done chan struct{}) {
	defer o.wg.Done()
	defer func() {
		o.core.UntrackGeneration(id)
		o.mu.Lock()
		delete(o.pending, id)
		o.mu.Unlock()
		close(done)
	}()

	handle, err := o.generate(prompt, settings)
	if err != nil {
		o.fail(chatID, id, err)
		return
	}

	o.core.UpdateMessage(chatID, id,
		domain.AppendImage{URL: handle, Timestamp: o.now()},
		domain.StatusChange{Status: domain.StatusComplete},
		domain.ErrorClear{},
	)
	log.Printf("画像生成が完了: メッセージ=%s", id)
}

// generate は、同時実行数の上限を守りながら生成クライアントを呼び出し、画像のハンドルを返します
// タイムアウトは順番待ちの後、クライアントの呼び出しから数えます
func (o *GenerationOrchestrator) generate(prompt string, settings domain.Settings) (string, error) {
	if err := o.sem.Acquire(context.Background(), 1); err != nil {
		return "", fmt.Errorf("生成の順番待ちに失敗: %w", err)
	}
	defer o.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	result, err := o.client.GenerateImage(ctx, prompt, settings)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("画像生成がタイムアウトしました: %w", ctx.Err())
		}
		return "", fmt.Errorf("画像生成に失敗: %w", err)
	}
	if !result.Usable() {
		return "", domain.NewGenerationError(domain.ErrorKindGeneric, "No image was returned by the generation service.", domain.ErrEmptyResult)
	}
	if result.URL != "" {
		return result.URL, nil
	}

	if o.images == nil {
		return "", domain.NewGenerationError(domain.ErrorKindGeneric, "Received image data but no image store is configured.", domain.ErrEmptyResult)
	}
	handle, err := o.images.Store(ctx, domain.GeneratedImage{
		Prompt:      prompt,
		Data:        result.Data,
		MimeType:    result.MimeType,
		GeneratedAt: o.now(),
	})
	if err != nil {
		return "", fmt.Errorf("画像の保存に失敗: %w", err)
	}
	return handle, nil
}

func (o *GenerationOrchestrator) fail(chatID, id string, err error) {
	kind, message := domain.DescribeError(err)
	now := o.now()
	log.Printf("画像生成に失敗: メッセージ=%s, 種別=%s, エラー=%v", id, kind, err)

	o.core.DispatchBatch(
		domain.UpdateMessage{
			ChatID:    chatID,
			MessageID: id,
			Patches: []domain.MessagePatch{
				domain.StatusChange{Status: domain.StatusError},
				domain.ErrorSet{Kind: kind, Message: message, Time: now},
			},
		},
		domain.SetError{Error: domain.GlobalError{Kind: kind, Message: message, MessageID: id, Time: now}},
	)
}

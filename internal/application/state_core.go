package application

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"imagechat/internal/domain"
)

// StateCore は、アプリケーション状態を保持し、コマンドを1つずつ適用するサービスです
// 状態の変更はすべてdomain.Reduceを通して行われ、適用後のSnapshotは保存キューに渡されます
type StateCore struct {
	mu       sync.Mutex
	snapshot domain.Snapshot
	ready    bool

	repo      domain.SnapshotRepository
	persister *Persister
	policy    *domain.LifecyclePolicy
	ids       domain.IDAllocator
	now       Clock

	saveTimeout time.Duration
	defaults    *domain.Settings

	subMu   sync.Mutex
	subs    map[int]chan domain.Snapshot
	nextSub int
}

// StateCoreOption は、StateCoreの構成を変更します
type StateCoreOption func(*StateCore)

// WithIDAllocator は、識別子の払い出し方法を指定します
func WithIDAllocator(ids domain.IDAllocator) StateCoreOption {
	return func(c *StateCore) {
		if ids != nil {
			c.ids = ids
		}
	}
}

// WithClock は、時刻の取得方法を指定します
func WithClock(now Clock) StateCoreOption {
	return func(c *StateCore) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLifecyclePolicy は、チャットのライフサイクルポリシーを指定します
func WithLifecyclePolicy(policy *domain.LifecyclePolicy) StateCoreOption {
	return func(c *StateCore) {
		if policy != nil {
			c.policy = policy
		}
	}
}

// WithSaveTimeout は、1回の保存処理のタイムアウトを指定します
func WithSaveTimeout(d time.Duration) StateCoreOption {
	return func(c *StateCore) {
		c.saveTimeout = d
	}
}

// WithDefaultSettings は、保存済みの状態がない場合に使う生成設定を指定します
func WithDefaultSettings(s domain.Settings) StateCoreOption {
	return func(c *StateCore) {
		c.defaults = &s
	}
}

// NewStateCore は新しいStateCoreインスタンスを作成します
// Bootstrapを呼ぶまでコマンドは受け付けません
func NewStateCore(repo domain.SnapshotRepository, opts ...StateCoreOption) (*StateCore, error) {
	if repo == nil {
		return nil, fmt.Errorf("SnapshotRepositoryが指定されていません")
	}

	c := &StateCore{
		snapshot: domain.EmptySnapshot(),
		repo:     repo,
		policy:   domain.NewLifecyclePolicy(""),
		ids:      domain.UUIDAllocator{},
		now:      time.Now,
		subs:     make(map[int]chan domain.Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Bootstrap は、保存済みの状態を読み込み、アクティブチャットの不変条件を整えます
// 読み込みに失敗した場合は空の状態から開始します
func (c *StateCore) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready {
		return nil
	}

	initial := domain.EmptySnapshot()
	if c.defaults != nil {
		initial.Settings = *c.defaults
	}

	loaded, found, err := c.repo.Load(ctx)
	switch {
	case err != nil:
		log.Printf("保存済みの状態の読み込みに失敗したため、初期状態で開始します: %v", err)
	case !found:
		log.Printf("保存済みの状態がないため、初期状態で開始します")
	default:
		initial = loaded
		log.Printf("保存済みの状態を読み込みました: チャット数=%d", len(loaded.Chats))
	}

	// 前回の実行で生成中だったリクエストは結果を受け取れないため追跡しない
	initial.ActiveGenerations = []string{}
	initial.LastError = nil

	c.snapshot = initial
	c.persister = NewPersister(c.repo, c.saveTimeout)
	c.ready = true

	now := c.now()
	cmds := c.policy.RecoverCommands(c.snapshot, now)
	if len(cmds) > 0 {
		log.Printf("中断された生成をエラーとして記録します: %d件", len(cmds))
	}
	cmds = append(cmds, c.policy.Startup(c.snapshot, c.ids.NewID(), now)...)
	if len(cmds) > 0 {
		c.applyLocked(cmds)
	}
	return nil
}

// Close は、保存待ちのSnapshotを書き込んでからストアを閉じます
func (c *StateCore) Close(ctx context.Context) error {
	c.mu.Lock()
	persister := c.persister
	c.ready = false
	c.mu.Unlock()

	if persister != nil {
		if err := persister.Close(ctx); err != nil {
			return fmt.Errorf("保存キューの停止に失敗: %w", err)
		}
	}

	c.subMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()

	return c.repo.Close()
}

// Dispatch は、コマンドを1つ適用し、適用後のSnapshotを返します
func (c *StateCore) Dispatch(cmd domain.Command) domain.Snapshot {
	return c.DispatchBatch(cmd)
}

// DispatchBatch は、複数のコマンドを1回の操作として適用します
// 途中の状態は読み出し側からも保存先からも観測されません
func (c *StateCore) DispatchBatch(cmds ...domain.Command) domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyLocked(cmds).Clone()
}

func (c *StateCore) applyLocked(cmds []domain.Command) domain.Snapshot {
	if !c.ready {
		log.Printf("初期化前のためコマンドを破棄します: %d件", len(cmds))
		return c.snapshot
	}

	next := domain.ReduceAll(c.snapshot, cmds...)
	c.snapshot = next
	c.persister.Enqueue(next)
	c.publish(next)
	return next
}

// Snapshot は、現在の状態のコピーを返します
func (c *StateCore) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

// ActiveChat は、アクティブなチャットのコピーを返します
func (c *StateCore) ActiveChat() (domain.Chat, bool) {
	s := c.Snapshot()
	return s.ActiveChat()
}

// ActiveGenerations は、生成待ちのメッセージIDの一覧を返します
func (c *StateCore) ActiveGenerations() []string {
	return c.Snapshot().ActiveGenerations
}

// Settings は、現在の生成設定を返します
func (c *StateCore) Settings() domain.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Settings
}

// Busy は、生成待ちのリクエストがあるかを返します
func (c *StateCore) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Busy()
}

// LastError は、直近のグローバルエラーを返します
func (c *StateCore) LastError() *domain.GlobalError {
	return c.Snapshot().LastError
}

// CreateChat は、新しいチャットを作成してアクティブにし、そのIDを返します
func (c *StateCore) CreateChat(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name == "" {
		name = c.policy.NextChatName(c.snapshot)
	}
	id := c.ids.NewID()
	c.applyLocked([]domain.Command{domain.CreateChat{ID: id, Name: name, CreatedAt: c.now()}})
	return id
}

// DeleteChat は、チャットを削除します。最後の1つを削除する場合は代わりのチャットを作成します
func (c *StateCore) DeleteChat(chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmds := c.policy.DeleteCommands(c.snapshot, chatID, c.ids.NewID(), c.now())
	if len(cmds) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrChatNotFound, chatID)
	}
	c.applyLocked(cmds)
	return nil
}

// RenameChat は、チャットの名前を変更します
func (c *StateCore) RenameChat(chatID, name string) {
	c.Dispatch(domain.RenameChat{ChatID: chatID, Name: name})
}

// SetActiveChat は、アクティブなチャットを切り替えます
func (c *StateCore) SetActiveChat(chatID string) error {
	s := c.Dispatch(domain.SetActiveChat{ChatID: chatID})
	if s.ActiveChatID != chatID {
		return fmt.Errorf("%w: %s", domain.ErrChatNotFound, chatID)
	}
	return nil
}

// AddMessage は、アクティブなチャットにメッセージを追加します
func (c *StateCore) AddMessage(msg domain.Message) {
	c.Dispatch(domain.AddMessage{Message: msg})
}

// AddPrompt は、アクティブなチャットにテキストだけのメッセージを追加し、そのIDを返します
func (c *StateCore) AddPrompt(text string) string {
	id := c.ids.NewID()
	c.AddMessage(domain.NewPromptMessage(id, text, c.now()))
	return id
}

// DeleteMessage は、アクティブなチャットからメッセージを削除します
func (c *StateCore) DeleteMessage(messageID string) {
	c.Dispatch(domain.DeleteMessage{MessageID: messageID})
}

// UpdateMessage は、メッセージにパッチを適用します
// 対象のチャットやメッセージが既に存在しない場合は何もしません
func (c *StateCore) UpdateMessage(chatID, messageID string, patches ...domain.MessagePatch) {
	c.Dispatch(domain.UpdateMessage{ChatID: chatID, MessageID: messageID, Patches: patches})
}

// UpdateSettings は、生成設定を部分的に更新します
func (c *StateCore) UpdateSettings(patch domain.SettingsPatch) domain.Settings {
	return c.Dispatch(domain.UpdateSettings{Patch: patch}).Settings
}

// TrackGeneration は、生成待ちの集合にIDを追加します
func (c *StateCore) TrackGeneration(messageID string) {
	c.Dispatch(domain.TrackGeneration{MessageID: messageID})
}

// UntrackGeneration は、生成待ちの集合からIDを取り除きます
func (c *StateCore) UntrackGeneration(messageID string) {
	c.Dispatch(domain.UntrackGeneration{MessageID: messageID})
}

// SetError は、グローバルエラーを設定します
func (c *StateCore) SetError(e domain.GlobalError) {
	c.Dispatch(domain.SetError{Error: e})
}

// ClearError は、グローバルエラーを消去します
func (c *StateCore) ClearError() {
	c.Dispatch(domain.ClearError{})
}

// EnsureActiveChat は、アクティブなチャットが存在することを保証し、そのIDを返します
// 戻った時点でチャットの作成は適用済みです
func (c *StateCore) EnsureActiveChat(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmds := c.policy.EnsureActiveCommands(c.snapshot, name, c.ids.NewID(), c.now())
	if len(cmds) > 0 {
		c.applyLocked(cmds)
	}
	return c.snapshot.ActiveChatID
}

// Flush は、ここまでに適用したコマンドの保存が終わるまで待ちます
func (c *StateCore) Flush(ctx context.Context) error {
	c.mu.Lock()
	persister := c.persister
	c.mu.Unlock()
	if persister == nil {
		return nil
	}
	return persister.Flush(ctx)
}

// PersistFailures は、保存に失敗した回数を返します
func (c *StateCore) PersistFailures() int64 {
	c.mu.Lock()
	persister := c.persister
	c.mu.Unlock()
	if persister == nil {
		return 0
	}
	return persister.Failures()
}

// Subscribe は、状態が変わるたびに最新のSnapshotを受け取るチャネルを返します
// 受信が追いつかない場合は古い通知を捨てて最新のものだけを残します
func (c *StateCore) Subscribe() (<-chan domain.Snapshot, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan domain.Snapshot, 1)
	c.subs[id] = ch

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			close(sub)
			delete(c.subs, id)
		}
	}
	return ch, cancel
}

func (c *StateCore) publish(s domain.Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if len(c.subs) == 0 {
		return
	}
	for _, ch := range c.subs {
		snapshot := s.Clone()
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

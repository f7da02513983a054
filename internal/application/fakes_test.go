package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"imagechat/internal/domain"
)

// memoryRepository は、テスト用のSnapshotRepositoryです
type memoryRepository struct {
	mu       sync.Mutex
	stored   *domain.Snapshot
	saved    []domain.Snapshot
	loadErr  error
	saveErr  error
	closed   bool
	saveGate chan struct{}
}

func (r *memoryRepository) Save(ctx context.Context, s domain.Snapshot) error {
	if r.saveGate != nil {
		select {
		case <-r.saveGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	c := s.Clone()
	r.stored = &c
	r.saved = append(r.saved, c)
	return nil
}

func (r *memoryRepository) Load(ctx context.Context) (domain.Snapshot, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return domain.Snapshot{}, false, r.loadErr
	}
	if r.stored == nil {
		return domain.Snapshot{}, false, nil
	}
	return r.stored.Clone(), true, nil
}

func (r *memoryRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *memoryRepository) last() (domain.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stored == nil {
		return domain.Snapshot{}, false
	}
	return r.stored.Clone(), true
}

func (r *memoryRepository) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

// fixedIDs は、指定した順にIDを払い出すテスト用のアロケータです
type fixedIDs struct {
	mu  sync.Mutex
	ids []string
	n   int
}

func (f *fixedIDs) NewID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.ids[f.n%len(f.ids)]
	f.n++
	return id
}

type outcome struct {
	result *ImageResult
	err    error
}

// controlledClient は、プロンプトごとに結果を返すタイミングを制御できる生成クライアントです
type controlledClient struct {
	mu       sync.Mutex
	outcomes map[string]chan outcome
	started  map[string]chan struct{}
	calls    map[string]int
	settings []domain.Settings
}

func newControlledClient() *controlledClient {
	return &controlledClient{
		outcomes: make(map[string]chan outcome),
		started:  make(map[string]chan struct{}),
		calls:    make(map[string]int),
	}
}

func (c *controlledClient) channels(prompt string) (chan outcome, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.outcomes[prompt]
	if !ok {
		ch = make(chan outcome, 4)
		c.outcomes[prompt] = ch
	}
	st, ok := c.started[prompt]
	if !ok {
		st = make(chan struct{})
		c.started[prompt] = st
	}
	return ch, st
}

func (c *controlledClient) GenerateImage(ctx context.Context, prompt string, settings domain.Settings) (*ImageResult, error) {
	ch, st := c.channels(prompt)
	c.mu.Lock()
	c.settings = append(c.settings, settings)
	c.calls[prompt]++
	if c.calls[prompt] == 1 {
		close(st)
	}
	c.mu.Unlock()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *controlledClient) resolve(prompt string, result *ImageResult, err error) {
	ch, _ := c.channels(prompt)
	ch <- outcome{result: result, err: err}
}

// waitStarted は、指定したプロンプトでクライアントが呼び出されるまで待ちます
func (c *controlledClient) waitStarted(t testing.TB, prompt string) {
	t.Helper()
	_, st := c.channels(prompt)
	select {
	case <-st:
	case <-time.After(5 * time.Second):
		t.Fatalf("生成が開始されませんでした: %s", prompt)
	}
}

// recordingImageStore は、保存された画像を記録するテスト用のImageStoreです
type recordingImageStore struct {
	mu     sync.Mutex
	images []domain.GeneratedImage
	err    error
}

func (s *recordingImageStore) Store(ctx context.Context, image domain.GeneratedImage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.images = append(s.images, image)
	return "file:///tmp/" + image.Filename(), nil
}

// stubCatalogClient は、固定の一覧かエラーを返すテスト用のCatalogClientです
type stubCatalogClient struct {
	models    []domain.CatalogEntry
	styles    []domain.CatalogEntry
	modelsErr error
	stylesErr error
	calls     int
	mu        sync.Mutex
}

func (c *stubCatalogClient) ListModels(ctx context.Context) ([]domain.CatalogEntry, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.models, c.modelsErr
}

func (c *stubCatalogClient) ListStyles(ctx context.Context) ([]domain.CatalogEntry, error) {
	return c.styles, c.stylesErr
}

var errBoom = errors.New("internal server error")

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

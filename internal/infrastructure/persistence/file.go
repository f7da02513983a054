package persistence

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"imagechat/internal/infrastructure/config"
)

// fileStore は、状態を1つのJSONファイルに保存します
// 書き込みは一時ファイルからのリネームで行い、途中で失敗しても既存のファイルを壊しません
type fileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileRepository は、JSONファイルに状態を保存するRepositoryを作成します
func NewFileRepository(path string) (*Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("保存先のファイルパスが指定されていません")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "保存先ディレクトリの作成に失敗")
	}
	return newRepository(config.BackendFile, &fileStore{path: path}), nil
}

func (s *fileStore) put(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.CreateTemp(filepath.Dir(s.path), ".tmp-*.json")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(file.Name())
	}()

	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(file.Name(), s.path)
}

func (s *fileStore) get(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

func (s *fileStore) close() error {
	return nil
}

// memoryStore は、プロセス内だけで状態を保持します
type memoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryRepository は、永続化しないRepositoryを作成します
func NewMemoryRepository() *Repository {
	return newRepository(config.BackendMemory, &memoryStore{})
}

func (s *memoryStore) put(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *memoryStore) get(ctx context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, false, nil
	}
	return append([]byte(nil), s.data...), true, nil
}

func (s *memoryStore) close() error {
	return nil
}

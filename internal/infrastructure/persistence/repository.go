package persistence

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pkg/errors"

	"imagechat/internal/domain"
	"imagechat/internal/infrastructure/config"
)

// blobStore は、エンコード済みのドキュメント1件を読み書きするバックエンドです
type blobStore interface {
	put(ctx context.Context, data []byte) error
	get(ctx context.Context) ([]byte, bool, error)
	close() error
}

// Repository は、domain.SnapshotRepositoryをバックエンドごとに実装します
// エンコードと移行はバックエンドに依存せず共通です
type Repository struct {
	backend string
	store   blobStore
	now     func() time.Time
}

var _ domain.SnapshotRepository = (*Repository)(nil)

func newRepository(backend string, store blobStore) *Repository {
	return &Repository{backend: backend, store: store, now: time.Now}
}

// NewRepository は、設定されたバックエンドのRepositoryを作成します
func NewRepository(ctx context.Context, cfg config.StoreConfig) (*Repository, error) {
	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}

	switch cfg.Backend {
	case config.BackendBolt, "":
		return NewBoltRepository(cfg.Path, key)
	case config.BackendSQLite:
		return NewSQLiteRepository(ctx, cfg.Path, key)
	case config.BackendPostgres:
		return NewPostgresRepository(ctx, cfg.PostgresDSN, key)
	case config.BackendRedis:
		return NewRedisRepository(ctx, cfg, key)
	case config.BackendFile:
		return NewFileRepository(cfg.Path)
	case config.BackendMemory:
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("未対応の永続化バックエンドです: %s", cfg.Backend)
	}
}

// Backend は、バックエンドの名前を返します
func (r *Repository) Backend() string {
	return r.backend
}

// Save は、Snapshotを保存します
func (r *Repository) Save(ctx context.Context, s domain.Snapshot) error {
	data, err := Encode(s, r.now())
	if err != nil {
		return err
	}
	if err := r.store.put(ctx, data); err != nil {
		return errors.Wrapf(err, "%sへの保存に失敗", r.backend)
	}
	return nil
}

// Load は、保存されたSnapshotを読み込みます
// 保存データがない場合はfalseを返します
func (r *Repository) Load(ctx context.Context) (domain.Snapshot, bool, error) {
	data, ok, err := r.store.get(ctx)
	if err != nil {
		return domain.Snapshot{}, false, errors.Wrapf(err, "%sからの読み込みに失敗", r.backend)
	}
	if !ok {
		return domain.Snapshot{}, false, nil
	}

	s, err := Decode(data)
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	log.Printf("保存された状態を読み込みました: バックエンド=%s, チャット数=%d", r.backend, len(s.Chats))
	return s, true, nil
}

// Close は、バックエンドの接続を閉じます
func (r *Repository) Close() error {
	return r.store.close()
}

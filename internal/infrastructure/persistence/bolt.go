package persistence

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"imagechat/internal/infrastructure/config"
)

// DefaultKey は、状態を保存するキーの既定値です
const DefaultKey = "imagechat:state"

var bucketState = []byte("state")

type boltStore struct {
	db  *bolt.DB
	key []byte
}

// NewBoltRepository は、bboltのファイルに状態を保存するRepositoryを作成します
func NewBoltRepository(path, key string) (*Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("bboltのファイルパスが指定されていません")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "保存先ディレクトリの作成に失敗")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "bboltのオープンに失敗: %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "バケットの作成に失敗")
	}
	return newRepository(config.BackendBolt, &boltStore{db: db, key: []byte(key)}), nil
}

func (s *boltStore) put(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return errors.New("stateバケットがありません")
		}
		return b.Put(s.key, data)
	})
}

func (s *boltStore) get(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return nil
		}
		raw := b.Get(s.key)
		if len(raw) == 0 {
			return nil
		}
		// トランザクション外では値が無効になるためコピーする
		out = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (s *boltStore) close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

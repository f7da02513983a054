package persistence

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"imagechat/internal/infrastructure/config"
)

type redisStore struct {
	client *redis.Client
	key    string
}

// NewRedisRepository は、Redisのキー1つに状態を保存するRepositoryを作成します
func NewRedisRepository(ctx context.Context, cfg config.StoreConfig, key string) (*Repository, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("Redisのアドレスが指定されていません")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "Redisへの接続に失敗: %s", cfg.RedisAddr)
	}
	return newRepository(config.BackendRedis, &redisStore{client: client, key: key}), nil
}

func (s *redisStore) put(ctx context.Context, data []byte) error {
	return s.client.Set(ctx, s.key, data, 0).Err()
}

func (s *redisStore) get(ctx context.Context) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *redisStore) close() error {
	return s.client.Close()
}

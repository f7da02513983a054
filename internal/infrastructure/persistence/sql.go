package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"imagechat/internal/infrastructure/config"
)

// dialect は、SQLバックエンドごとの差分です
type dialect struct {
	driver      string
	placeholder func(n int) string
}

var (
	sqliteDialect = dialect{
		driver:      "sqlite",
		placeholder: func(int) string { return "?" },
	}
	postgresDialect = dialect{
		driver:      "postgres",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
)

type sqlStore struct {
	db      *sql.DB
	dialect dialect
	key     string
}

// NewSQLiteRepository は、SQLiteのファイルに状態を保存するRepositoryを作成します
func NewSQLiteRepository(ctx context.Context, path, key string) (*Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("SQLiteのファイルパスが指定されていません")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "保存先ディレクトリの作成に失敗")
	}
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, errors.Wrapf(err, "SQLiteのオープンに失敗: %s", path)
	}
	// SQLiteは書き込みを直列化するため接続は1本で足りる
	db.SetMaxOpenConns(1)
	return newSQLRepository(ctx, config.BackendSQLite, db, sqliteDialect, key)
}

// NewPostgresRepository は、PostgreSQLに状態を保存するRepositoryを作成します
func NewPostgresRepository(ctx context.Context, dsn, key string) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("PostgreSQLのDSNが指定されていません")
	}
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "PostgreSQLへの接続に失敗")
	}
	return newSQLRepository(ctx, config.BackendPostgres, db, postgresDialect, key)
}

func newSQLRepository(ctx context.Context, backend string, db *sql.DB, d dialect, key string) (*Repository, error) {
	store := &sqlStore{db: db, dialect: d, key: key}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "%sへの接続確認に失敗", backend)
	}
	if err := store.ensureTable(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "テーブルの作成に失敗")
	}
	return newRepository(backend, store), nil
}

func (s *sqlStore) ensureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS imagechat_state (
		state_key  TEXT   NOT NULL PRIMARY KEY,
		data       TEXT   NOT NULL,
		updated_ms BIGINT NOT NULL
	)`)
	return err
}

func (s *sqlStore) put(ctx context.Context, data []byte) error {
	p := s.dialect.placeholder
	stmt := fmt.Sprintf(`INSERT INTO imagechat_state (state_key, data, updated_ms)
		VALUES (%s, %s, %s)
		ON CONFLICT (state_key) DO UPDATE SET data = excluded.data, updated_ms = excluded.updated_ms`,
		p(1), p(2), p(3))
	_, err := s.db.ExecContext(ctx, stmt, s.key, string(data), time.Now().UnixMilli())
	return err
}

func (s *sqlStore) get(ctx context.Context) ([]byte, bool, error) {
	stmt := fmt.Sprintf(`SELECT data FROM imagechat_state WHERE state_key = %s`, s.dialect.placeholder(1))
	var data string
	err := s.db.QueryRowContext(ctx, stmt, s.key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(data), true, nil
}

func (s *sqlStore) close() error {
	return s.db.Close()
}

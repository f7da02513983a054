package domain

import "context"

// SnapshotRepository は、Snapshot全体を永続化するためのインターフェースです
type SnapshotRepository interface {
	// Save は、現在のSnapshot全体を書き込みます
	Save(ctx context.Context, s Snapshot) error

	// Load は、保存済みのSnapshotを読み込みます。保存されていない場合はfalseを返します
	Load(ctx context.Context) (Snapshot, bool, error)

	// Close は、ストアが保持しているリソースを解放します
	Close() error
}

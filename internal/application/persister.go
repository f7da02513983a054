package application

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"imagechat/internal/domain"
)

// DefaultSaveTimeout は、1回の保存処理に許す時間の既定値です
const DefaultSaveTimeout = 10 * time.Second

// Persister は、Snapshotをバックグラウンドで順番に保存します
// 保存待ちの間に新しいSnapshotが届いた場合は最新のものだけを保存します
type Persister struct {
	repo        domain.SnapshotRepository
	saveTimeout time.Duration

	mu        sync.Mutex
	pending   *domain.Snapshot
	enqueued  uint64
	processed uint64
	waiters   []flushWaiter
	closed    bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	saves    atomic.Int64
	failures atomic.Int64
	lastErr  atomic.Value
}

type flushWaiter struct {
	target uint64
	ch     chan struct{}
}

// NewPersister は新しいPersisterを作成し、保存用のgoroutineを開始します
func NewPersister(repo domain.SnapshotRepository, saveTimeout time.Duration) *Persister {
	if saveTimeout <= 0 {
		saveTimeout = DefaultSaveTimeout
	}
	p := &Persister{
		repo:        repo,
		saveTimeout: saveTimeout,
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go p.run()
	return p
}

// Enqueue は、保存するSnapshotを登録します。呼び出し元をブロックしません
func (p *Persister) Enqueue(s domain.Snapshot) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.pending = &s
	p.enqueued++
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Flush は、呼び出し時点までに登録されたSnapshotの保存が終わるまで待ちます
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	target := p.enqueued
	if p.processed >= target {
		p.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	p.waiters = append(p.waiters, flushWaiter{target: target, ch: ch})
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close は、残っているSnapshotを保存してからgoroutineを停止します
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Saves は、成功した保存の回数を返します
func (p *Persister) Saves() int64 {
	return p.saves.Load()
}

// Failures は、失敗した保存の回数を返します
func (p *Persister) Failures() int64 {
	return p.failures.Load()
}

// LastError は、直近の保存エラーを返します
func (p *Persister) LastError() error {
	if v, ok := p.lastErr.Load().(errorHolder); ok {
		return v.err
	}
	return nil
}

type errorHolder struct {
	err error
}

func (p *Persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.stop:
			p.drain()
			p.releaseWaiters(true)
			return
		}
	}
}

// drain は、保存待ちのSnapshotがなくなるまで保存を繰り返します
func (p *Persister) drain() {
	for {
		p.mu.Lock()
		if p.pending == nil {
			p.mu.Unlock()
			return
		}
		s := *p.pending
		seq := p.enqueued
		p.pending = nil
		p.mu.Unlock()

		p.save(s)

		p.mu.Lock()
		p.processed = seq
		p.mu.Unlock()
		p.releaseWaiters(false)
	}
}

func (p *Persister) save(s domain.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), p.saveTimeout)
	defer cancel()

	if err := p.repo.Save(ctx, s); err != nil {
		err = errors.Wrap(err, "スナップショットの保存に失敗")
		p.failures.Add(1)
		p.lastErr.Store(errorHolder{err: err})
		log.Printf("永続化エラー: %v", err)
		return
	}
	p.saves.Add(1)
}

func (p *Persister) releaseWaiters(all bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	remaining := p.waiters[:0]
	for _, w := range p.waiters {
		if all || w.target <= p.processed {
			close(w.ch)
			continue
		}
		remaining = append(remaining, w)
	}
	p.waiters = remaining
}

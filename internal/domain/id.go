package domain

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDAllocator は、チャットとメッセージに共通の識別子を払い出します
type IDAllocator interface {
	NewID() string
}

// UUIDAllocator は、時刻順に並ぶUUIDv7を払い出します
type UUIDAllocator struct{}

// NewID は、新しいUUIDv7を文字列で返します
func (UUIDAllocator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SequenceAllocator は、接頭辞付きの連番を払い出します。テスト用です
type SequenceAllocator struct {
	mu     sync.Mutex
	Prefix string
	next   int
}

// NewSequenceAllocator は、指定した接頭辞のSequenceAllocatorを作成します
func NewSequenceAllocator(prefix string) *SequenceAllocator {
	return &SequenceAllocator{Prefix: prefix}
}

// NewID は、次の連番を返します
func (a *SequenceAllocator) NewID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	return fmt.Sprintf("%s%d", a.Prefix, a.next)
}

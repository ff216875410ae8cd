package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLock はインプロセスのロック実装。
// 単一プロセスのデプロイとテスト環境で使用する。
type MemoryLock struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryLock はMemoryLockの新しいインスタンスを生成する。
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{
		entries: make(map[string]time.Time),
	}
}

// Acquire は未保持または期限切れのキーに対してロックを取得する。
func (l *MemoryLock) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expiry, held := l.entries[key]; held && now.Before(expiry) {
		return false, nil
	}

	l.entries[key] = now.Add(ttl)
	return true, nil
}

// Release はキーのロックを解放する。
func (l *MemoryLock) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

// compile-time interface check
var _ SourceLocker = (*MemoryLock)(nil)

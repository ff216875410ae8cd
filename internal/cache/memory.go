package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore はgo-cacheによるインプロセスのTTLStore実装。
// 単一プロセスのデプロイとテスト環境で使用する。
type MemoryStore struct {
	inner *gocache.Cache
}

// NewMemoryStore はMemoryStoreの新しいインスタンスを生成する。
// defaultTTLは個別TTL未指定時の既定値、期限切れエントリは2倍周期で掃除される。
func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		inner: gocache.New(defaultTTL, 2*defaultTTL),
	}
}

// SetIfAbsent はキーが未登録の場合のみTTL付きで登録する。
func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	// go-cacheのAddは既存キーに対してエラーを返す
	if err := s.inner.Add(key, struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// Delete はキーを削除する。未登録のキーに対してはno-op。
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.inner.Delete(key)
	return nil
}

// compile-time interface check
var _ TTLStore = (*MemoryStore)(nil)

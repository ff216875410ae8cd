package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore はredisのSET NXによるTTLStore実装。
// 複数ワーカープロセス間で重複排除状態を共有する。
// redisが到達不能な場合は初見扱い（true）にフェイルオープンする。
// 重複通知は欠落通知より害が小さい。
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore はRedisStoreの新しいインスタンスを生成する。
func NewRedisStore(client *redis.Client, prefix string, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// SetIfAbsent はキーが未登録の場合のみTTL付きで登録する。
func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, "1", ttl).Result()
	if err != nil {
		s.logger.Warn("重複排除ストアに到達できないため初見扱いにします",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return true, nil
	}
	return ok, nil
}

// Delete はキーを削除する。削除に失敗した場合はキーがTTLまで残留し、
// その間のリトライが重複扱いで抑止されるため、エラーを呼び出し元へ返す。
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("重複排除キーの削除に失敗: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TTLStore = (*RedisStore)(nil)

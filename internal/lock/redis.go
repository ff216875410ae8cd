package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLock はredisのSET NX PXによる分散ロック実装。
// redisが到達不能な場合はフェイルオープンとし、フェッチの続行を許可する
// （厳密な重複排除より可用性を優先する。重複処理は状態を壊さない）。
type RedisLock struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisLock はRedisLockの新しいインスタンスを生成する。
func NewRedisLock(client *redis.Client, prefix string, logger *slog.Logger) *RedisLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLock{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Acquire はSET NX PXでロック取得を試みる。
// redisエラー時はtrueを返す（フェイルオープン）。
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, "1", ttl).Result()
	if err != nil {
		l.logger.Warn("ロックバックエンドに到達できないためフェイルオープンします",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return true, nil
	}
	return ok, nil
}

// Release はロックキーを削除する。
func (l *RedisLock) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		l.logger.Warn("ロック解放に失敗しました（TTLで自己失効します）",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// compile-time interface check
var _ SourceLocker = (*RedisLock)(nil)

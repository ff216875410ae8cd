// Package cache はTTL付きの補助コーディネーションストアを提供する。
// 通知の重複排除キー管理に使用する。権威データではなく、
// 喪失時は「重複を処理しうる」への劣化に留まる。
package cache

import (
	"context"
	"time"
)

// TTLStore はTTL付きのset-if-absentストアの機能インターフェース。
// サービスにはコンストラクタ経由で注入する（テスト分離とマルチインスタンス
// デプロイのため、モジュールグローバルにはしない）。
type TTLStore interface {
	// SetIfAbsent はキーが未登録の場合のみTTL付きで登録する。
	// trueは新規登録（初見）、falseはTTL内の既存キー（重複）を意味する。
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Delete はキーを削除する。SetIfAbsentで確保したキーに対応する
	// 永続化が失敗した場合、キーを戻してリトライを通すために使う。
	Delete(ctx context.Context, key string) error
}

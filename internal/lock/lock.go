// Package lock はソースURL単位の分散ミューテックスを提供する。
// 同一URLへの重複した並行フェッチを防止する。
package lock

import (
	"context"
	"time"
)

// SourceLocker はソースロックの機能インターフェース。
// 分散実装（redis）とインプロセス実装の2つがあり、呼び出し側は
// どちらが有効かで分岐してはならない。フェイルオープンの振る舞いは
// 分散実装の内部に閉じる。
type SourceLocker interface {
	// Acquire はキーに対するロック取得を試みる。
	// trueは取得成功（処理を続行してよい）、falseは他ワーカーが保持中
	// （スキップまたは延期すべき）を意味する。
	// ロックはTTLで自己失効するため、フェッチ1回を超えて保持されることはない。
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release はキーのロックを解放する。
	// 保持していないロックの解放は無害なno-op。
	Release(ctx context.Context, key string) error
}

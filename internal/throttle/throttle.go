// Package throttle は競合他社サイトへのリクエストレートを抑制する。
// キー（通常はホスト名）ごとにスライディングウィンドウでリクエスト時刻を記録し、
// ウィンドウ内の上限を超える場合は最古のリクエストがウィンドウ外に出るまで待機する。
package throttle

import (
	"context"
	"sync"
	"time"
)

// Limiter はキーごとのスライディングウィンドウスロットル。
// 固定ウィンドウと異なり、境界をまたいだバーストを許さない。
type Limiter struct {
	maxRequests int
	period      time.Duration

	mu      sync.Mutex
	history map[string][]time.Time

	// テストで時刻と待機を差し替えるためのフック
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter はLimiterの新しいインスタンスを生成する。
// periodの間にキーごと最大maxRequests件を許可する。
func NewLimiter(maxRequests int, period time.Duration) *Limiter {
	return &Limiter{
		maxRequests: maxRequests,
		period:      period,
		history:     make(map[string][]time.Time),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Wait はkeyに対するリクエスト枠が空くまでブロックし、枠を消費する。
// ctxのキャンセルで早期に抜ける。
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		wait := l.reserve(key)
		if wait <= 0 {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// reserve はウィンドウを刈り込み、枠があれば消費して0を返す。
// 枠がなければ最古のエントリが失効するまでの待ち時間を返す。
func (l *Limiter) reserve(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.period)

	entries := l.history[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) < l.maxRequests {
		l.history[key] = append(kept, now)
		return 0
	}

	l.history[key] = kept
	return kept[0].Sub(cutoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

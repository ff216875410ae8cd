package crawl

import (
	"fmt"
	"time"

	"github.com/hitoshi/pricewatch/internal/model"
)

const (
	// initialBackoff は指数バックオフの初回遅延（30分）。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（12時間）。
	maxBackoff = 12 * time.Hour
	// parseFailureThreshold はパース失敗によるクロール停止の閾値。
	parseFailureThreshold = 10
)

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplyStop はソースのクロールを停止する。
// crawl_statusをstoppedに設定し、エラーメッセージを記録する。
func ApplyStop(source *model.CompetitorSource, reason string) {
	source.CrawlStatus = model.CrawlStatusStopped
	source.ErrorMessage = reason
	source.UpdatedAt = time.Now()
}

// ApplyBackoff はソースにバックオフ戦略を適用する。
// 連続エラー回数をインクリメントし、指数バックオフでnext_crawl_atを設定する。
func ApplyBackoff(source *model.CompetitorSource, reason string) {
	source.ConsecutiveErrors++
	source.ErrorMessage = reason
	delay := CalculateBackoff(source.ConsecutiveErrors - 1)
	source.NextCrawlAt = time.Now().Add(delay)
	source.UpdatedAt = time.Now()
}

// ApplySuccess はクロール成功時にソースの状態をリセットする。
// 連続エラー回数を0にリセットし、エラーメッセージをクリアする。
// intervalに基づいてnext_crawl_atを設定する。
func ApplySuccess(source *model.CompetitorSource, interval time.Duration) {
	source.ConsecutiveErrors = 0
	source.ErrorMessage = ""
	source.NextCrawlAt = time.Now().Add(interval)
	source.UpdatedAt = time.Now()
}

// CheckParseFailureThreshold はパース失敗回数が閾値に達しているかを確認する。
func CheckParseFailureThreshold(source *model.CompetitorSource) bool {
	return source.ConsecutiveErrors >= parseFailureThreshold
}

// ApplyParseFailure はパース失敗時にソースの連続エラー回数をインクリメントする。
// 閾値に達した場合はクロールを停止する。パース失敗は自動リトライでは
// 回復しないため、next_crawl_atは通常間隔のまま据え置く。
func ApplyParseFailure(source *model.CompetitorSource, reason string, interval time.Duration) {
	source.ConsecutiveErrors++
	source.ErrorMessage = fmt.Sprintf("パース失敗 (%d回連続): %s", source.ConsecutiveErrors, reason)
	source.NextCrawlAt = time.Now().Add(interval)
	source.UpdatedAt = time.Now()

	if CheckParseFailureThreshold(source) {
		source.CrawlStatus = model.CrawlStatusStopped
		source.ErrorMessage = fmt.Sprintf("パース失敗が%d回連続したためクロールを停止しました: %s", source.ConsecutiveErrors, reason)
	}
}

// Package delivery は通知配信のバックグラウンド実行を提供する。
// 実行対象の配信レコードを定期的にスキャンし、並列制御しながら
// チャネル別の配信を実行する。
package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/pricewatch/internal/metrics"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/notify"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// ExecutorService は個別配信の実行インターフェース。
type ExecutorService interface {
	// ProcessDelivery は配信を1回試行し、結果を永続化する。
	ProcessDelivery(ctx context.Context, delivery *model.NotificationDelivery) (bool, error)
}

// Scheduler は配信実行のスケジューリングと並列制御を行う。
// ティッカーで実行対象の配信レコードを取得し、semaphoreパターンで
// 最大並列数を制御しながら配信を実行する。
type Scheduler struct {
	notifications  repository.NotificationRepository
	executor       ExecutorService
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
	batchSize      int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10、
// batchSizeが0以下の場合はデフォルト値100を使用する。
// collectorはnil可（メトリクスを記録しない）。
func NewScheduler(
	notifications repository.NotificationRepository,
	executor ExecutorService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
	batchSize int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		notifications:  notifications,
		executor:       executor,
		metrics:        collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		batchSize:      batchSize,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("配信スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
		slog.Int("batch_size", s.batchSize),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("配信サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("配信スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("配信サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は実行対象の配信レコードを1回取得し、並列で配信を実行する。
// semaphoreパターンで最大並列数を制御する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	// 実行対象の配信レコードを取得（FOR UPDATE SKIP LOCKED）
	deliveries, err := s.notifications.ListDueDeliveries(ctx, s.batchSize)
	if err != nil {
		return err
	}

	if len(deliveries) == 0 {
		return nil
	}

	s.logger.Info("配信サイクルを開始します",
		slog.Int("delivery_count", len(deliveries)),
	)

	var sent, failed int64
	var mu sync.Mutex

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, delivery := range deliveries {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(d *model.NotificationDelivery) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			ok, err := s.executor.ProcessDelivery(ctx, d)
			if err != nil {
				s.logger.Error("配信の実行に失敗しました",
					slog.String("delivery_id", d.ID),
					slog.String("channel_type", string(d.ChannelType)),
					slog.String("error", err.Error()),
				)
			}
			if s.metrics != nil {
				s.metrics.RecordDeliveryResult(string(d.ChannelType), ok)
			}
			mu.Lock()
			if ok {
				sent++
			} else {
				failed++
			}
			mu.Unlock()
		}(delivery)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("配信サイクルが完了しました",
		slog.Int("delivery_count", len(deliveries)),
		slog.Int64("sent", sent),
		slog.Int64("failed", failed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// compile-time interface check
var _ ExecutorService = (*notify.DeliveryExecutor)(nil)

package crawl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// CrawlerService はソースクロールの実行インターフェース。
type CrawlerService interface {
	// Crawl は指定ソースをクロールし、結果に応じてソース状態を更新する。
	Crawl(ctx context.Context, source *model.CompetitorSource) error
}

// Scheduler はソースクロールのスケジューリングと並列制御を行う。
// ティッカーでクロール対象ソースを取得し、semaphoreパターンで
// 最大並列数を制御しながらクロールを実行する。
type Scheduler struct {
	sourceRepo     repository.SourceRepository
	crawler        CrawlerService
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(
	sourceRepo repository.SourceRepository,
	crawler CrawlerService,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sourceRepo:     sourceRepo,
		crawler:        crawler,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("クロールスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("クロールサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("クロールスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("クロールサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はクロール対象ソースを1回取得し、並列でクロールを実行する。
// semaphoreパターンで最大並列数を制御する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	// クロール対象ソースを取得（FOR UPDATE SKIP LOCKED）
	sources, err := s.sourceRepo.ListDueForCrawl(ctx)
	if err != nil {
		return err
	}

	if len(sources) == 0 {
		s.logger.Info("クロール対象のソースはありません")
		return nil
	}

	s.logger.Info("クロールサイクルを開始します",
		slog.Int("source_count", len(sources)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, source := range sources {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(src *model.CompetitorSource) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := s.crawler.Crawl(ctx, src); err != nil {
				s.logger.Error("ソースのクロールに失敗しました",
					slog.String("source_id", src.ID),
					slog.String("source_url", src.SourceURL),
					slog.String("error", err.Error()),
				)
			}
		}(source)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("クロールサイクルが完了しました",
		slog.Int("source_count", len(sources)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// compile-time interface check
var _ CrawlerService = (*Crawler)(nil)

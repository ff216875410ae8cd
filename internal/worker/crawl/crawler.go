// Package crawl は監視ソースのバックグラウンドクロール処理を提供する。
// スケジューラ、クローラー、リトライ/バックオフ戦略を含む。
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/pricewatch/internal/fetch"
	"github.com/hitoshi/pricewatch/internal/metrics"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// PageFetcherService はページフェッチの実行インターフェース。
type PageFetcherService interface {
	FetchPage(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// ContentIngestor は取得済みコンテンツの取り込みインターフェース。
// ソース種別ごとに実装を登録する（料金ページ、ニュースフィード）。
type ContentIngestor interface {
	IngestContent(ctx context.Context, source *model.CompetitorSource, body string) error
}

// Crawler は個別ソースのフェッチと取り込みを行い、
// 結果に応じてソースのクロール状態を更新する。
// ソース種別の追加はingestorsテーブルへのエントリ追加で完結する。
type Crawler struct {
	sourceRepo    repository.SourceRepository
	fetcher       PageFetcherService
	ingestors     map[model.SourceType]ContentIngestor
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	crawlInterval time.Duration
	// intervals はソース種別ごとの再クロール間隔の上書きテーブル。
	intervals map[model.SourceType]time.Duration
}

// NewCrawler はCrawlerの新しいインスタンスを生成する。
// collectorはnil可（メトリクスを記録しない）。
func NewCrawler(
	sourceRepo repository.SourceRepository,
	fetcher PageFetcherService,
	ingestors map[model.SourceType]ContentIngestor,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	crawlInterval time.Duration,
) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		sourceRepo:    sourceRepo,
		fetcher:       fetcher,
		ingestors:     ingestors,
		metrics:       collector,
		logger:        logger,
		crawlInterval: crawlInterval,
		intervals:     make(map[model.SourceType]time.Duration),
	}
}

// SetSourceInterval はソース種別ごとの再クロール間隔を設定する。
// ニュースフィードを料金ページより高頻度で巡回する場合などに使う。
// 未設定の種別にはデフォルトのクロール間隔を使う。
func (c *Crawler) SetSourceInterval(sourceType model.SourceType, interval time.Duration) {
	c.intervals[sourceType] = interval
}

// intervalFor はソース種別に対応する再クロール間隔を返す。
func (c *Crawler) intervalFor(sourceType model.SourceType) time.Duration {
	if d, ok := c.intervals[sourceType]; ok && d > 0 {
		return d
	}
	return c.crawlInterval
}

// Crawl はソースを1回クロールし、結果に応じてソース状態を更新する。
func (c *Crawler) Crawl(ctx context.Context, source *model.CompetitorSource) error {
	start := time.Now()

	ingestor, ok := c.ingestors[source.SourceType]
	if !ok {
		reason := fmt.Sprintf("未対応のソース種別です: %s", source.SourceType)
		c.logger.Warn("ソースのクロールを停止します",
			slog.String("source_id", source.ID),
			slog.String("reason", reason),
		)
		ApplyStop(source, reason)
		return c.sourceRepo.UpdateCrawlState(ctx, source)
	}

	page, err := c.fetcher.FetchPage(ctx, source.SourceURL)
	if err != nil {
		c.logger.Error("ページ取得に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("source_url", source.SourceURL),
			slog.String("error", err.Error()),
		)
		if c.metrics != nil {
			c.metrics.RecordCrawlFailure(source.ID, "fetch_error")
		}
		ApplyBackoff(source, fmt.Sprintf("ページ取得失敗: %s", err.Error()))
		if updateErr := c.sourceRepo.UpdateCrawlState(ctx, source); updateErr != nil {
			c.logger.Error("ソース状態の更新に失敗しました",
				slog.String("source_id", source.ID),
				slog.String("error", updateErr.Error()),
			)
		}
		return fmt.Errorf("ページ取得失敗: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordHTTPStatus(page.StatusCode)
	}

	switch page.Result {
	case fetch.ResultStop:
		// 404/410/401/403: クロール停止
		reason := fmt.Sprintf("HTTPステータス %d によりクロールを停止しました", page.StatusCode)
		c.logger.Warn("ソースのクロールを停止します",
			slog.String("source_id", source.ID),
			slog.String("source_url", source.SourceURL),
			slog.Int("http_status", page.StatusCode),
		)
		ApplyStop(source, reason)
		return c.sourceRepo.UpdateCrawlState(ctx, source)

	case fetch.ResultBackoff:
		// 429/5xx: バックオフ
		reason := fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", page.StatusCode)
		c.logger.Warn("ソースのクロールにバックオフを適用します",
			slog.String("source_id", source.ID),
			slog.String("source_url", source.SourceURL),
			slog.Int("http_status", page.StatusCode),
			slog.Int("consecutive_errors", source.ConsecutiveErrors+1),
		)
		ApplyBackoff(source, reason)
		return c.sourceRepo.UpdateCrawlState(ctx, source)
	}

	if err := ingestor.IngestContent(ctx, source, page.Body); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeParseFailed {
			// パース失敗はソース設定の問題。バックオフせず失敗回数のみ数える。
			c.logger.Error("コンテンツのパースに失敗しました",
				slog.String("source_id", source.ID),
				slog.String("source_url", source.SourceURL),
				slog.String("error", err.Error()),
			)
			if c.metrics != nil {
				c.metrics.RecordParseFailure(source.ID)
			}
			ApplyParseFailure(source, apiErr.Message, c.intervalFor(source.SourceType))
			if updateErr := c.sourceRepo.UpdateCrawlState(ctx, source); updateErr != nil {
				c.logger.Error("ソース状態の更新に失敗しました",
					slog.String("source_id", source.ID),
					slog.String("error", updateErr.Error()),
				)
			}
			return nil // パース失敗はクロールエラーとしない（カウントして継続）
		}

		c.logger.Error("コンテンツの取り込みに失敗しました",
			slog.String("source_id", source.ID),
			slog.String("source_url", source.SourceURL),
			slog.String("error", err.Error()),
		)
		if c.metrics != nil {
			c.metrics.RecordCrawlFailure(source.ID, "ingest_error")
		}
		ApplyBackoff(source, fmt.Sprintf("取り込み失敗: %s", err.Error()))
		if updateErr := c.sourceRepo.UpdateCrawlState(ctx, source); updateErr != nil {
			c.logger.Error("ソース状態の更新に失敗しました",
				slog.String("source_id", source.ID),
				slog.String("error", updateErr.Error()),
			)
		}
		return err
	}

	ApplySuccess(source, c.intervalFor(source.SourceType))
	if err := c.sourceRepo.UpdateCrawlState(ctx, source); err != nil {
		return fmt.Errorf("ソース状態の更新に失敗: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordCrawlSuccess(source.ID)
		c.metrics.RecordCrawlLatency(time.Since(start))
	}

	c.logger.Info("ソースのクロールが完了しました",
		slog.String("source_id", source.ID),
		slog.String("source_url", source.SourceURL),
		slog.Int("http_status", page.StatusCode),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

package crawl

import (
	"context"

	"github.com/hitoshi/pricewatch/internal/metrics"
	"github.com/hitoshi/pricewatch/internal/model"
)

// PricingChangeService は料金ページ取り込みサービスのインターフェース。
type PricingChangeService interface {
	IngestPricingPage(ctx context.Context, companyID, sourceURL, html string, sourceType model.SourceType) (*model.CompetitorChangeEvent, error)
}

// PricingIngestor は料金ページソースをChangeServiceの取り込みサイクルに接続する。
type PricingIngestor struct {
	service PricingChangeService
	metrics metrics.MetricsCollector
}

// NewPricingIngestor はPricingIngestorの新しいインスタンスを生成する。
// collectorはnil可（メトリクスを記録しない）。
func NewPricingIngestor(service PricingChangeService, collector metrics.MetricsCollector) *PricingIngestor {
	return &PricingIngestor{service: service, metrics: collector}
}

// IngestContent は取得済みHTMLを変更検知サイクルに渡す。
func (p *PricingIngestor) IngestContent(ctx context.Context, source *model.CompetitorSource, body string) error {
	event, err := p.service.IngestPricingPage(ctx, source.CompanyID, source.SourceURL, body, source.SourceType)
	if err != nil {
		return err
	}
	if p.metrics != nil && event != nil && event.ProcessingStatus == model.ProcessingStatusSuccess {
		p.metrics.RecordChangesDetected(1)
	}
	return nil
}

var _ ContentIngestor = (*PricingIngestor)(nil)

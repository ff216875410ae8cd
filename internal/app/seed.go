package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pricewatch/internal/config"
	"github.com/hitoshi/pricewatch/internal/ingest"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// seedSources はYAMLカタログの監視対象ソースをデータベースへシードする。
// 企業は名前で、ソースは正規化URLで同一性を判定し、既存エントリはそのまま残す
// （再起動のたびに実行しても安全な冪等操作）。
func seedSources(
	ctx context.Context,
	catalog *config.SourceCatalog,
	companies repository.CompanyRepository,
	sources repository.SourceRepository,
	logger *slog.Logger,
) error {
	if logger == nil {
		logger = slog.Default()
	}
	if len(catalog.Sources) == 0 {
		return nil
	}

	seeded := 0
	for _, entry := range catalog.Sources {
		sourceType := model.SourceTypePricing
		if entry.Type != "" {
			sourceType = model.SourceType(entry.Type)
			if !sourceType.Valid() {
				logger.Warn("未知のソース種別のためエントリをスキップします",
					slog.String("company", entry.Company),
					slog.String("type", entry.Type),
				)
				continue
			}
		}

		company, err := companies.FindByName(ctx, entry.Company)
		if err != nil {
			return fmt.Errorf("企業の検索に失敗: %w", err)
		}
		if company == nil {
			company = &model.Company{
				ID:        uuid.NewString(),
				Name:      entry.Company,
				CreatedAt: time.Now().UTC(),
			}
			if err := companies.Create(ctx, company); err != nil {
				return fmt.Errorf("企業の作成に失敗: %w", err)
			}
		}

		normalized := ingest.NormalizeSourceURL(entry.URL)
		existing, err := sources.FindBySourceURL(ctx, normalized)
		if err != nil {
			return fmt.Errorf("ソースの検索に失敗: %w", err)
		}
		if existing != nil {
			continue
		}

		now := time.Now().UTC()
		source := &model.CompetitorSource{
			ID:          uuid.NewString(),
			CompanyID:   company.ID,
			SourceURL:   normalized,
			SourceType:  sourceType,
			CrawlStatus: model.CrawlStatusActive,
			NextCrawlAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := sources.Create(ctx, source); err != nil {
			return fmt.Errorf("ソースの作成に失敗: %w", err)
		}
		seeded++
	}

	logger.Info("ソースカタログをシードしました",
		slog.Int("catalog_entries", len(catalog.Sources)),
		slog.Int("seeded", seeded),
	)
	return nil
}

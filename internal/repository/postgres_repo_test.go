package repository

import (
	"testing"
	"time"

	"github.com/hitoshi/pricewatch/internal/model"
)

// 各Postgresリポジトリがインターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ CompanyRepository = (*PostgresCompanyRepo)(nil)
	var _ SourceRepository = (*PostgresSourceRepo)(nil)
	var _ SnapshotRepository = (*PostgresSnapshotRepo)(nil)
	var _ ChangeEventRepository = (*PostgresEventRepo)(nil)
	var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
	var _ SubscriberRepository = (*PostgresSubscriberRepo)(nil)
	var _ NewsRepository = (*PostgresNewsRepo)(nil)
}

// nullStringの変換を検証
func TestNullString(t *testing.T) {
	if ns := nullString(""); ns.Valid {
		t.Error("空文字列はNULLに変換されるべき")
	}
	if ns := nullString("value"); !ns.Valid || ns.String != "value" {
		t.Errorf("非空文字列は有効なNullStringに変換されるべき: %+v", ns)
	}
}

// keywordsOrEmptyがnilスライスを空配列に正規化することを検証
func TestKeywordsOrEmpty(t *testing.T) {
	got := keywordsOrEmpty(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("keywordsOrEmpty(nil) = %v, want empty slice", got)
	}

	keywords := []string{"値上げ", "新プラン"}
	if got := keywordsOrEmpty(keywords); len(got) != 2 {
		t.Errorf("非nilスライスはそのまま返すべき: %v", got)
	}
}

// CompetitorSourceモデルのフィールドが正しく構築されることを検証
func TestPostgresSourceRepo_SourceModel_Fields(t *testing.T) {
	now := time.Now()
	source := &model.CompetitorSource{
		ID:          "source-id-1",
		CompanyID:   "company-id-1",
		SourceURL:   "https://example.com/pricing",
		SourceType:  model.SourceTypePricing,
		CrawlStatus: model.CrawlStatusActive,
		NextCrawlAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if source.SourceType != model.SourceTypePricing {
		t.Errorf("source.SourceType = %q, want %q", source.SourceType, model.SourceTypePricing)
	}
	if source.CrawlStatus != model.CrawlStatusActive {
		t.Errorf("source.CrawlStatus = %q, want %q", source.CrawlStatus, model.CrawlStatusActive)
	}
}

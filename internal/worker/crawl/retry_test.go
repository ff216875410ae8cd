package crawl

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/pricewatch/internal/model"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name              string
		consecutiveErrors int
		want              time.Duration
	}{
		{"初回エラー", 0, 30 * time.Minute},
		{"2回目", 1, 1 * time.Hour},
		{"3回目", 2, 2 * time.Hour},
		{"4回目", 3, 4 * time.Hour},
		{"5回目", 4, 8 * time.Hour},
		{"上限到達", 5, 12 * time.Hour},
		{"上限超過", 10, 12 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateBackoff(tt.consecutiveErrors); got != tt.want {
				t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.consecutiveErrors, got, tt.want)
			}
		})
	}
}

func activeSource() *model.CompetitorSource {
	return &model.CompetitorSource{
		ID:          "source-1",
		CompanyID:   "company-1",
		SourceURL:   "https://example.com/pricing",
		SourceType:  model.SourceTypePricing,
		CrawlStatus: model.CrawlStatusActive,
	}
}

func TestApplyBackoff(t *testing.T) {
	source := activeSource()

	ApplyBackoff(source, "HTTPステータス 503")

	if source.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", source.ConsecutiveErrors)
	}
	if source.CrawlStatus != model.CrawlStatusActive {
		t.Errorf("バックオフでは停止しないべき: %q", source.CrawlStatus)
	}
	wantAround := time.Now().Add(30 * time.Minute)
	if diff := source.NextCrawlAt.Sub(wantAround); diff < -5*time.Second || diff > 5*time.Second {
		t.Errorf("next_crawl_atは約30分後であるべき: %v", source.NextCrawlAt)
	}

	ApplyBackoff(source, "HTTPステータス 503")

	if source.ConsecutiveErrors != 2 {
		t.Errorf("ConsecutiveErrors = %d, want 2", source.ConsecutiveErrors)
	}
	wantAround = time.Now().Add(1 * time.Hour)
	if diff := source.NextCrawlAt.Sub(wantAround); diff < -5*time.Second || diff > 5*time.Second {
		t.Errorf("2回目のnext_crawl_atは約1時間後であるべき: %v", source.NextCrawlAt)
	}
}

func TestApplySuccess(t *testing.T) {
	source := activeSource()
	source.ConsecutiveErrors = 3
	source.ErrorMessage = "過去のエラー"

	ApplySuccess(source, 1*time.Hour)

	if source.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", source.ConsecutiveErrors)
	}
	if source.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", source.ErrorMessage)
	}
	wantAround := time.Now().Add(1 * time.Hour)
	if diff := source.NextCrawlAt.Sub(wantAround); diff < -5*time.Second || diff > 5*time.Second {
		t.Errorf("next_crawl_atは通常間隔後であるべき: %v", source.NextCrawlAt)
	}
}

func TestApplyStop(t *testing.T) {
	source := activeSource()

	ApplyStop(source, "HTTPステータス 404 によりクロールを停止しました")

	if source.CrawlStatus != model.CrawlStatusStopped {
		t.Errorf("CrawlStatus = %q, want stopped", source.CrawlStatus)
	}
	if source.ErrorMessage == "" {
		t.Error("停止理由が記録されるべき")
	}
}

func TestApplyParseFailure_BelowThreshold(t *testing.T) {
	source := activeSource()
	source.ConsecutiveErrors = 3

	ApplyParseFailure(source, "プランを抽出できませんでした", 1*time.Hour)

	if source.ConsecutiveErrors != 4 {
		t.Errorf("ConsecutiveErrors = %d, want 4", source.ConsecutiveErrors)
	}
	if source.CrawlStatus == model.CrawlStatusStopped {
		t.Error("閾値未満では停止しないべき")
	}
	// パース失敗は自動リトライで回復しないため通常間隔のまま
	wantAround := time.Now().Add(1 * time.Hour)
	if diff := source.NextCrawlAt.Sub(wantAround); diff < -5*time.Second || diff > 5*time.Second {
		t.Errorf("next_crawl_atは通常間隔後であるべき: %v", source.NextCrawlAt)
	}
}

func TestApplyParseFailure_ThresholdStops(t *testing.T) {
	source := activeSource()
	source.ConsecutiveErrors = 9

	ApplyParseFailure(source, "プランを抽出できませんでした", 1*time.Hour)

	if source.ConsecutiveErrors != 10 {
		t.Errorf("ConsecutiveErrors = %d, want 10", source.ConsecutiveErrors)
	}
	if source.CrawlStatus != model.CrawlStatusStopped {
		t.Errorf("10回連続のパース失敗で停止すべき: %q", source.CrawlStatus)
	}
	if !strings.Contains(source.ErrorMessage, "10回") {
		t.Errorf("停止理由に失敗回数が含まれるべき: %q", source.ErrorMessage)
	}
}

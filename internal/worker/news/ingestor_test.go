package news

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/nlp"
	"github.com/hitoshi/pricewatch/internal/security"
)

// --- ニュース取り込みテスト用モック ---

// mockNewsRepo はテスト用のNewsRepositoryモック。
type mockNewsRepo struct {
	existing *model.NewsItem
	created  []*model.NewsItem
	updated  []*model.NewsItem
}

func (m *mockNewsRepo) FindExisting(_ context.Context, _, guidOrID, link, contentHash string) (*model.NewsItem, error) {
	if m.existing == nil {
		return nil, nil
	}
	if guidOrID != "" && m.existing.GuidOrID == guidOrID {
		return m.existing, nil
	}
	if link != "" && m.existing.Link == link {
		return m.existing, nil
	}
	if contentHash != "" && m.existing.ContentHash == contentHash {
		return m.existing, nil
	}
	return nil, nil
}

func (m *mockNewsRepo) Create(_ context.Context, item *model.NewsItem) error {
	m.created = append(m.created, item)
	return nil
}

func (m *mockNewsRepo) Update(_ context.Context, item *model.NewsItem) error {
	m.updated = append(m.updated, item)
	return nil
}

// mockNotifier はテスト用のNotificationServiceモック。
type mockNotifier struct {
	notifications []*model.NotificationEvent
}

func (m *mockNotifier) DispatchNotification(_ context.Context, notification *model.NotificationEvent) (int, error) {
	m.notifications = append(m.notifications, notification)
	return 1, nil
}

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Acme Blog</title>
<item>
<title>Acme announces new pricing</title>
<link>https://acme.example.com/blog/pricing</link>
<guid>acme-pricing-2026</guid>
<description>We are introducing a discount for annual plans.</description>
<pubDate>Mon, 24 Aug 2026 10:00:00 GMT</pubDate>
</item>
<item>
<title>Weekly changelog</title>
<link>https://acme.example.com/blog/changelog</link>
<guid>acme-changelog-34</guid>
<description>&lt;script&gt;alert(1)&lt;/script&gt;Minor fixes this week.</description>
</item>
</channel>
</rss>`

func newsSource() *model.CompetitorSource {
	return &model.CompetitorSource{
		ID:          "source-1",
		CompanyID:   "company-1",
		SourceURL:   "https://acme.example.com/blog/feed.xml",
		SourceType:  model.SourceTypeNewsSite,
		CrawlStatus: model.CrawlStatusActive,
	}
}

func newTestIngestor(repo *mockNewsRepo, notifier *mockNotifier) *Ingestor {
	return NewIngestor(repo, security.NewContentSanitizer(), nlp.NewHeuristicEnricher(nil), notifier, nil)
}

func TestIngestContent_InsertsNewArticles(t *testing.T) {
	repo := &mockNewsRepo{}
	notifier := &mockNotifier{}
	ingestor := newTestIngestor(repo, notifier)

	if err := ingestor.IngestContent(context.Background(), newsSource(), rssBody); err != nil {
		t.Fatalf("IngestContent: %v", err)
	}

	if len(repo.created) != 2 {
		t.Fatalf("挿入数 = %d, want 2", len(repo.created))
	}

	first := repo.created[0]
	if first.GuidOrID != "acme-pricing-2026" {
		t.Errorf("GuidOrID = %q", first.GuidOrID)
	}
	if first.CompanyID != "company-1" {
		t.Errorf("CompanyID = %q", first.CompanyID)
	}
	if first.PublishedAt == nil {
		t.Error("pubDateが設定されるべき")
	}
	if first.ContentHash == "" {
		t.Error("content_hashが計算されるべき")
	}
	if len(first.Keywords) == 0 {
		t.Error("pricing記事にはキーワードが付与されるべき")
	}
}

func TestIngestContent_KeywordHitQueuesHighPriorityNotification(t *testing.T) {
	repo := &mockNewsRepo{}
	notifier := &mockNotifier{}
	ingestor := newTestIngestor(repo, notifier)

	if err := ingestor.IngestContent(context.Background(), newsSource(), rssBody); err != nil {
		t.Fatal(err)
	}

	// pricing記事のみ通知される（changelog記事はウォッチリスト不一致）
	if len(notifier.notifications) != 1 {
		t.Fatalf("通知数 = %d, want 1", len(notifier.notifications))
	}

	notification := notifier.notifications[0]
	if notification.EventType != model.NotificationTypeNewsMention {
		t.Errorf("EventType = %q", notification.EventType)
	}
	if notification.Priority != model.PriorityHigh {
		t.Errorf("pricingキーワードは高優先であるべき: %v", notification.Priority)
	}
	if notification.DedupKey != "news_item:company-1:acme-pricing-2026" {
		t.Errorf("DedupKey = %q", notification.DedupKey)
	}
	if !strings.Contains(notification.Message, "https://acme.example.com/blog/pricing") {
		t.Errorf("本文に記事リンクが含まれるべき: %q", notification.Message)
	}
}

func TestIngestContent_ExistingArticleIsUpdatedWithoutNotification(t *testing.T) {
	repo := &mockNewsRepo{existing: &model.NewsItem{
		ID:       "news-1",
		GuidOrID: "acme-pricing-2026",
		Title:    "古いタイトル",
	}}
	notifier := &mockNotifier{}
	ingestor := newTestIngestor(repo, notifier)

	if err := ingestor.IngestContent(context.Background(), newsSource(), rssBody); err != nil {
		t.Fatal(err)
	}

	if len(repo.updated) != 1 {
		t.Fatalf("更新数 = %d, want 1", len(repo.updated))
	}
	if repo.updated[0].Title != "Acme announces new pricing" {
		t.Errorf("既存記事は上書き更新されるべき: %q", repo.updated[0].Title)
	}
	if len(repo.created) != 1 {
		t.Errorf("changelog記事のみ新規挿入されるべき: %d", len(repo.created))
	}

	// 再取り込みによる通知の多重発生を防ぐ
	for _, notification := range notifier.notifications {
		if strings.Contains(notification.DedupKey, "acme-pricing-2026") {
			t.Error("既存記事の再取り込みでは通知しないべき")
		}
	}
}

func TestIngestContent_SanitizesScriptTags(t *testing.T) {
	repo := &mockNewsRepo{}
	ingestor := newTestIngestor(repo, &mockNotifier{})

	if err := ingestor.IngestContent(context.Background(), newsSource(), rssBody); err != nil {
		t.Fatal(err)
	}

	changelog := repo.created[1]
	if strings.Contains(changelog.Content, "script") || strings.Contains(changelog.Content, "alert") {
		t.Errorf("scriptタグは除去されるべき: %q", changelog.Content)
	}
	if !strings.Contains(changelog.Content, "Minor fixes") {
		t.Errorf("本文テキストは保持されるべき: %q", changelog.Content)
	}
}

func TestIngestContent_InvalidFeedIsParseFailure(t *testing.T) {
	ingestor := newTestIngestor(&mockNewsRepo{}, &mockNotifier{})

	err := ingestor.IngestContent(context.Background(), newsSource(), "これはフィードではありません")
	if err == nil {
		t.Fatal("不正なフィードはエラーであるべき")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeParseFailed {
		t.Errorf("PARSE_FAILEDエラーであるべき: %v", err)
	}
}

func TestPriorityForMention(t *testing.T) {
	if got := priorityForMention(nlp.Enrichment{Keywords: []string{"pricing"}}); got != model.PriorityHigh {
		t.Errorf("アラートキーワードは高優先であるべき: %v", got)
	}
	if got := priorityForMention(nlp.Enrichment{Keywords: []string{"partnership"}, Sentiment: nlp.SentimentPositive}); got != model.PriorityNormal {
		t.Errorf("非アラートキーワードは通常優先であるべき: %v", got)
	}
	if got := priorityForMention(nlp.Enrichment{Keywords: []string{"partnership"}, Sentiment: nlp.SentimentNegative}); got != model.PriorityHigh {
		t.Errorf("ネガティブセンチメントは高優先であるべき: %v", got)
	}
}

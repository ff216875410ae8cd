// Package news は競合ニュースフィード（RSS/Atom）の取り込みを提供する。
// フィードのパース、3段階の同一性判定によるUPSERT、NLPエンリッチメント、
// キーワード一致時の通知キューイングを行う。
package news

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/nlp"
	"github.com/hitoshi/pricewatch/internal/repository"
	"github.com/hitoshi/pricewatch/internal/security"
	"github.com/hitoshi/pricewatch/internal/worker/crawl"
)

// NotificationService はニュース言及通知のディスパッチインターフェース。
type NotificationService interface {
	DispatchNotification(ctx context.Context, notification *model.NotificationEvent) (int, error)
}

// alertKeywords は高優先通知の対象となるキーワード。
var alertKeywords = map[string]bool{
	"pricing":        true,
	"price increase": true,
	"price cut":      true,
	"acquisition":    true,
	"acquired":       true,
	"funding":        true,
	"layoff":         true,
}

// Ingestor はニュースフィードの取り込みを行う。
// 3段階の同一性判定ロジックにより、重複登録を防ぎつつ既存記事の上書き更新を行う。
type Ingestor struct {
	newsRepo  repository.NewsRepository
	sanitizer security.ContentSanitizerService
	enricher  nlp.Enricher
	notifier  NotificationService
	logger    *slog.Logger
}

// NewIngestor はIngestorの新しいインスタンスを生成する。
func NewIngestor(
	newsRepo repository.NewsRepository,
	sanitizer security.ContentSanitizerService,
	enricher nlp.Enricher,
	notifier NotificationService,
	logger *slog.Logger,
) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		newsRepo:  newsRepo,
		sanitizer: sanitizer,
		enricher:  enricher,
		notifier:  notifier,
		logger:    logger,
	}
}

// parsedArticle はフィードから抽出した記事1件の中間表現。
type parsedArticle struct {
	GuidOrID    string
	Link        string
	Title       string
	Content     string
	Summary     string
	PublishedAt *time.Time
}

// IngestContent はフェッチ済みのフィード本文を取り込む。
// 同一性判定の優先順位: (company_id, guid_or_id) > (company_id, link) >
// hash(title + published + summary)。
func (n *Ingestor) IngestContent(ctx context.Context, source *model.CompetitorSource, body string) error {
	parser := gofeed.NewParser()
	parsedFeed, err := parser.ParseString(body)
	if err != nil {
		return model.NewParseFailedError(fmt.Sprintf("フィードのパースに失敗しました: %s", err.Error()))
	}

	articles := convertGofeedItems(parsedFeed.Items)

	var inserted, updated, notified int
	now := time.Now().UTC()

	for _, article := range articles {
		title := n.sanitizer.StripTags(article.Title)
		content := n.sanitizer.Sanitize(article.Content)
		summary := n.sanitizer.Sanitize(article.Summary)
		contentHash := computeContentHash(title, article.PublishedAt, summary)

		existing, err := n.newsRepo.FindExisting(ctx, source.CompanyID, article.GuidOrID, article.Link, contentHash)
		if err != nil {
			return fmt.Errorf("記事の同一性判定に失敗: %w", err)
		}

		enrichment, err := n.enricher.Enrich(ctx, title, content)
		if err != nil {
			// エンリッチメント失敗は取り込みを止めない
			n.logger.Warn("記事のエンリッチメントに失敗しました",
				slog.String("company_id", source.CompanyID),
				slog.String("link", article.Link),
				slog.String("error", err.Error()),
			)
			enrichment = nlp.Enrichment{Sentiment: nlp.SentimentNeutral}
		}

		if existing != nil {
			existing.GuidOrID = article.GuidOrID
			existing.Link = article.Link
			existing.Title = title
			existing.Content = content
			existing.Summary = summary
			existing.Sentiment = enrichment.Sentiment
			existing.Keywords = enrichment.Keywords
			existing.ContentHash = contentHash
			if article.PublishedAt != nil {
				existing.PublishedAt = article.PublishedAt
			}
			existing.UpdatedAt = now
			if err := n.newsRepo.Update(ctx, existing); err != nil {
				return fmt.Errorf("記事の更新に失敗: %w", err)
			}
			updated++
			continue
		}

		item := &model.NewsItem{
			ID:          uuid.NewString(),
			CompanyID:   source.CompanyID,
			GuidOrID:    article.GuidOrID,
			Link:        article.Link,
			Title:       title,
			Content:     content,
			Summary:     summary,
			Sentiment:   enrichment.Sentiment,
			Keywords:    enrichment.Keywords,
			ContentHash: contentHash,
			PublishedAt: article.PublishedAt,
			FetchedAt:   now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := n.newsRepo.Create(ctx, item); err != nil {
			return fmt.Errorf("記事の挿入に失敗: %w", err)
		}
		inserted++

		// ウォッチリストに一致した新規記事のみ通知する。
		// 既存記事の再取り込みで通知が多重発生するのを防ぐ。
		if len(enrichment.Keywords) > 0 {
			count, err := n.queueMentionNotification(ctx, source, item, enrichment)
			if err != nil {
				n.logger.Error("ニュース言及通知のディスパッチに失敗しました",
					slog.String("company_id", source.CompanyID),
					slog.String("news_item_id", item.ID),
					slog.String("error", err.Error()),
				)
			} else if count > 0 {
				notified++
			}
		}
	}

	n.logger.Info("ニュースフィードの取り込みが完了しました",
		slog.String("company_id", source.CompanyID),
		slog.String("source_url", source.SourceURL),
		slog.Int("items_total", len(articles)),
		slog.Int("items_inserted", inserted),
		slog.Int("items_updated", updated),
		slog.Int("items_notified", notified),
	)

	return nil
}

// queueMentionNotification はキーワード一致記事の通知をディスパッチする。
func (n *Ingestor) queueMentionNotification(ctx context.Context, source *model.CompetitorSource, item *model.NewsItem, enrichment nlp.Enrichment) (int, error) {
	notification := &model.NotificationEvent{
		ID:        uuid.NewString(),
		CompanyID: source.CompanyID,
		EventType: model.NotificationTypeNewsMention,
		Title:     "競合のニュース言及を検知しました",
		Message:   fmt.Sprintf("%s\n%s\nキーワード: %s", item.Title, item.Link, strings.Join(enrichment.Keywords, ", ")),
		Priority:  priorityForMention(enrichment),
		DedupKey:  "news_item:" + source.CompanyID + ":" + identityKey(item),
		CreatedAt: time.Now().UTC(),
	}
	return n.notifier.DispatchNotification(ctx, notification)
}

// priorityForMention はエンリッチメント結果から通知優先度を決定する。
// アラートキーワードに一致、またはネガティブなセンチメントは高優先とする。
func priorityForMention(enrichment nlp.Enrichment) model.NotificationPriority {
	for _, keyword := range enrichment.Keywords {
		if alertKeywords[strings.ToLower(keyword)] {
			return model.PriorityHigh
		}
	}
	if enrichment.Sentiment == nlp.SentimentNegative {
		return model.PriorityHigh
	}
	return model.PriorityNormal
}

// identityKey は記事の重複排除キーを同一性判定と同じ優先順で選ぶ。
func identityKey(item *model.NewsItem) string {
	if item.GuidOrID != "" {
		return item.GuidOrID
	}
	if item.Link != "" {
		return item.Link
	}
	return item.ContentHash
}

// convertGofeedItems はgofeedの記事を中間表現に変換する。
func convertGofeedItems(items []*gofeed.Item) []parsedArticle {
	articles := make([]parsedArticle, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		article := parsedArticle{
			GuidOrID: item.GUID,
			Link:     item.Link,
			Title:    item.Title,
			Content:  item.Content,
			Summary:  item.Description,
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			article.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			article.PublishedAt = &t
		}

		// Contentが空の場合はDescriptionを使用
		if article.Content == "" && item.Description != "" {
			article.Content = item.Description
		}

		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if article.Link == "" && article.GuidOrID != "" &&
			(strings.HasPrefix(article.GuidOrID, "http://") || strings.HasPrefix(article.GuidOrID, "https://")) {
			article.Link = article.GuidOrID
		}

		articles = append(articles, article)
	}

	return articles
}

// computeContentHash はtitle + published + summaryのSHA-256ハッシュを計算する。
// 同一性判定の第3優先手段として使用される。
func computeContentHash(title string, publishedAt *time.Time, summary string) string {
	pubStr := ""
	if publishedAt != nil {
		pubStr = publishedAt.UTC().Format(time.RFC3339)
	}
	data := fmt.Sprintf("%s|%s|%s", title, pubStr, summary)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// compile-time interface check
var _ crawl.ContentIngestor = (*Ingestor)(nil)

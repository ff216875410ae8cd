// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/pricewatch/internal/model"
)

// CompanyRepository は競合企業データの永続化インターフェース。
type CompanyRepository interface {
	// FindByID は指定IDの企業を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Company, error)

	// FindByName は企業名で企業を検索する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Company, error)

	// Create は企業を作成する。
	Create(ctx context.Context, company *model.Company) error
}

// SourceRepository は監視ソースデータの永続化インターフェース。
type SourceRepository interface {
	// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.CompetitorSource, error)

	// FindBySourceURL はソースURLでソースを検索する。見つからない場合はnilを返す。
	FindBySourceURL(ctx context.Context, sourceURL string) (*model.CompetitorSource, error)

	// Create はソースを作成する。
	Create(ctx context.Context, source *model.CompetitorSource) error

	// ListDueForCrawl はクロール対象のソースを取得する。
	// next_crawl_at <= now() かつ crawl_status = 'active' のソースを
	// FOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueForCrawl(ctx context.Context) ([]*model.CompetitorSource, error)

	// UpdateCrawlState はソースのクロール状態を更新する。
	// crawl_status、consecutive_errors、error_message、next_crawl_atを更新する。
	UpdateCrawlState(ctx context.Context, source *model.CompetitorSource) error
}

// SnapshotRepository は価格スナップショットの永続化インターフェース。
type SnapshotRepository interface {
	// FindLatest は(company, source_url)の直近スナップショットを取得する。
	// 見つからない場合はnilを返す（初回観測）。
	FindLatest(ctx context.Context, companyID, sourceURL string) (*model.PricingSnapshot, error)

	// ListRecent は(company, source_url)のスナップショットを新しい順に取得する。
	// 差分の再計算で直近2世代を参照するために使用する。
	ListRecent(ctx context.Context, companyID, sourceURL string, limit int) ([]*model.PricingSnapshot, error)

	// Create はスナップショットを作成する。
	Create(ctx context.Context, snapshot *model.PricingSnapshot) error
}

// EventListFilter は変更イベント一覧の絞り込み条件。
// ゼロ値のフィールドは条件に含めない。
type EventListFilter struct {
	CompanyID          string
	SourceURL          string
	ProcessingStatus   model.ProcessingStatus
	NotificationStatus model.NotificationStatus
	DetectedAfter      *time.Time
	Limit              int
}

// ChangeEventRepository は変更イベントの永続化インターフェース。
type ChangeEventRepository interface {
	// FindByID は指定IDの変更イベントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.CompetitorChangeEvent, error)

	// Create は変更イベントを作成する。
	Create(ctx context.Context, event *model.CompetitorChangeEvent) error

	// UpdateStatus はイベントの処理状態と通知状態を更新する。
	// detected_atは更新しない。
	UpdateStatus(ctx context.Context, event *model.CompetitorChangeEvent) error

	// List はフィルタ条件に一致する変更イベントを新しい順に取得する。
	List(ctx context.Context, filter EventListFilter) ([]*model.CompetitorChangeEvent, error)
}

// NotificationRepository は通知イベントと配信レコードの永続化インターフェース。
type NotificationRepository interface {
	// CreateEvent は通知イベントを作成する。
	CreateEvent(ctx context.Context, event *model.NotificationEvent) error

	// FindEventByID は指定IDの通知イベントを取得する。見つからない場合はnilを返す。
	FindEventByID(ctx context.Context, id string) (*model.NotificationEvent, error)

	// CreateDeliveries は配信レコードをまとめて作成する。
	CreateDeliveries(ctx context.Context, deliveries []*model.NotificationDelivery) error

	// FindDeliveryByID は指定IDの配信レコードを取得する。見つからない場合はnilを返す。
	FindDeliveryByID(ctx context.Context, id string) (*model.NotificationDelivery, error)

	// ListDueDeliveries は実行対象の配信レコードを取得する。
	// status IN ('pending', 'retrying') かつ next_retry_atが未設定または到来済みの
	// レコードをFOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueDeliveries(ctx context.Context, limit int) ([]*model.NotificationDelivery, error)

	// UpdateDelivery は配信レコードの試行状態を更新する。
	UpdateDelivery(ctx context.Context, delivery *model.NotificationDelivery) error

	// ListDeliveriesByEventID は通知イベントに紐づく配信レコードを取得する。
	ListDeliveriesByEventID(ctx context.Context, eventID string) ([]*model.NotificationDelivery, error)
}

// SubscriberRepository は配信対象ユーザーの解決インターフェース。
type SubscriberRepository interface {
	// ResolveSubscribers は企業・通知種別・優先度に対する配信対象を解決する。
	// 通知が全体で有効、該当企業の該当種別をアクティブに購読中、
	// min_priority <= priority のユーザーと、その有効かつ検証済みチャネルを返す。
	// チャネルを1つも持たないユーザーは結果に含まれない。
	ResolveSubscribers(ctx context.Context, companyID string, eventType model.NotificationType, priority model.NotificationPriority) ([]*model.Subscriber, error)
}

// NewsRepository はニュース記事の永続化インターフェース。
type NewsRepository interface {
	// FindExisting は同一性判定の優先順（guid_or_id、link、content_hash）で
	// 既存記事を検索する。見つからない場合はnilを返す。
	FindExisting(ctx context.Context, companyID, guidOrID, link, contentHash string) (*model.NewsItem, error)

	// Create は記事を作成する。
	Create(ctx context.Context, item *model.NewsItem) error

	// Update は記事の内容とエンリッチメント結果を更新する。
	Update(ctx context.Context, item *model.NewsItem) error
}

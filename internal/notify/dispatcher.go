// Package notify は変更イベントの通知ディスパッチと配信実行を行う。
// ディスパッチャは配信対象の解決と配信レコードの作成まで、
// エグゼキュータはチャネル別トランスポートでの送信を担当する。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pricewatch/internal/cache"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// NotificationDispatcher は変更イベントを配信レコード群に展開する。
// 同一ユーザーの複数チャネルは1つのNotificationEventを共有し、
// 重複排除状態もイベント単位で共有される。
type NotificationDispatcher struct {
	subscribers   repository.SubscriberRepository
	notifications repository.NotificationRepository
	dedup         cache.TTLStore
	logger        *slog.Logger
	dedupTTL      time.Duration
	maxAttempts   int
}

// NewNotificationDispatcher はNotificationDispatcherの新しいインスタンスを生成する。
func NewNotificationDispatcher(
	subscribers repository.SubscriberRepository,
	notifications repository.NotificationRepository,
	dedup cache.TTLStore,
	logger *slog.Logger,
	dedupTTL time.Duration,
	maxAttempts int,
) *NotificationDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationDispatcher{
		subscribers:   subscribers,
		notifications: notifications,
		dedup:         dedup,
		logger:        logger,
		dedupTTL:      dedupTTL,
		maxAttempts:   maxAttempts,
	}
}

// DispatchChangeEvent は変更イベントの配信対象を解決し、配信レコードを作成する。
// 戻り値は作成した配信レコード数。
// 対象ユーザーが0人の場合はnotification_status=skippedで0を返す。
// それ以外はsent（「配信のために展開済み」の意味。トランスポートでの
// 送達確認ではない）を設定する。
func (d *NotificationDispatcher) DispatchChangeEvent(ctx context.Context, event *model.CompetitorChangeEvent) (int, error) {
	priority := priorityForChange(event)

	subscribers, err := d.subscribers.ResolveSubscribers(ctx, event.CompanyID, model.NotificationTypePricingChange, priority)
	if err != nil {
		return 0, fmt.Errorf("配信対象の解決に失敗: %w", err)
	}

	if len(subscribers) == 0 {
		event.NotificationStatus = model.NotificationStatusSkipped
		d.logger.Info("配信対象ユーザーがいないため通知をスキップします",
			slog.String("event_id", event.ID),
			slog.String("company_id", event.CompanyID),
		)
		return 0, nil
	}

	notification := &model.NotificationEvent{
		ID:        uuid.NewString(),
		CompanyID: event.CompanyID,
		EventType: model.NotificationTypePricingChange,
		Title:     "競合の料金変更を検知しました",
		Message:   event.ChangeSummary,
		Priority:  priority,
		// タスクリトライによる重複ディスパッチを同一変更イベント単位で畳む
		DedupKey:  "change_event:" + event.ID,
		CreatedAt: time.Now().UTC(),
	}

	queued, err := d.QueueEvent(ctx, notification)
	if err != nil {
		return 0, err
	}
	if queued == nil {
		// TTL内に同一キーのイベントが作成済み。配信レコードも作成済みとみなす。
		event.NotificationStatus = model.NotificationStatusSent
		d.logger.Info("重複排除により通知イベントの作成をスキップしました",
			slog.String("event_id", event.ID),
			slog.String("dedup_key", notification.DedupKey),
		)
		return 0, nil
	}

	created, err := d.createDeliveries(ctx, queued, subscribers)
	if err != nil {
		return 0, err
	}

	event.NotificationStatus = model.NotificationStatusSent

	d.logger.Info("配信レコードを作成しました",
		slog.String("event_id", event.ID),
		slog.String("notification_id", queued.ID),
		slog.Int("subscribers", len(subscribers)),
		slog.Int("deliveries", created),
	)

	return created, nil
}

// DispatchNotification は通知意図の配信対象を解決し、配信レコードを作成する。
// 変更イベントを介さない通知（ニュース言及など）で使用する。
// 戻り値は作成した配信レコード数。対象ユーザーが0人、または重複排除で
// 抑止された場合は0を返す。
func (d *NotificationDispatcher) DispatchNotification(ctx context.Context, notification *model.NotificationEvent) (int, error) {
	subscribers, err := d.subscribers.ResolveSubscribers(ctx, notification.CompanyID, notification.EventType, notification.Priority)
	if err != nil {
		return 0, fmt.Errorf("配信対象の解決に失敗: %w", err)
	}

	if len(subscribers) == 0 {
		d.logger.Info("配信対象ユーザーがいないため通知をスキップします",
			slog.String("company_id", notification.CompanyID),
			slog.String("event_type", string(notification.EventType)),
		)
		return 0, nil
	}

	queued, err := d.QueueEvent(ctx, notification)
	if err != nil {
		return 0, err
	}
	if queued == nil {
		d.logger.Info("重複排除により通知イベントの作成をスキップしました",
			slog.String("dedup_key", notification.DedupKey),
		)
		return 0, nil
	}

	created, err := d.createDeliveries(ctx, queued, subscribers)
	if err != nil {
		return 0, err
	}

	d.logger.Info("配信レコードを作成しました",
		slog.String("notification_id", queued.ID),
		slog.Int("subscribers", len(subscribers)),
		slog.Int("deliveries", created),
	)

	return created, nil
}

// createDeliveries は配信対象の全チャネルに対するpending配信レコードを作成する。
func (d *NotificationDispatcher) createDeliveries(ctx context.Context, queued *model.NotificationEvent, subscribers []*model.Subscriber) (int, error) {
	now := time.Now().UTC()
	var deliveries []*model.NotificationDelivery
	for _, subscriber := range subscribers {
		for _, channel := range subscriber.Channels {
			deliveries = append(deliveries, &model.NotificationDelivery{
				ID:          uuid.NewString(),
				EventID:     queued.ID,
				UserID:      subscriber.User.ID,
				ChannelType: channel.ChannelType,
				Destination: channel.Destination,
				Status:      model.DeliveryStatusPending,
				Attempt:     0,
				MaxAttempts: d.maxAttempts,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
	}

	if err := d.notifications.CreateDeliveries(ctx, deliveries); err != nil {
		return 0, fmt.Errorf("配信レコードの作成に失敗: %w", err)
	}

	return len(deliveries), nil
}

// QueueEvent は通知イベントを重複排除付きで登録する。
// DedupKeyが設定され、TTL内に同一キーのイベントが既に存在する場合は
// 何もせずnilを返す（タスクリトライによる通知の多重発生を防ぐ）。
// 重複扱いはイベント行が実在する場合に限る。登録に失敗した場合は
// 確保済みの重複排除キーを戻し、リトライが抑止されないようにする。
func (d *NotificationDispatcher) QueueEvent(ctx context.Context, event *model.NotificationEvent) (*model.NotificationEvent, error) {
	if event.DedupKey != "" {
		firstSeen, err := d.dedup.SetIfAbsent(ctx, event.DedupKey, d.dedupTTL)
		if err != nil {
			return nil, fmt.Errorf("重複排除チェックに失敗: %w", err)
		}
		if !firstSeen {
			return nil, nil
		}
	}

	if err := d.notifications.CreateEvent(ctx, event); err != nil {
		if event.DedupKey != "" {
			if delErr := d.dedup.Delete(ctx, event.DedupKey); delErr != nil {
				d.logger.Warn("重複排除キーを戻せませんでした。TTLの間リトライが抑止されます",
					slog.String("dedup_key", event.DedupKey),
					slog.String("error", delErr.Error()),
				)
			}
		}
		return nil, fmt.Errorf("通知イベントの作成に失敗: %w", err)
	}
	return event, nil
}

// priorityForChange は差分内容から通知優先度を決定する。
// 価格フィールドの変化またはプランの追加・削除は高優先、
// 機能リストのみの変化は通常優先とする。
func priorityForChange(event *model.CompetitorChangeEvent) model.NotificationPriority {
	if event.RawDiff == nil {
		return model.PriorityNormal
	}
	if len(event.RawDiff.AddedPlans) > 0 || len(event.RawDiff.RemovedPlans) > 0 {
		return model.PriorityHigh
	}
	for _, change := range event.RawDiff.UpdatedPlans {
		if change.Field == "price" || change.Field == "currency" {
			return model.PriorityHigh
		}
	}
	return model.PriorityNormal
}

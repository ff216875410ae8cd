package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// Transport は1チャネルの送信処理のインターフェース。
// 成功時は応答メタデータを返す。失敗時のRetryHintは再試行方針を表し、
// 配信ワーカーがnext_retry_atの計算に使用する。
type Transport interface {
	Send(ctx context.Context, destination string, event *model.NotificationEvent) (map[string]any, model.RetryHint, error)
}

// DeliveryExecutor は配信レコード1件の送信試行を実行する。
// チャネル種別ごとのハンドラテーブルでディスパッチする。
// チャネルの追加はテーブルへのエントリ追加のみで完結する。
type DeliveryExecutor struct {
	notifications repository.NotificationRepository
	transports    map[model.ChannelType]Transport
	logger        *slog.Logger
}

// NewDeliveryExecutor はDeliveryExecutorの新しいインスタンスを生成する。
// telegram/webhook/emailの各トランスポートを登録する。
// Slack/ZapierのIncoming WebhookはWebhookトランスポートで送信する。
func NewDeliveryExecutor(
	notifications repository.NotificationRepository,
	telegram Transport,
	webhook Transport,
	email Transport,
	logger *slog.Logger,
) *DeliveryExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliveryExecutor{
		notifications: notifications,
		transports: map[model.ChannelType]Transport{
			model.ChannelTelegram: telegram,
			model.ChannelWebhook:  webhook,
			model.ChannelSlack:    webhook,
			model.ChannelZapier:   webhook,
			model.ChannelEmail:    email,
		},
		logger: logger,
	}
}

// ProcessDelivery は配信レコード1件の送信を試行し、結果を記録する。
// 戻り値は送信成功したかどうか。トランスポートのエラーは決して伝播させず、
// 失敗レコードとして記録して再試行スケジューラに委ねる。
// 状態遷移: pending → (sent | failed)、failed時はmax_attempts未到達なら
// retrying + next_retry_atを設定する。
func (e *DeliveryExecutor) ProcessDelivery(ctx context.Context, delivery *model.NotificationDelivery) (bool, error) {
	event, err := e.notifications.FindEventByID(ctx, delivery.EventID)
	if err != nil {
		return false, fmt.Errorf("通知イベントの取得に失敗: %w", err)
	}
	if event == nil {
		e.markFailed(delivery, "通知イベントが存在しません", model.NoRetry())
		return false, e.notifications.UpdateDelivery(ctx, delivery)
	}

	delivery.Attempt++

	transport, ok := e.transports[delivery.ChannelType]
	if !ok {
		e.markFailed(delivery, fmt.Sprintf("未対応のチャネル種別です: %s", delivery.ChannelType), model.NoRetry())
		return false, e.notifications.UpdateDelivery(ctx, delivery)
	}

	meta, hint, sendErr := e.send(ctx, transport, delivery.Destination, event)
	if sendErr != nil {
		e.logger.Warn("配信トランスポートが失敗しました",
			slog.String("delivery_id", delivery.ID),
			slog.String("channel", string(delivery.ChannelType)),
			slog.Int("attempt", delivery.Attempt),
			slog.String("error", sendErr.Error()),
		)
		e.markFailed(delivery, sendErr.Error(), hint)
		return false, e.notifications.UpdateDelivery(ctx, delivery)
	}

	delivery.Status = model.DeliveryStatusSent
	delivery.NextRetryAt = nil
	delivery.LastError = ""
	delivery.ResponseMeta = meta
	delivery.UpdatedAt = time.Now().UTC()

	e.logger.Info("配信が完了しました",
		slog.String("delivery_id", delivery.ID),
		slog.String("channel", string(delivery.ChannelType)),
		slog.Int("attempt", delivery.Attempt),
	)

	return true, e.notifications.UpdateDelivery(ctx, delivery)
}

// send はトランスポート呼び出しをパニックからも保護するラッパ。
func (e *DeliveryExecutor) send(ctx context.Context, transport Transport, destination string, event *model.NotificationEvent) (meta map[string]any, hint model.RetryHint, err error) {
	defer func() {
		if r := recover(); r != nil {
			meta = nil
			hint = model.RetryAfter(defaultRetrySeconds)
			err = fmt.Errorf("トランスポートがパニックしました: %v", r)
		}
	}()
	return transport.Send(ctx, destination, event)
}

// markFailed は失敗状態と次回試行を記録する。
// max_attempts到達またはNoRetryヒントの場合はfailedが終端となる。
func (e *DeliveryExecutor) markFailed(delivery *model.NotificationDelivery, errMsg string, hint model.RetryHint) {
	now := time.Now().UTC()
	delivery.LastError = errMsg
	delivery.UpdatedAt = now

	if hint.RetryInSeconds == nil || delivery.Attempt >= delivery.MaxAttempts {
		delivery.Status = model.DeliveryStatusFailed
		delivery.NextRetryAt = nil
		return
	}

	next := now.Add(time.Duration(*hint.RetryInSeconds) * time.Second)
	delivery.Status = model.DeliveryStatusRetrying
	delivery.NextRetryAt = &next
}

// defaultRetrySeconds はトランスポートがヒントを返さない場合の既定の再試行間隔。
const defaultRetrySeconds = 300

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
// 通知イベントと配信レコードの両方を扱う。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// CreateEvent は通知イベントを作成する。
func (r *PostgresNotificationRepo) CreateEvent(ctx context.Context, event *model.NotificationEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_events (id, company_id, event_type, title, message, priority, dedup_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, nullString(event.CompanyID), event.EventType, event.Title,
		event.Message, event.Priority, nullString(event.DedupKey), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("通知イベントの作成に失敗しました: %w", err)
	}
	return nil
}

// FindEventByID は指定IDの通知イベントを取得する。見つからない場合はnilを返す。
func (r *PostgresNotificationRepo) FindEventByID(ctx context.Context, id string) (*model.NotificationEvent, error) {
	event := &model.NotificationEvent{}
	var companyID, dedupKey sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, company_id, event_type, title, message, priority, dedup_key, created_at
		 FROM notification_events WHERE id = $1`,
		id,
	).Scan(&event.ID, &companyID, &event.EventType, &event.Title,
		&event.Message, &event.Priority, &dedupKey, &event.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("通知イベントの取得に失敗しました: %w", err)
	}

	event.CompanyID = nullStringValue(companyID)
	event.DedupKey = nullStringValue(dedupKey)
	return event, nil
}

const deliveryColumns = `id, event_id, user_id, channel_type, destination, status,
       attempt, max_attempts, next_retry_at, last_error, response_meta,
       created_at, updated_at`

// CreateDeliveries は配信レコードをまとめて作成する。
// 件数は購読者×チャネル程度なので1件ずつINSERTする。
func (r *PostgresNotificationRepo) CreateDeliveries(ctx context.Context, deliveries []*model.NotificationDelivery) error {
	for _, d := range deliveries {
		var metaJSON []byte
		if d.ResponseMeta != nil {
			var err error
			metaJSON, err = json.Marshal(d.ResponseMeta)
			if err != nil {
				return fmt.Errorf("response_metaのシリアライズに失敗しました: %w", err)
			}
		}

		_, err := r.db.ExecContext(ctx,
			`INSERT INTO notification_deliveries (id, event_id, user_id, channel_type, destination,
			                                      status, attempt, max_attempts, next_retry_at,
			                                      last_error, response_meta, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			d.ID, d.EventID, d.UserID, d.ChannelType, d.Destination,
			d.Status, d.Attempt, d.MaxAttempts, d.NextRetryAt,
			nullString(d.LastError), metaJSON, d.CreatedAt, d.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("配信レコードの作成に失敗しました: %w", err)
		}
	}
	return nil
}

// FindDeliveryByID は指定IDの配信レコードを取得する。見つからない場合はnilを返す。
func (r *PostgresNotificationRepo) FindDeliveryByID(ctx context.Context, id string) (*model.NotificationDelivery, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM notification_deliveries WHERE id = $1`,
		id,
	)

	delivery, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("配信レコードの取得に失敗しました: %w", err)
	}
	return delivery, nil
}

// ListDueDeliveries は実行対象の配信レコードを取得する。
// status IN ('pending', 'retrying') かつ next_retry_atが未設定または到来済みの
// レコードをFOR UPDATE SKIP LOCKEDで排他的に取得する。
func (r *PostgresNotificationRepo) ListDueDeliveries(ctx context.Context, limit int) ([]*model.NotificationDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+`
		 FROM notification_deliveries
		 WHERE status IN ('pending', 'retrying')
		   AND (next_retry_at IS NULL OR next_retry_at <= now())
		 ORDER BY created_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("実行対象配信の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var deliveries []*model.NotificationDelivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("実行対象配信の読み取りに失敗しました: %w", err)
		}
		deliveries = append(deliveries, delivery)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("実行対象配信の走査に失敗しました: %w", err)
	}

	return deliveries, nil
}

// UpdateDelivery は配信レコードの試行状態を更新する。
func (r *PostgresNotificationRepo) UpdateDelivery(ctx context.Context, delivery *model.NotificationDelivery) error {
	var metaJSON []byte
	if delivery.ResponseMeta != nil {
		var err error
		metaJSON, err = json.Marshal(delivery.ResponseMeta)
		if err != nil {
			return fmt.Errorf("response_metaのシリアライズに失敗しました: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE notification_deliveries SET
		    status = $2,
		    attempt = $3,
		    next_retry_at = $4,
		    last_error = $5,
		    response_meta = $6,
		    updated_at = now()
		 WHERE id = $1`,
		delivery.ID, delivery.Status, delivery.Attempt, delivery.NextRetryAt,
		nullString(delivery.LastError), metaJSON,
	)
	if err != nil {
		return fmt.Errorf("配信レコードの更新に失敗しました: %w", err)
	}
	return nil
}

// ListDeliveriesByEventID は通知イベントに紐づく配信レコードを取得する。
func (r *PostgresNotificationRepo) ListDeliveriesByEventID(ctx context.Context, eventID string) ([]*model.NotificationDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+`
		 FROM notification_deliveries
		 WHERE event_id = $1
		 ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("イベント配信一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var deliveries []*model.NotificationDelivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("イベント配信一覧の読み取りに失敗しました: %w", err)
		}
		deliveries = append(deliveries, delivery)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("イベント配信一覧の走査に失敗しました: %w", err)
	}

	return deliveries, nil
}

// scanDelivery は1行を配信レコードに復元する。
func scanDelivery(row rowScanner) (*model.NotificationDelivery, error) {
	delivery := &model.NotificationDelivery{}
	var nextRetryAt sql.NullTime
	var lastError sql.NullString
	var metaJSON []byte

	if err := row.Scan(
		&delivery.ID, &delivery.EventID, &delivery.UserID, &delivery.ChannelType,
		&delivery.Destination, &delivery.Status, &delivery.Attempt, &delivery.MaxAttempts,
		&nextRetryAt, &lastError, &metaJSON, &delivery.CreatedAt, &delivery.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		delivery.NextRetryAt = &t
	}
	delivery.LastError = nullStringValue(lastError)

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &delivery.ResponseMeta); err != nil {
			return nil, fmt.Errorf("response_metaの復元に失敗しました: %w", err)
		}
	}

	return delivery, nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)

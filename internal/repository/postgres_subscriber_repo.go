package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresSubscriberRepo はPostgreSQLを使用した配信対象解決リポジトリ。
type PostgresSubscriberRepo struct {
	db *sql.DB
}

// NewPostgresSubscriberRepo はPostgresSubscriberRepoを生成する。
func NewPostgresSubscriberRepo(db *sql.DB) *PostgresSubscriberRepo {
	return &PostgresSubscriberRepo{db: db}
}

// ResolveSubscribers は企業・通知種別・優先度に対する配信対象を解決する。
// 条件:
//   - users.notifications_enabled = TRUE
//   - users.min_priority <= priority
//   - 該当企業の該当種別のアクティブな購読が存在する
//   - 有効かつ検証済みのチャネルエンドポイントが1つ以上存在する
//
// ユーザーとチャネルのJOIN結果をユーザー単位に畳んで返す。
func (r *PostgresSubscriberRepo) ResolveSubscribers(
	ctx context.Context,
	companyID string,
	eventType model.NotificationType,
	priority model.NotificationPriority,
) ([]*model.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.notifications_enabled, u.min_priority, u.created_at,
		        e.id, e.channel_type, e.destination, e.enabled, e.verified, e.created_at
		 FROM users u
		 INNER JOIN company_subscriptions s
		         ON s.user_id = u.id
		        AND s.company_id = $1
		        AND s.event_type = $2
		        AND s.active = TRUE
		 INNER JOIN channel_endpoints e
		         ON e.user_id = u.id
		        AND e.enabled = TRUE
		        AND e.verified = TRUE
		 WHERE u.notifications_enabled = TRUE
		   AND u.min_priority <= $3
		 ORDER BY u.id, e.created_at ASC`,
		companyID, eventType, int(priority),
	)
	if err != nil {
		return nil, fmt.Errorf("配信対象の解決に失敗しました: %w", err)
	}
	defer rows.Close()

	var subscribers []*model.Subscriber
	var current *model.Subscriber

	for rows.Next() {
		var user model.User
		var endpoint model.ChannelEndpoint
		var minPriority int

		if err := rows.Scan(
			&user.ID, &user.Email, &user.NotificationsEnabled, &minPriority, &user.CreatedAt,
			&endpoint.ID, &endpoint.ChannelType, &endpoint.Destination,
			&endpoint.Enabled, &endpoint.Verified, &endpoint.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("配信対象の読み取りに失敗しました: %w", err)
		}
		user.MinPriority = model.NotificationPriority(minPriority)
		endpoint.UserID = user.ID

		if current == nil || current.User.ID != user.ID {
			current = &model.Subscriber{User: user}
			subscribers = append(subscribers, current)
		}
		current.Channels = append(current.Channels, endpoint)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("配信対象の走査に失敗しました: %w", err)
	}

	return subscribers, nil
}

// compile-time interface check
var _ SubscriberRepository = (*PostgresSubscriberRepo)(nil)

package model

import "time"

// ChannelType は通知配信チャネルの種別を表す。
// チャネル追加はバリアント1つとハンドラ1つの追加で完結する（ディスパッチロジックは不変）。
type ChannelType string

const (
	// ChannelTelegram はTelegramダイレクトメッセージ。
	ChannelTelegram ChannelType = "telegram"
	// ChannelWebhook は汎用Webhook POST。Slack/Zapierも同一ハンドラを使う。
	ChannelWebhook ChannelType = "webhook"
	// ChannelSlack はSlack Incoming Webhook。
	ChannelSlack ChannelType = "slack"
	// ChannelZapier はZapier Webhook。
	ChannelZapier ChannelType = "zapier"
	// ChannelEmail はトランザクショナルメール。
	ChannelEmail ChannelType = "email"
)

// DeliveryStatus は1配信試行の状態を表す。
// 遷移: pending → (sent | failed)、failed → retrying → (sent | failed)、
// cancelled は管理操作でのみ到達する終端状態。
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusCancelled DeliveryStatus = "cancelled"
	DeliveryStatusRetrying  DeliveryStatus = "retrying"
)

// NotificationPriority は通知の優先度を表す。数値が大きいほど高優先。
type NotificationPriority int

const (
	PriorityLow      NotificationPriority = 1
	PriorityNormal   NotificationPriority = 2
	PriorityHigh     NotificationPriority = 3
	PriorityCritical NotificationPriority = 4
)

// NotificationType は購読対象の通知種別を表す。
type NotificationType string

const (
	// NotificationTypePricingChange は料金変更通知。
	NotificationTypePricingChange NotificationType = "pricing_change"
	// NotificationTypeNewsMention はニュース言及通知。
	NotificationTypeNewsMention NotificationType = "news_mention"
)

// NotificationEvent は「このユーザー群にXを伝えるべき」という通知意図を表す。
// DedupKeyが同一のイベントはTTL内で1つに畳まれる。
type NotificationEvent struct {
	ID        string
	CompanyID string
	EventType NotificationType
	Title     string
	Message   string
	Priority  NotificationPriority
	// DedupKey は重複排除キー。空文字列は重複排除なし。
	DedupKey  string
	CreatedAt time.Time
}

// NotificationDelivery は1チャネル経由の1配信試行を表す。
// Attempt は MaxAttempts を超えない。上限到達後は failed が終端となる。
type NotificationDelivery struct {
	ID          string
	EventID     string
	UserID      string
	ChannelType ChannelType
	// Destination はチャネル固有の宛先（chat_id、URL、メールアドレス）。
	Destination string
	Status      DeliveryStatus
	Attempt     int
	MaxAttempts int
	// NextRetryAt は次回試行予定時刻。
	NextRetryAt *time.Time
	// LastError は直近の失敗メッセージ。
	LastError string
	// ResponseMeta はトランスポート成功時の応答メタデータ。
	ResponseMeta map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RetryHint は配信失敗後の再試行方針を表す。
// タスク基盤（配信ワーカー）が解釈する明示的なリトライポリシーデータ。
type RetryHint struct {
	// RetryInSeconds は再試行までの秒数。nilは「再試行しない」
	// （認証情報欠落など、待っても回復しない失敗）。
	RetryInSeconds *int
}

// RetryAfter は指定秒数後の再試行を指示するヒントを返す。
func RetryAfter(seconds int) RetryHint {
	return RetryHint{RetryInSeconds: &seconds}
}

// NoRetry は再試行しないことを指示するヒントを返す。
func NoRetry() RetryHint {
	return RetryHint{}
}

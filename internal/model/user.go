package model

import "time"

// User は通知の受信者を表す。
// 認証・プロフィール管理は外部コラボレーターの責務であり、ここでは
// 通知解決に必要な属性のみを持つ。
type User struct {
	ID                   string
	Email                string
	NotificationsEnabled bool
	// MinPriority は通知の最低優先度フィルタ。
	// これ未満の優先度のイベントは配信対象にならない。
	MinPriority NotificationPriority
	CreatedAt   time.Time
}

// CompanySubscription はユーザーと競合企業の購読関係を表す。
type CompanySubscription struct {
	ID        string
	UserID    string
	CompanyID string
	// EventType は購読対象の通知種別。
	EventType NotificationType
	Active    bool
	CreatedAt time.Time
}

// ChannelEndpoint はユーザーの通知チャネル1つを表す。
// 有効かつ検証済みのエンドポイントのみが配信対象になる。
type ChannelEndpoint struct {
	ID          string
	UserID      string
	ChannelType ChannelType
	// Destination はチャネル固有の宛先（chat_id、URL、メールアドレス）。
	Destination string
	Enabled     bool
	Verified    bool
	CreatedAt   time.Time
}

// Subscriber は変更イベント1件に対する配信対象の解決結果を表す。
// 通知が全体で有効、該当企業を購読中、該当通知種別がアクティブ、
// 優先度フィルタを満たすユーザーと、その有効チャネル群。
type Subscriber struct {
	User     User
	Channels []ChannelEndpoint
}

package model

import "time"

// ProcessingStatus は変更検知サイクルの処理結果を表す。
type ProcessingStatus string

const (
	// ProcessingStatusPending は処理待ち。
	ProcessingStatusPending ProcessingStatus = "pending"
	// ProcessingStatusSuccess は差分を検出して処理が完了した状態。
	ProcessingStatusSuccess ProcessingStatus = "success"
	// ProcessingStatusSkipped は差分なしでスキップした状態。
	ProcessingStatusSkipped ProcessingStatus = "skipped"
	// ProcessingStatusFailed は処理失敗。
	ProcessingStatusFailed ProcessingStatus = "failed"
)

// NotificationStatus は変更イベントの通知ディスパッチ結果を表す。
type NotificationStatus string

const (
	// NotificationStatusPending は通知ディスパッチ待ち。
	NotificationStatusPending NotificationStatus = "pending"
	// NotificationStatusSent は配信レコードの作成が完了した状態。
	// トランスポートでの送達確認を意味しない。
	NotificationStatusSent NotificationStatus = "sent"
	// NotificationStatusSkipped は通知対象なしでスキップした状態。
	NotificationStatusSkipped NotificationStatus = "skipped"
	// NotificationStatusFailed は通知ディスパッチ失敗。
	NotificationStatusFailed NotificationStatus = "failed"
)

// FieldChange はプラン内の1フィールドの変化を表す。
type FieldChange struct {
	// Plan は変化したプラン名。
	Plan string `json:"plan"`
	// Field は変化したフィールド名（price, currency, billing_cycle, features）。
	Field string `json:"field"`
	// Previous は変更前の値。
	Previous any `json:"previous"`
	// Current は変更後の値。
	Current any `json:"current"`
}

// PlanDiff はプラン集合2つの構造化差分を表す。
type PlanDiff struct {
	// Type は差分ペイロードの種別。常に"pricing"。
	Type string `json:"type"`
	// AddedPlans は現スナップショットにのみ存在するプラン。
	AddedPlans []PricingPlan `json:"added_plans"`
	// RemovedPlans は前スナップショットにのみ存在するプラン。
	RemovedPlans []PricingPlan `json:"removed_plans"`
	// UpdatedPlans はフィールド単位の変化エントリ。
	UpdatedPlans []FieldChange `json:"updated_plans"`
}

// Empty は差分が空（追加・削除・更新すべてなし）かを返す。
func (d *PlanDiff) Empty() bool {
	return len(d.AddedPlans) == 0 && len(d.RemovedPlans) == 0 && len(d.UpdatedPlans) == 0
}

// CompetitorChangeEvent は1回の変更検知サイクルの監査レコードを表す。
// 差分なしのサイクルでも来歴記録のために作成される。
type CompetitorChangeEvent struct {
	ID            string
	CompanyID     string
	SourceURL     string
	SourceType    SourceType
	ChangeSummary string
	// ChangedFields はフィールド差分レコードの順序付き列。
	ChangedFields []FieldChange
	// RawDiff は完全な構造化差分ペイロード。
	RawDiff *PlanDiff
	// DetectedAt は検知時刻。一度設定したら不変。
	DetectedAt         time.Time
	ProcessingStatus   ProcessingStatus
	NotificationStatus NotificationStatus
	// ErrorNote は処理失敗時の診断メッセージ。
	ErrorNote string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PricingSnapshot は(company, source_url)ごとの直近のパース済みプラン集合を表す。
type PricingSnapshot struct {
	ID         string
	CompanyID  string
	SourceURL  string
	Plans      []PricingPlan
	CapturedAt time.Time
}

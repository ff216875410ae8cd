package model

import "time"

// CrawlStatus は競合ソースのクロール状態を表す。
type CrawlStatus string

const (
	// CrawlStatusActive はアクティブなクロール状態。
	CrawlStatusActive CrawlStatus = "active"
	// CrawlStatusStopped は停止されたクロール状態。
	CrawlStatusStopped CrawlStatus = "stopped"
)

// CompetitorSource は監視対象の競合ページ（料金ページ・ニュースフィード）を表す。
// バックオフと停止のための状態列を持ち、クロールスケジューラが管理する。
type CompetitorSource struct {
	ID                string
	CompanyID         string
	SourceURL         string
	SourceType        SourceType
	CrawlStatus       CrawlStatus
	ConsecutiveErrors int
	ErrorMessage      string
	NextCrawlAt       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Company は監視対象の競合企業を表す。
// 企業削除時は関連するソース・スナップショット・変更イベントがCASCADE削除される。
type Company struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

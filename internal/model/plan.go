// Package model はドメインモデルを定義する。
package model

// BillingCycle は料金プランの課金サイクルを表す。
type BillingCycle string

const (
	// BillingCycleMonthly は月額課金。
	BillingCycleMonthly BillingCycle = "monthly"
	// BillingCycleAnnual は年額課金。
	BillingCycleAnnual BillingCycle = "annual"
	// BillingCycleUnknown は課金サイクル不明。
	BillingCycleUnknown BillingCycle = "unknown"
)

// PricingPlan は料金ページから抽出した1つの料金プランを表す。
// 行としては永続化せず、スナップショットと差分ペイロードに埋め込まれる。
type PricingPlan struct {
	// Plan はプラン名（例: "Starter", "Pro"）。
	Plan string `json:"plan"`
	// Price は数値化した価格。無料は0.0、パース不能はnil。
	Price *float64 `json:"price"`
	// PriceLabel は価格の生テキスト（例: "free", "$29/mo"）。
	PriceLabel string `json:"price_label"`
	// Currency はISO通貨コード。既定は推定"USD"。
	Currency string `json:"currency"`
	// BillingCycle は課金サイクル。
	BillingCycle BillingCycle `json:"billing_cycle"`
	// Features はドキュメント出現順の機能リスト。
	Features []string `json:"features"`
}

// ParseResult は料金ページ1回分のパース結果を表す。
type ParseResult struct {
	// Plans はドキュメント出現順のプラン一覧。
	// 同名プランの重複もそのまま保持する（衝突解決は差分エンジンの責務）。
	Plans []PricingPlan `json:"plans"`
}

// SourceType は競合情報ソースの種別を表す。
type SourceType string

const (
	SourceTypeNewsSite  SourceType = "news_site"
	SourceTypeBlog      SourceType = "blog"
	SourceTypeTwitter   SourceType = "twitter"
	SourceTypeFacebook  SourceType = "facebook"
	SourceTypeInstagram SourceType = "instagram"
	SourceTypeLinkedIn  SourceType = "linkedin"
	SourceTypeYouTube   SourceType = "youtube"
	SourceTypeTikTok    SourceType = "tiktok"
	SourceTypePricing   SourceType = "pricing_page"
)

// Valid は既知のソース種別かを返す。
func (s SourceType) Valid() bool {
	switch s {
	case SourceTypeNewsSite, SourceTypeBlog, SourceTypeTwitter, SourceTypeFacebook,
		SourceTypeInstagram, SourceTypeLinkedIn, SourceTypeYouTube, SourceTypeTikTok,
		SourceTypePricing:
		return true
	}
	return false
}

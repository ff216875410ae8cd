package model

import "time"

// NewsItem は競合のニュース記事1件を表す。
// RSS/Atomフィードから取り込み、NLPエンリッチメントの結果を保持する。
type NewsItem struct {
	ID        string
	CompanyID string
	// GuidOrID はフィード側の識別子。同一性判定の最優先手段。
	GuidOrID string
	Link     string
	Title    string
	Content  string
	Summary  string
	// Sentiment はNLPプロバイダが付与するセンチメントラベル。
	Sentiment string
	// Keywords はNLPプロバイダが抽出したキーワード。
	Keywords []string
	// ContentHash はhash(title+published+summary)。同一性判定の第3優先手段。
	ContentHash string
	PublishedAt *time.Time
	FetchedAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

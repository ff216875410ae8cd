// Package nlp はニュース記事のエンリッチメント（センチメント判定・キーワード抽出）を
// 提供する。外部のNLPサービスに差し替えられるよう、処理はインターフェースの背後に置く。
package nlp

import (
	"context"
	"strings"
)

// センチメントラベル。
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Enrichment は1記事に対するエンリッチメント結果。
type Enrichment struct {
	Sentiment string
	Keywords  []string
}

// Enricher は記事エンリッチメントのインターフェース。
type Enricher interface {
	Enrich(ctx context.Context, title, content string) (Enrichment, error)
}

// defaultWatchlist は競合監視で注目するキーワードの既定ウォッチリスト。
var defaultWatchlist = []string{
	"pricing",
	"price increase",
	"price cut",
	"discount",
	"free tier",
	"acquisition",
	"acquired",
	"funding",
	"launch",
	"layoff",
	"partnership",
	"enterprise",
}

var positiveWords = []string{
	"launch", "growth", "improve", "success", "partnership", "award",
	"expand", "milestone", "record",
}

var negativeWords = []string{
	"layoff", "outage", "breach", "lawsuit", "decline", "loss",
	"shutdown", "deprecate", "incident",
}

// HeuristicEnricher は辞書ベースの簡易エンリッチャー。
// ウォッチリストに一致した語をキーワードとして抽出し、
// ポジティブ/ネガティブ語の出現数でセンチメントを判定する。
type HeuristicEnricher struct {
	watchlist []string
}

// NewHeuristicEnricher はHeuristicEnricherの新しいインスタンスを生成する。
// watchlistが空の場合は既定のウォッチリストを使用する。
func NewHeuristicEnricher(watchlist []string) *HeuristicEnricher {
	if len(watchlist) == 0 {
		watchlist = defaultWatchlist
	}
	return &HeuristicEnricher{watchlist: watchlist}
}

// Enrich はタイトルと本文からキーワードとセンチメントを抽出する。
func (e *HeuristicEnricher) Enrich(_ context.Context, title, content string) (Enrichment, error) {
	text := strings.ToLower(title + " " + content)

	var keywords []string
	for _, term := range e.watchlist {
		if strings.Contains(text, strings.ToLower(term)) {
			keywords = append(keywords, term)
		}
	}

	var score int
	for _, w := range positiveWords {
		score += strings.Count(text, w)
	}
	for _, w := range negativeWords {
		score -= strings.Count(text, w)
	}

	sentiment := SentimentNeutral
	switch {
	case score > 0:
		sentiment = SentimentPositive
	case score < 0:
		sentiment = SentimentNegative
	}

	return Enrichment{Sentiment: sentiment, Keywords: keywords}, nil
}

var _ Enricher = (*HeuristicEnricher)(nil)

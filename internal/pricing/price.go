package pricing

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hitoshi/pricewatch/internal/model"
)

// priceExpr は通貨記号付きテキストの先頭数値を抽出する。
// 例: "$29 per month", "€19.99/mo", "49"
var priceExpr = regexp.MustCompile(`([$€£¥]|USD|EUR|GBP|JPY)?\s*(\d+(?:[.,]\d{1,2})?)`)

// currencySymbols は通貨記号とISOコードの対応表。
var currencySymbols = map[string]string{
	"$":   "USD",
	"€":   "EUR",
	"£":   "GBP",
	"¥":   "JPY",
	"USD": "USD",
	"EUR": "EUR",
	"GBP": "GBP",
	"JPY": "JPY",
}

// freeExpr は"$0"系の無料表記を検出する。"$0.99"のような少額表記には一致しない。
var freeExpr = regexp.MustCompile(`^\$?0(?:\.0{1,2})?(?:\s*/\w+|\s.*)?$`)

// ParsedPrice は価格テキスト1つのパース結果を表す。
type ParsedPrice struct {
	// Price は数値化した価格。パース不能はnil。
	Price *float64
	// Label は正規化後のラベル。無料は"free"、それ以外は生テキストを保持する。
	Label string
	// Currency はISO通貨コード。既定は"USD"。
	Currency string
	// Cycle は末尾の手がかりから推定した課金サイクル。
	Cycle model.BillingCycle
}

// ParsePriceLabel は価格の生テキストをパースする。
// 無料キーワード（"free", "free forever", "$0"）はprice=0.0、label="free"に正規化する。
// 先頭の数値が抽出できない場合はprice=nilとし、生テキストをそのまま保持する。
func ParsePriceLabel(raw string) ParsedPrice {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)

	result := ParsedPrice{
		Label:    trimmed,
		Currency: "USD",
		Cycle:    inferBillingCycle(lower),
	}

	if trimmed == "" {
		return result
	}

	match := priceExpr.FindStringSubmatch(trimmed)

	// 無料判定: "free", "free forever", "$0"。
	// 通貨記号付きの数値を含むラベル（例: "$29/mo incl. free trial"）は
	// "free"に言及していても有料として数値パースを優先する。
	hasCurrencyNumber := match != nil && match[1] != ""
	if freeExpr.MatchString(lower) || (strings.Contains(lower, "free") && !hasCurrencyNumber) {
		zero := 0.0
		result.Price = &zero
		result.Label = "free"
		return result
	}

	if match == nil {
		return result
	}

	if symbol := match[1]; symbol != "" {
		if code, ok := currencySymbols[symbol]; ok {
			result.Currency = code
		}
	}

	// カンマ区切りの小数表記（例: "19,99"）をドットに正規化
	numText := strings.ReplaceAll(match[2], ",", ".")
	value, err := strconv.ParseFloat(numText, 64)
	if err != nil {
		return result
	}

	// 価格は2桁精度で扱う
	value = float64(int64(value*100+0.5)) / 100
	result.Price = &value

	return result
}

// inferBillingCycle は価格テキスト末尾の手がかりから課金サイクルを推定する。
func inferBillingCycle(lower string) model.BillingCycle {
	switch {
	case strings.Contains(lower, "/mo"), strings.Contains(lower, "per month"),
		strings.Contains(lower, "monthly"), strings.Contains(lower, "/month"):
		return model.BillingCycleMonthly
	case strings.Contains(lower, "/yr"), strings.Contains(lower, "per year"),
		strings.Contains(lower, "annual"), strings.Contains(lower, "/year"),
		strings.Contains(lower, "yearly"):
		return model.BillingCycleAnnual
	default:
		return model.BillingCycleUnknown
	}
}

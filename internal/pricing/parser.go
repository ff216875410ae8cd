// Package pricing は競合の料金ページをパースして構造化プランに変換する。
package pricing

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/pricewatch/internal/model"
)

// cardSelector はカード型レイアウトのプランコンテナ候補。
// class名に plan / tier / pricing を含む要素をコンテナとみなす。
const cardSelector = `[class*="plan"], [class*="tier"], [class*="pricing-card"], [class*="price-card"]`

// Parser は料金ページのHTMLを構造化プラン集合に変換する。
// カード型レイアウト、テーブル型レイアウト、無料プラン表記に対応する。
type Parser struct{}

// NewParser はParserの新しいインスタンスを生成する。
func NewParser() *Parser {
	return &Parser{}
}

// Parse はHTMLをパースして料金プラン一覧を返す。
// 空・不正なHTMLでも例外を送出せず、空のプラン一覧を返す。
// 同名プランの重複はそのまま保持する（衝突解決は差分エンジンの責務）。
func (p *Parser) Parse(html string) model.ParseResult {
	result := model.ParseResult{Plans: []model.PricingPlan{}}

	if strings.TrimSpace(html) == "" {
		return result
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return result
	}

	result.Plans = append(result.Plans, p.parseCards(doc)...)
	result.Plans = append(result.Plans, p.parseTables(doc)...)

	return result
}

// parseCards はカード型レイアウトからプランを抽出する。
// プラン名見出し、価格要素、機能リストを持つコンテナをドキュメント出現順に処理する。
func (p *Parser) parseCards(doc *goquery.Document) []model.PricingPlan {
	var plans []model.PricingPlan

	doc.Find(cardSelector).Each(func(i int, card *goquery.Selection) {
		name := strings.TrimSpace(card.Find("h1, h2, h3, h4, h5, h6").First().Text())
		if name == "" {
			return
		}

		// プラン名見出しを持つ子孫コンテナがある場合は外側のラッパーなのでスキップし、
		// 最内側のカードのみを処理する。
		nested := false
		card.Find(cardSelector).EachWithBreak(func(_ int, inner *goquery.Selection) bool {
			if strings.TrimSpace(inner.Find("h1, h2, h3, h4, h5, h6").First().Text()) != "" {
				nested = true
				return false
			}
			return true
		})
		if nested {
			return
		}

		priceText := extractPriceText(card)
		parsed := ParsePriceLabel(priceText)

		var features []string
		card.Find("ul li, ol li").Each(func(_ int, li *goquery.Selection) {
			if feature := strings.TrimSpace(li.Text()); feature != "" {
				features = append(features, feature)
			}
		})

		plans = append(plans, model.PricingPlan{
			Plan:         name,
			Price:        parsed.Price,
			PriceLabel:   parsed.Label,
			Currency:     parsed.Currency,
			BillingCycle: parsed.Cycle,
			Features:     features,
		})
	})

	return plans
}

// extractPriceText はカード内の価格テキストを抽出する。
// class名にpriceを含む要素を優先し、なければ通貨記号を含む最初のテキストを探す。
func extractPriceText(card *goquery.Selection) string {
	if el := card.Find(`[class*="price"]`).First(); el.Length() > 0 {
		return strings.TrimSpace(el.Text())
	}

	var found string
	card.Find("*").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if el.Children().Length() > 0 {
			return true
		}
		text := strings.TrimSpace(el.Text())
		if text == "" {
			return true
		}
		if strings.ContainsAny(text, "$€£¥") || strings.Contains(strings.ToLower(text), "free") {
			found = text
			return false
		}
		return true
	})

	return found
}

// parseTables はテーブル型レイアウトからプランを抽出する。
// ヘッダ行の2列目以降をプラン名、"Price"行を各プランの価格、
// それ以外のボディ行を機能として扱う。
func (p *Parser) parseTables(doc *goquery.Document) []model.PricingPlan {
	var plans []model.PricingPlan

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		// HTMLパーサーはtheadのない<tr>を暗黙のtbodyに包むため、
		// theadの有無で行の取り方を分ける。
		var headerCells, bodyRows *goquery.Selection
		if headRow := table.Find("thead tr").First(); headRow.Length() > 0 {
			headerCells = headRow.Find("th, td")
			bodyRows = table.Find("tbody tr")
		} else {
			allRows := table.Find("tr")
			if allRows.Length() < 2 {
				return
			}
			headerCells = allRows.First().Find("th, td")
			bodyRows = allRows.Slice(1, allRows.Length())
		}
		if headerCells.Length() < 2 {
			return
		}

		// 1列目は機能名列。2列目以降がプラン名。
		var names []string
		headerCells.Each(func(i int, cell *goquery.Selection) {
			if i == 0 {
				return
			}
			names = append(names, strings.TrimSpace(cell.Text()))
		})

		tablePlans := make([]model.PricingPlan, len(names))
		for i, name := range names {
			tablePlans[i] = model.PricingPlan{
				Plan:         name,
				Currency:     "USD",
				BillingCycle: model.BillingCycleUnknown,
			}
		}

		bodyRows.Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("th, td")
			if cells.Length() < 2 {
				return
			}

			label := strings.TrimSpace(cells.First().Text())
			isPriceRow := strings.EqualFold(label, "price")

			cells.Each(func(i int, cell *goquery.Selection) {
				if i == 0 || i > len(tablePlans) {
					return
				}
				plan := &tablePlans[i-1]
				value := strings.TrimSpace(cell.Text())

				if isPriceRow {
					parsed := ParsePriceLabel(value)
					plan.Price = parsed.Price
					plan.PriceLabel = parsed.Label
					plan.Currency = parsed.Currency
					plan.BillingCycle = parsed.Cycle
					return
				}

				if feature := tableFeature(label, value); feature != "" {
					plan.Features = append(plan.Features, feature)
				}
			})
		})

		for _, plan := range tablePlans {
			if plan.Plan != "" {
				plans = append(plans, plan)
			}
		}
	})

	return plans
}

// tableFeature は機能行のセル値から機能文字列を組み立てる。
// チェックマーク等の肯定値は機能名のみ、否定値は除外、
// それ以外の値は "機能名: 値" の形式にする。
func tableFeature(label, value string) string {
	if label == "" {
		return ""
	}

	switch strings.ToLower(value) {
	case "", "-", "—", "✗", "x", "no", "false", "n/a":
		return ""
	case "✓", "✔", "yes", "true", "included":
		return label
	default:
		return label + ": " + value
	}
}

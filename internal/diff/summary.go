package diff

import (
	"fmt"
	"strings"

	"github.com/hitoshi/pricewatch/internal/model"
)

// BuildSummary は構造化差分から人間可読の変更サマリーを組み立てる。
// 1変更につき1行、順序は追加プラン → 削除プラン → 更新（UpdatedPlansの出現順）。
// 同一差分に対して常に同一の出力を返す（決定的）。
func BuildSummary(d *model.PlanDiff) string {
	if d == nil || d.Empty() {
		return ""
	}

	var lines []string

	for _, plan := range d.AddedPlans {
		lines = append(lines, fmt.Sprintf("New plan %q added (%s)", plan.Plan, formatPrice(plan)))
	}

	for _, plan := range d.RemovedPlans {
		lines = append(lines, fmt.Sprintf("Plan %q removed", plan.Plan))
	}

	for _, change := range d.UpdatedPlans {
		lines = append(lines, formatFieldChange(change))
	}

	return strings.Join(lines, "\n")
}

// formatFieldChange はフィールド差分1件を1行のテキストにする。
// 価格変更はプラン名と前後の価格を2桁精度で含める（例: "Starter: $29.00 → $39.00"）。
func formatFieldChange(change model.FieldChange) string {
	switch change.Field {
	case "price":
		return fmt.Sprintf("%s: %s → %s",
			change.Plan, formatPriceValue(change.Previous), formatPriceValue(change.Current))
	case "currency":
		return fmt.Sprintf("%s: currency changed %v → %v", change.Plan, change.Previous, change.Current)
	case "billing_cycle":
		return fmt.Sprintf("%s: billing cycle changed %v → %v", change.Plan, change.Previous, change.Current)
	case "features":
		if change.Previous == nil {
			return fmt.Sprintf("%s: feature added %q", change.Plan, change.Current)
		}
		return fmt.Sprintf("%s: feature removed %q", change.Plan, change.Previous)
	default:
		return fmt.Sprintf("%s: %s changed %v → %v", change.Plan, change.Field, change.Previous, change.Current)
	}
}

// formatPrice はプランの価格表示を返す。
func formatPrice(plan model.PricingPlan) string {
	if plan.Price != nil {
		return fmt.Sprintf("$%.2f", *plan.Price)
	}
	if plan.PriceLabel != "" {
		return plan.PriceLabel
	}
	return "price unknown"
}

// formatPriceValue は差分エントリの価格値を表示用にフォーマットする。
// 数値は2桁精度のドル表記、文字列ラベルはそのまま、nilは"unknown"。
func formatPriceValue(v any) string {
	switch value := v.(type) {
	case float64:
		return fmt.Sprintf("$%.2f", value)
	case string:
		return value
	case nil:
		return "unknown"
	default:
		return fmt.Sprintf("%v", value)
	}
}

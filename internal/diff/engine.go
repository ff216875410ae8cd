// Package diff は料金プラン集合の構造化差分を計算する。
package diff

import (
	"strings"

	"github.com/hitoshi/pricewatch/internal/model"
)

// Compute は前回と今回のプラン集合を比較して構造化差分を返す。
// プランは正規化名（小文字化・前後空白除去）で対応付ける。
// 対応付いたプランはprice、currency、billing_cycle、機能集合を比較し、
// 差があればフィールド単位のエントリをUpdatedPlansに追加する。
func Compute(previous, current []model.PricingPlan) *model.PlanDiff {
	d := &model.PlanDiff{
		Type:         "pricing",
		AddedPlans:   []model.PricingPlan{},
		RemovedPlans: []model.PricingPlan{},
		UpdatedPlans: []model.FieldChange{},
	}

	prevByName := indexByName(previous)
	currByName := indexByName(current)

	// 今回のみに存在 → 追加。ドキュメント出現順を保つ。
	for _, plan := range current {
		if _, ok := prevByName[normalizeName(plan.Plan)]; !ok {
			d.AddedPlans = append(d.AddedPlans, plan)
		}
	}

	// 前回のみに存在 → 削除。
	for _, plan := range previous {
		if _, ok := currByName[normalizeName(plan.Plan)]; !ok {
			d.RemovedPlans = append(d.RemovedPlans, plan)
		}
	}

	// 両方に存在 → フィールド比較。今回の出現順で処理する。
	for _, curr := range current {
		prev, ok := prevByName[normalizeName(curr.Plan)]
		if !ok {
			continue
		}
		d.UpdatedPlans = append(d.UpdatedPlans, comparePlans(prev, curr)...)
	}

	return d
}

// comparePlans は対応付いたプラン2つのフィールド差分を返す。
// 価格の数値比較は厳密等価（2桁精度でパース済みのため誤差許容は不要）。
// 通貨のみの変化も価格変更として扱う。
func comparePlans(prev, curr model.PricingPlan) []model.FieldChange {
	var changes []model.FieldChange

	if !priceEqual(prev.Price, curr.Price) {
		changes = append(changes, model.FieldChange{
			Plan:     curr.Plan,
			Field:    "price",
			Previous: priceValue(prev),
			Current:  priceValue(curr),
		})
	}

	if prev.Currency != curr.Currency {
		changes = append(changes, model.FieldChange{
			Plan:     curr.Plan,
			Field:    "currency",
			Previous: prev.Currency,
			Current:  curr.Currency,
		})
	}

	if prev.BillingCycle != curr.BillingCycle {
		changes = append(changes, model.FieldChange{
			Plan:     curr.Plan,
			Field:    "billing_cycle",
			Previous: string(prev.BillingCycle),
			Current:  string(curr.BillingCycle),
		})
	}

	// 機能は順序を無視した集合比較。追加・削除を個別に追跡する。
	added, removed := featureSetDiff(prev.Features, curr.Features)
	for _, feature := range added {
		changes = append(changes, model.FieldChange{
			Plan:     curr.Plan,
			Field:    "features",
			Previous: nil,
			Current:  feature,
		})
	}
	for _, feature := range removed {
		changes = append(changes, model.FieldChange{
			Plan:     curr.Plan,
			Field:    "features",
			Previous: feature,
			Current:  nil,
		})
	}

	return changes
}

// priceEqual は価格ポインタの等価性を判定する。
func priceEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// priceValue は差分エントリ用の価格表現を返す。
// 数値があれば数値、なければ生ラベルを使う。
func priceValue(plan model.PricingPlan) any {
	if plan.Price != nil {
		return *plan.Price
	}
	if plan.PriceLabel != "" {
		return plan.PriceLabel
	}
	return nil
}

// featureSetDiff は機能リストを集合として比較し、追加分と削除分を返す。
// 返り値の順序は入力リストの出現順に従う。
func featureSetDiff(previous, current []string) (added, removed []string) {
	prevSet := make(map[string]struct{}, len(previous))
	for _, f := range previous {
		prevSet[f] = struct{}{}
	}
	currSet := make(map[string]struct{}, len(current))
	for _, f := range current {
		currSet[f] = struct{}{}
	}

	for _, f := range current {
		if _, ok := prevSet[f]; !ok {
			added = append(added, f)
		}
	}
	for _, f := range previous {
		if _, ok := currSet[f]; !ok {
			removed = append(removed, f)
		}
	}

	return added, removed
}

// indexByName は正規化名をキーとするプランの索引を作る。
// 同名重複がある場合は先勝ちとする。
func indexByName(plans []model.PricingPlan) map[string]model.PricingPlan {
	index := make(map[string]model.PricingPlan, len(plans))
	for _, plan := range plans {
		key := normalizeName(plan.Plan)
		if _, exists := index[key]; !exists {
			index[key] = plan
		}
	}
	return index
}

// normalizeName はプラン名を正規化する（小文字化・前後空白除去）。
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

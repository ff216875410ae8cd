package diff

import (
	"testing"

	"github.com/hitoshi/pricewatch/internal/model"
)

func ptr(v float64) *float64 { return &v }

func plan(name string, price *float64, cycle model.BillingCycle, features ...string) model.PricingPlan {
	label := ""
	if price != nil {
		label = "$"
	}
	return model.PricingPlan{
		Plan:         name,
		Price:        price,
		PriceLabel:   label,
		Currency:     "USD",
		BillingCycle: cycle,
		Features:     features,
	}
}

func TestCompute_IdenticalSetsAreEmpty(t *testing.T) {
	plans := []model.PricingPlan{
		plan("Starter", ptr(29.0), model.BillingCycleMonthly, "5 projects"),
		plan("Pro", ptr(99.0), model.BillingCycleMonthly, "Unlimited"),
	}

	d := Compute(plans, plans)

	if !d.Empty() {
		t.Errorf("同一集合の差分は空であるべき: %+v", d)
	}
}

func TestCompute_FirstObservationIsAllAdded(t *testing.T) {
	current := []model.PricingPlan{plan("Starter", ptr(29.0), model.BillingCycleMonthly)}

	d := Compute(nil, current)

	if len(d.AddedPlans) != 1 || d.AddedPlans[0].Plan != "Starter" {
		t.Errorf("AddedPlans = %+v, want [Starter]", d.AddedPlans)
	}
	if len(d.UpdatedPlans) != 0 {
		t.Errorf("初回観測でUpdatedPlansに入れてはならない: %+v", d.UpdatedPlans)
	}
	if len(d.RemovedPlans) != 0 {
		t.Errorf("RemovedPlans = %+v, want empty", d.RemovedPlans)
	}
}

func TestCompute_RemovedPlan(t *testing.T) {
	previous := []model.PricingPlan{
		plan("Starter", ptr(29.0), model.BillingCycleMonthly),
		plan("Legacy", ptr(9.0), model.BillingCycleMonthly),
	}
	current := []model.PricingPlan{plan("Starter", ptr(29.0), model.BillingCycleMonthly)}

	d := Compute(previous, current)

	if len(d.RemovedPlans) != 1 || d.RemovedPlans[0].Plan != "Legacy" {
		t.Errorf("RemovedPlans = %+v, want [Legacy]", d.RemovedPlans)
	}
}

func TestCompute_PriceChange(t *testing.T) {
	previous := []model.PricingPlan{plan("Starter", ptr(29.0), model.BillingCycleMonthly)}
	current := []model.PricingPlan{plan("Starter", ptr(39.0), model.BillingCycleMonthly)}

	d := Compute(previous, current)

	if len(d.UpdatedPlans) != 1 {
		t.Fatalf("UpdatedPlans = %+v, want 1 entry", d.UpdatedPlans)
	}
	change := d.UpdatedPlans[0]
	if change.Plan != "Starter" || change.Field != "price" {
		t.Errorf("change = %+v, want Starter/price", change)
	}
	if change.Previous != 29.0 || change.Current != 39.0 {
		t.Errorf("Previous/Current = %v/%v, want 29/39", change.Previous, change.Current)
	}
}

func TestCompute_NameMatchingIsCaseInsensitive(t *testing.T) {
	previous := []model.PricingPlan{plan("  starter ", ptr(29.0), model.BillingCycleMonthly)}
	current := []model.PricingPlan{plan("Starter", ptr(29.0), model.BillingCycleMonthly)}

	d := Compute(previous, current)

	if !d.Empty() {
		t.Errorf("正規化名で対応付けるべき: %+v", d)
	}
}

func TestCompute_CurrencyOnlyChange(t *testing.T) {
	previous := []model.PricingPlan{plan("Starter", ptr(29.0), model.BillingCycleMonthly)}
	current := []model.PricingPlan{plan("Starter", ptr(29.0), model.BillingCycleMonthly)}
	current[0].Currency = "EUR"

	d := Compute(previous, current)

	// 数値が同じでも通貨のみの変化は変更として扱う
	if len(d.UpdatedPlans) != 1 || d.UpdatedPlans[0].Field != "currency" {
		t.Errorf("UpdatedPlans = %+v, want currency change", d.UpdatedPlans)
	}
}

func TestCompute_FeatureSetComparison(t *testing.T) {
	previous := []model.PricingPlan{
		plan("Pro", ptr(99.0), model.BillingCycleMonthly, "API", "SSO"),
	}
	current := []model.PricingPlan{
		// 順序入れ替え + 1追加 + 1削除
		plan("Pro", ptr(99.0), model.BillingCycleMonthly, "Audit log", "API"),
	}

	d := Compute(previous, current)

	if len(d.UpdatedPlans) != 2 {
		t.Fatalf("UpdatedPlans = %+v, want 2 entries", d.UpdatedPlans)
	}

	addedEntry := d.UpdatedPlans[0]
	if addedEntry.Previous != nil || addedEntry.Current != "Audit log" {
		t.Errorf("追加エントリ = %+v, want Current=Audit log", addedEntry)
	}
	removedEntry := d.UpdatedPlans[1]
	if removedEntry.Previous != "SSO" || removedEntry.Current != nil {
		t.Errorf("削除エントリ = %+v, want Previous=SSO", removedEntry)
	}
}

func TestCompute_FeatureOrderOnlyIsNoChange(t *testing.T) {
	previous := []model.PricingPlan{plan("Pro", ptr(99.0), model.BillingCycleMonthly, "A", "B")}
	current := []model.PricingPlan{plan("Pro", ptr(99.0), model.BillingCycleMonthly, "B", "A")}

	d := Compute(previous, current)

	if !d.Empty() {
		t.Errorf("機能は順序を無視した集合比較であるべき: %+v", d.UpdatedPlans)
	}
}

func TestCompute_UnparseablePriceToNumeric(t *testing.T) {
	previous := []model.PricingPlan{{Plan: "Enterprise", PriceLabel: "Contact sales", Currency: "USD", BillingCycle: model.BillingCycleUnknown}}
	current := []model.PricingPlan{plan("Enterprise", ptr(499.0), model.BillingCycleMonthly)}

	d := Compute(previous, current)

	var priceChange *model.FieldChange
	for i := range d.UpdatedPlans {
		if d.UpdatedPlans[i].Field == "price" {
			priceChange = &d.UpdatedPlans[i]
		}
	}
	if priceChange == nil {
		t.Fatalf("価格変更が検出されるべき: %+v", d.UpdatedPlans)
	}
	if priceChange.Previous != "Contact sales" {
		t.Errorf("Previous = %v, want 生ラベル", priceChange.Previous)
	}
}

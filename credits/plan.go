/*
plan.go - Plan and credit pack catalogs

PURPOSE:
  Static configuration mapping plan tiers to monthly allotments and prices,
  and purchasable credit packs to sizes and prices. Product identifiers are
  the payment provider's; the webhook reconciler reverse-looks them up when
  event metadata omits the plan name.

PRICING:
  Prices use decimal.Decimal. Credits are integers; money is not.
*/
package credits

import "github.com/shopspring/decimal"

// =============================================================================
// PLAN - Subscription tier
// =============================================================================

type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
	PlanUltra   Plan = "ultra"
)

// ValidPlan reports whether p is one of the known tiers.
func ValidPlan(p Plan) bool {
	switch p {
	case PlanFree, PlanStarter, PlanPro, PlanUltra:
		return true
	}
	return false
}

// PlanSpec describes one subscription tier.
type PlanSpec struct {
	Plan             Plan
	MonthlyCredits   int
	MonthlyPrice     decimal.Decimal
	YearlyPrice      decimal.Decimal
	MonthlyProductID string // provider product id, monthly billing
	YearlyProductID  string // provider product id, yearly billing
}

// planCatalog is keyed by plan. Product ids cover both billing variants so
// the reconciler can resolve a plan from either.
var planCatalog = map[Plan]PlanSpec{
	PlanFree: {
		Plan:           PlanFree,
		MonthlyCredits: 5,
		MonthlyPrice:   decimal.Zero,
		YearlyPrice:    decimal.Zero,
	},
	PlanStarter: {
		Plan:             PlanStarter,
		MonthlyCredits:   100,
		MonthlyPrice:     decimal.NewFromFloat(9.00),
		YearlyPrice:      decimal.NewFromFloat(90.00),
		MonthlyProductID: "prod_starter_monthly",
		YearlyProductID:  "prod_starter_yearly",
	},
	PlanPro: {
		Plan:             PlanPro,
		MonthlyCredits:   200,
		MonthlyPrice:     decimal.NewFromFloat(19.00),
		YearlyPrice:      decimal.NewFromFloat(190.00),
		MonthlyProductID: "prod_pro_monthly",
		YearlyProductID:  "prod_pro_yearly",
	},
	PlanUltra: {
		Plan:             PlanUltra,
		MonthlyCredits:   400,
		MonthlyPrice:     decimal.NewFromFloat(39.00),
		YearlyPrice:      decimal.NewFromFloat(390.00),
		MonthlyProductID: "prod_ultra_monthly",
		YearlyProductID:  "prod_ultra_yearly",
	},
}

// PlanByName returns the spec for a plan name, or false when unknown.
func PlanByName(p Plan) (PlanSpec, bool) {
	spec, ok := planCatalog[p]
	return spec, ok
}

// PlanByProductID reverse-looks-up a plan from a provider product id,
// covering both monthly and yearly billing variants.
func PlanByProductID(productID string) (PlanSpec, bool) {
	if productID == "" {
		return PlanSpec{}, false
	}
	for _, spec := range planCatalog {
		if spec.MonthlyProductID == productID || spec.YearlyProductID == productID {
			return spec, true
		}
	}
	return PlanSpec{}, false
}

// MonthlyAllotment returns the monthly credit grant for a plan.
// Unknown plans fall back to the free allotment.
func MonthlyAllotment(p Plan) int {
	if spec, ok := planCatalog[p]; ok {
		return spec.MonthlyCredits
	}
	return planCatalog[PlanFree].MonthlyCredits
}

// =============================================================================
// CREDIT PACKS - One-time cumulative top-ups
// =============================================================================

// PackSpec describes a purchasable credit pack. Packs are additive top-ups,
// never a balance reset.
type PackSpec struct {
	Credits   int
	Price     decimal.Decimal
	ProductID string
}

var packCatalog = []PackSpec{
	{Credits: 50, Price: decimal.NewFromFloat(4.99), ProductID: "prod_pack_50"},
	{Credits: 100, Price: decimal.NewFromFloat(8.99), ProductID: "prod_pack_100"},
	{Credits: 250, Price: decimal.NewFromFloat(19.99), ProductID: "prod_pack_250"},
}

// Packs returns the purchasable credit packs.
func Packs() []PackSpec {
	out := make([]PackSpec, len(packCatalog))
	copy(out, packCatalog)
	return out
}

// PackByProductID resolves a credit pack from a provider product id.
func PackByProductID(productID string) (PackSpec, bool) {
	for _, p := range packCatalog {
		if p.ProductID == productID {
			return p, true
		}
	}
	return PackSpec{}, false
}

package billing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/omniai/payments/app/models"
)

func normalizeUserType(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// normalizeCycle maps provider and legacy spellings onto monthly/annual.
func normalizeCycle(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "monthly", "month", "mon", "m":
		return models.BillingCycleMonthly
	case "annual", "annually", "yearly", "year", "yr", "y":
		return models.BillingCycleAnnual
	default:
		return strings.ToLower(strings.TrimSpace(raw))
	}
}

// providerInterval is the recurring interval name used by Stripe prices.
func providerInterval(cycle string) string {
	if cycle == models.BillingCycleAnnual {
		return "year"
	}
	return "month"
}

// cheapestPlan picks the lowest priced tier for the cycle; ties go to the
// lower id so the result is stable.
func cheapestPlan(plans []models.Subscription, cycle string) *models.Subscription {
	if len(plans) == 0 {
		return nil
	}
	sorted := append([]models.Subscription(nil), plans...)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, _ := sorted[i].PriceFor(cycle)
		pj, _ := sorted[j].PriceFor(cycle)
		if pi.Equal(pj) {
			return sorted[i].ID < sorted[j].ID
		}
		return pi.LessThan(pj)
	})
	return &sorted[0]
}

func plansForUserType(plans []models.Subscription, userType string) []models.Subscription {
	var out []models.Subscription
	for _, p := range plans {
		if p.UserTypeApplicable == userType {
			out = append(out, p)
		}
	}
	return out
}

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DefaultPlans is the plan catalogue installed by the seed command.
// A limit of -1 means unlimited.
func DefaultPlans() []models.Subscription {
	return []models.Subscription{
		{
			Name:               "Individual Basic",
			Description:        "Core AI advisory features for personal use",
			UserTypeApplicable: models.UserTypeIndividual,
			Currency:           models.CurrencyUSD,
			PriceMonthly:       usd("9.99"),
			PriceAnnual:        usd("99.99"),
			Features: datatypes.JSONMap{
				"ai_interactions_per_month": 1000,
				"workflows":                 5,
				"support_level":             "standard",
				"mobile_access":             true,
				"voice_interaction":         false,
			},
		},
		{
			Name:               "Individual Premium",
			Description:        "Enhanced AI with learning and advanced features",
			UserTypeApplicable: models.UserTypeIndividual,
			Currency:           models.CurrencyUSD,
			PriceMonthly:       usd("19.99"),
			PriceAnnual:        usd("199.99"),
			Features: datatypes.JSONMap{
				"ai_interactions_per_month": 5000,
				"workflows":                 25,
				"support_level":             "priority",
				"mobile_access":             true,
				"voice_interaction":         true,
				"advanced_analytics":        true,
				"ai_learning":               true,
			},
		},
		{
			Name:               "Individual Pro",
			Description:        "All premium features with unlimited access",
			UserTypeApplicable: models.UserTypeIndividual,
			Currency:           models.CurrencyUSD,
			PriceMonthly:       usd("39.99"),
			PriceAnnual:        usd("399.99"),
			Features: datatypes.JSONMap{
				"ai_interactions_per_month": -1,
				"workflows":                 -1,
				"support_level":             "priority",
				"mobile_access":             true,
				"voice_interaction":         true,
				"advanced_analytics":        true,
				"ai_learning":               true,
				"api_access":                "limited",
				"custom_integrations":       true,
			},
		},
		{
			Name:               "Business Plan",
			Description:        "Multi-user support with enterprise AI advisory",
			UserTypeApplicable: models.UserTypeCompany,
			Currency:           models.CurrencyUSD,
			PriceMonthly:       usd("49.99"),
			PriceAnnual:        usd("499.99"),
			Features: datatypes.JSONMap{
				"max_users":                 10,
				"ai_interactions_per_month": 10000,
				"workflows":                 -1,
				"support_level":             "priority",
				"mobile_access":             true,
				"voice_interaction":         true,
				"business_analytics":        true,
				"enterprise_ai":             true,
			},
		},
		{
			Name:               "Enterprise Plan",
			Description:        "Full feature access with custom branding",
			UserTypeApplicable: models.UserTypeCompany,
			Currency:           models.CurrencyUSD,
			PriceMonthly:       usd("99.99"),
			PriceAnnual:        usd("999.99"),
			Features: datatypes.JSONMap{
				"max_users":                 50,
				"ai_interactions_per_month": 50000,
				"workflows":                 -1,
				"support_level":             "dedicated",
				"mobile_access":             true,
				"voice_interaction":         true,
				"business_analytics":        true,
				"enterprise_ai":             true,
				"custom_branding":           true,
				"api_access":                "full",
				"compliance_tools":          true,
			},
		},
		{
			Name:               "Corporate Plan",
			Description:        "Unlimited users with custom deployment options",
			UserTypeApplicable: models.UserTypeCompany,
			Currency:           models.CurrencyUSD,
			PriceMonthly:       usd("199.99"),
			PriceAnnual:        usd("1999.99"),
			Features: datatypes.JSONMap{
				"max_users":                 -1,
				"ai_interactions_per_month": -1,
				"workflows":                 -1,
				"support_level":             "24/7_dedicated",
				"mobile_access":             true,
				"voice_interaction":         true,
				"business_analytics":        true,
				"enterprise_ai":             true,
				"custom_branding":           true,
				"api_access":                "full",
				"compliance_tools":          true,
				"white_label":               true,
				"custom_deployment":         true,
				"custom_integrations":       true,
			},
		},
	}
}

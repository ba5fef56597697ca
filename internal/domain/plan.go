package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Plan is a purchasable pack of transformation credits
type Plan struct {
	ID      string
	Name    string
	Credits int64
	Price   decimal.Decimal
}

var plans = []Plan{
	{ID: "starter", Name: "Starter", Credits: 10, Price: decimal.NewFromInt(9)},
	{ID: "pro", Name: "Pro", Credits: 50, Price: decimal.NewFromInt(39)},
	{ID: "enterprise", Name: "Enterprise", Credits: 100, Price: decimal.NewFromInt(69)},
}

// ResolvePlan finds the plan for a paid order. An explicit plan id wins
// over amount matching.
func ResolvePlan(planID string, amount decimal.Decimal) (Plan, error) {
	if planID = strings.ToLower(strings.TrimSpace(planID)); planID != "" {
		for _, p := range plans {
			if p.ID == planID {
				return p, nil
			}
		}
		return Plan{}, fmt.Errorf("%w: plan %q", ErrUnknownPlan, planID)
	}

	for _, p := range plans {
		if p.Price.Equal(amount) {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: amount %s", ErrUnknownPlan, amount.String())
}

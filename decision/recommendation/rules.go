package recommendation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"retail-pricing/pkg/api"
	"retail-pricing/pkg/platform"
)

// Rule is one (predicate, effect) pair of the pricing rule list.
// Rules are evaluated in list order; the last rule whose predicate holds
// sets the recommended price and justification.
type Rule struct {
	ID            string            `json:"id"`
	Description   string            `json:"description"`
	Justification api.Justification `json:"justification"`

	Applies func(api.AnalyticalRecord) bool            `json:"-"`
	Price   func(api.AnalyticalRecord) decimal.Decimal `json:"-"`
}

// Rule IDs
const (
	RuleMaintain      = "maintain"
	RuleCompetitive   = "competitive"
	RuleHighInventory = "high_inventory"
	RuleLowInventory  = "low_inventory"
)

// DefaultRules builds the ordered rule list from cfg.
func DefaultRules(cfg platform.RulesConfig) []Rule {
	return []Rule{
		{
			ID:            RuleMaintain,
			Description:   "keep the current unit price",
			Justification: api.JustificationMaintain,
			Applies:       func(api.AnalyticalRecord) bool { return true },
			Price:         func(r api.AnalyticalRecord) decimal.Decimal { return r.UnitPrice },
		},
		{
			ID: RuleCompetitive,
			Description: fmt.Sprintf("match the competitor when unit price > competitor price x %s",
				cfg.CompetitorTolerance),
			Justification: api.JustificationCompetitive,
			Applies: func(r api.AnalyticalRecord) bool {
				if !r.CompetitorPrice.Valid {
					return false
				}
				return r.UnitPrice.GreaterThan(r.CompetitorPrice.Decimal.Mul(cfg.CompetitorTolerance))
			},
			Price: func(r api.AnalyticalRecord) decimal.Decimal { return r.CompetitorPrice.Decimal },
		},
		{
			ID: RuleHighInventory,
			Description: fmt.Sprintf("base price x %s when stock > %d",
				cfg.HighStockFactor, cfg.HighStockThreshold),
			Justification: api.JustificationHighInventory,
			Applies: func(r api.AnalyticalRecord) bool {
				return r.BasePriceInternal.Valid && r.StockAvailable != nil && *r.StockAvailable > cfg.HighStockThreshold
			},
			Price: func(r api.AnalyticalRecord) decimal.Decimal {
				return r.BasePriceInternal.Decimal.Mul(cfg.HighStockFactor)
			},
		},
		{
			ID: RuleLowInventory,
			Description: fmt.Sprintf("base price x %s when stock < %d",
				cfg.LowStockFactor, cfg.LowStockThreshold),
			Justification: api.JustificationLowInventory,
			Applies: func(r api.AnalyticalRecord) bool {
				return r.BasePriceInternal.Valid && r.StockAvailable != nil && *r.StockAvailable < cfg.LowStockThreshold
			},
			Price: func(r api.AnalyticalRecord) decimal.Decimal {
				return r.BasePriceInternal.Decimal.Mul(cfg.LowStockFactor)
			},
		},
	}
}

// evaluate applies rules in order and keeps the last match.
func evaluate(rules []Rule, r api.AnalyticalRecord) (decimal.Decimal, api.Justification, bool) {
	var (
		price   decimal.Decimal
		reason  api.Justification
		matched bool
	)
	for _, rule := range rules {
		if rule.Applies(r) {
			price = rule.Price(r)
			reason = rule.Justification
			matched = true
		}
	}
	return price, reason, matched
}

// Package recommendation provides the Recommender stage
// Reduces the analytical table to current state and applies the pricing rules
package recommendation

import (
	"sort"

	"github.com/rs/zerolog"

	"retail-pricing/pkg/api"
	perrors "retail-pricing/pkg/errors"
	"retail-pricing/pkg/platform"
)

// SourceAnalytical names the analytical table in errors
const SourceAnalytical = "analytical"

// Engine is the Recommender
type Engine struct {
	rules       []Rule
	roundPlaces int32
	logger      zerolog.Logger
}

// NewEngine creates a recommender with the rules built from cfg
func NewEngine(cfg platform.RulesConfig) *Engine {
	return &Engine{
		rules:       DefaultRules(cfg),
		roundPlaces: cfg.RoundPlaces,
		logger:      zerolog.Nop(),
	}
}

// WithLogger sets the logger
func (e *Engine) WithLogger(logger zerolog.Logger) *Engine {
	e.logger = logger
	return e
}

// WithRule appends a rule. It is evaluated after, and so overrides, every existing rule.
func (e *Engine) WithRule(rule Rule) *Engine {
	e.rules = append(e.rules, rule)
	return e
}

// Rules returns the rules in evaluation order
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// RecommendationResult contains the recommendation table and counts
type RecommendationResult struct {
	Records         []api.RecommendationRecord `json:"records"`
	AnalyticalRows  int                        `json:"analytical_rows"`
	ByJustification map[api.Justification]int  `json:"by_justification"`
}

// Recommend reduces records to one current-state row per (sku, store) and prices each.
func (e *Engine) Recommend(records []api.AnalyticalRecord) (*RecommendationResult, error) {
	if len(records) == 0 {
		return nil, perrors.NewEmptyInputError(SourceAnalytical, "")
	}

	current := CurrentState(records)
	result := &RecommendationResult{
		Records:         make([]api.RecommendationRecord, 0, len(current)),
		AnalyticalRows:  len(records),
		ByJustification: make(map[api.Justification]int),
	}

	for _, state := range current {
		rec := e.Price(state)
		result.Records = append(result.Records, rec)
		result.ByJustification[rec.Justification]++
	}

	e.logger.Debug().
		Int("analytical_rows", len(records)).
		Int("current_state_rows", len(current)).
		Msg("Recommendations computed")

	return result, nil
}

// Price applies the rule list to a single current-state row.
func (e *Engine) Price(state api.AnalyticalRecord) api.RecommendationRecord {
	price, reason, ok := evaluate(e.rules, state)
	if !ok {
		price, reason = state.UnitPrice, api.JustificationMaintain
	}

	rec := api.RecommendationRecord{
		SKU:              state.SKU,
		StoreID:          state.StoreID,
		ProductName:      state.ProductName,
		CurrentPrice:     state.UnitPrice.Round(e.roundPlaces),
		CompetitorPrice:  state.CompetitorPrice,
		RecommendedPrice: price.Round(e.roundPlaces),
		Justification:    reason,
	}
	if state.StockAvailable != nil {
		rec.CurrentStock = api.IntPtr(*state.StockAvailable)
	}
	if rec.CompetitorPrice.Valid {
		rec.CompetitorPrice.Decimal = rec.CompetitorPrice.Decimal.Round(e.roundPlaces)
	}
	return rec
}

// CurrentState returns, for every (sku, store) present in records, the record with
// the latest date. On equal dates the record appearing last in records wins.
// The result is ordered by sku, then store.
func CurrentState(records []api.AnalyticalRecord) []api.AnalyticalRecord {
	latest := make(map[api.InventoryKey]int, len(records))
	for i, r := range records {
		j, seen := latest[r.Key()]
		if !seen || !r.Date.Before(records[j].Date.Time) {
			latest[r.Key()] = i
		}
	}

	out := make([]api.AnalyticalRecord, 0, len(latest))
	for _, i := range latest {
		r := records[i]
		if r.StockAvailable != nil {
			r.StockAvailable = api.IntPtr(*r.StockAvailable)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].SKU != out[b].SKU {
			return out[a].SKU < out[b].SKU
		}
		return out[a].StoreID < out[b].StoreID
	})
	return out
}

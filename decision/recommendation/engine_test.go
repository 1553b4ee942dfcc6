package recommendation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-pricing/pkg/api"
	perrors "retail-pricing/pkg/errors"
	"retail-pricing/pkg/platform"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nullDec(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func newEngine() *Engine { return NewEngine(platform.DefaultConfig().Rules) }

func state(unit, competitor, base string, stock *int) api.AnalyticalRecord {
	r := api.AnalyticalRecord{
		Date:           api.NewDate(2024, time.January, 1),
		StoreID:        100,
		SKU:            "SKU1000",
		ProductName:    "Runner Pro",
		UnitPrice:      dec(unit),
		QuantitySold:   1,
		StockAvailable: stock,
	}
	if competitor != "" {
		r.CompetitorPrice = nullDec(competitor)
	}
	if base != "" {
		r.BasePriceInternal = nullDec(base)
	}
	return r
}

func TestPriceRulePrecedence(t *testing.T) {
	tests := []struct {
		name   string
		in     api.AnalyticalRecord
		price  string
		reason api.Justification
	}{
		{"stock rule overrides competitor", state("100", "90", "80", api.IntPtr(60)), "76", api.JustificationHighInventory},
		{"competitor only", state("100", "90", "80", api.IntPtr(30)), "90", api.JustificationCompetitive},
		{"within tolerance", state("94.5", "90", "80", api.IntPtr(30)), "94.5", api.JustificationMaintain},
		{"low stock overrides competitor", state("100", "90", "80", api.IntPtr(3)), "88", api.JustificationLowInventory},
		{"no competitor price", state("100", "", "80", api.IntPtr(30)), "100", api.JustificationMaintain},
		{"high stock boundary", state("100", "", "80", api.IntPtr(50)), "100", api.JustificationMaintain},
		{"high stock above boundary", state("100", "", "80", api.IntPtr(51)), "76", api.JustificationHighInventory},
		{"low stock boundary", state("100", "", "80", api.IntPtr(10)), "100", api.JustificationMaintain},
		{"low stock below boundary", state("100", "", "80", api.IntPtr(9)), "88", api.JustificationLowInventory},
		{"unknown stock", state("100", "", "80", nil), "100", api.JustificationMaintain},
		{"unknown base price", state("100", "", "", api.IntPtr(99)), "100", api.JustificationMaintain},
		{"rounds half away from zero", state("33.335", "", "", api.IntPtr(20)), "33.34", api.JustificationMaintain},
	}

	e := newEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Price(tt.in)
			assert.Equal(t, tt.reason, got.Justification)
			assert.True(t, dec(tt.price).Equal(got.RecommendedPrice), "got %s", got.RecommendedPrice)
		})
	}
}

func TestRecommendEndToEndScenario(t *testing.T) {
	records := []api.AnalyticalRecord{{
		Date:              api.NewDate(2024, time.January, 1),
		StoreID:           100,
		SKU:               "SKU1000",
		ProductName:       "Runner Pro",
		BasePriceInternal: nullDec("90"),
		UnitPrice:         dec("200").Div(dec("2")),
		QuantitySold:      2,
		StockAvailable:    api.IntPtr(55),
		CompetitorPrice:   nullDec("120"),
	}}

	result, err := newEngine().Recommend(records)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	rec := result.Records[0]
	assert.Equal(t, "SKU1000", rec.SKU)
	assert.Equal(t, 100, rec.StoreID)
	assert.Equal(t, api.JustificationHighInventory, rec.Justification)
	assert.Equal(t, "85.5", rec.RecommendedPrice.String())
	assert.True(t, rec.CurrentPrice.Equal(dec("100")))
	require.NotNil(t, rec.CurrentStock)
	assert.Equal(t, 55, *rec.CurrentStock)
	assert.Equal(t, 1, result.ByJustification[api.JustificationHighInventory])
}

func TestRecommendRejectsEmptyTable(t *testing.T) {
	_, err := newEngine().Recommend(nil)
	var invalid *perrors.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, SourceAnalytical, invalid.Source)
}

func TestCurrentStatePartition(t *testing.T) {
	d := func(day int) api.Date { return api.NewDate(2024, time.March, day) }
	records := []api.AnalyticalRecord{
		{SKU: "B", StoreID: 1, Date: d(3), UnitPrice: dec("1")},
		{SKU: "A", StoreID: 2, Date: d(1), UnitPrice: dec("2")},
		{SKU: "A", StoreID: 1, Date: d(5), UnitPrice: dec("3")},
		{SKU: "A", StoreID: 1, Date: d(2), UnitPrice: dec("4")},
		{SKU: "B", StoreID: 1, Date: d(9), UnitPrice: dec("5")},
		{SKU: "A", StoreID: 2, Date: d(1), UnitPrice: dec("6")},
		{SKU: "B", StoreID: 1, Date: d(4), UnitPrice: dec("7")},
	}

	current := CurrentState(records)
	require.Len(t, current, 3)

	assert.Equal(t, api.InventoryKey{SKU: "A", StoreID: 1}, current[0].Key())
	assert.Equal(t, d(5), current[0].Date)

	// equal dates: the later record wins
	assert.Equal(t, api.InventoryKey{SKU: "A", StoreID: 2}, current[1].Key())
	assert.True(t, current[1].UnitPrice.Equal(dec("6")))

	assert.Equal(t, api.InventoryKey{SKU: "B", StoreID: 1}, current[2].Key())
	assert.Equal(t, d(9), current[2].Date)

	for _, c := range current {
		for _, r := range records {
			if r.Key() == c.Key() {
				assert.False(t, r.Date.After(c.Date.Time))
			}
		}
	}
}

func TestCurrentStateDoesNotAliasInput(t *testing.T) {
	records := []api.AnalyticalRecord{{SKU: "A", StoreID: 1, Date: api.NewDate(2024, 1, 1), StockAvailable: api.IntPtr(5)}}
	current := CurrentState(records)
	*current[0].StockAvailable = 99
	assert.Equal(t, 5, *records[0].StockAvailable)
}

func TestRulesOrderAndCustomRule(t *testing.T) {
	e := newEngine()
	ids := []string{}
	for _, r := range e.Rules() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{RuleMaintain, RuleCompetitive, RuleHighInventory, RuleLowInventory}, ids)

	e.WithRule(Rule{
		ID:            "clearance",
		Justification: "Clearance",
		Applies:       func(r api.AnalyticalRecord) bool { return r.SKU == "SKU1000" },
		Price:         func(api.AnalyticalRecord) decimal.Decimal { return dec("1") },
	})
	got := e.Price(state("100", "90", "80", api.IntPtr(60)))
	assert.Equal(t, api.Justification("Clearance"), got.Justification)
	assert.Len(t, e.Rules(), 5)
}

func TestRulesFollowConfig(t *testing.T) {
	cfg := platform.DefaultConfig().Rules
	cfg.HighStockThreshold = 20
	cfg.HighStockFactor = dec("0.5")

	got := NewEngine(cfg).Price(state("100", "", "80", api.IntPtr(21)))
	assert.Equal(t, api.JustificationHighInventory, got.Justification)
	assert.True(t, got.RecommendedPrice.Equal(dec("40")))
}

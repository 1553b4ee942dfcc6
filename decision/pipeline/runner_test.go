package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-pricing/db/files"
	"retail-pricing/pkg/api"
	perrors "retail-pricing/pkg/errors"
	"retail-pricing/pkg/metrics"
	"retail-pricing/pkg/platform"
)

func testConfig(t *testing.T) *platform.Config {
	t.Helper()
	cfg := platform.DefaultConfig()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Generator.Stores = 2
	cfg.Generator.SalesRecords = 50
	return cfg
}

func writeCompetitor(t *testing.T, cfg *platform.Config) {
	t.Helper()
	require.NoError(t, files.WriteCompetitor(cfg.Paths.CompetitorPath(), []api.CompetitorProduct{
		{CompetitorSKU: "SUB-1", ProductName: "Tenis Runner", DiscountPrice: api.NewPriceText("$1,299.00")},
		{CompetitorSKU: "SUB-2", ProductName: "Tenis Fly", DiscountPrice: api.NewPriceText("899.50")},
		{CompetitorSKU: "SUB-3", ProductName: "Tenis Agotado"},
	}))
}

func TestRunGeneratesIntegratesAndRecommends(t *testing.T) {
	cfg := testConfig(t)
	writeCompetitor(t, cfg)
	reg := metrics.NewRegistry()

	report, err := NewRunner(cfg).WithMetrics(reg).Run(context.Background(), RunOptions{Generate: true})
	require.NoError(t, err)

	require.NotNil(t, report.Generate)
	assert.Equal(t, 1, report.Generate.Dropped)
	assert.Len(t, report.Generate.Outputs, 3)

	assert.Equal(t, 50, report.Integrate.Loaded[files.TableSales])
	assert.Equal(t, 50, report.Integrate.Stats.CatalogMatched)
	assert.Equal(t, 50, report.Integrate.Stats.InventoryMatched)
	assert.Len(t, report.Integrate.Records, 50)

	recs, err := files.LoadRecommendations(cfg.Paths.RecommendationsPath())
	require.NoError(t, err)
	require.Len(t, recs, len(report.Recommend.Records))
	for i, rec := range recs {
		want := report.Recommend.Records[i]
		assert.Equal(t, want.SKU, rec.SKU)
		assert.Equal(t, want.StoreID, rec.StoreID)
		assert.Equal(t, want.Justification, rec.Justification)
		assert.True(t, want.RecommendedPrice.Equal(rec.RecommendedPrice))
	}
	assert.LessOrEqual(t, len(recs), 2*2)

	total := 0
	for _, n := range report.Recommend.ByJustification {
		total += n
	}
	assert.Equal(t, len(recs), total)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	families, err := reg.Gatherer().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["retailprice_rows_loaded_total"])
	assert.True(t, names["retailprice_stage_duration_seconds"])
}

func TestRecommendEndToEndScenario(t *testing.T) {
	cfg := testConfig(t)
	p := cfg.Paths
	require.NoError(t, files.WriteSales(p.SalesPath(), []api.SaleRecord{
		{StoreID: 100, SKU: "SKU1000", Date: api.NewDate(2024, 1, 1), QuantitySold: 2, FinalPrice: decimal.NewFromInt(200)},
	}))
	require.NoError(t, files.WriteInventory(p.InventoryPath(), []api.InventoryRecord{{StoreID: 100, SKU: "SKU1000", StockAvailable: 55}}))
	require.NoError(t, files.WriteCatalog(p.CatalogPath(), []api.CatalogRecord{
		{SKU: "SKU1000", ProductName: "Runner", Category: "Zapatos Deportivos", BasePrice: decimal.NewFromInt(90), CompetitorSKU: "SUB-1"},
	}))
	require.NoError(t, files.WriteCompetitor(p.CompetitorPath(), []api.CompetitorProduct{
		{CompetitorSKU: "SUB-1", DiscountPrice: api.NewPriceText("$120.00")},
	}))

	report, err := NewRunner(cfg).Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Nil(t, report.Generate)

	require.Len(t, report.Recommend.Records, 1)
	rec := report.Recommend.Records[0]
	assert.Equal(t, api.JustificationHighInventory, rec.Justification)
	assert.Equal(t, "85.5", rec.RecommendedPrice.String())
	assert.Equal(t, "100", rec.CurrentPrice.String())
}

func TestIntegrateMissingSourceWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	writeCompetitor(t, cfg)

	_, err := NewRunner(cfg).Integrate(context.Background())
	var missing *perrors.MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, cfg.Paths.SalesPath(), missing.Path)
	assert.Equal(t, perrors.ErrCodeMissingInput, ErrorCode(err))

	_, statErr := os.Stat(cfg.Paths.AnalyticalPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	cfg := testConfig(t)
	reg := metrics.NewRegistry()

	report, err := NewRunner(cfg).WithMetrics(reg).Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), StageIntegrate)
	assert.Nil(t, report.Recommend)

	_, statErr := os.Stat(cfg.Paths.RecommendationsPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestIntegrationErrorsCarrySourcePath(t *testing.T) {
	cfg := testConfig(t)
	writeCompetitor(t, cfg)
	_, err := NewRunner(cfg).Generate(context.Background())
	require.NoError(t, err)

	// a duplicate catalog row only surfaces at join time
	catalog, err := files.LoadCatalog(cfg.Paths.CatalogPath())
	require.NoError(t, err)
	require.NoError(t, files.WriteCatalog(cfg.Paths.CatalogPath(), append(catalog, catalog[0])))

	_, err = NewRunner(cfg).Integrate(context.Background())
	var invalid *perrors.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, cfg.Paths.CatalogPath(), invalid.Path)
}

func TestStageHonoursCancelledContext(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(cfg).Recommend(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchValidatesBeforeWriting(t *testing.T) {
	cfg := testConfig(t)
	client := platform.NewHTTPClient(0, time.Second)

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"sku_competidor":"SUB-1","precio_descuento":"$99.00"}]`))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer bad.Close()

	report, err := NewRunner(cfg).Fetch(context.Background(), good.URL, client)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Outputs[0].Rows)

	_, err = NewRunner(cfg).Fetch(context.Background(), bad.URL, client)
	assert.True(t, perrors.IsInvalidInput(err))

	products, err := files.LoadCompetitor(cfg.Paths.CompetitorPath())
	require.NoError(t, err)
	assert.Equal(t, "SUB-1", products[0].CompetitorSKU)
}

func TestGenerateReplacesTablesTogether(t *testing.T) {
	cfg := testConfig(t)
	writeCompetitor(t, cfg)
	catalog := cfg.Paths.CatalogPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(catalog), 0o755))
	require.NoError(t, os.WriteFile(catalog, []byte("previous\n"), 0o644))

	// sales cannot be written below a regular file
	blocker := filepath.Join(cfg.Paths.DataDir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Paths.Sales = filepath.Join(blocker, "daily_sales.csv")

	_, err := NewRunner(cfg).Generate(context.Background())
	require.Error(t, err)

	got, err := os.ReadFile(catalog)
	require.NoError(t, err)
	assert.Equal(t, "previous\n", string(got))
	_, err = os.Stat(cfg.Paths.InventoryPath())
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(filepath.Dir(catalog))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

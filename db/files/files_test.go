package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-pricing/pkg/api"
	perrors "retail-pricing/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSales(t *testing.T) {
	path := writeFile(t, t.TempDir(), "daily_sales.csv",
		"id_tienda,sku,fecha,cantidad_vendida,precio_final\n"+
			"100,SKU1000,2024-01-01,2,200.00\n"+
			"101,SKU1001,2024-01-02 00:00:00,1,49.9\n")

	sales, err := LoadSales(path)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, 100, sales[0].StoreID)
	assert.Equal(t, "SKU1000", sales[0].SKU)
	assert.Equal(t, "2024-01-01", sales[0].Date.String())
	assert.True(t, sales[0].UnitPrice().Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "2024-01-02", sales[1].Date.String())
}

func TestLoadSalesErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		row     int
		reason  string
	}{
		{"no header", "", 0, "no header"},
		{"header only", "id_tienda,sku,fecha,cantidad_vendida,precio_final\n", 0, "no data rows"},
		{"missing column", "id_tienda,sku,fecha,cantidad_vendida\n100,A,2024-01-01,1\n", 0, "precio_final"},
		{"zero quantity", "id_tienda,sku,fecha,cantidad_vendida,precio_final\n100,A,2024-01-01,1,5\n100,A,2024-01-01,0,5\n", 2, "quantity_sold"},
		{"bad date", "id_tienda,sku,fecha,cantidad_vendida,precio_final\n100,A,01/01/2024,1,5\n", 1, "fecha"},
		{"bad price", "id_tienda,sku,fecha,cantidad_vendida,precio_final\n100,A,2024-01-01,1,abc\n", 1, "precio_final"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name+".csv", tt.content)
			_, err := LoadSales(path)
			var invalid *perrors.InvalidInputError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.row, invalid.Row)
			assert.Contains(t, invalid.Reason, tt.reason)
			assert.Equal(t, path, invalid.Path)
		})
	}
}

func TestMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.csv")

	_, err := LoadInventory(path)
	var missing *perrors.MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, TableInventory, missing.Source)
	assert.Equal(t, path, missing.Path)

	_, err = LoadCompetitor(path)
	assert.True(t, perrors.IsMissingInput(err))
}

func TestLoadCatalogOptionalCompetitorColumn(t *testing.T) {
	dir := t.TempDir()
	with := writeFile(t, dir, "with.csv", "sku,product_name,category,base_price,competitor_sku\nSKU1000,\"Tenis, Runner\",Zapatos,90.00,SUB-1\n")
	without := writeFile(t, dir, "without.csv", "sku,product_name,category,base_price\nSKU1000,Runner,Zapatos,90\n")

	items, err := LoadCatalog(with)
	require.NoError(t, err)
	assert.Equal(t, "Tenis, Runner", items[0].ProductName)
	assert.Equal(t, "SUB-1", items[0].CompetitorSKU)

	items, err = LoadCatalog(without)
	require.NoError(t, err)
	assert.Empty(t, items[0].CompetitorSKU)
}

func TestLoadInventoryAcceptsIntegralFloats(t *testing.T) {
	path := writeFile(t, t.TempDir(), "inventory.csv", "id_tienda,sku,stock_disponible\n100,SKU1000,55.0\n")
	rows, err := LoadInventory(path)
	require.NoError(t, err)
	assert.Equal(t, 55, rows[0].StockAvailable)

	path = writeFile(t, t.TempDir(), "inventory.csv", "id_tienda,sku,stock_disponible\n100,SKU1000,5.5\n")
	_, err = LoadInventory(path)
	assert.True(t, perrors.IsInvalidInput(err))
}

func TestLoadCompetitor(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "c.json", `[{"sku_competidor":"SUB-1","nombre_producto":"Tenis","precio_lista":"$1,499.00","precio_descuento":"$1,299.00"},{"sku_competidor":"SUB-2","precio_descuento":null}]`)

	products, err := LoadCompetitor(path)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "$1,299.00", products[0].DiscountPrice.Text)
	assert.False(t, products[1].DiscountPrice.Valid)

	for name, content := range map[string]string{"empty.json": "", "array.json": "[]", "broken.json": "{"} {
		_, err := LoadCompetitor(writeFile(t, dir, name, content))
		assert.True(t, perrors.IsInvalidInput(err), name)
	}
}

func TestAnalyticalRoundTripPreservesNulls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed", "analytical_base_table.csv")
	records := []api.AnalyticalRecord{
		{
			Date: api.NewDate(2024, 1, 1), StoreID: 100, SKU: "SKU1000", ProductName: "Runner",
			BasePriceInternal: decimal.NewNullDecimal(decimal.RequireFromString("90")),
			UnitPrice:         decimal.RequireFromString("100"), QuantitySold: 2,
			StockAvailable:  api.IntPtr(55),
			CompetitorPrice: decimal.NewNullDecimal(decimal.RequireFromString("120")),
		},
		{Date: api.NewDate(2024, 1, 2), StoreID: 101, SKU: "SKU9999", UnitPrice: decimal.RequireFromString("10"), QuantitySold: 1},
	}
	require.NoError(t, WriteAnalytical(path, records))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "2024-01-02,101,SKU9999,,,10,1,,\n")

	got, err := LoadAnalytical(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].CompetitorPrice.Decimal.Equal(decimal.NewFromInt(120)))
	assert.Equal(t, 55, *got[0].StockAvailable)
	assert.Nil(t, got[1].StockAvailable)
	assert.False(t, got[1].BasePriceInternal.Valid)
	assert.False(t, got[1].CompetitorPrice.Valid)
}

func TestWriteRecommendationsLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recommended_prices.csv")
	recs := []api.RecommendationRecord{{
		SKU: "SKU1000", StoreID: 100, ProductName: "Runner",
		CurrentPrice: decimal.NewFromInt(100), CurrentStock: api.IntPtr(55),
		RecommendedPrice: decimal.RequireFromString("85.5"),
		Justification:    api.JustificationHighInventory,
	}}
	require.NoError(t, WriteRecommendations(path, recs))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"sku,id_tienda,product_name,precio_actual,stock_actual,precio_competidor,precio_recomendado,justificacion\n"+
			"SKU1000,100,Runner,100,55,,85.5,High-Inventory Discount\n",
		string(raw))

	got, err := LoadRecommendations(path)
	require.NoError(t, err)
	assert.Equal(t, api.JustificationHighInventory, got[0].Justification)
	assert.False(t, got[0].CompetitorPrice.Valid)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteInventory(filepath.Join(dir, "inventory.csv"), []api.InventoryRecord{{StoreID: 1, SKU: "A", StockAvailable: 3}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "inventory.csv", entries[0].Name())
}

func TestBatchCommitsAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	catalog := writeFile(t, dir, "catalog.csv", "old\n")
	inventory := filepath.Join(dir, "inventory.csv")
	rows := []api.InventoryRecord{{StoreID: 1, SKU: "A", StockAvailable: 3}}
	items := []api.CatalogRecord{{SKU: "A", ProductName: "Tenis", Category: "Zapatos", BasePrice: decimal.NewFromInt(10)}}

	t.Run("failed stage leaves targets untouched", func(t *testing.T) {
		var b Batch
		require.NoError(t, b.Stage(catalog, func(p string) error { return WriteCatalog(p, items) }))
		blocker := writeFile(t, dir, "blocker", "")
		err := b.Stage(filepath.Join(blocker, "inventory.csv"), func(p string) error { return WriteInventory(p, rows) })
		require.Error(t, err)
		b.Abort()

		got, err := os.ReadFile(catalog)
		require.NoError(t, err)
		assert.Equal(t, "old\n", string(got))
		require.NoError(t, os.Remove(blocker))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
	})

	t.Run("commit replaces every target", func(t *testing.T) {
		var b Batch
		require.NoError(t, b.Stage(catalog, func(p string) error { return WriteCatalog(p, items) }))
		require.NoError(t, b.Stage(inventory, func(p string) error { return WriteInventory(p, rows) }))
		_, err := os.Stat(inventory)
		require.True(t, os.IsNotExist(err))

		require.NoError(t, b.Commit())
		loaded, err := LoadCatalog(catalog)
		require.NoError(t, err)
		assert.Equal(t, "A", loaded[0].SKU)
		got, err := LoadInventory(inventory)
		require.NoError(t, err)
		assert.Equal(t, 3, got[0].StockAvailable)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}

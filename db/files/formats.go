package files

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"retail-pricing/pkg/api"
	perrors "retail-pricing/pkg/errors"
)

// Column layouts of the persisted tables.
var (
	SalesColumns     = []string{"id_tienda", "sku", "fecha", "cantidad_vendida", "precio_final"}
	InventoryColumns = []string{"id_tienda", "sku", "stock_disponible"}
	CatalogColumns   = []string{"sku", "product_name", "category", "base_price", "competitor_sku"}

	AnalyticalColumns = []string{
		"fecha", "id_tienda", "sku", "product_name", "precio_base_interno",
		"precio_unitario", "cantidad_vendida", "stock_disponible", "competitor_price",
	}
	RecommendationColumns = []string{
		"sku", "id_tienda", "product_name", "precio_actual", "stock_actual",
		"precio_competidor", "precio_recomendado", "justificacion",
	}
)

// ============================================================================
// SALES
// ============================================================================

// LoadSales reads daily_sales.csv. Every row must pass SaleRecord.Validate.
func LoadSales(path string) ([]api.SaleRecord, error) {
	t, err := readTable(TableSales, path, SalesColumns...)
	if err != nil {
		return nil, err
	}
	out := make([]api.SaleRecord, 0, len(t.rows))
	err = t.each(func(r *row) error {
		s := api.SaleRecord{
			StoreID:      r.integer("id_tienda"),
			SKU:          r.required("sku"),
			Date:         r.date("fecha"),
			QuantitySold: r.integer("cantidad_vendida"),
			FinalPrice:   r.dec("precio_final"),
		}
		if r.err == nil {
			if err := s.Validate(); err != nil {
				r.fail("%v", err)
			}
		}
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteSales writes daily_sales.csv.
func WriteSales(path string, sales []api.SaleRecord) error {
	return writeCSV(path, SalesColumns, len(sales), func(i int) []string {
		s := sales[i]
		return []string{
			strconv.Itoa(s.StoreID), s.SKU, s.Date.String(),
			strconv.Itoa(s.QuantitySold), s.FinalPrice.StringFixed(2),
		}
	})
}

// ============================================================================
// INVENTORY
// ============================================================================

// LoadInventory reads inventory.csv.
func LoadInventory(path string) ([]api.InventoryRecord, error) {
	t, err := readTable(TableInventory, path, InventoryColumns...)
	if err != nil {
		return nil, err
	}
	out := make([]api.InventoryRecord, 0, len(t.rows))
	err = t.each(func(r *row) error {
		inv := api.InventoryRecord{
			StoreID:        r.integer("id_tienda"),
			SKU:            r.required("sku"),
			StockAvailable: r.integer("stock_disponible"),
		}
		if inv.StockAvailable < 0 {
			r.fail("stock_disponible must be >= 0, got %d", inv.StockAvailable)
		}
		out = append(out, inv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteInventory writes inventory.csv.
func WriteInventory(path string, rows []api.InventoryRecord) error {
	return writeCSV(path, InventoryColumns, len(rows), func(i int) []string {
		r := rows[i]
		return []string{strconv.Itoa(r.StoreID), r.SKU, strconv.Itoa(r.StockAvailable)}
	})
}

// ============================================================================
// CATALOG
// ============================================================================

// LoadCatalog reads product_catalog.csv. The competitor_sku column is optional.
func LoadCatalog(path string) ([]api.CatalogRecord, error) {
	t, err := readTable(TableCatalog, path, CatalogColumns[:4]...)
	if err != nil {
		return nil, err
	}
	out := make([]api.CatalogRecord, 0, len(t.rows))
	err = t.each(func(r *row) error {
		c := api.CatalogRecord{
			SKU:         r.required("sku"),
			ProductName: r.str("product_name"),
			Category:    r.str("category"),
			BasePrice:   r.dec("base_price"),
		}
		if t.has("competitor_sku") {
			c.CompetitorSKU = r.str("competitor_sku")
		}
		if c.BasePrice.IsNegative() {
			r.fail("base_price must be >= 0, got %s", c.BasePrice)
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteCatalog writes product_catalog.csv.
func WriteCatalog(path string, items []api.CatalogRecord) error {
	return writeCSV(path, CatalogColumns, len(items), func(i int) []string {
		c := items[i]
		return []string{c.SKU, c.ProductName, c.Category, c.BasePrice.StringFixed(2), c.CompetitorSKU}
	})
}

// ============================================================================
// COMPETITOR
// ============================================================================

// LoadCompetitor reads the scraped competitor JSON array.
func LoadCompetitor(path string) ([]api.CompetitorProduct, error) {
	f, err := openFile(TableCompetitor, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeCompetitor(path, f)
}

// ParseCompetitor decodes a competitor JSON array fetched from origin.
func ParseCompetitor(origin string, data []byte) ([]api.CompetitorProduct, error) {
	return decodeCompetitor(origin, bytes.NewReader(data))
}

func decodeCompetitor(origin string, r io.Reader) ([]api.CompetitorProduct, error) {
	var products []api.CompetitorProduct
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		if err == io.EOF {
			return nil, perrors.NewEmptyInputError(TableCompetitor, origin)
		}
		return nil, perrors.NewInvalidInputError(TableCompetitor, origin, 0, "malformed json: %v", err)
	}
	if len(products) == 0 {
		return nil, perrors.NewEmptyInputError(TableCompetitor, origin)
	}
	for i, p := range products {
		if p.CompetitorSKU == "" {
			return nil, perrors.NewInvalidInputError(TableCompetitor, origin, i+1, "sku_competidor is empty")
		}
	}
	return products, nil
}

// WriteCompetitor writes the competitor JSON array.
func WriteCompetitor(path string, products []api.CompetitorProduct) error {
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(products); err != nil {
			return fmt.Errorf("failed to encode %s: %w", path, err)
		}
		return nil
	})
}

// ============================================================================
// ANALYTICAL BASE TABLE
// ============================================================================

// LoadAnalytical reads analytical_base_table.csv. Empty cells are nulls.
func LoadAnalytical(path string) ([]api.AnalyticalRecord, error) {
	t, err := readTable(TableAnalytical, path, AnalyticalColumns...)
	if err != nil {
		return nil, err
	}
	out := make([]api.AnalyticalRecord, 0, len(t.rows))
	err = t.each(func(r *row) error {
		out = append(out, api.AnalyticalRecord{
			Date:              r.date("fecha"),
			StoreID:           r.integer("id_tienda"),
			SKU:               r.required("sku"),
			ProductName:       r.str("product_name"),
			BasePriceInternal: r.nullDec("precio_base_interno"),
			UnitPrice:         r.dec("precio_unitario"),
			QuantitySold:      r.integer("cantidad_vendida"),
			StockAvailable:    r.nullInt("stock_disponible"),
			CompetitorPrice:   r.nullDec("competitor_price"),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteAnalytical writes analytical_base_table.csv.
func WriteAnalytical(path string, records []api.AnalyticalRecord) error {
	return writeCSV(path, AnalyticalColumns, len(records), func(i int) []string {
		r := records[i]
		return []string{
			r.Date.String(),
			strconv.Itoa(r.StoreID),
			r.SKU,
			r.ProductName,
			formatNullDecimal(r.BasePriceInternal),
			r.UnitPrice.String(),
			strconv.Itoa(r.QuantitySold),
			formatNullInt(r.StockAvailable),
			formatNullDecimal(r.CompetitorPrice),
		}
	})
}

// ============================================================================
// RECOMMENDATIONS
// ============================================================================

// LoadRecommendations reads recommended_prices.csv.
func LoadRecommendations(path string) ([]api.RecommendationRecord, error) {
	t, err := readTable(TableRecommendations, path, RecommendationColumns...)
	if err != nil {
		return nil, err
	}
	out := make([]api.RecommendationRecord, 0, len(t.rows))
	err = t.each(func(r *row) error {
		out = append(out, api.RecommendationRecord{
			SKU:              r.required("sku"),
			StoreID:          r.integer("id_tienda"),
			ProductName:      r.str("product_name"),
			CurrentPrice:     r.dec("precio_actual"),
			CurrentStock:     r.nullInt("stock_actual"),
			CompetitorPrice:  r.nullDec("precio_competidor"),
			RecommendedPrice: r.dec("precio_recomendado"),
			Justification:    api.Justification(r.str("justificacion")),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteRecommendations writes recommended_prices.csv.
func WriteRecommendations(path string, records []api.RecommendationRecord) error {
	return writeCSV(path, RecommendationColumns, len(records), func(i int) []string {
		r := records[i]
		return []string{
			r.SKU,
			strconv.Itoa(r.StoreID),
			r.ProductName,
			r.CurrentPrice.String(),
			formatNullInt(r.CurrentStock),
			formatNullDecimal(r.CompetitorPrice),
			r.RecommendedPrice.String(),
			string(r.Justification),
		}
	})
}

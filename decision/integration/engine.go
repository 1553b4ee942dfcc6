// Package integration provides the Integrator stage
// Joins sales, catalog, inventory and competitor prices into the analytical table
package integration

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"retail-pricing/pkg/api"
	perrors "retail-pricing/pkg/errors"
	"retail-pricing/pkg/util"
)

// Source names used in errors and warnings
const (
	SourceSales      = "sales"
	SourceInventory  = "inventory"
	SourceCatalog    = "catalog"
	SourceCompetitor = "competitor"
)

// Engine is the Integrator
type Engine struct {
	logger zerolog.Logger
}

// NewEngine creates a new integrator
func NewEngine() *Engine {
	return &Engine{logger: zerolog.Nop()}
}

// WithLogger sets the logger used for parse warnings
func (e *Engine) WithLogger(logger zerolog.Logger) *Engine {
	e.logger = logger
	return e
}

// IntegrationRequest contains the four source tables
type IntegrationRequest struct {
	Sales      []api.SaleRecord
	Inventory  []api.InventoryRecord
	Catalog    []api.CatalogRecord
	Competitor []api.CompetitorProduct
}

// IntegrationResult contains the analytical table and diagnostics
type IntegrationResult struct {
	Records  []api.AnalyticalRecord `json:"records"`
	Warnings []*perrors.ParseWarning `json:"warnings"`
	Stats    IntegrationStats        `json:"stats"`
}

// IntegrationStats counts join coverage
type IntegrationStats struct {
	Sales                int `json:"sales"`
	CatalogMatched       int `json:"catalog_matched"`
	InventoryMatched     int `json:"inventory_matched"`
	CompetitorMatched    int `json:"competitor_matched"`
	CompetitorPrices     int `json:"competitor_prices"`
	DuplicateCompetitors int `json:"duplicate_competitors"`
}

// Integrate left-joins every sale with catalog, inventory and competitor data.
// Exactly one analytical record is produced per sale, in sale order.
func (e *Engine) Integrate(req IntegrationRequest) (*IntegrationResult, error) {
	if err := validateNonEmpty(req); err != nil {
		return nil, err
	}

	for i, sale := range req.Sales {
		if err := sale.Validate(); err != nil {
			return nil, perrors.NewInvalidInputError(SourceSales, "", i+1, "%v", err)
		}
	}

	catalogIdx, err := indexCatalog(req.Catalog)
	if err != nil {
		return nil, err
	}
	inventoryIdx, err := indexInventory(req.Inventory)
	if err != nil {
		return nil, err
	}

	prices, warnings := ProjectCompetitorPrices(req.Competitor)
	for _, w := range warnings {
		e.logger.Warn().
			Str("competitor_sku", w.Key).
			Str("raw", w.Raw).
			Int("row", w.Row).
			Msg("Competitor price could not be parsed, set to null")
	}

	competitorIdx := make(map[string]decimal.NullDecimal, len(prices))
	duplicates := 0
	for _, p := range prices {
		if _, exists := competitorIdx[p.CompetitorSKU]; exists {
			duplicates++
			continue
		}
		competitorIdx[p.CompetitorSKU] = p.CompetitorPrice
	}
	if duplicates > 0 {
		e.logger.Warn().Int("duplicates", duplicates).Msg("Duplicate competitor skus, keeping first occurrence")
	}

	result := &IntegrationResult{
		Records:  make([]api.AnalyticalRecord, 0, len(req.Sales)),
		Warnings: warnings,
		Stats: IntegrationStats{
			Sales:                len(req.Sales),
			CompetitorPrices:     len(prices),
			DuplicateCompetitors: duplicates,
		},
	}

	for _, sale := range req.Sales {
		rec := api.AnalyticalRecord{
			Date:         sale.Date,
			StoreID:      sale.StoreID,
			SKU:          sale.SKU,
			UnitPrice:    sale.UnitPrice(),
			QuantitySold: sale.QuantitySold,
		}

		if item, ok := catalogIdx[sale.SKU]; ok {
			result.Stats.CatalogMatched++
			rec.ProductName = item.ProductName
			rec.BasePriceInternal = decimal.NewNullDecimal(item.BasePrice)

			if item.CompetitorSKU != "" {
				if price, ok := competitorIdx[item.CompetitorSKU]; ok {
					result.Stats.CompetitorMatched++
					rec.CompetitorPrice = price
				}
			}
		}

		if inv, ok := inventoryIdx[api.InventoryKey{SKU: sale.SKU, StoreID: sale.StoreID}]; ok {
			result.Stats.InventoryMatched++
			rec.StockAvailable = api.IntPtr(inv.StockAvailable)
		}

		result.Records = append(result.Records, rec)
	}

	return result, nil
}

// ProjectCompetitorPrices parses each listing's discount price and projects it to
// (competitor_sku, competitor_price). A non-null price text that cannot be parsed
// yields a null price and a ParseWarning; it never aborts the batch.
func ProjectCompetitorPrices(products []api.CompetitorProduct) ([]api.CompetitorPriceRecord, []*perrors.ParseWarning) {
	out := make([]api.CompetitorPriceRecord, 0, len(products))
	var warnings []*perrors.ParseWarning

	for i, p := range products {
		price := util.ParsePrice(p.DiscountPrice.Ptr())
		if p.DiscountPrice.Valid && !price.Valid {
			warnings = append(warnings, &perrors.ParseWarning{
				Source: SourceCompetitor,
				Row:    i + 1,
				Field:  "precio_descuento",
				Key:    p.CompetitorSKU,
				Raw:    p.DiscountPrice.Text,
			})
		}
		out = append(out, api.CompetitorPriceRecord{
			CompetitorSKU:   p.CompetitorSKU,
			CompetitorPrice: price,
		})
	}
	return out, warnings
}

func validateNonEmpty(req IntegrationRequest) error {
	switch {
	case len(req.Sales) == 0:
		return perrors.NewEmptyInputError(SourceSales, "")
	case len(req.Inventory) == 0:
		return perrors.NewEmptyInputError(SourceInventory, "")
	case len(req.Catalog) == 0:
		return perrors.NewEmptyInputError(SourceCatalog, "")
	case len(req.Competitor) == 0:
		return perrors.NewEmptyInputError(SourceCompetitor, "")
	}
	return nil
}

func indexCatalog(items []api.CatalogRecord) (map[string]api.CatalogRecord, error) {
	idx := make(map[string]api.CatalogRecord, len(items))
	for i, item := range items {
		if _, exists := idx[item.SKU]; exists {
			return nil, perrors.NewInvalidInputError(SourceCatalog, "", i+1, "duplicate sku %q", item.SKU)
		}
		idx[item.SKU] = item
	}
	return idx, nil
}

func indexInventory(rows []api.InventoryRecord) (map[api.InventoryKey]api.InventoryRecord, error) {
	idx := make(map[api.InventoryKey]api.InventoryRecord, len(rows))
	for i, row := range rows {
		if _, exists := idx[row.Key()]; exists {
			return nil, perrors.NewInvalidInputError(SourceInventory, "", i+1,
				"duplicate key (store_id=%d, sku=%q)", row.StoreID, row.SKU)
		}
		idx[row.Key()] = row
	}
	return idx, nil
}

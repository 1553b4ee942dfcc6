// Package synthetic fabricates internal catalog, inventory and sales tables from a
// scraped competitor listing, for demos and end-to-end tests.
package synthetic

import (
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"retail-pricing/pkg/api"
	perrors "retail-pricing/pkg/errors"
	"retail-pricing/pkg/platform"
	"retail-pricing/pkg/util"
)

const sourceCompetitor = "competitor"

// Generator fabricates internal data. The same seed and input always yield the same output.
type Generator struct {
	cfg    platform.GeneratorConfig
	rng    *rand.Rand
	logger zerolog.Logger
}

// NewGenerator creates a generator seeded from cfg.Seed
func NewGenerator(cfg platform.GeneratorConfig) *Generator {
	return &Generator{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		logger: zerolog.Nop(),
	}
}

// WithLogger sets the logger
func (g *Generator) WithLogger(logger zerolog.Logger) *Generator {
	g.logger = logger
	return g
}

// Dataset is the fabricated internal data
type Dataset struct {
	Catalog   []api.CatalogRecord   `json:"catalog"`
	Inventory []api.InventoryRecord `json:"inventory"`
	Sales     []api.SaleRecord      `json:"sales"`
	Dropped   int                   `json:"dropped"`
}

// Generate builds the catalog from products with a parsable discount price, then
// stocks every product in every store and draws random sales against the catalog.
func (g *Generator) Generate(products []api.CompetitorProduct) (*Dataset, error) {
	if len(products) == 0 {
		return nil, perrors.NewEmptyInputError(sourceCompetitor, "")
	}
	if err := g.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid generator config: %w", err)
	}
	start, end, err := g.cfg.DateRange()
	if err != nil {
		return nil, err
	}

	ds := &Dataset{}
	ds.Catalog = g.catalog(products)
	ds.Dropped = len(products) - len(ds.Catalog)
	if len(ds.Catalog) == 0 {
		return nil, perrors.NewInvalidInputError(sourceCompetitor, "", 0, "no product has a parsable precio_descuento")
	}
	if ds.Dropped > 0 {
		g.logger.Warn().Int("dropped", ds.Dropped).Msg("Competitor products without a usable price were skipped")
	}

	ds.Inventory = g.inventory(ds.Catalog)

	totalDays := int(end.Sub(start).Hours() / 24)
	ds.Sales = make([]api.SaleRecord, 0, g.cfg.SalesRecords)
	for i := 0; i < g.cfg.SalesRecords; i++ {
		store := g.cfg.FirstStoreID + g.rng.IntN(g.cfg.Stores)
		item := ds.Catalog[g.rng.IntN(len(ds.Catalog))]
		day := start.AddDate(0, 0, g.rng.IntN(totalDays+1))
		qty := 1 + g.rng.IntN(g.cfg.MaxQuantity)
		mod := g.cfg.MinPriceModifier + g.rng.Float64()*(g.cfg.MaxPriceModifier-g.cfg.MinPriceModifier)

		ds.Sales = append(ds.Sales, api.SaleRecord{
			StoreID:      store,
			SKU:          item.SKU,
			Date:         api.NewDate(day.Year(), day.Month(), day.Day()),
			QuantitySold: qty,
			FinalPrice:   item.BasePrice.Mul(decimal.NewFromFloat(mod)).Mul(decimal.NewFromInt(int64(qty))).Round(2),
		})
	}

	g.logger.Info().
		Int("catalog", len(ds.Catalog)).
		Int("inventory", len(ds.Inventory)).
		Int("sales", len(ds.Sales)).
		Msg("Synthetic data generated")
	return ds, nil
}

// catalog keeps the listing position in the sku, so skus stay stable when
// products without a price are dropped.
func (g *Generator) catalog(products []api.CompetitorProduct) []api.CatalogRecord {
	out := make([]api.CatalogRecord, 0, len(products))
	for i, p := range products {
		price := util.ParsePrice(p.DiscountPrice.Ptr())
		if !price.Valid {
			continue
		}
		out = append(out, api.CatalogRecord{
			SKU:           fmt.Sprintf("SKU%d", g.cfg.FirstSKUNumber+i),
			ProductName:   p.ProductName,
			Category:      g.cfg.Category,
			BasePrice:     price.Decimal,
			CompetitorSKU: p.CompetitorSKU,
		})
	}
	return out
}

func (g *Generator) inventory(catalog []api.CatalogRecord) []api.InventoryRecord {
	out := make([]api.InventoryRecord, 0, g.cfg.Stores*len(catalog))
	for s := 0; s < g.cfg.Stores; s++ {
		for _, item := range catalog {
			out = append(out, api.InventoryRecord{
				StoreID:        g.cfg.FirstStoreID + s,
				SKU:            item.SKU,
				StockAvailable: g.cfg.MinStock + g.rng.IntN(g.cfg.MaxStock-g.cfg.MinStock+1),
			})
		}
	}
	return out
}

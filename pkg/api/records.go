// Package api defines the record contracts shared by every pipeline stage.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO 8601 calendar date used by all persisted tables.
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day.
type Date struct {
	time.Time
}

// NewDate builds a Date in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts "2006-01-02", "2006-01-02 15:04:05" and RFC 3339.
// The time of day is discarded.
func ParseDate(s string) (Date, error) {
	for _, layout := range []string{DateLayout, "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDate(t.Year(), t.Month(), t.Day()), nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q", s)
}

func (d Date) String() string { return d.Format(DateLayout) }

// MarshalJSON encodes the date as "2006-01-02".
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes any layout accepted by ParseDate.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// SaleRecord is one point-of-sale transaction.
type SaleRecord struct {
	StoreID      int             `json:"store_id"`
	SKU          string          `json:"sku"`
	Date         Date            `json:"date"`
	QuantitySold int             `json:"quantity_sold"`
	FinalPrice   decimal.Decimal `json:"final_price"`
}

// UnitPrice is FinalPrice / QuantitySold. QuantitySold must be >= 1.
func (s SaleRecord) UnitPrice() decimal.Decimal {
	return s.FinalPrice.Div(decimal.NewFromInt(int64(s.QuantitySold)))
}

// Validate enforces the ingestion constraints of a sale.
func (s SaleRecord) Validate() error {
	if s.SKU == "" {
		return fmt.Errorf("sku is empty")
	}
	if s.QuantitySold < 1 {
		return fmt.Errorf("quantity_sold must be >= 1, got %d", s.QuantitySold)
	}
	if s.FinalPrice.IsNegative() {
		return fmt.Errorf("final_price must be >= 0, got %s", s.FinalPrice)
	}
	if s.Date.IsZero() {
		return fmt.Errorf("date is missing")
	}
	return nil
}

// InventoryRecord is the stock of one sku in one store. Key: (StoreID, SKU).
type InventoryRecord struct {
	StoreID        int    `json:"store_id"`
	SKU            string `json:"sku"`
	StockAvailable int    `json:"stock_available"`
}

// InventoryKey identifies an inventory row.
type InventoryKey struct {
	SKU     string
	StoreID int
}

// Key returns the join key of the record.
func (r InventoryRecord) Key() InventoryKey {
	return InventoryKey{SKU: r.SKU, StoreID: r.StoreID}
}

// CatalogRecord is an internal product. CompetitorSKU may be empty.
type CatalogRecord struct {
	SKU           string          `json:"sku"`
	ProductName   string          `json:"product_name"`
	Category      string          `json:"category"`
	BasePrice     decimal.Decimal `json:"base_price"`
	CompetitorSKU string          `json:"competitor_sku,omitempty"`
}

// PriceText is a raw competitor price as scraped: text, number or null.
type PriceText struct {
	Text  string
	Valid bool
}

// NewPriceText wraps a scraped string.
func NewPriceText(s string) PriceText { return PriceText{Text: s, Valid: true} }

// Ptr returns nil for a null price.
func (p PriceText) Ptr() *string {
	if !p.Valid {
		return nil
	}
	s := p.Text
	return &s
}

// UnmarshalJSON accepts a JSON string, number or null.
func (p *PriceText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = PriceText{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = NewPriceText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("price must be string, number or null: %w", err)
	}
	// exponent forms such as 1e3 are expanded to plain digits
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return fmt.Errorf("invalid numeric price %s: %w", n, err)
	}
	*p = NewPriceText(d.String())
	return nil
}

// MarshalJSON encodes the text form, or null.
func (p PriceText) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(p.Text)
}

// CompetitorProduct is one scraped competitor listing.
type CompetitorProduct struct {
	CompetitorSKU string    `json:"sku_competidor"`
	ProductName   string    `json:"nombre_producto"`
	ListPrice     PriceText `json:"precio_lista"`
	DiscountPrice PriceText `json:"precio_descuento"`
	URL           string    `json:"url_producto"`
	ExtractedAt   string    `json:"fecha_extraccion"`
}

// CompetitorPriceRecord is the projection of a competitor listing used for joins.
type CompetitorPriceRecord struct {
	CompetitorSKU   string              `json:"competitor_sku"`
	CompetitorPrice decimal.NullDecimal `json:"competitor_price"`
}

// AnalyticalRecord is one sale joined with catalog, inventory and competitor data.
// Fields from unmatched sources are null.
type AnalyticalRecord struct {
	Date              Date                `json:"date"`
	StoreID           int                 `json:"store_id"`
	SKU               string              `json:"sku"`
	ProductName       string              `json:"product_name"`
	BasePriceInternal decimal.NullDecimal `json:"base_price_internal"`
	UnitPrice         decimal.Decimal     `json:"unit_price"`
	QuantitySold      int                 `json:"quantity_sold"`
	StockAvailable    *int                `json:"stock_available"`
	CompetitorPrice   decimal.NullDecimal `json:"competitor_price"`
}

// Key returns the (sku, store) grouping key.
func (r AnalyticalRecord) Key() InventoryKey {
	return InventoryKey{SKU: r.SKU, StoreID: r.StoreID}
}

// Justification labels the pricing rule that produced a recommendation.
type Justification string

const (
	JustificationMaintain      Justification = "Maintain Current Price"
	JustificationCompetitive   Justification = "Competitive Adjustment"
	JustificationHighInventory Justification = "High-Inventory Discount"
	JustificationLowInventory  Justification = "Low-Inventory Increase"
)

// RecommendationRecord is the pricing decision for one (sku, store).
type RecommendationRecord struct {
	SKU              string              `json:"sku"`
	StoreID          int                 `json:"store_id"`
	ProductName      string              `json:"product_name"`
	CurrentPrice     decimal.Decimal     `json:"current_price"`
	CurrentStock     *int                `json:"current_stock"`
	CompetitorPrice  decimal.NullDecimal `json:"competitor_price"`
	RecommendedPrice decimal.Decimal     `json:"recommended_price"`
	Justification    Justification       `json:"justification"`
}

// IntPtr is a convenience for building nullable stock values.
func IntPtr(v int) *int { return &v }

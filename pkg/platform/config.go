package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the explicit configuration handed to every pipeline stage.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Rules     RulesConfig     `yaml:"rules"`
	Generator GeneratorConfig `yaml:"generator"`
}

// PathsConfig locates the persisted tables. Relative paths resolve against DataDir.
type PathsConfig struct {
	DataDir         string `yaml:"data_dir"`
	Sales           string `yaml:"sales"`
	Inventory       string `yaml:"inventory"`
	Catalog         string `yaml:"catalog"`
	Competitor      string `yaml:"competitor"`
	Analytical      string `yaml:"analytical"`
	Recommendations string `yaml:"recommendations"`
}

// RulesConfig parameterises the recommendation rules.
type RulesConfig struct {
	CompetitorTolerance decimal.Decimal `yaml:"competitor_tolerance"`
	HighStockThreshold  int             `yaml:"high_stock_threshold"`
	HighStockFactor     decimal.Decimal `yaml:"high_stock_factor"`
	LowStockThreshold   int             `yaml:"low_stock_threshold"`
	LowStockFactor      decimal.Decimal `yaml:"low_stock_factor"`
	RoundPlaces         int32           `yaml:"round_places"`
}

// GeneratorConfig drives the synthetic-data fabricator.
type GeneratorConfig struct {
	Stores           int     `yaml:"stores"`
	FirstStoreID     int     `yaml:"first_store_id"`
	FirstSKUNumber   int     `yaml:"first_sku_number"`
	SalesRecords     int     `yaml:"sales_records"`
	StartDate        string  `yaml:"start_date"`
	EndDate          string  `yaml:"end_date"`
	MinStock         int     `yaml:"min_stock"`
	MaxStock         int     `yaml:"max_stock"`
	MaxQuantity      int     `yaml:"max_quantity"`
	MinPriceModifier float64 `yaml:"min_price_modifier"`
	MaxPriceModifier float64 `yaml:"max_price_modifier"`
	Category         string  `yaml:"category"`
	Seed             uint64  `yaml:"seed"`
}

// DefaultConfig reproduces the historical data layout and rule thresholds.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir:         "data",
			Sales:           filepath.Join("synthetic_data", "internal", "daily_sales.csv"),
			Inventory:       filepath.Join("synthetic_data", "internal", "inventory.csv"),
			Catalog:         filepath.Join("synthetic_data", "internal", "product_catalog.csv"),
			Competitor:      filepath.Join("scraped_data", "suburbia_products.json"),
			Analytical:      filepath.Join("processed", "analytical_base_table.csv"),
			Recommendations: filepath.Join("recommendations", "recommended_prices.csv"),
		},
		Rules: RulesConfig{
			CompetitorTolerance: decimal.RequireFromString("1.05"),
			HighStockThreshold:  50,
			HighStockFactor:     decimal.RequireFromString("0.95"),
			LowStockThreshold:   10,
			LowStockFactor:      decimal.RequireFromString("1.10"),
			RoundPlaces:         2,
		},
		Generator: GeneratorConfig{
			Stores:           10,
			FirstStoreID:     100,
			FirstSKUNumber:   1000,
			SalesRecords:     5000,
			StartDate:        "2023-01-01",
			EndDate:          "2024-10-01",
			MinStock:         5,
			MaxStock:         100,
			MaxQuantity:      3,
			MinPriceModifier: 0.9,
			MaxPriceModifier: 1.1,
			Category:         "Zapatos Deportivos",
			Seed:             42,
		},
	}
}

// LoadConfig layers a YAML file over DefaultConfig. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings no stage can run with.
func (c *Config) Validate() error {
	r := c.Rules
	if !r.CompetitorTolerance.IsPositive() || !r.HighStockFactor.IsPositive() || !r.LowStockFactor.IsPositive() {
		return fmt.Errorf("rule factors must be positive")
	}
	if r.LowStockThreshold > r.HighStockThreshold {
		return fmt.Errorf("low_stock_threshold (%d) exceeds high_stock_threshold (%d)", r.LowStockThreshold, r.HighStockThreshold)
	}
	if r.RoundPlaces < 0 {
		return fmt.Errorf("round_places must be >= 0")
	}

	return c.Generator.Validate()
}

// Validate rejects generator settings that cannot produce a dataset.
func (g GeneratorConfig) Validate() error {
	if g.Stores <= 0 || g.SalesRecords < 0 || g.MaxQuantity < 1 {
		return fmt.Errorf("generator needs stores > 0, sales_records >= 0 and max_quantity >= 1")
	}
	if g.MinStock < 0 || g.MaxStock < g.MinStock {
		return fmt.Errorf("generator stock range [%d, %d] is invalid", g.MinStock, g.MaxStock)
	}
	if g.MinPriceModifier <= 0 || g.MaxPriceModifier < g.MinPriceModifier {
		return fmt.Errorf("generator price modifier range [%v, %v] is invalid", g.MinPriceModifier, g.MaxPriceModifier)
	}
	start, end, err := g.DateRange()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("generator end_date %s is before start_date %s", g.EndDate, g.StartDate)
	}
	return nil
}

// DateRange parses StartDate and EndDate.
func (g GeneratorConfig) DateRange() (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", g.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date: %w", err)
	}
	end, err := time.Parse("2006-01-02", g.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date: %w", err)
	}
	return start, end, nil
}

// Resolve returns p joined to DataDir unless p is absolute.
func (p PathsConfig) Resolve(path string) string {
	if filepath.IsAbs(path) || p.DataDir == "" {
		return path
	}
	return filepath.Join(p.DataDir, path)
}

func (p PathsConfig) SalesPath() string           { return p.Resolve(p.Sales) }
func (p PathsConfig) InventoryPath() string       { return p.Resolve(p.Inventory) }
func (p PathsConfig) CatalogPath() string         { return p.Resolve(p.Catalog) }
func (p PathsConfig) CompetitorPath() string      { return p.Resolve(p.Competitor) }
func (p PathsConfig) AnalyticalPath() string      { return p.Resolve(p.Analytical) }
func (p PathsConfig) RecommendationsPath() string { return p.Resolve(p.Recommendations) }

func GetEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func GetEnvInt(key string, defaultVal int) int {
	if val, exists := os.LookupEnv(key); exists {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func GetEnvBool(key string, defaultVal bool) bool {
	if val, exists := os.LookupEnv(key); exists {
		if strings.ToLower(val) == "true" || val == "1" {
			return true
		}
		return false
	}
	return defaultVal
}

// Package clickhouse provides the ClickHouse run store
// Publishes pipeline runs (analytical rows and recommendations) for columnar analytics
package clickhouse

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"retail-pricing/pkg/api"
)

// Run is one completed pipeline execution
type Run struct {
	ID              uuid.UUID
	StartedAt       time.Time
	FinishedAt      time.Time
	Analytical      []api.AnalyticalRecord
	Recommendations []api.RecommendationRecord
}

// RunSummary is a published run without its rows
type RunSummary struct {
	ID              uuid.UUID `json:"id" ch:"id"`
	StartedAt       time.Time `json:"started_at" ch:"started_at"`
	FinishedAt      time.Time `json:"finished_at" ch:"finished_at"`
	Hash            string    `json:"hash" ch:"hash"`
	AnalyticalRows  uint32    `json:"analytical_rows" ch:"analytical_rows"`
	Recommendations uint32    `json:"recommendations" ch:"recommendations"`
}

// Config holds ClickHouse connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Debug    bool
}

// DefaultConfig returns default development configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     9000,
		Database: "retail_pricing",
		Username: "default",
		Password: "",
		Debug:    false,
	}
}

// Store publishes pipeline runs to ClickHouse
type Store struct {
	conn clickhouse.Conn
	cfg  *Config
}

// NewStore creates a new ClickHouse run store
func NewStore(cfg *Config) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	return &Store{conn: conn, cfg: cfg}, nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// =============================================================================
// SCHEMA
// =============================================================================

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pricing_runs (
		id UUID,
		started_at DateTime64(3),
		finished_at DateTime64(3),
		hash String,
		analytical_rows UInt32,
		recommendations UInt32
	) ENGINE = MergeTree ORDER BY (finished_at, id)`,
	`CREATE TABLE IF NOT EXISTS analytical_rows (
		run_id UUID,
		row_num UInt32,
		fecha Date,
		id_tienda Int32,
		sku LowCardinality(String),
		product_name String,
		precio_base_interno Nullable(Decimal(18, 4)),
		precio_unitario Decimal(18, 4),
		cantidad_vendida Int32,
		stock_disponible Nullable(Int32),
		competitor_price Nullable(Decimal(18, 4))
	) ENGINE = MergeTree ORDER BY (run_id, sku, id_tienda, fecha)`,
	`CREATE TABLE IF NOT EXISTS price_recommendations (
		run_id UUID,
		published_at DateTime64(3),
		sku LowCardinality(String),
		id_tienda Int32,
		product_name String,
		precio_actual Decimal(18, 4),
		stock_actual Nullable(Int32),
		precio_competidor Nullable(Decimal(18, 4)),
		precio_recomendado Decimal(18, 4),
		justificacion LowCardinality(String)
	) ENGINE = MergeTree ORDER BY (sku, id_tienda, published_at)`,
}

// Migrate creates the run tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

// =============================================================================
// RUN OPERATIONS
// =============================================================================

// PublishRun appends a run and its rows. Publishing is idempotent per content hash:
// a run whose recommendations match an already published run is skipped and the
// existing summary is returned.
func (s *Store) PublishRun(ctx context.Context, run *Run) (*RunSummary, bool, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	summary := Summarize(run)

	existing, err := s.FindRunByHash(ctx, summary.Hash)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if err := s.appendAnalytical(ctx, run); err != nil {
		return nil, false, err
	}
	if err := s.appendRecommendations(ctx, run); err != nil {
		return nil, false, err
	}

	// The run row goes last so readers never list a run with missing rows.
	err = s.conn.Exec(ctx, `
		INSERT INTO pricing_runs (id, started_at, finished_at, hash, analytical_rows, recommendations)
		VALUES (?, ?, ?, ?, ?, ?)
	`, summary.ID, summary.StartedAt, summary.FinishedAt, summary.Hash, summary.AnalyticalRows, summary.Recommendations)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert run: %w", err)
	}
	return summary, true, nil
}

func (s *Store) appendAnalytical(ctx context.Context, run *Run) error {
	if len(run.Analytical) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO analytical_rows (
			run_id, row_num, fecha, id_tienda, sku, product_name, precio_base_interno,
			precio_unitario, cantidad_vendida, stock_disponible, competitor_price
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for i, rec := range run.Analytical {
		if err := batch.Append(AnalyticalRow(run.ID, i, rec)...); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	return batch.Send()
}

func (s *Store) appendRecommendations(ctx context.Context, run *Run) error {
	if len(run.Recommendations) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_recommendations (
			run_id, published_at, sku, id_tienda, product_name, precio_actual, stock_actual,
			precio_competidor, precio_recomendado, justificacion
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, rec := range run.Recommendations {
		if err := batch.Append(RecommendationRow(run.ID, run.FinishedAt, rec)...); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	return batch.Send()
}

// FindRunByHash returns the run with the given content hash, or nil
func (s *Store) FindRunByHash(ctx context.Context, hash string) (*RunSummary, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT id, started_at, finished_at, hash, analytical_rows, recommendations
		FROM pricing_runs WHERE hash = ? LIMIT 1
	`, hash)

	var r RunSummary
	err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Hash, &r.AnalyticalRows, &r.Recommendations)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find run by hash: %w", err)
	}
	return &r, nil
}

// ListRuns returns the most recent runs, newest first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, started_at, finished_at, hash, analytical_rows, recommendations
		FROM pricing_runs ORDER BY finished_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Hash, &r.AnalyticalRows, &r.Recommendations); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRecommendations returns, per (sku, store), the most recently published
// recommendation. An empty sku returns every product.
func (s *Store) LatestRecommendations(ctx context.Context, sku string) ([]api.RecommendationRecord, error) {
	query := `
		SELECT sku, id_tienda,
			argMax(product_name, published_at),
			argMax(precio_actual, published_at),
			argMax(stock_actual, published_at),
			argMax(precio_competidor, published_at),
			argMax(precio_recomendado, published_at),
			argMax(justificacion, published_at)
		FROM price_recommendations
	`
	var args []any
	if sku != "" {
		query += " WHERE sku = ?"
		args = append(args, sku)
	}
	query += " GROUP BY sku, id_tienda ORDER BY sku, id_tienda"

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()

	var out []api.RecommendationRecord
	for rows.Next() {
		var (
			rec        api.RecommendationRecord
			storeID    int32
			stock      *int32
			competitor *decimal.Decimal
			reason     string
		)
		if err := rows.Scan(&rec.SKU, &storeID, &rec.ProductName, &rec.CurrentPrice, &stock,
			&competitor, &rec.RecommendedPrice, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		rec.StoreID = int(storeID)
		rec.Justification = api.Justification(reason)
		if stock != nil {
			rec.CurrentStock = api.IntPtr(int(*stock))
		}
		if competitor != nil {
			rec.CompetitorPrice = decimal.NewNullDecimal(*competitor)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// ROW MAPPING
// =============================================================================

// Summarize computes the run row for run
func Summarize(run *Run) *RunSummary {
	return &RunSummary{
		ID:              run.ID,
		StartedAt:       run.StartedAt,
		FinishedAt:      run.FinishedAt,
		Hash:            HashRecommendations(run.Recommendations),
		AnalyticalRows:  uint32(len(run.Analytical)),
		Recommendations: uint32(len(run.Recommendations)),
	}
}

// AnalyticalRow maps rec to the analytical_rows column order
func AnalyticalRow(runID uuid.UUID, i int, rec api.AnalyticalRecord) []any {
	return []any{
		runID, uint32(i + 1), rec.Date.Time, int32(rec.StoreID), rec.SKU, rec.ProductName,
		nullDecimal(rec.BasePriceInternal), rec.UnitPrice, int32(rec.QuantitySold),
		nullInt32(rec.StockAvailable), nullDecimal(rec.CompetitorPrice),
	}
}

// RecommendationRow maps rec to the price_recommendations column order
func RecommendationRow(runID uuid.UUID, publishedAt time.Time, rec api.RecommendationRecord) []any {
	return []any{
		runID, publishedAt, rec.SKU, int32(rec.StoreID), rec.ProductName, rec.CurrentPrice,
		nullInt32(rec.CurrentStock), nullDecimal(rec.CompetitorPrice), rec.RecommendedPrice,
		string(rec.Justification),
	}
}

// HashRecommendations returns a content hash of recs, independent of row order
func HashRecommendations(recs []api.RecommendationRecord) string {
	lines := make([]string, len(recs))
	for i, r := range recs {
		lines[i] = strings.Join([]string{
			r.SKU, fmt.Sprint(r.StoreID), r.CurrentPrice.String(), formatNullInt(r.CurrentStock),
			formatNullDecimal(r.CompetitorPrice), r.RecommendedPrice.String(), string(r.Justification),
		}, "|")
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func nullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func nullInt32(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v)
	return &n
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func formatNullInt(v *int) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(*v)
}

// Package sqlstore exports pipeline tables to a relational database.
// SQLite (modernc.org/sqlite, pure Go) and PostgreSQL (lib/pq) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"retail-pricing/pkg/api"
)

// Table names
const (
	AnalyticalTable      = "analytical_base_table"
	RecommendationsTable = "recommended_prices"
)

type dialect struct {
	name        string
	decimalType string
	dateType    string
	numbered    bool
}

var dialects = map[string]dialect{
	"sqlite":   {name: "sqlite", decimalType: "TEXT", dateType: "TEXT"},
	"postgres": {name: "postgres", decimalType: "NUMERIC", dateType: "DATE", numbered: true},
}

func (d dialect) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = d.placeholder(i + 1)
	}
	return strings.Join(ph, ", ")
}

// Store is a relational export target
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to driver ("sqlite" or "postgres") at dsn.
func Open(driver, dsn string) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q (want sqlite or postgres)", driver)
	}
	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if d.name == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, dialect: d}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ExportResult reports rows written per table
type ExportResult struct {
	RunID           uuid.UUID `json:"run_id"`
	AnalyticalRows  int       `json:"analytical_rows"`
	Recommendations int       `json:"recommendations"`
}

// Export replaces both tables with the given rows inside one transaction.
// Readers see either the previous export or the new one, never a mix.
func (s *Store) Export(ctx context.Context, runID uuid.UUID, analytical []api.AnalyticalRecord, recs []api.RecommendationRecord) (*ExportResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.recreate(ctx, tx); err != nil {
		return nil, err
	}
	if err := s.insertAnalytical(ctx, tx, runID, analytical); err != nil {
		return nil, err
	}
	if err := s.insertRecommendations(ctx, tx, runID, recs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit export: %w", err)
	}
	return &ExportResult{RunID: runID, AnalyticalRows: len(analytical), Recommendations: len(recs)}, nil
}

func (s *Store) recreate(ctx context.Context, tx *sql.Tx) error {
	dec, date := s.dialect.decimalType, s.dialect.dateType
	stmts := []string{
		`DROP TABLE IF EXISTS ` + AnalyticalTable,
		`DROP TABLE IF EXISTS ` + RecommendationsTable,
		`CREATE TABLE ` + AnalyticalTable + ` (
			run_id TEXT NOT NULL,
			row_num INTEGER NOT NULL,
			fecha ` + date + ` NOT NULL,
			id_tienda INTEGER NOT NULL,
			sku TEXT NOT NULL,
			product_name TEXT,
			precio_base_interno ` + dec + `,
			precio_unitario ` + dec + ` NOT NULL,
			cantidad_vendida INTEGER NOT NULL,
			stock_disponible INTEGER,
			competitor_price ` + dec + `
		)`,
		`CREATE TABLE ` + RecommendationsTable + ` (
			run_id TEXT NOT NULL,
			sku TEXT NOT NULL,
			id_tienda INTEGER NOT NULL,
			product_name TEXT,
			precio_actual ` + dec + ` NOT NULL,
			stock_actual INTEGER,
			precio_competidor ` + dec + `,
			precio_recomendado ` + dec + ` NOT NULL,
			justificacion TEXT NOT NULL,
			PRIMARY KEY (sku, id_tienda)
		)`,
		`CREATE INDEX idx_abt_sku_store ON ` + AnalyticalTable + ` (sku, id_tienda)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare schema: %w", err)
		}
	}
	return nil
}

func (s *Store) insertAnalytical(ctx context.Context, tx *sql.Tx, runID uuid.UUID, rows []api.AnalyticalRecord) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+AnalyticalTable+` (
		run_id, row_num, fecha, id_tienda, sku, product_name, precio_base_interno,
		precio_unitario, cantidad_vendida, stock_disponible, competitor_price
	) VALUES (`+s.dialect.placeholders(11)+`)`)
	if err != nil {
		return fmt.Errorf("failed to prepare analytical insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		_, err := stmt.ExecContext(ctx,
			runID.String(), i+1, r.Date.String(), r.StoreID, r.SKU, r.ProductName,
			r.BasePriceInternal, r.UnitPrice, r.QuantitySold, nullInt(r.StockAvailable), r.CompetitorPrice,
		)
		if err != nil {
			return fmt.Errorf("failed to insert analytical row %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) insertRecommendations(ctx context.Context, tx *sql.Tx, runID uuid.UUID, recs []api.RecommendationRecord) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+RecommendationsTable+` (
		run_id, sku, id_tienda, product_name, precio_actual, stock_actual,
		precio_competidor, precio_recomendado, justificacion
	) VALUES (`+s.dialect.placeholders(9)+`)`)
	if err != nil {
		return fmt.Errorf("failed to prepare recommendation insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range recs {
		_, err := stmt.ExecContext(ctx,
			runID.String(), r.SKU, r.StoreID, r.ProductName, r.CurrentPrice, nullInt(r.CurrentStock),
			r.CompetitorPrice, r.RecommendedPrice, string(r.Justification),
		)
		if err != nil {
			return fmt.Errorf("failed to insert recommendation %d: %w", i+1, err)
		}
	}
	return nil
}

// Filter narrows a recommendation query. Zero values match everything.
type Filter struct {
	SKU     string
	StoreID int
}

// Recommendations reads the exported recommendations ordered by sku, store.
func (s *Store) Recommendations(ctx context.Context, f Filter) ([]api.RecommendationRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.SKU != "" {
		args = append(args, f.SKU)
		where = append(where, "sku = "+s.dialect.placeholder(len(args)))
	}
	if f.StoreID != 0 {
		args = append(args, f.StoreID)
		where = append(where, "id_tienda = "+s.dialect.placeholder(len(args)))
	}
	query := `SELECT sku, id_tienda, product_name, precio_actual, stock_actual,
		precio_competidor, precio_recomendado, justificacion FROM ` + RecommendationsTable
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sku, id_tienda"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()

	var out []api.RecommendationRecord
	for rows.Next() {
		var (
			r      api.RecommendationRecord
			name   sql.NullString
			stock  sql.NullInt64
			reason string
		)
		if err := rows.Scan(&r.SKU, &r.StoreID, &name, &r.CurrentPrice, &stock,
			&r.CompetitorPrice, &r.RecommendedPrice, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		r.ProductName = name.String
		r.Justification = api.Justification(reason)
		if stock.Valid {
			r.CurrentStock = api.IntPtr(int(stock.Int64))
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d dialect) placeholder(i int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

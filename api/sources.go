package api

import (
	"context"

	"retail-pricing/db/clickhouse"
	"retail-pricing/db/files"
	"retail-pricing/db/sqlstore"
	records "retail-pricing/pkg/api"
)

// RecommendationSource serves published recommendations
type RecommendationSource interface {
	Recommendations(ctx context.Context, f sqlstore.Filter) ([]records.RecommendationRecord, error)
}

// Pinger is implemented by sources backed by a database connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunLister lists published pipeline runs
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]clickhouse.RunSummary, error)
}

// FileSource reads the recommendation CSV on every request, so a new pipeline
// run is picked up without restarting the server.
type FileSource struct {
	Path string
}

// Recommendations loads and filters the recommendation file
func (s FileSource) Recommendations(ctx context.Context, f sqlstore.Filter) ([]records.RecommendationRecord, error) {
	all, err := files.LoadRecommendations(s.Path)
	if err != nil {
		return nil, err
	}
	return filter(all, f), ctx.Err()
}

// ClickHouseSource serves the latest published recommendation per (sku, store)
type ClickHouseSource struct {
	Store *clickhouse.Store
}

// Recommendations queries ClickHouse
func (s ClickHouseSource) Recommendations(ctx context.Context, f sqlstore.Filter) ([]records.RecommendationRecord, error) {
	all, err := s.Store.LatestRecommendations(ctx, f.SKU)
	if err != nil {
		return nil, err
	}
	return filter(all, f), nil
}

// Ping checks the ClickHouse connection
func (s ClickHouseSource) Ping(ctx context.Context) error {
	return s.Store.Ping(ctx)
}

func filter(recs []records.RecommendationRecord, f sqlstore.Filter) []records.RecommendationRecord {
	out := make([]records.RecommendationRecord, 0, len(recs))
	for _, r := range recs {
		if f.SKU != "" && r.SKU != f.SKU {
			continue
		}
		if f.StoreID != 0 && r.StoreID != f.StoreID {
			continue
		}
		out = append(out, r)
	}
	return out
}

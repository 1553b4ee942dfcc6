// Package pipeline runs the pricing stages against the configured files.
// Each stage loads and validates all of its inputs before writing any output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"retail-pricing/db/files"
	"retail-pricing/decision/integration"
	"retail-pricing/decision/recommendation"
	"retail-pricing/ingestion/synthetic"
	"retail-pricing/pkg/api"
	perrors "retail-pricing/pkg/errors"
	"retail-pricing/pkg/metrics"
	"retail-pricing/pkg/platform"
)

// Stage names
const (
	StageFetch     = "fetch"
	StageGenerate  = "generate"
	StageIntegrate = "integrate"
	StageRecommend = "recommend"
)

// Runner executes pipeline stages
type Runner struct {
	cfg     *platform.Config
	logger  zerolog.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// NewRunner creates a runner for cfg
func NewRunner(cfg *platform.Config) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
}

// WithLogger sets the logger
func (r *Runner) WithLogger(logger zerolog.Logger) *Runner {
	r.logger = logger
	return r
}

// WithMetrics records stage metrics into reg
func (r *Runner) WithMetrics(reg *metrics.Registry) *Runner {
	r.metrics = reg
	return r
}

// Output is one file written by a stage
type Output struct {
	Table string `json:"table"`
	Path  string `json:"path"`
	Rows  int    `json:"rows"`
}

// StageReport describes what a stage loaded and wrote
type StageReport struct {
	Stage    string         `json:"stage"`
	Loaded   map[string]int `json:"loaded"`
	Outputs  []Output       `json:"outputs"`
	Warnings int            `json:"warnings"`
	Duration time.Duration  `json:"duration"`
}

// FetchReport is the result of the fetch stage
type FetchReport struct {
	StageReport
	URL string `json:"url"`
}

// GenerateReport is the result of the generate stage
type GenerateReport struct {
	StageReport
	Dropped int `json:"dropped"`
}

// IntegrateReport is the result of the integrate stage
type IntegrateReport struct {
	StageReport
	Stats   integration.IntegrationStats `json:"stats"`
	Records []api.AnalyticalRecord       `json:"-"`
}

// RecommendReport is the result of the recommend stage
type RecommendReport struct {
	StageReport
	ByJustification map[api.Justification]int  `json:"by_justification"`
	Records         []api.RecommendationRecord `json:"-"`
	Analytical      []api.AnalyticalRecord     `json:"-"`
}

// RunOptions selects optional stages of Run
type RunOptions struct {
	Generate bool
}

// RunReport is the result of a full pipeline run
type RunReport struct {
	ID         uuid.UUID        `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Generate   *GenerateReport  `json:"generate,omitempty"`
	Integrate  *IntegrateReport `json:"integrate"`
	Recommend  *RecommendReport `json:"recommend"`
}

// Fetch downloads the competitor listing from url and replaces the competitor file.
// The listing is validated before anything is written.
func (r *Runner) Fetch(ctx context.Context, url string, client *platform.HTTPClient) (*FetchReport, error) {
	var report *FetchReport
	elapsed, err := r.stage(ctx, StageFetch, func() error {
		body, err := client.Get(ctx, url)
		if err != nil {
			return fmt.Errorf("failed to fetch competitor listing: %w", err)
		}
		products, err := files.ParseCompetitor(url, body)
		if err != nil {
			return err
		}
		r.loaded(files.TableCompetitor, len(products))

		path := r.cfg.Paths.CompetitorPath()
		if err := files.WriteCompetitor(path, products); err != nil {
			return err
		}
		report = &FetchReport{
			StageReport: StageReport{
				Stage:   StageFetch,
				Loaded:  map[string]int{files.TableCompetitor: len(products)},
				Outputs: []Output{r.wrote(files.TableCompetitor, path, len(products))},
			},
			URL: url,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	report.Duration = elapsed
	return report, nil
}

// Generate fabricates catalog, inventory and sales tables from the competitor listing.
func (r *Runner) Generate(ctx context.Context) (*GenerateReport, error) {
	var report *GenerateReport
	elapsed, err := r.stage(ctx, StageGenerate, func() error {
		paths := r.cfg.Paths
		products, err := files.LoadCompetitor(paths.CompetitorPath())
		if err != nil {
			return err
		}
		r.loaded(files.TableCompetitor, len(products))

		ds, err := synthetic.NewGenerator(r.cfg.Generator).WithLogger(r.logger).Generate(products)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		report = &GenerateReport{
			StageReport: StageReport{Stage: StageGenerate, Loaded: map[string]int{files.TableCompetitor: len(products)}},
			Dropped:     ds.Dropped,
		}
		writes := []struct {
			table string
			path  string
			rows  int
			write func(string) error
		}{
			{files.TableCatalog, paths.CatalogPath(), len(ds.Catalog), func(p string) error { return files.WriteCatalog(p, ds.Catalog) }},
			{files.TableInventory, paths.InventoryPath(), len(ds.Inventory), func(p string) error { return files.WriteInventory(p, ds.Inventory) }},
			{files.TableSales, paths.SalesPath(), len(ds.Sales), func(p string) error { return files.WriteSales(p, ds.Sales) }},
		}
		// the three tables only make sense together
		var batch files.Batch
		defer batch.Abort()
		for _, w := range writes {
			if err := batch.Stage(w.path, w.write); err != nil {
				return err
			}
		}
		if err := batch.Commit(); err != nil {
			return err
		}
		for _, w := range writes {
			report.Outputs = append(report.Outputs, r.wrote(w.table, w.path, w.rows))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	report.Duration = elapsed
	return report, nil
}

// Integrate loads the four sources, joins them and writes the analytical table.
func (r *Runner) Integrate(ctx context.Context) (*IntegrateReport, error) {
	var report *IntegrateReport
	elapsed, err := r.stage(ctx, StageIntegrate, func() error {
		req, loaded, err := r.loadSources(ctx)
		if err != nil {
			return err
		}

		result, err := integration.NewEngine().WithLogger(r.logger).Integrate(*req)
		if err != nil {
			return r.withSourcePath(err)
		}
		if r.metrics != nil {
			r.metrics.ParseWarnings.Add(float64(len(result.Warnings)))
		}

		path := r.cfg.Paths.AnalyticalPath()
		if err := files.WriteAnalytical(path, result.Records); err != nil {
			return err
		}

		report = &IntegrateReport{
			StageReport: StageReport{
				Stage:    StageIntegrate,
				Loaded:   loaded,
				Outputs:  []Output{r.wrote(files.TableAnalytical, path, len(result.Records))},
				Warnings: len(result.Warnings),
			},
			Stats:   result.Stats,
			Records: result.Records,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	report.Duration = elapsed
	return report, nil
}

// withSourcePath fills in the file path of an integration error raised on in-memory tables.
func (r *Runner) withSourcePath(err error) error {
	var invalid *perrors.InvalidInputError
	if !errors.As(err, &invalid) || invalid.Path != "" {
		return err
	}
	paths := r.cfg.Paths
	switch invalid.Source {
	case integration.SourceSales:
		invalid.Path = paths.SalesPath()
	case integration.SourceInventory:
		invalid.Path = paths.InventoryPath()
	case integration.SourceCatalog:
		invalid.Path = paths.CatalogPath()
	case integration.SourceCompetitor:
		invalid.Path = paths.CompetitorPath()
	}
	return invalid
}

func (r *Runner) loadSources(ctx context.Context) (*integration.IntegrationRequest, map[string]int, error) {
	paths := r.cfg.Paths
	req := &integration.IntegrationRequest{}
	loaded := make(map[string]int, 4)

	var err error
	if req.Sales, err = files.LoadSales(paths.SalesPath()); err != nil {
		return nil, nil, err
	}
	loaded[files.TableSales] = r.loaded(files.TableSales, len(req.Sales))

	if req.Inventory, err = files.LoadInventory(paths.InventoryPath()); err != nil {
		return nil, nil, err
	}
	loaded[files.TableInventory] = r.loaded(files.TableInventory, len(req.Inventory))

	if req.Catalog, err = files.LoadCatalog(paths.CatalogPath()); err != nil {
		return nil, nil, err
	}
	loaded[files.TableCatalog] = r.loaded(files.TableCatalog, len(req.Catalog))

	if req.Competitor, err = files.LoadCompetitor(paths.CompetitorPath()); err != nil {
		return nil, nil, err
	}
	loaded[files.TableCompetitor] = r.loaded(files.TableCompetitor, len(req.Competitor))

	return req, loaded, ctx.Err()
}

// Recommend loads the analytical table, prices every (sku, store) and writes the
// recommendation table.
func (r *Runner) Recommend(ctx context.Context) (*RecommendReport, error) {
	var report *RecommendReport
	elapsed, err := r.stage(ctx, StageRecommend, func() error {
		analytical, err := files.LoadAnalytical(r.cfg.Paths.AnalyticalPath())
		if err != nil {
			return err
		}
		r.loaded(files.TableAnalytical, len(analytical))

		result, err := recommendation.NewEngine(r.cfg.Rules).WithLogger(r.logger).Recommend(analytical)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		path := r.cfg.Paths.RecommendationsPath()
		if err := files.WriteRecommendations(path, result.Records); err != nil {
			return err
		}
		if r.metrics != nil {
			for reason, n := range result.ByJustification {
				r.metrics.Recommendations.WithLabelValues(string(reason)).Add(float64(n))
			}
		}

		report = &RecommendReport{
			StageReport: StageReport{
				Stage:   StageRecommend,
				Loaded:  map[string]int{files.TableAnalytical: len(analytical)},
				Outputs: []Output{r.wrote(files.TableRecommendations, path, len(result.Records))},
			},
			ByJustification: result.ByJustification,
			Records:         result.Records,
			Analytical:      analytical,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	report.Duration = elapsed
	return report, nil
}

// Run executes the stages in order and stops at the first failure. Stages that
// did not run leave their previous outputs untouched.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	report := &RunReport{ID: uuid.New(), StartedAt: r.now().UTC()}
	logger := r.logger.With().Str("run_id", report.ID.String()).Logger()
	logger.Info().Bool("generate", opts.Generate).Msg("Pipeline started")

	var err error
	if opts.Generate {
		if report.Generate, err = r.Generate(ctx); err != nil {
			return report, err
		}
	}
	if report.Integrate, err = r.Integrate(ctx); err != nil {
		return report, err
	}
	if report.Recommend, err = r.Recommend(ctx); err != nil {
		return report, err
	}

	report.FinishedAt = r.now().UTC()
	logger.Info().Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).Msg("Pipeline completed")
	return report, nil
}

// stage times fn, logs its outcome and records metrics.
func (r *Runner) stage(ctx context.Context, name string, fn func() error) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}

	start := r.now()
	r.logger.Info().Str("stage", name).Msg("Stage started")
	err := fn()
	elapsed := r.now().Sub(start)

	if r.metrics != nil {
		r.metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.StageFailures.WithLabelValues(name, ErrorCode(err)).Inc()
		}
		r.logger.Error().Err(err).Str("stage", name).Str("code", ErrorCode(err)).Msg("Stage failed")
		return elapsed, fmt.Errorf("%s: %w", name, err)
	}

	r.logger.Info().Str("stage", name).Dur("elapsed", elapsed).Msg("Stage completed")
	return elapsed, nil
}

func (r *Runner) loaded(table string, rows int) int {
	if r.metrics != nil {
		r.metrics.RowsLoaded.WithLabelValues(table).Add(float64(rows))
	}
	r.logger.Info().Str("table", table).Int("rows", rows).Msg("Loaded")
	return rows
}

func (r *Runner) wrote(table, path string, rows int) Output {
	if r.metrics != nil {
		r.metrics.RowsWritten.WithLabelValues(table).Add(float64(rows))
	}
	r.logger.Info().Str("table", table).Str("path", path).Int("rows", rows).Msg("Wrote")
	return Output{Table: table, Path: path, Rows: rows}
}

// ErrorCode classifies err for metrics and exit codes.
func ErrorCode(err error) string {
	switch {
	case perrors.IsMissingInput(err):
		return perrors.ErrCodeMissingInput
	case perrors.IsInvalidInput(err):
		return perrors.ErrCodeInvalidInput
	default:
		return "ERROR"
	}
}

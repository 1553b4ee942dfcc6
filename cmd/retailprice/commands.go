package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"retail-pricing/api"
	"retail-pricing/db/clickhouse"
	"retail-pricing/db/files"
	"retail-pricing/db/sqlstore"
	"retail-pricing/decision/pipeline"
	"retail-pricing/decision/recommendation"
	records "retail-pricing/pkg/api"
	"retail-pricing/pkg/metrics"
	"retail-pricing/pkg/platform"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// =============================================================================
// STAGE COMMANDS
// =============================================================================

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Download the competitor listing and replace the competitor file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "url",
				Usage:    "URL serving the competitor JSON array",
				EnvVars:  []string{"RETAILPRICE_COMPETITOR_URL"},
				Required: true,
			},
			&cli.IntFlag{
				Name:  "retries",
				Value: 3,
				Usage: "Retries on transport errors and 5xx responses",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "Per-request timeout",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			client := platform.NewHTTPClient(c.Int("retries"), c.Duration("timeout"))
			client.Logger = logger
			report, err := pipeline.NewRunner(cfg).WithLogger(logger).Fetch(ctx, c.String("url"), client)
			if err != nil {
				return err
			}
			printStage(os.Stdout, report.StageReport)
			return nil
		},
	}
}

func generateCommand() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Fabricate catalog, inventory and sales tables from the competitor listing",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "Random seed (overrides config)",
			},
			&cli.IntFlag{
				Name:  "sales",
				Usage: "Number of sales records (overrides config)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			if c.IsSet("seed") {
				cfg.Generator.Seed = c.Uint64("seed")
			}
			if c.IsSet("sales") {
				cfg.Generator.SalesRecords = c.Int("sales")
			}
			if err := cfg.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("invalid settings: %v", err), ExitInvalidInput)
			}
			ctx, cancel := signalContext()
			defer cancel()

			report, err := pipeline.NewRunner(cfg).WithLogger(logger).Generate(ctx)
			if err != nil {
				return err
			}
			printStage(os.Stdout, report.StageReport)
			return nil
		},
	}
}

func integrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "integrate",
		Usage: "Join sales, inventory, catalog and competitor prices into the analytical table",
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			report, err := pipeline.NewRunner(cfg).WithLogger(logger).Integrate(ctx)
			if err != nil {
				return err
			}
			printStage(os.Stdout, report.StageReport)
			printJoinStats(os.Stdout, report.Stats)
			return nil
		},
	}
}

func recommendCommand() *cli.Command {
	return &cli.Command{
		Name:  "recommend",
		Usage: "Price every (sku, store) from its most recent analytical record",
		Flags: []cli.Flag{
			formatFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Value: 10,
				Usage: "Rows to show in table output",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			report, err := pipeline.NewRunner(cfg).WithLogger(logger).Recommend(ctx)
			if err != nil {
				return err
			}
			if c.String("format") == "json" {
				return writeJSON(os.Stdout, report.Records)
			}
			printStage(os.Stdout, report.StageReport)
			printRecommendations(os.Stdout, report.Records, report.ByJustification, c.Int("limit"))
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run integrate then recommend, stopping at the first failing stage",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "generate",
				Usage: "Fabricate internal tables before integrating",
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish the run to ClickHouse",
			},
			&cli.StringFlag{
				Name:  "export-driver",
				Value: "sqlite",
				Usage: "SQL export driver (sqlite, postgres)",
			},
			&cli.StringFlag{
				Name:    "export-dsn",
				Usage:   "Export the tables to this SQL database",
				EnvVars: []string{"RETAILPRICE_EXPORT_DSN"},
			},
			formatFlag(),
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			report, err := pipeline.NewRunner(cfg).WithLogger(logger).Run(ctx, pipeline.RunOptions{Generate: c.Bool("generate")})
			if err != nil {
				return err
			}

			if dsn := c.String("export-dsn"); dsn != "" {
				if err := exportTables(ctx, c.String("export-driver"), dsn, report.ID, report.Recommend.Analytical, report.Recommend.Records, logger); err != nil {
					return err
				}
			}
			if c.Bool("publish") {
				run := &clickhouse.Run{
					ID:              report.ID,
					StartedAt:       report.StartedAt,
					FinishedAt:      report.FinishedAt,
					Analytical:      report.Recommend.Analytical,
					Recommendations: report.Recommend.Records,
				}
				if err := publishRun(ctx, clickhouseConfig(c), run, logger); err != nil {
					return err
				}
			}

			if c.String("format") == "json" {
				return writeJSON(os.Stdout, report)
			}
			printRun(os.Stdout, report)
			return nil
		},
	}
}

// =============================================================================
// EXPORT / PUBLISH COMMANDS
// =============================================================================

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the analytical and recommendation tables to SQLite or PostgreSQL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "driver",
				Value: "sqlite",
				Usage: "SQL driver (sqlite, postgres)",
			},
			&cli.StringFlag{
				Name:     "dsn",
				Usage:    "Database file (sqlite) or connection string (postgres)",
				EnvVars:  []string{"RETAILPRICE_EXPORT_DSN"},
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			analytical, recs, err := loadOutputs(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return exportTables(ctx, c.String("driver"), c.String("dsn"), uuid.New(), analytical, recs, logger)
		},
	}
}

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Publish the current analytical and recommendation tables to ClickHouse",
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			analytical, recs, err := loadOutputs(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			now := time.Now().UTC()
			run := &clickhouse.Run{
				ID:              uuid.New(),
				StartedAt:       now,
				FinishedAt:      now,
				Analytical:      analytical,
				Recommendations: recs,
			}
			return publishRun(ctx, clickhouseConfig(c), run, logger)
		},
	}
}

func loadOutputs(cfg *platform.Config) ([]records.AnalyticalRecord, []records.RecommendationRecord, error) {
	analytical, err := files.LoadAnalytical(cfg.Paths.AnalyticalPath())
	if err != nil {
		return nil, nil, err
	}
	recs, err := files.LoadRecommendations(cfg.Paths.RecommendationsPath())
	if err != nil {
		return nil, nil, err
	}
	return analytical, recs, nil
}

func exportTables(ctx context.Context, driver, dsn string, runID uuid.UUID, analytical []records.AnalyticalRecord, recs []records.RecommendationRecord, logger zerolog.Logger) error {
	store, err := sqlstore.Open(driver, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Export(ctx, runID, analytical, recs)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	logger.Info().
		Str("driver", driver).
		Str("run_id", res.RunID.String()).
		Int("analytical_rows", res.AnalyticalRows).
		Int("recommendations", res.Recommendations).
		Msg("Exported tables")
	return nil
}

func publishRun(ctx context.Context, cfg *clickhouse.Config, run *clickhouse.Run, logger zerolog.Logger) error {
	store, err := clickhouse.NewStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	summary, created, err := store.PublishRun(ctx, run)
	if err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	if !created {
		logger.Info().Str("run_id", summary.ID.String()).Msg("Identical run already published, skipped")
		return nil
	}
	logger.Info().
		Str("run_id", summary.ID.String()).
		Str("hash", summary.Hash[:12]).
		Uint32("recommendations", summary.Recommendations).
		Msg("Run published to ClickHouse")
	return nil
}

// =============================================================================
// SERVE COMMAND
// =============================================================================

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Value: platform.GetEnvInt("PORT", 8080),
				Usage: "HTTP port",
			},
			&cli.StringFlag{
				Name:  "source",
				Value: "file",
				Usage: "Recommendation source (file, sqlite, postgres, clickhouse)",
			},
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "Database for the sqlite/postgres source",
				EnvVars: []string{"RETAILPRICE_EXPORT_DSN"},
			},
			&cli.BoolFlag{
				Name:  "runs",
				Value: platform.GetEnvBool("RETAILPRICE_SERVE_RUNS", false),
				Usage: "Serve /api/v1/runs from ClickHouse",
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Require this X-API-Key on /api/v1 routes",
				EnvVars: []string{"RETAILPRICE_API_KEY"},
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	var (
		source  api.RecommendationSource
		chStore *clickhouse.Store
	)
	switch c.String("source") {
	case "file":
		source = api.FileSource{Path: cfg.Paths.RecommendationsPath()}
	case "sqlite", "postgres":
		store, err := sqlstore.Open(c.String("source"), c.String("dsn"))
		if err != nil {
			return err
		}
		defer store.Close()
		source = store
	case "clickhouse":
		if chStore, err = clickhouse.NewStore(clickhouseConfig(c)); err != nil {
			return err
		}
		defer chStore.Close()
		source = api.ClickHouseSource{Store: chStore}
	default:
		return cli.Exit(fmt.Sprintf("unknown source %q", c.String("source")), ExitFailure)
	}

	serverCfg := api.DefaultConfig()
	serverCfg.Port = c.Int("port")
	serverCfg.APIKey = c.String("api-key")

	server := api.NewServer(source, cfg.Rules, serverCfg).
		WithLogger(logger).
		WithMetrics(metrics.NewRegistry())

	if c.Bool("runs") {
		if chStore == nil {
			if chStore, err = clickhouse.NewStore(clickhouseConfig(c)); err != nil {
				return err
			}
			defer chStore.Close()
		}
		server.WithRuns(chStore)
	}

	return server.StartWithGracefulShutdown()
}

// =============================================================================
// RULES COMMAND
// =============================================================================

func rulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "List the pricing rules in evaluation order",
		Flags: []cli.Flag{formatFlag()},
		Action: func(c *cli.Context) error {
			cfg, _, err := setup(c)
			if err != nil {
				return err
			}
			rules := recommendation.NewEngine(cfg.Rules).Rules()
			if c.String("format") == "json" {
				return writeJSON(os.Stdout, rules)
			}
			printRules(os.Stdout, rules)
			return nil
		},
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "table",
		Usage:   "Output format (table, json)",
	}
}

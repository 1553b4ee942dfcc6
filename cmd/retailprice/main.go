// Retail pricing CLI - rule-based price recommendations
//
// Usage:
//   retailprice generate
//   retailprice run [--generate] [--publish] [--export-dsn pricing.db]
//   retailprice recommend --format json
//   retailprice serve --source file
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"retail-pricing/db/clickhouse"
	perrors "retail-pricing/pkg/errors"
	"retail-pricing/pkg/platform"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes for CI/CD integration
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitMissingInput = 10
	ExitInvalidInput = 11
)

func main() {
	chDefaults := clickhouse.DefaultConfig()

	app := &cli.App{
		Name:    "retailprice",
		Usage:   "Retail pricing pipeline - integrate sales, stock and competitor prices into price recommendations",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				EnvVars: []string{"RETAILPRICE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Base directory for relative table paths",
				EnvVars: []string{"RETAILPRICE_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"RETAILPRICE_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "console",
				Usage:   "Log format (console, json)",
				EnvVars: []string{"RETAILPRICE_LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-host",
				Value:   chDefaults.Host,
				Usage:   "ClickHouse host",
				EnvVars: []string{"CLICKHOUSE_HOST"},
			},
			&cli.IntFlag{
				Name:    "clickhouse-port",
				Value:   chDefaults.Port,
				Usage:   "ClickHouse native port",
				EnvVars: []string{"CLICKHOUSE_PORT"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-database",
				Value:   chDefaults.Database,
				Usage:   "ClickHouse database",
				EnvVars: []string{"CLICKHOUSE_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-user",
				Value:   chDefaults.Username,
				Usage:   "ClickHouse user",
				EnvVars: []string{"CLICKHOUSE_USER"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-password",
				Value:   chDefaults.Password,
				Usage:   "ClickHouse password",
				EnvVars: []string{"CLICKHOUSE_PASSWORD"},
			},
		},

		Commands: []*cli.Command{
			fetchCommand(),
			generateCommand(),
			integrateCommand(),
			recommendCommand(),
			runCommand(),
			exportCommand(),
			publishCommand(),
			serveCommand(),
			rulesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		platform.LogFatal(log.Logger, "Command failed", err, exitCode(err))
	}
}

// exitCode maps stage errors to process exit codes.
func exitCode(err error) int {
	var exit cli.ExitCoder
	switch {
	case err == nil:
		return ExitSuccess
	case perrors.IsMissingInput(err):
		return ExitMissingInput
	case perrors.IsInvalidInput(err):
		return ExitInvalidInput
	case errors.As(err, &exit):
		return exit.ExitCode()
	default:
		return ExitFailure
	}
}

// setup loads the configuration and initialises logging from global flags.
func setup(c *cli.Context) (*platform.Config, zerolog.Logger, error) {
	logger := platform.InitLogger(c.String("log-level"), c.String("log-format"))

	cfg, err := platform.LoadConfig(c.String("config"))
	if err != nil {
		return nil, logger, err
	}
	if c.IsSet("data-dir") {
		cfg.Paths.DataDir = c.String("data-dir")
	}
	logger.Debug().Str("data_dir", cfg.Paths.DataDir).Msg("Configuration loaded")
	return cfg, logger, nil
}

func clickhouseConfig(c *cli.Context) *clickhouse.Config {
	return &clickhouse.Config{
		Host:     c.String("clickhouse-host"),
		Port:     c.Int("clickhouse-port"),
		Database: c.String("clickhouse-database"),
		Username: c.String("clickhouse-user"),
		Password: c.String("clickhouse-password"),
		Debug:    c.String("log-level") == "debug",
	}
}

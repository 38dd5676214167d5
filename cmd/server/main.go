// Package main provides the entry point for the sqlguard query tool server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/sqlguard/cmd/server/config"
	"github.com/TFMV/sqlguard/cmd/server/server"
	"github.com/TFMV/sqlguard/pkg/errors"
	"github.com/TFMV/sqlguard/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlguard/pkg/services"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "sqlguard",
	Short: "Policy-guarded SQL query tool server",
	Long: `sqlguard exposes a SQL database to AI agents as MCP tools.

Every statement is classified and checked against the access policy before it
reaches the database. Read results are paginated and bounded in size.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query tools over stdio or streamable HTTP",
	RunE:  runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check [sql]",
	Short: "Classify and validate a statement without executing it",
	Long: `Classify and validate a statement without executing it.

The statement is taken from the arguments, or from stdin when none are given.
The exit status is non-zero when the statement would be rejected.`,
	RunE: runCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sqlguard %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  Commit:     %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  Build Date: %s\n", buildDate)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml)")
	flags.String("transport", "", "MCP transport: stdio or http")
	flags.String("address", "", "listen address of the http transport")
	flags.String("driver", "", "database driver: postgres, duckdb or sqlite")
	flags.String("dsn", "", "database connection string")
	flags.String("access-mode", "", "access mode: read-only or read-write")
	flags.Int("max-page-size", 0, "largest page a caller may request")
	flags.Int("default-page-size", 0, "page size applied when the caller omits one")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: json or console")
	flags.Bool("metrics", true, "expose Prometheus metrics")
	flags.String("metrics-address", "", "listen address of the metrics endpoint")

	rootCmd.AddCommand(serveCmd, checkCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bindFlags maps command line flags onto configuration keys. Flags only
// override the file and environment when set explicitly.
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	bindings := map[string]string{
		"transport":         "server.transport",
		"address":           "server.address",
		"driver":            "database.driver",
		"dsn":               "database.dsn",
		"access-mode":       "policy.access_mode",
		"max-page-size":     "policy.max_page_size",
		"default-page-size": "policy.default_page_size",
		"log-level":         "log.level",
		"log-format":        "log.format",
		"metrics":           "metrics.enabled",
		"metrics-address":   "metrics.address",
	}

	flags := cmd.Flags()
	for flag, key := range bindings {
		f := flags.Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		v.Set(key, f.Value.String())
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	v := viper.New()
	bindFlags(cmd, v)

	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}

	logger := setupLogging(cfg.Log.Level, cfg.Log.Format)
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("transport", cfg.Server.Transport).
		Str("driver", cfg.Database.Driver).
		Msg("Starting sqlguard")

	var collector metrics.Collector = metrics.NewNoOpCollector()
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector()
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Address)
		go func() {
			logger.Info().Str("address", cfg.Metrics.Address).Msg("Starting metrics server")
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger, collector, version)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create server")
		return err
	}

	serveErr := srv.Serve(ctx, os.Stdin, os.Stdout)
	if serveErr != nil {
		logger.Error().Err(serveErr).Msg("Server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error closing server")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error shutting down metrics server")
		}
	}

	logger.Info().Msg("Server stopped")
	return serveErr
}

type checkReport struct {
	Kind    string `json:"kind"`
	Allowed bool   `json:"allowed"`
	SQL     string `json:"sql,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	v := viper.New()
	bindFlags(cmd, v)

	policy, err := config.LoadPolicy(v, configFile)
	if err != nil {
		return err
	}

	sql, err := readStatement(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	logger := setupLogging(v.GetString("log.level"), v.GetString("log.format"))
	report, allowed := check(server.NewCheckService(policy, logger), policy, sql)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if !allowed {
		return fmt.Errorf("statement rejected: %s", report.Error)
	}
	return nil
}

func check(checker services.QueryService, policy services.PolicyConfig, sql string) (checkReport, bool) {
	kind, err := checker.Check(sql)
	report := checkReport{Kind: kind.String()}
	if err != nil {
		report.Error = errors.GetMessage(err)
		report.Code = errors.GetCode(err)
		report.Hint = errors.GetHint(err)
		return report, false
	}

	report.Allowed = true
	if kind.IsReadOnly() {
		report.SQL = services.NewPaginator(policy).Paginate(sql, nil, nil).SQL
	}
	return report, true
}

func readStatement(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read statement: %w", err)
	}
	return string(data), nil
}

// setupLogging builds the process logger. Logs go to stderr so the stdio
// transport keeps stdout to itself.
func setupLogging(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	var logLevel zerolog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = zerolog.DebugLevel
		zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
			short := file
			for i := len(file) - 1; i > 0; i-- {
				if file[i] == '/' {
					short = file[i+1:]
					break
				}
			}
			return fmt.Sprintf("%s:%d", short, line)
		}
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).
		Level(logLevel).
		With().
		Timestamp().
		Str("service", "sqlguard")

	if logLevel == zerolog.DebugLevel {
		logger = logger.Caller()
	}

	return logger.Logger()
}

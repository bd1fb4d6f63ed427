package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nxtools/dbibridge/internal/logger"
	"github.com/nxtools/dbibridge/pkg/adapter/dbi"
	"github.com/nxtools/dbibridge/pkg/config"
	"github.com/nxtools/dbibridge/pkg/metrics"
	prommetrics "github.com/nxtools/dbibridge/pkg/metrics/prometheus"
)

var (
	startDebug  bool
	startListen string
)

var startCmd = &cobra.Command{
	Use:   "start [titles-dir]",
	Short: "Start the DBI backend",
	Long: `Start the DBI backend and serve title files to the device.

The titles directory may be given as a positional argument or configured in
the config file. The backend waits for the device to connect, serves one
session at a time, and goes back to waiting when the device disconnects.

Examples:
  # Serve a directory of titles
  dbibridge start ~/titles

  # Use the directory from the config file
  dbibridge start

  # Enable frame-level debug logging
  dbibridge start --debug ~/titles

  # Start with environment variable overrides
  DBIBRIDGE_TRANSPORT_LISTEN=:5000 dbibridge start ~/titles`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startDebug, "debug", false, "Enable debug logging (overrides configured level)")
	startCmd.Flags().StringVar(&startListen, "listen", "", "Address to wait for the device on (overrides config)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	// CLI flags take precedence over file and environment settings.
	if len(args) == 1 {
		cfg.Titles.Root = args[0]
	}
	if startListen != "" {
		cfg.Transport.Listen = startListen
	}
	if startDebug {
		cfg.Logging.Level = "DEBUG"
	}

	if err := validateTitlesRoot(cfg.Titles.Root); err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Serving titles", "root", cfg.Titles.Root, "extensions", cfg.Titles.Extensions)

	// Shut down cleanly on Ctrl-C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		startMetricsServer(ctx, cfg.Metrics.Listen)
	}

	adapter := dbi.NewAdapter(dbi.AdapterConfig{
		Listen:     cfg.Transport.Listen,
		RetryDelay: cfg.Transport.RetryDelay,
		Session: dbi.SessionConfig{
			TitlesRoot: cfg.Titles.Root,
			Extensions: cfg.Titles.Extensions,
			MaxEntries: cfg.Titles.MaxEntries,
			ChunkSize:  int(cfg.Transport.ChunkSize),
		},
	}, prommetrics.NewSessionMetrics())

	return adapter.Serve(ctx)
}

// validateTitlesRoot checks that the titles directory is usable before the
// backend starts waiting for a device.
func validateTitlesRoot(root string) error {
	if root == "" {
		return errors.New("no titles directory: pass one as an argument or set titles.root in the config")
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("titles directory %q: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("titles directory %q is not a directory", root)
	}
	return nil
}

// startMetricsServer runs the metrics HTTP server in the background and shuts
// it down when the context is cancelled.
func startMetricsServer(ctx context.Context, listen string) {
	srv := metrics.NewServer(listen)

	go func() {
		logger.Info("Metrics server listening", "address", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("Metrics server shutdown error", "error", err)
		}
	}()
}

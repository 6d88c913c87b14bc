// Command svcreg maintains the youth services registry: it imports records, removes
// duplicates, reports data quality and monitors collection runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/youthservices/svcreg/internal/config"
	"github.com/youthservices/svcreg/internal/logging"
	"github.com/youthservices/svcreg/internal/storage"
	"github.com/youthservices/svcreg/internal/telemetry"
)

// app holds what every command needs once PersistentPreRunE has run.
type app struct {
	cfg     *config.Resolved
	store   storage.Storage
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

var (
	rt app

	configPath string
	dbPath     string
	backend    string
	logLevel   string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "svcreg",
	Short: "Youth services registry maintenance",
	Long: `svcreg keeps the services registry free of duplicates and reports on its health.

Configuration is read from built-in defaults, then the --config file (YAML or TOML),
then SVCREG_* environment variables (a .env file is loaded first), then flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd.Context())
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return teardown()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "storage backend: sqlite or postgres (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}

func setup(ctx context.Context) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if backend != "" {
		cfg.Storage.Backend = backend
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		_ = logger.Sync()
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}

	rt = app{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		metrics: telemetry.New(),
	}
	return nil
}

func teardown() error {
	var err error
	if rt.store != nil {
		err = rt.store.Close()
		rt.store = nil
	}
	if rt.logger != nil {
		_ = rt.logger.Sync()
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_ = teardown()
		os.Exit(1)
	}
}

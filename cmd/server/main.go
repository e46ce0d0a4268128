package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/franckalain/foodguard/internal/config"
	"github.com/franckalain/foodguard/internal/database"
	"github.com/franckalain/foodguard/internal/engine"
	"github.com/franckalain/foodguard/internal/lookup"
	"github.com/franckalain/foodguard/internal/metrics"
	"github.com/franckalain/foodguard/internal/ml"
	"github.com/franckalain/foodguard/internal/scanner"
	"github.com/franckalain/foodguard/internal/server"
)

var (
	configPath string
	envFile    string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "foodguard",
	Short:         "Barcode scanning with AI food verdicts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE:  runServe,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <barcode>",
	Short: "Scan one barcode and print the verdict as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default: $FOODGUARD_CONFIG or config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, analyzeCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds everything a command needs, built from one configuration.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	executor ml.Executor
	db       *database.SQLiteDB
	service  *scanner.Service
}

func newApp(ctx context.Context) (*app, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(debug || cfg.Server.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	m := metrics.New()

	base, err := ml.NewExecutor(ctx, ml.Options{
		Type:           cfg.ML.Type,
		ConfigPath:     cfg.ML.ConfigPath,
		APIKey:         cfg.ML.APIKey,
		Model:          cfg.ML.Model,
		TimeoutSeconds: cfg.ML.TimeoutSeconds,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI executor: %w", err)
	}
	executor := ml.Guard(base, m, logger, rate.Limit(cfg.ML.RequestsPerSecond), cfg.ML.Burst)

	db, err := database.NewSQLiteDB(cfg.Database.Path, logger)
	if err != nil {
		closeExecutor(base, logger)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	products := lookup.NewOpenFoodFacts(cfg.Lookup.BaseURL,
		time.Duration(cfg.Lookup.TimeoutSeconds)*time.Second, logger)
	analyzer := engine.NewAnalyzer(executor, ml.NewLocalClassifier(), m, logger)
	conversation := engine.NewConversation(executor, m, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		executor: base,
		db:       db,
		service:  scanner.New(products, analyzer, conversation, db, logger),
	}, nil
}

func (a *app) close() {
	closeExecutor(a.executor, a.logger)
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func closeExecutor(executor ml.Executor, logger *zap.Logger) {
	if c, ok := executor.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close AI executor", zap.Error(err))
		}
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	srv := server.New(a.service, a.metrics.Handler(), a.cfg.Server.StaticDir, a.logger)
	addr := net.JoinHostPort("", a.cfg.Server.Port)
	shutdown := time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	return srv.Start(ctx, addr, shutdown)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	scan, err := a.service.Scan(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(scan)
}

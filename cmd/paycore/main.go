// Command paycore runs the settlement engine and serves its read API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vitwit/paycore"
	"github.com/vitwit/paycore/logger"
	"github.com/vitwit/paycore/metrics"
	"github.com/vitwit/paycore/server"
	"github.com/vitwit/paycore/storage"
	"github.com/vitwit/paycore/storage/memory"
	"github.com/vitwit/paycore/storage/migrations"
	"github.com/vitwit/paycore/storage/postgres"
	"github.com/vitwit/paycore/types"
	"github.com/vitwit/paycore/utils"
)

const defaultListenAddr = ":8080"

func main() {
	configPath := flag.String("config", "paycore.json", "Path to the JSON deployment config")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the config")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "paycore: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	// Load .env file if exists
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := utils.LoadConfig(configPath)
	if err != nil {
		return err
	}

	zl, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, zl)
	if err != nil {
		return err
	}

	var (
		recorder metrics.Recorder = metrics.NoopRecorder{}
		reg      *prometheus.Registry
	)
	if cfg.EnableMetrics {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec, err := metrics.NewPrometheusRecorder(reg)
		if err != nil {
			store.Close()
			return fmt.Errorf("register metrics: %w", err)
		}
		recorder = rec
	}

	gw, err := paycore.New(cfg,
		paycore.WithStore(store),
		paycore.WithLogger(zl.Named("engine")),
		paycore.WithMetrics(recorder),
	)
	if err != nil {
		store.Close()
		return err
	}
	defer gw.Close()

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	opts := []server.Option{server.WithLogger(zl.Named("http"))}
	if reg != nil {
		opts = append(opts, server.WithGatherer(reg))
	}
	addr := cfg.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}

	zl.Info("paycore started", map[string]any{
		"version":  paycore.Version,
		"addr":     addr,
		"fee_bps":  gw.Engine().GetProtocolFee(),
		"tokens":   len(gw.Engine().GetSupportedTokens()),
		"postgres": cfg.PostgresDSN != "",
	})

	if err := server.New(gw.Engine(), opts...).ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	zl.Info("shutdown complete", nil)
	return nil
}

// openStore connects to postgres and applies migrations when a DSN is
// configured, and falls back to memory otherwise.
func openStore(ctx context.Context, cfg *types.Config, log logger.Logger) (storage.Store, error) {
	if cfg.PostgresDSN == "" {
		log.Warn("no postgres DSN configured, state will not survive a restart", nil)
		return memory.NewStore(), nil
	}

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if len(applied) > 0 {
		log.Info("applied migrations", map[string]any{"versions": applied})
	}
	return postgres.NewStore(pool), nil
}

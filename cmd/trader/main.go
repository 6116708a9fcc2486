package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/adapter/gateway"
	httpapi "github.com/zono819/tradecore/internal/adapter/http"
	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
	"github.com/zono819/tradecore/internal/infrastructure/config"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
	"github.com/zono819/tradecore/internal/infrastructure/okx"
	"github.com/zono819/tradecore/internal/infrastructure/paper"
	"github.com/zono819/tradecore/internal/infrastructure/persistence/memory"
	"github.com/zono819/tradecore/internal/infrastructure/persistence/postgres"
	"github.com/zono819/tradecore/internal/infrastructure/persistence/sqlite"
	"github.com/zono819/tradecore/internal/usecase"
	"github.com/zono819/tradecore/internal/usecase/executor"
	"github.com/zono819/tradecore/internal/usecase/order"
	"github.com/zono819/tradecore/internal/usecase/position"
	"github.com/zono819/tradecore/internal/usecase/risk"
	"github.com/zono819/tradecore/internal/usecase/tracker"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "show version")
	dryRun := flag.Bool("dry-run", false, "simulate orders with the paper venue")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tradecore %s (built: %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load config
	cfg, err := loadConfig(*configPath, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewWithOptions(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	if cfg.App.DryRun {
		log.Info("Running in DRY-RUN mode - orders are simulated by the paper venue")
	} else {
		log.Warn("Running in LIVE mode - real orders will be placed!")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("Received signal: %v, initiating graceful shutdown...", sig)
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Trader error: %v", err)
		os.Exit(1)
	}
}

func loadConfig(path string, dryRun bool) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = ""
	}
	if dryRun {
		// the flag wins over file and environment
		os.Setenv("APP_DRY_RUN", "true")
	}
	return config.Load(path)
}

type repositories struct {
	orders    repository.OrderRepository
	trades    repository.TradeRepository
	positions repository.PositionRepository
	close     func() error
}

func openStorage(cfg config.StorageConfig) (*repositories, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return &repositories{orders: db.Orders(), trades: db.Trades(), positions: db.Positions(), close: db.Close}, nil
	case "postgres":
		db, err := postgres.Open(postgres.Option{
			Host:       cfg.Postgres.Host,
			Port:       cfg.Postgres.Port,
			User:       cfg.Postgres.User,
			Password:   cfg.Postgres.Password,
			Database:   cfg.Postgres.Database,
			SSLMode:    cfg.Postgres.SSLMode,
			ConnString: cfg.Postgres.DSN,
		})
		if err != nil {
			return nil, err
		}
		return &repositories{orders: db.Orders(), trades: db.Trades(), positions: db.Positions(), close: db.Close}, nil
	default:
		return &repositories{
			orders:    memory.NewOrderRepository(),
			trades:    memory.NewTradeRepository(),
			positions: memory.NewPositionRepository(),
			close:     func() error { return nil },
		}, nil
	}
}

func newExchange(cfg *config.Config, log *logger.Logger) gateway.ExchangeGateway {
	ex := cfg.Exchange
	venueCfg := &okx.ExchangeConfig{
		BaseURL:    ex.BaseURL,
		WSURL:      ex.WSURL,
		PrivateURL: ex.PrivateURL,
		APIKey:     ex.APIKey,
		APISecret:  ex.APISecret,
		Passphrase: ex.Passphrase,
		Demo:       ex.Demo,
		Timeout:    ex.Timeout,
		RetryCount: 2,
	}

	if cfg.App.DryRun {
		// public market data only; orders never leave the process
		venueCfg.APIKey, venueCfg.APISecret, venueCfg.Passphrase = "", "", ""
		feed := okx.NewExchange(venueCfg, log)
		return paper.NewExchange(paper.Config{FeeRate: decimal.NewFromFloat(ex.PaperFee)}, feed, log)
	}
	return okx.NewExchange(venueCfg, log)
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	started := time.Now()
	log.Info("Starting %s %s in %s mode", cfg.App.Name, version, cfg.App.Environment)

	repos, err := openStorage(cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "failed to open storage")
	}
	defer repos.close()
	log.Info("Storage: %s", cfg.Storage.Driver)

	exchange := newExchange(cfg, log)
	prices := gateway.NewTickerCache()

	gate := risk.NewGate(&cfg.Risk)
	store := order.NewStore(repos.orders, log)
	ledger := position.NewLedger(repos.positions, log)
	recorder := position.NewRecorder(repos.trades, log)
	analyzer := position.NewAnalyzer(repos.positions, decimal.NewFromFloat(cfg.App.InitialCapital))
	tr := tracker.New(cfg.Tracker, exchange, store, ledger, recorder, log)
	exec := executor.New(executor.Config{TradeMode: entity.TradeMode(cfg.Exchange.TradeMode)}, exchange, store, gate, tr, prices, log)

	engine := usecase.NewEngine(usecase.EngineConfig{
		Instruments:       cfg.Engine.Instruments,
		ReconcileInterval: cfg.Engine.ReconcileInterval,
	}, usecase.Components{
		Exchange:  exchange,
		Store:     store,
		Ledger:    ledger,
		Tracker:   tr,
		Executor:  exec,
		Gate:      gate,
		Prices:    prices,
		Execution: cfg.Execution,
	}, log)

	if err := engine.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start engine")
	}

	server := httpapi.NewServer(httpapi.Config{Addr: cfg.HTTP.Addr}, httpapi.Services{
		Orders:      exec,
		OrderQuery:  store,
		Positions:   engine,
		Trades:      recorder,
		Performance: analyzer,
		Status:      engine.Status,
	}, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Wait for context cancellation
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error("HTTP server stopped: %v", err)
		}
	}

	// Graceful shutdown
	log.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.GracePeriod)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown error: %v", err)
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		log.Error("Shutdown error: %v", err)
	}

	log.Info("Trader stopped after %s", time.Since(started).Round(time.Second))
	return nil
}

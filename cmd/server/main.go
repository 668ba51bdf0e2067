package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/service"
	"github.com/minhlq/invoicesync/internal/application/throttle"
	"github.com/minhlq/invoicesync/internal/config"
	"github.com/minhlq/invoicesync/internal/infrastructure/exporter"
	"github.com/minhlq/invoicesync/internal/infrastructure/external/taxportal"
	"github.com/minhlq/invoicesync/internal/infrastructure/notifier"
	"github.com/minhlq/invoicesync/internal/infrastructure/persistence/repository"
	"github.com/minhlq/invoicesync/internal/infrastructure/worker"
	httpserver "github.com/minhlq/invoicesync/internal/interfaces/http"
	"github.com/minhlq/invoicesync/pkg/database"
	"github.com/minhlq/invoicesync/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	// Local overrides; missing .env is fine
	_ = gotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting invoice sync service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if err := database.NewMigrator(db, logger).Run(); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	purchaseRepo := repository.NewPurchaseInvoiceRepository(db, logger)
	soldRepo := repository.NewSoldInvoiceRepository(db, logger)
	riskRepo := repository.NewRiskCompanyRepository(db, logger)

	// Portal gateway
	gateway := taxportal.NewClient(taxportal.Config{
		BaseURL:    cfg.Portal.BaseURL,
		Cookie:     cfg.Portal.Cookie,
		AuthCookie: cfg.Portal.AuthCookie,
		PageSize:   cfg.Portal.PageSize,
	}, &http.Client{Timeout: cfg.Portal.Timeout}, logger)

	// Services
	hub := notifier.NewHub(logger)
	riskService := service.NewRiskService(riskRepo, logger)
	syncService := service.NewSyncService(gateway, purchaseRepo, soldRepo, riskService, hub, throttle.Config{
		MaxRetries: cfg.Sync.MaxRetries,
		Backoff:    cfg.Sync.RetryBackoff,
		Pace:       cfg.Sync.DetailDelay,
	}, logger)

	// Background workers
	manager := worker.NewManager(logger)
	if cfg.Sync.ReparseInterval > 0 {
		manager.Register(worker.NewReparseWorker(worker.ReparseWorkerConfig{
			Interval:  cfg.Sync.ReparseInterval,
			BatchSize: worker.DefaultReparseWorkerConfig().BatchSize,
		}, purchaseRepo, riskService, taxportal.ParseDetail, logger))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start background workers", zap.Error(err))
	}

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, syncService, riskService, gateway, hub, exporter.NewExcelExporter(logger), logger)

	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server exited with error", zap.Error(err))
	}

	logger.Info("Shutting down...")
	if err := manager.StopAll(); err != nil {
		logger.Error("Failed to stop workers", zap.Error(err))
	}
	hub.Close()
	logger.Info("Server exited successfully")
}

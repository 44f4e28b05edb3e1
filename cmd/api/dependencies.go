package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/catalog"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/extract"
	importhandler "github.com/FACorreiaa/subscription-tracker/internal/domain/import/handler"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/normalizer"
	importservice "github.com/FACorreiaa/subscription-tracker/internal/domain/import/service"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/detector"
	subscriptionshandler "github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/handler"
	subscriptionsrepo "github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/repository"
	subscriptionsservice "github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/service"

	"github.com/FACorreiaa/subscription-tracker/pkg/config"
	"github.com/FACorreiaa/subscription-tracker/pkg/cron"
	"github.com/FACorreiaa/subscription-tracker/pkg/db"
	"github.com/FACorreiaa/subscription-tracker/pkg/metrics"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config  *config.Config
	DB      *db.DB
	Logger  *slog.Logger
	Catalog *catalog.Catalog
	Metrics *metrics.Metrics

	// Repositories
	SubscriptionsRepo subscriptionsrepo.SubscriptionRepository
	OverrideStore     *normalizer.OverrideStore

	// Services
	ImportService        *importservice.ImportService
	SubscriptionsService *subscriptionsservice.Service
	Scheduler            *cron.Scheduler

	// Handlers
	ImportHandler        *importhandler.ImportHandler
	SubscriptionsHandler *subscriptionshandler.SubscriptionsHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initCatalog(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to load provider catalog: %w", err)
	}

	// Initialize repositories
	deps.initRepositories()

	// Initialize services
	deps.initServices()

	// Initialize handlers
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        int32(d.Config.Database.MaxConns),
		MinConns:        int32(d.Config.Database.MinConns),
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if !d.Config.Database.RunMigrations {
		d.Logger.Info("database connected, migrations skipped")
		return nil
	}

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

func (d *Dependencies) initCatalog() error {
	cat, err := LoadCatalog(d.Config.Import.CatalogPath)
	if err != nil {
		return err
	}
	d.Catalog = cat
	d.Logger.Info("provider catalog loaded", slog.Int("providers", cat.Len()))
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() {
	d.SubscriptionsRepo = subscriptionsrepo.NewPostgresSubscriptionRepository(d.DB.Pool)
	d.OverrideStore = normalizer.NewOverrideStore(d.DB.Pool)

	d.Logger.Info("repositories initialized")
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = metrics.New(reg)

	// Subscriptions service for manual entries, applied candidates and roll-forward
	d.SubscriptionsService = subscriptionsservice.NewService(d.SubscriptionsRepo, d.Catalog, d.Logger)

	// Import service reconciles previews against the user's subscriptions
	d.ImportService = importservice.NewImportService(
		extract.NewPDFExtractor(),
		d.SubscriptionsService,
		d.Catalog,
		d.Metrics,
		importservice.Config{
			MaxUploadBytes: d.Config.Import.MaxUploadBytes,
			ExtractTimeout: d.Config.Import.ExtractTimeout,
			Detection: detector.Options{
				AmountTolerance: d.Config.Detection.AmountTolerance,
				MinConfidence:   d.Config.Detection.MinConfidence,
			},
		},
		d.Logger,
	).WithOverrides(d.OverrideStore)

	d.Scheduler = cron.NewScheduler(d.SubscriptionsService, d.Config.Scheduler.RollForwardSpec, d.Metrics, d.Logger)

	d.Logger.Info("services initialized")
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() {
	d.ImportHandler = importhandler.NewImportHandler(d.ImportService, d.Logger).WithOverrides(d.OverrideStore)
	d.SubscriptionsHandler = subscriptionshandler.NewSubscriptionsHandler(d.SubscriptionsService, d.Catalog, d.Logger)

	d.Logger.Info("handlers initialized")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}

// LoadCatalog reads the provider catalog at path, or the built-in one when
// path is empty.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Builtin()
	}
	return catalog.LoadFile(path)
}

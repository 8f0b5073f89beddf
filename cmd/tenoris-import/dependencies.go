package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/checkpoint"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/client"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/normalizer"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/service"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/uploader"
	"github.com/FACorreiaa/tenoris360-importer/pkg/config"
	"github.com/FACorreiaa/tenoris360-importer/pkg/db"
	"github.com/FACorreiaa/tenoris360-importer/pkg/money"
	"github.com/FACorreiaa/tenoris360-importer/pkg/notify"
	"github.com/FACorreiaa/tenoris360-importer/pkg/storage"
)

// jwtTTL is the lifetime of the backend tokens minted from BACKEND_JWT_SECRET
const jwtTTL = 15 * time.Minute

// Dependencies holds everything a command needs
type Dependencies struct {
	Config *config.Config
	Logger *slog.Logger
	Pool   *pgxpool.Pool

	Registry    *prometheus.Registry
	Metrics     *uploader.Metrics
	Checkpoints *checkpoint.Manager
	Client      *client.Client
	Uploader    *uploader.Uploader
	Notifier    notify.Notifier

	ImportService *service.ImportService
}

// dependencyOptions tweaks what InitDependencies builds
type dependencyOptions struct {
	// requireBackend fails early when backend credentials are missing
	requireBackend bool
	// propertiesFile is a CSV export of properties used instead of the backend directory
	propertiesFile string
	// notifier shows notices to the user; notices are logged when nil
	notifier notify.Notifier
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts dependencyOptions) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if opts.requireBackend {
		if err := cfg.RequireBackend(); err != nil {
			return nil, fmt.Errorf("%w: %w", errBackendNotConfigured, err)
		}
	}

	if err := deps.initCheckpoints(ctx); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to init checkpoint store: %w", err)
	}

	deps.initClient()
	deps.initNotifier(opts.notifier)

	if err := deps.initServices(opts); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	logger.Debug("all dependencies initialized",
		slog.String("checkpoint_store", cfg.Checkpoint.Store),
		slog.Bool("backend", deps.Client != nil))

	return deps, nil
}

// initCheckpoints opens the configured checkpoint store and runs migrations
// when it is Postgres
func (d *Dependencies) initCheckpoints(ctx context.Context) error {
	var store checkpoint.Store

	switch d.Config.Checkpoint.Store {
	case config.CheckpointStorePostgres:
		pool, err := db.Connect(ctx, d.Config.Database.DSN(), d.Logger)
		if err != nil {
			return err
		}
		d.Pool = pool

		if err := db.Migrate(ctx, pool, d.Logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		store = checkpoint.NewPostgresStore(pool, d.Config.Checkpoint.Namespace)

	default:
		files, err := storage.New(&storage.Config{
			Type:      storage.StorageTypeLocal,
			LocalPath: d.Config.Checkpoint.Dir,
		})
		if err != nil {
			return err
		}
		store = checkpoint.NewStorageStore(files)
	}

	d.Checkpoints = checkpoint.NewManager(store, d.Config.Checkpoint.TTL, d.Logger)
	return nil
}

// initClient builds the backend client when credentials are configured
func (d *Dependencies) initClient() {
	backend := d.Config.Backend
	if d.Config.RequireBackend() != nil {
		return
	}

	var tokens client.TokenSource = client.StaticToken(backend.Token)
	if backend.Token == "" {
		tokens = client.NewJWTSource(backend.JWTSecret, backend.JWTSubject, jwtTTL)
	}

	cfg := client.DefaultConfig(backend.BaseURL)
	cfg.Timeout = backend.Timeout
	cfg.RatePerSecond = backend.RatePerSecond
	cfg.Burst = backend.Burst
	if backend.MaxRetries >= 0 {
		cfg.MaxRetries = uint64(backend.MaxRetries)
	}

	d.Client = client.New(cfg, tokens, d.Logger)
}

// initNotifier shows every notice through local and mails the outcome of
// imports when Resend is configured
func (d *Dependencies) initNotifier(local notify.Notifier) {
	if local == nil {
		local = notify.NewLogNotifier(d.Logger)
	}
	notifiers := notify.Multi{local}

	n := d.Config.Notify
	if email := notify.NewEmailNotifier(n.ResendAPIKey, n.From, n.To, d.Logger); email != nil {
		notifiers = append(notifiers, email)
	}

	d.Notifier = notifiers
}

func (d *Dependencies) initServices(opts dependencyOptions) error {
	d.Registry = prometheus.NewRegistry()
	d.Metrics = uploader.NewMetrics(d.Registry)

	dialect, err := money.ParseDialect(d.Config.Import.Dialect)
	if err != nil {
		return err
	}

	var importer uploader.Importer = offlineImporter{}
	if d.Client != nil {
		importer = d.Client
	}

	d.Uploader = uploader.New(importer, d.Checkpoints.Store(), uploader.Config{
		ChunkSize:            d.Config.Import.ChunkSize,
		TransactionChunkSize: d.Config.Import.TransactionChunkSize,
		Concurrency:          d.Config.Import.Concurrency,
	}, d.Logger).WithMetrics(d.Metrics)

	d.ImportService = service.NewImportService(d.Uploader, d.Checkpoints, d.Notifier, d.Logger).
		WithMetrics(d.Metrics).
		WithDialect(dialect)

	switch {
	case opts.propertiesFile != "":
		properties, err := loadProperties(opts.propertiesFile)
		if err != nil {
			return err
		}
		d.ImportService.WithPropertySource(staticProperties(properties))
	case d.Client != nil:
		d.ImportService.WithPropertySource(d.Client)
	}

	return nil
}

// Close releases the database pool
func (d *Dependencies) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
}

func loadProperties(path string) ([]normalizer.Property, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open properties file: %w", err)
	}
	defer f.Close()

	properties, err := normalizer.LoadPropertiesCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read properties file %s: %w", path, err)
	}
	return properties, nil
}

// staticProperties serves a property directory loaded from disk
type staticProperties []normalizer.Property

func (p staticProperties) ListProperties(context.Context) ([]normalizer.Property, error) {
	return p, nil
}

// offlineImporter stands in for the backend when no credentials are configured.
// Commands that upload require the backend, so it is only reachable by mistake.
type offlineImporter struct{}

func (offlineImporter) ImportChunk(context.Context, schema.EntityType, []json.RawMessage) (int, error) {
	return 0, errBackendNotConfigured
}

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/juju/clock"

	"github.com/semmidev/dbkeep/internal/adapter/database"
	"github.com/semmidev/dbkeep/internal/adapter/notifier"
	"github.com/semmidev/dbkeep/internal/adapter/storage"
	"github.com/semmidev/dbkeep/internal/config"
	"github.com/semmidev/dbkeep/internal/domain"
	"github.com/semmidev/dbkeep/internal/infrastructure/logger"
	"github.com/semmidev/dbkeep/internal/infrastructure/metrics"
	"github.com/semmidev/dbkeep/internal/infrastructure/scheduler"
	"github.com/semmidev/dbkeep/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *config.Config
	logger    *logger.Logger
	metrics   *metrics.Metrics
	backupUC  *usecase.Backup
	scheduler *scheduler.Scheduler
	server    *metrics.Server
	closers   []io.Closer
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(logger.Options{
		Name:  cfg.App.Name,
		Level: cfg.App.LogLevel,
		File:  cfg.App.LogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a, err := build(ctx, cfg, log)
	if err != nil {
		log.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		config:  cfg,
		logger:  log,
		metrics: metrics.New(),
	}

	kind := cfg.DatabaseKind()
	storageKind := cfg.StorageKind()

	connector, exporter, err := initializeDatabase(cfg)
	if err != nil {
		return nil, err
	}
	log.Infof("✓ Database: %s", kind)

	uploader, err := a.initializeUploader(ctx, cfg)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	log.Infof("✓ Storage: %s (local directory %s)", storageKind, cfg.Backup.Dir)

	var notify domain.Notifier
	if cfg.Notify.Telegram.Enabled {
		tg, err := notifier.NewTelegram(&cfg.Notify.Telegram, cfg.App.Name)
		if err != nil {
			// A broken notifier must not block backups.
			log.Errorf("Failed to initialize Telegram notifications: %v", err)
		} else {
			notify = tg
			log.Infof("✓ Telegram notifications enabled")
		}
	}

	runLogger := func(runID string) usecase.Logger {
		return log.With("run_id", runID)
	}
	a.backupUC = usecase.NewBackup(usecase.BackupOptions{
		Kind:          kind,
		StorageKind:   storageKind,
		Dir:           cfg.Backup.Dir,
		RetentionDays: cfg.Backup.RetentionDays,
		Connector:     connector,
		Exporter:      exporter,
		Uploader:      uploader,
		Notifier:      notify,
		OpenDir:       openLocal,
		Logger:        log,
		RunLogger:     runLogger,
		Metrics:       a.metrics,
		Clock:         clock.WallClock,
	})

	return a, nil
}

func initializeDatabase(cfg *config.Config) (domain.Connector, domain.Exporter, error) {
	timeout := cfg.Database.ConnectTimeout

	var (
		connector domain.Connector
		exporter  domain.Exporter
	)
	switch cfg.DatabaseKind() {
	case domain.Postgres:
		connector = database.NewPostgreSQLConnector(&cfg.Database.Postgres, timeout)
		exporter = database.NewPostgreSQLExporter(&cfg.Database.Postgres, cfg.Backup.PgDumpBin, cfg.Backup.Verify)
	case domain.MongoDB:
		connector = database.NewMongoDBConnector(&cfg.Database.MongoDB, timeout)
		exporter = database.NewMongoDBExporter(&cfg.Database.MongoDB, cfg.Backup.MongodumpBin, cfg.Backup.Verify)
	default:
		return nil, nil, fmt.Errorf("%w: unsupported database type %q", domain.ErrConfig, cfg.Database.Type)
	}

	if cfg.Database.SkipConnectionCheck {
		connector = database.NopConnector{}
	}
	return connector, exporter, nil
}

func (a *App) initializeUploader(ctx context.Context, cfg *config.Config) (domain.Uploader, error) {
	switch cfg.StorageKind() {
	case domain.StorageS3:
		s3, err := storage.NewS3(ctx, &cfg.Storage.AWS)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3: %w", err)
		}
		a.logger.Infof("✓ AWS S3 upload enabled (bucket: %s)", cfg.Storage.AWS.Bucket)
		return s3, nil

	case domain.StorageGCS:
		gcs, err := storage.NewGCS(ctx, &cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GCS: %w", err)
		}
		a.closers = append(a.closers, gcs)
		a.logger.Infof("✓ GCS upload enabled (bucket: %s)", cfg.Storage.GCS.Bucket)
		return gcs, nil

	case domain.StorageGDrive:
		gdrive, err := storage.NewGDrive(ctx, &cfg.Storage.GDrive)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Drive: %w", err)
		}
		a.logger.Infof("✓ Google Drive upload enabled")
		return gdrive, nil
	}
	return nil, nil
}

func openLocal(dir string) (usecase.LocalStorage, error) {
	local, err := storage.NewLocal(dir)
	if err != nil {
		return nil, err
	}
	return local, nil
}

// RunOnce performs a single backup.
func (a *App) RunOnce(ctx context.Context) (*domain.Result, error) {
	return a.backupUC.Execute(ctx)
}

// Sweep applies the retention policy to the backup directory without
// taking a new backup.
func (a *App) Sweep(ctx context.Context) ([]string, error) {
	sweeper, err := usecase.NewSweeper(a.config.Backup.RetentionDays, clock.WallClock, a.logger, a.metrics)
	if err != nil {
		return nil, err
	}
	return sweeper.Sweep(ctx, storage.OpenLocal(a.config.Backup.Dir))
}

// Run schedules backups on backup.schedule and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.config.Backup.Schedule == "" {
		return fmt.Errorf("%w: backup.schedule is required to run as a daemon", domain.ErrConfig)
	}

	a.scheduler = scheduler.New(a.logger)
	if err := a.scheduler.AddJob("backup", a.config.Backup.Schedule, func(ctx context.Context) error {
		a.logger.Infof("=== Triggered scheduled %s backup ===", a.config.DatabaseKind())
		_, err := a.backupUC.Execute(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}

	if a.config.Metrics.Addr != "" {
		a.server = metrics.NewServer(a.config.Metrics.Addr, a.metrics, a.logger)
		a.server.Start()
	}

	a.scheduler.Start()
	a.logger.Infof("Scheduler started successfully")

	<-ctx.Done()
	return nil
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Errorf("%v", err)
		}
	}

	a.closeAll()
	a.logger.Close()
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warnf("Failed to close client: %v", err)
		}
	}
	a.closers = nil
}

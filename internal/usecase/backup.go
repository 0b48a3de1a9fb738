package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/semmidev/dbkeep/internal/domain"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

type Metrics interface {
	ObservePhase(phase string, d time.Duration)
	ArtifactCreated(a domain.Artifact)
	RunFinished(kind domain.DatabaseKind, at time.Time, err error)
	Deleted(n int)
}

const (
	PhaseConnect = "connect"
	PhaseExport  = "export"
	PhaseUpload  = "upload"
	PhaseSweep   = "sweep"
)

const notifyTimeout = 30 * time.Second

type BackupOptions struct {
	Kind          domain.DatabaseKind
	StorageKind   domain.StorageKind
	Dir           string
	RetentionDays int

	Connector domain.Connector
	Exporter  domain.Exporter
	// Uploader is required for remote storage kinds and ignored for local.
	Uploader domain.Uploader
	// Notifier is optional.
	Notifier domain.Notifier
	// OpenDir creates the backup directory if needed.
	OpenDir func(dir string) (LocalStorage, error)

	Logger Logger
	// RunLogger returns a logger that carries runID on every entry. It
	// defaults to prefixing Logger's messages with the run ID.
	RunLogger func(runID string) Logger
	Metrics   Metrics
	Clock     clock.Clock
}

// Backup runs one backup: validate, prepare the directory, connect,
// export, upload for remote storage, sweep expired artifacts and close.
type Backup struct {
	opts BackupOptions
}

func NewBackup(opts BackupOptions) *Backup {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.RunLogger == nil {
		base := opts.Logger
		opts.RunLogger = func(runID string) Logger {
			return runLogger{Logger: base, runID: runID}
		}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &Backup{opts: opts}
}

// Execute runs the sequence once. The returned error wraps exactly one of
// the domain error kinds.
func (uc *Backup) Execute(ctx context.Context) (*domain.Result, error) {
	runID := uuid.NewString()
	log := uc.opts.RunLogger(runID)
	start := uc.opts.Clock.Now()

	log.Infof("Starting %s backup to %s storage", uc.opts.Kind, uc.opts.StorageKind)

	result, err := uc.run(ctx, runID, log)

	uc.opts.Metrics.RunFinished(uc.opts.Kind, uc.opts.Clock.Now(), err)
	if err != nil {
		log.Errorf("Backup failed: %v", err)
		uc.notify(ctx, log, func(ctx context.Context, n domain.Notifier) error {
			return n.NotifyFailure(ctx, uc.opts.Kind, err)
		})
		return nil, err
	}

	result.Duration = uc.opts.Clock.Now().Sub(start)
	log.Infof("Backup completed in %s: %s", result.Duration.Round(time.Millisecond), result.Artifact.Filename)
	uc.notify(ctx, log, func(ctx context.Context, n domain.Notifier) error {
		return n.NotifySuccess(ctx, result)
	})
	return result, nil
}

func (uc *Backup) run(ctx context.Context, runID string, log Logger) (_ *domain.Result, err error) {
	policy, err := uc.validate()
	if err != nil {
		return nil, err
	}

	local, err := uc.opts.OpenDir(uc.opts.Dir)
	if err != nil {
		return nil, asKind(err, domain.ErrFilesystem, "prepare backup directory")
	}

	phaseStart := uc.opts.Clock.Now()
	conn, err := uc.opts.Connector.Connect(ctx)
	if err != nil {
		return nil, asKind(err, domain.ErrConnection, "connect")
	}
	uc.opts.Metrics.ObservePhase(PhaseConnect, uc.opts.Clock.Now().Sub(phaseStart))
	log.Infof("Connected to %s", uc.opts.Kind)

	defer func() {
		closeErr := conn.Close()
		if closeErr == nil {
			return
		}
		if err != nil {
			log.Warnf("Failed to close %s connection: %v", uc.opts.Kind, closeErr)
			return
		}
		err = asKind(closeErr, domain.ErrConnection, "close connection")
	}()

	artifact, err := uc.export(ctx, log, local)
	if err != nil {
		return nil, err
	}

	result := &domain.Result{RunID: runID, Artifact: artifact}

	if uc.opts.StorageKind.Remote() {
		phaseStart = uc.opts.Clock.Now()
		log.Infof("Uploading to %s...", uc.opts.Uploader.Name())
		location, err := uc.opts.Uploader.Upload(ctx, artifact.Path)
		if err != nil {
			return nil, asKind(err, domain.ErrUpload, "upload to "+uc.opts.Uploader.Name())
		}
		uc.opts.Metrics.ObservePhase(PhaseUpload, uc.opts.Clock.Now().Sub(phaseStart))
		log.Infof("Uploaded to %s", location)
		result.Location = location
	}

	phaseStart = uc.opts.Clock.Now()
	sweeper := newSweeper(policy, uc.opts.Clock, log, uc.opts.Metrics)
	deleted, err := sweeper.Sweep(ctx, local)
	if err != nil {
		return nil, asKind(err, domain.ErrFilesystem, "retention sweep")
	}
	uc.opts.Metrics.ObservePhase(PhaseSweep, uc.opts.Clock.Now().Sub(phaseStart))
	result.Deleted = deleted

	return result, nil
}

// validate runs before any I/O so a bad configuration never touches the
// filesystem, the network or a subprocess.
func (uc *Backup) validate() (domain.RetentionPolicy, error) {
	if !uc.opts.Kind.Valid() {
		return domain.RetentionPolicy{}, fmt.Errorf("%w: unsupported database type %q", domain.ErrConfig, uc.opts.Kind)
	}
	if !uc.opts.StorageKind.Valid() {
		return domain.RetentionPolicy{}, fmt.Errorf("%w: unsupported storage type %q", domain.ErrConfig, uc.opts.StorageKind)
	}
	if uc.opts.Dir == "" {
		return domain.RetentionPolicy{}, fmt.Errorf("%w: backup directory is required", domain.ErrConfig)
	}
	policy, err := domain.NewRetentionPolicy(uc.opts.RetentionDays)
	if err != nil {
		return domain.RetentionPolicy{}, err
	}
	if uc.opts.Connector == nil {
		return domain.RetentionPolicy{}, fmt.Errorf("%w: no connector for %s", domain.ErrConfig, uc.opts.Kind)
	}
	if uc.opts.Exporter == nil || uc.opts.Exporter.Kind() != uc.opts.Kind {
		return domain.RetentionPolicy{}, fmt.Errorf("%w: no exporter for %s", domain.ErrConfig, uc.opts.Kind)
	}
	if uc.opts.StorageKind.Remote() && uc.opts.Uploader == nil {
		return domain.RetentionPolicy{}, fmt.Errorf("%w: no uploader for %s storage", domain.ErrConfig, uc.opts.StorageKind)
	}
	if uc.opts.OpenDir == nil {
		return domain.RetentionPolicy{}, fmt.Errorf("%w: backup directory opener is required", domain.ErrConfig)
	}
	return policy, nil
}

func (uc *Backup) export(ctx context.Context, log Logger, local LocalStorage) (domain.Artifact, error) {
	createdAt := uc.opts.Clock.Now()
	filename := domain.ArtifactFilename(uc.opts.Kind, createdAt)
	path := local.GetPath(filename)

	log.Infof("Creating backup to: %s", path)

	phaseStart := uc.opts.Clock.Now()
	if err := uc.opts.Exporter.Export(ctx, path); err != nil {
		if !errors.Is(err, domain.ErrExport) {
			err = &domain.ExportError{Kind: uc.opts.Kind, Err: err}
		}
		return domain.Artifact{}, err
	}
	uc.opts.Metrics.ObservePhase(PhaseExport, uc.opts.Clock.Now().Sub(phaseStart))

	info, err := os.Stat(path)
	if err != nil {
		return domain.Artifact{}, &domain.ExportError{Kind: uc.opts.Kind, Err: fmt.Errorf("stat backup file: %w", err)}
	}

	artifact := domain.Artifact{
		Kind:      uc.opts.Kind,
		Path:      path,
		Filename:  filename,
		CreatedAt: createdAt,
		Size:      info.Size(),
	}
	uc.opts.Metrics.ArtifactCreated(artifact)
	log.Infof("Backup created, size: %s", humanize.IBytes(uint64(artifact.Size)))

	return artifact, nil
}

// notify reports the outcome without letting a notifier failure or a
// cancelled run context change the result.
func (uc *Backup) notify(ctx context.Context, log Logger, send func(context.Context, domain.Notifier) error) {
	if uc.opts.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := send(ctx, uc.opts.Notifier); err != nil {
		log.Warnf("Failed to send notification: %v", err)
	}
}

// asKind makes sure err wraps kind, adding op as context when it does not.
func asKind(err, kind error, op string) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}

// runLogger prefixes every message with the run ID.
type runLogger struct {
	Logger
	runID string
}

func (l runLogger) Infof(template string, args ...interface{}) {
	l.Logger.Infof("[%s] "+template, append([]interface{}{l.runID}, args...)...)
}

func (l runLogger) Errorf(template string, args ...interface{}) {
	l.Logger.Errorf("[%s] "+template, append([]interface{}{l.runID}, args...)...)
}

func (l runLogger) Warnf(template string, args ...interface{}) {
	l.Logger.Warnf("[%s] "+template, append([]interface{}{l.runID}, args...)...)
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{}) {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{}) {}

type nopMetrics struct{}

func (nopMetrics) ObservePhase(string, time.Duration) {}
func (nopMetrics) ArtifactCreated(domain.Artifact) {}
func (nopMetrics) RunFinished(domain.DatabaseKind, time.Time, error) {}
func (nopMetrics) Deleted(int) {}

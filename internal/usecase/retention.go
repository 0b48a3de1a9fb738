package usecase

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"go.uber.org/multierr"

	"github.com/semmidev/dbkeep/internal/domain"
)

// LocalStorage is the backup directory as seen by the use cases.
type LocalStorage interface {
	Entries(ctx context.Context) ([]domain.LocalFile, error)
	Delete(ctx context.Context, name string) error
	GetPath(filename string) string
}

// Sweeper deletes local artifacts that outlived the retention policy.
type Sweeper struct {
	policy  domain.RetentionPolicy
	clock   clock.Clock
	logger  Logger
	metrics Metrics
}

func NewSweeper(retentionDays int, clk clock.Clock, logger Logger, metrics Metrics) (*Sweeper, error) {
	policy, err := domain.NewRetentionPolicy(retentionDays)
	if err != nil {
		return nil, err
	}
	return newSweeper(policy, clk, logger, metrics), nil
}

func newSweeper(policy domain.RetentionPolicy, clk clock.Clock, logger Logger, metrics Metrics) *Sweeper {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Sweeper{policy: policy, clock: clk, logger: logger, metrics: metrics}
}

// Sweep removes every regular file whose age exceeds the threshold and
// returns the names it removed. Every expired file is attempted; failures
// are collected into a single FilesystemError.
func (s *Sweeper) Sweep(ctx context.Context, local LocalStorage) ([]string, error) {
	now := s.clock.Now()

	entries, err := local.Entries(ctx)
	if err != nil {
		return nil, asKind(err, domain.ErrFilesystem, "retention sweep")
	}

	var (
		deleted []string
		errs    error
	)
	for _, entry := range entries {
		if !s.policy.Expired(now, entry.ModTime) {
			continue
		}

		if err := local.Delete(ctx, entry.Name); err != nil {
			s.logger.Errorf("Failed to delete expired backup %s: %v", entry.Name, err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", entry.Name, err))
			continue
		}

		s.logger.Infof("Deleted expired backup %s (modified %s)", entry.Name, entry.ModTime.Format("2006-01-02 15:04:05"))
		deleted = append(deleted, entry.Name)
	}

	s.metrics.Deleted(len(deleted))

	if errs != nil {
		failed := len(multierr.Errors(errs))
		return deleted, fmt.Errorf("%w: retention sweep failed to delete %d file(s): %w", domain.ErrFilesystem, failed, errs)
	}

	s.logger.Infof("Retention sweep removed %d file(s) older than %d day(s)", len(deleted), s.policy.Days)
	return deleted, nil
}

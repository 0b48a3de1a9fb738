package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/dbkeep/internal/domain"
)

type fakeLocal struct {
	files    []domain.LocalFile
	listErr  error
	failOn   map[string]bool
	attempts []string
}

func (f *fakeLocal) Entries(ctx context.Context) ([]domain.LocalFile, error) {
	return f.files, f.listErr
}

func (f *fakeLocal) Delete(ctx context.Context, name string) error {
	f.attempts = append(f.attempts, name)
	if f.failOn[name] {
		return errors.New("permission denied")
	}
	return nil
}

func (f *fakeLocal) GetPath(filename string) string {
	return "/backups/" + filename
}

func TestSweeper(t *testing.T) {
	Convey("Given a sweeper with 7 day retention", t, func() {
		now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		clk := testclock.NewClock(now)
		metrics := &recordingMetrics{}

		sweeper, err := NewSweeper(7, clk, nil, metrics)
		So(err, ShouldBeNil)

		local := &fakeLocal{
			files: []domain.LocalFile{
				{Name: "a.dump", ModTime: now.Add(-30 * 24 * time.Hour)},
				{Name: "b.dump", ModTime: now.Add(-7*24*time.Hour - time.Millisecond)},
				{Name: "c.dump", ModTime: now.Add(-7 * 24 * time.Hour)},
				{Name: "d.dump", ModTime: now.Add(-time.Hour)},
				{Name: "e.dump", ModTime: now.Add(time.Hour)},
			},
		}

		Convey("Only entries strictly older than the threshold are deleted", func() {
			deleted, err := sweeper.Sweep(context.Background(), local)

			So(err, ShouldBeNil)
			So(deleted, ShouldResemble, []string{"a.dump", "b.dump"})
			So(local.attempts, ShouldResemble, []string{"a.dump", "b.dump"})
			So(metrics.deleted, ShouldEqual, 2)
		})

		Convey("Advancing the clock expires more entries", func() {
			clk.Advance(time.Millisecond)
			deleted, err := sweeper.Sweep(context.Background(), local)

			So(err, ShouldBeNil)
			So(deleted, ShouldResemble, []string{"a.dump", "b.dump", "c.dump"})
		})

		Convey("A failed deletion does not stop the others", func() {
			local.failOn = map[string]bool{"a.dump": true}
			deleted, err := sweeper.Sweep(context.Background(), local)

			So(errors.Is(err, domain.ErrFilesystem), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "a.dump")
			So(err.Error(), ShouldContainSubstring, "permission denied")
			So(deleted, ShouldResemble, []string{"b.dump"})
			So(local.attempts, ShouldResemble, []string{"a.dump", "b.dump"})
		})

		Convey("A listing failure is reported", func() {
			local.listErr = errors.New("directory gone")
			_, err := sweeper.Sweep(context.Background(), local)

			So(errors.Is(err, domain.ErrFilesystem), ShouldBeTrue)
			So(local.attempts, ShouldBeEmpty)
		})
	})

	Convey("A non-positive retention is a ConfigError", t, func() {
		_, err := NewSweeper(0, nil, nil, nil)
		So(errors.Is(err, domain.ErrConfig), ShouldBeTrue)
	})

	Convey("A retention too long for a duration is a ConfigError", t, func() {
		_, err := NewSweeper(200000, nil, nil, nil)
		So(errors.Is(err, domain.ErrConfig), ShouldBeTrue)
	})

	Convey("Given a sweeper with the longest accepted retention", t, func() {
		now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		sweeper, err := NewSweeper(int(domain.MaxRetentionDays), testclock.NewClock(now), nil, nil)
		So(err, ShouldBeNil)

		local := &fakeLocal{
			files: []domain.LocalFile{
				{Name: "fresh.dump", ModTime: now},
				{Name: "old.dump", ModTime: now.Add(-10 * 365 * 24 * time.Hour)},
			},
		}

		Convey("Nothing is deleted", func() {
			deleted, err := sweeper.Sweep(context.Background(), local)

			So(err, ShouldBeNil)
			So(deleted, ShouldBeEmpty)
			So(local.attempts, ShouldBeEmpty)
		})
	})

	Convey("Given a sweeper with a recording logger", t, func() {
		now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		log := &recordingLogger{}
		sweeper, err := NewSweeper(7, testclock.NewClock(now), runLogger{Logger: log, runID: "run-42"}, nil)
		So(err, ShouldBeNil)

		local := &fakeLocal{
			files:  []domain.LocalFile{{Name: "a.dump", ModTime: now.Add(-30 * 24 * time.Hour)}, {Name: "b.dump", ModTime: now.Add(-9 * 24 * time.Hour)}},
			failOn: map[string]bool{"b.dump": true},
		}

		Convey("Every log line carries the run ID", func() {
			_, err := sweeper.Sweep(context.Background(), local)

			So(errors.Is(err, domain.ErrFilesystem), ShouldBeTrue)
			So(log.lines, ShouldNotBeEmpty)
			for _, line := range log.lines {
				So(line, ShouldStartWith, "[run-42] ")
			}
		})
	})
}

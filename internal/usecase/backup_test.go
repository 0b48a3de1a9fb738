package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/dbkeep/internal/adapter/storage"
	"github.com/semmidev/dbkeep/internal/domain"
)

type fakeConn struct {
	closed int
	err    error
}

func (c *fakeConn) Close() error {
	c.closed++
	return c.err
}

type fakeConnector struct {
	conn  *fakeConn
	err   error
	calls int
}

func (f *fakeConnector) Connect(ctx context.Context) (domain.Conn, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

type fakeExporter struct {
	kind    domain.DatabaseKind
	content string
	err     error
	paths   []string
}

func (f *fakeExporter) Kind() domain.DatabaseKind { return f.kind }

func (f *fakeExporter) Export(ctx context.Context, outputPath string) error {
	f.paths = append(f.paths, outputPath)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outputPath, []byte(f.content), 0644)
}

type fakeUploader struct {
	location string
	err      error
	paths    []string
}

func (f *fakeUploader) Name() string { return "fake" }

func (f *fakeUploader) Upload(ctx context.Context, localPath string) (string, error) {
	f.paths = append(f.paths, localPath)
	if f.err != nil {
		return "", f.err
	}
	return f.location, nil
}

type fakeNotifier struct {
	successes []*domain.Result
	failures  []error
}

func (f *fakeNotifier) NotifySuccess(ctx context.Context, result *domain.Result) error {
	f.successes = append(f.successes, result)
	return nil
}

func (f *fakeNotifier) NotifyFailure(ctx context.Context, kind domain.DatabaseKind, err error) error {
	f.failures = append(f.failures, err)
	return errors.New("chat unavailable")
}

type recordingMetrics struct {
	phases  []string
	runs    []error
	sizes   []int64
	deleted int
}

func (m *recordingMetrics) ObservePhase(phase string, d time.Duration) {
	m.phases = append(m.phases, phase)
}

func (m *recordingMetrics) ArtifactCreated(a domain.Artifact) {
	m.sizes = append(m.sizes, a.Size)
}

func (m *recordingMetrics) RunFinished(kind domain.DatabaseKind, at time.Time, err error) {
	m.runs = append(m.runs, err)
}

func (m *recordingMetrics) Deleted(n int) {
	m.deleted += n
}

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Infof(template string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(template, args...))
}

func (l *recordingLogger) Errorf(template string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(template, args...))
}

func (l *recordingLogger) Warnf(template string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(template, args...))
}

func openLocal(dir string) (LocalStorage, error) {
	local, err := storage.NewLocal(dir)
	if err != nil {
		return nil, err
	}
	return local, nil
}

func touch(t *testing.T, path string, modTime time.Time) {
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestBackupExecute(t *testing.T) {
	Convey("Given a backup use case with fake collaborators", t, func() {
		dir := filepath.Join(t.TempDir(), "backups")
		now := time.Now().Truncate(time.Second)
		clk := testclock.NewClock(now)

		conn := &fakeConn{}
		connector := &fakeConnector{conn: conn}
		exporter := &fakeExporter{kind: domain.Postgres, content: "PGDMP archive"}
		uploader := &fakeUploader{location: "https://bucket.s3.amazonaws.com/backups/x.dump"}
		notifier := &fakeNotifier{}
		metrics := &recordingMetrics{}

		opts := BackupOptions{
			Kind:          domain.Postgres,
			StorageKind:   domain.StorageLocal,
			Dir:           dir,
			RetentionDays: 7,
			Connector:     connector,
			Exporter:      exporter,
			Uploader:      uploader,
			Notifier:      notifier,
			OpenDir:       openLocal,
			Metrics:       metrics,
			Clock:         clk,
		}
		ctx := context.Background()

		Convey("When the directory holds artifacts aged 8 and 6 days with 7 day retention", func() {
			So(os.MkdirAll(dir, 0755), ShouldBeNil)
			eightDays := filepath.Join(dir, "postgres_backup_1.dump")
			sixDays := filepath.Join(dir, "postgres_backup_2.dump")
			touch(t, eightDays, now.Add(-8*24*time.Hour))
			touch(t, sixDays, now.Add(-6*24*time.Hour))

			result, err := NewBackup(opts).Execute(ctx)

			Convey("It should keep the new artifact and the 6 day one and delete the 8 day one", func() {
				So(err, ShouldBeNil)
				So(result.Deleted, ShouldResemble, []string{"postgres_backup_1.dump"})
				So(exists(eightDays), ShouldBeFalse)
				So(exists(sixDays), ShouldBeTrue)

				So(result.Artifact.Filename, ShouldEqual, domain.ArtifactFilename(domain.Postgres, now))
				So(result.Artifact.Path, ShouldEqual, filepath.Join(dir, result.Artifact.Filename))
				So(result.Artifact.Size, ShouldEqual, int64(len("PGDMP archive")))
				So(exists(result.Artifact.Path), ShouldBeTrue)
				So(result.RunID, ShouldNotBeEmpty)
			})

			Convey("It should not upload for local storage", func() {
				So(uploader.paths, ShouldBeEmpty)
				So(result.Location, ShouldBeEmpty)
			})

			Convey("It should close the connection once and report the run", func() {
				So(conn.closed, ShouldEqual, 1)
				So(metrics.phases, ShouldResemble, []string{PhaseConnect, PhaseExport, PhaseSweep})
				So(metrics.runs, ShouldResemble, []error{nil})
				So(metrics.deleted, ShouldEqual, 1)
				So(notifier.successes, ShouldHaveLength, 1)
			})
		})

		Convey("When the run deletes an expired artifact", func() {
			So(os.MkdirAll(dir, 0755), ShouldBeNil)
			touch(t, filepath.Join(dir, "postgres_backup_1.dump"), now.Add(-8*24*time.Hour))

			log := &recordingLogger{}
			var scopedIDs []string
			opts.Logger = log
			opts.RunLogger = func(runID string) Logger {
				scopedIDs = append(scopedIDs, runID)
				return runLogger{Logger: log, runID: runID}
			}
			result, err := NewBackup(opts).Execute(ctx)

			Convey("Every log line, including the sweep, should carry the run ID", func() {
				So(err, ShouldBeNil)
				So(scopedIDs, ShouldResemble, []string{result.RunID})
				So(log.lines, ShouldNotBeEmpty)
				for _, line := range log.lines {
					So(line, ShouldStartWith, "["+result.RunID+"] ")
				}

				var sweepLogged bool
				for _, line := range log.lines {
					if strings.Contains(line, "Deleted expired backup postgres_backup_1.dump") {
						sweepLogged = true
					}
				}
				So(sweepLogged, ShouldBeTrue)
			})
		})

		Convey("When an artifact is exactly at the retention threshold", func() {
			So(os.MkdirAll(dir, 0755), ShouldBeNil)
			edge := filepath.Join(dir, "postgres_backup_3.dump")
			touch(t, edge, now.Add(-7*24*time.Hour))

			result, err := NewBackup(opts).Execute(ctx)

			Convey("It should be retained", func() {
				So(err, ShouldBeNil)
				So(result.Deleted, ShouldBeEmpty)
				So(exists(edge), ShouldBeTrue)
			})
		})

		Convey("When the directory does not exist yet", func() {
			_, err := NewBackup(opts).Execute(ctx)

			Convey("It should be created", func() {
				So(err, ShouldBeNil)
				info, statErr := os.Stat(dir)
				So(statErr, ShouldBeNil)
				So(info.IsDir(), ShouldBeTrue)
			})
		})

		Convey("When storage is aws", func() {
			opts.StorageKind = domain.StorageS3
			result, err := NewBackup(opts).Execute(ctx)

			Convey("It should upload the artifact and return its location", func() {
				So(err, ShouldBeNil)
				So(uploader.paths, ShouldResemble, []string{result.Artifact.Path})
				So(result.Location, ShouldEqual, "https://bucket.s3.amazonaws.com/backups/x.dump")
				So(metrics.phases, ShouldResemble, []string{PhaseConnect, PhaseExport, PhaseUpload, PhaseSweep})
			})
		})

		Convey("When the configuration is invalid", func() {
			opts.RetentionDays = 0
			result, err := NewBackup(opts).Execute(ctx)

			Convey("It should fail with a ConfigError before any I/O", func() {
				So(result, ShouldBeNil)
				So(errors.Is(err, domain.ErrConfig), ShouldBeTrue)
				So(exists(dir), ShouldBeFalse)
				So(connector.calls, ShouldEqual, 0)
				So(exporter.paths, ShouldBeEmpty)
				So(notifier.failures, ShouldHaveLength, 1)
			})
		})

		Convey("When the database kind is unsupported", func() {
			opts.Kind = domain.DatabaseKind("mysql")
			_, err := NewBackup(opts).Execute(ctx)

			So(errors.Is(err, domain.ErrConfig), ShouldBeTrue)
			So(exists(dir), ShouldBeFalse)
		})

		Convey("When the exporter is for another kind", func() {
			opts.Kind = domain.MongoDB
			_, err := NewBackup(opts).Execute(ctx)

			So(errors.Is(err, domain.ErrConfig), ShouldBeTrue)
			So(connector.calls, ShouldEqual, 0)
		})

		Convey("When remote storage has no uploader", func() {
			opts.StorageKind = domain.StorageGCS
			opts.Uploader = nil
			_, err := NewBackup(opts).Execute(ctx)

			So(errors.Is(err, domain.ErrConfig), ShouldBeTrue)
			So(exists(dir), ShouldBeFalse)
		})

		Convey("When the directory cannot be created", func() {
			blocker := filepath.Join(t.TempDir(), "file")
			So(os.WriteFile(blocker, nil, 0644), ShouldBeNil)
			opts.Dir = filepath.Join(blocker, "backups")
			_, err := NewBackup(opts).Execute(ctx)

			So(errors.Is(err, domain.ErrFilesystem), ShouldBeTrue)
			So(connector.calls, ShouldEqual, 0)
		})

		Convey("When the connection fails", func() {
			connector.err = errors.New("dial tcp 127.0.0.1:5432: connection refused")
			_, err := NewBackup(opts).Execute(ctx)

			Convey("It should return a ConnectionError without exporting", func() {
				So(errors.Is(err, domain.ErrConnection), ShouldBeTrue)
				So(errors.Is(err, domain.ErrExport), ShouldBeFalse)
				So(exporter.paths, ShouldBeEmpty)
				So(metrics.runs, ShouldHaveLength, 1)
				So(metrics.runs[0], ShouldNotBeNil)
			})
		})

		Convey("When the export fails", func() {
			So(os.MkdirAll(dir, 0755), ShouldBeNil)
			old := filepath.Join(dir, "postgres_backup_1.dump")
			touch(t, old, now.Add(-30*24*time.Hour))

			opts.StorageKind = domain.StorageS3
			exporter.err = &domain.ExportError{Kind: domain.Postgres, Output: "pg_dump: error", Err: errors.New("exit status 1")}
			_, err := NewBackup(opts).Execute(ctx)

			Convey("It should skip upload and sweep and still close the connection", func() {
				var exportErr *domain.ExportError
				So(errors.As(err, &exportErr), ShouldBeTrue)
				So(exportErr.Output, ShouldEqual, "pg_dump: error")
				So(uploader.paths, ShouldBeEmpty)
				So(exists(old), ShouldBeTrue)
				So(conn.closed, ShouldEqual, 1)
			})
		})

		Convey("When the exporter returns a bare error", func() {
			exporter.err = errors.New("boom")
			_, err := NewBackup(opts).Execute(ctx)

			So(errors.Is(err, domain.ErrExport), ShouldBeTrue)
		})

		Convey("When the upload fails", func() {
			opts.StorageKind = domain.StorageS3
			uploader.err = errors.New("AccessDenied")
			_, err := NewBackup(opts).Execute(ctx)

			Convey("It should return an UploadError, keep the artifact and close the connection", func() {
				So(errors.Is(err, domain.ErrUpload), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "AccessDenied")
				So(exporter.paths, ShouldHaveLength, 1)
				So(exists(exporter.paths[0]), ShouldBeTrue)
				So(conn.closed, ShouldEqual, 1)
			})
		})

		Convey("When closing the connection fails after a successful run", func() {
			conn.err = errors.New("connection reset")
			result, err := NewBackup(opts).Execute(ctx)

			Convey("It should return a ConnectionError", func() {
				So(result, ShouldBeNil)
				So(errors.Is(err, domain.ErrConnection), ShouldBeTrue)
				So(conn.closed, ShouldEqual, 1)
			})
		})

		Convey("When closing the connection fails after an export failure", func() {
			conn.err = errors.New("connection reset")
			exporter.err = errors.New("boom")
			_, err := NewBackup(opts).Execute(ctx)

			Convey("The export failure should win", func() {
				So(errors.Is(err, domain.ErrExport), ShouldBeTrue)
				So(errors.Is(err, domain.ErrConnection), ShouldBeFalse)
			})
		})

		Convey("When the notifier fails", func() {
			connector.err = errors.New("refused")
			_, err := NewBackup(opts).Execute(ctx)

			Convey("The run error should be returned unchanged", func() {
				So(errors.Is(err, domain.ErrConnection), ShouldBeTrue)
				So(notifier.failures, ShouldHaveLength, 1)
				So(errors.Is(notifier.failures[0], domain.ErrConnection), ShouldBeTrue)
			})
		})
	})
}

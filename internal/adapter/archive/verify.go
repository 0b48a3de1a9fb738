// Package archive checks that dump artifacts are complete before they are
// reported as backups.
package archive

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/semmidev/dbkeep/internal/domain"
)

// pg_dump custom-format files start with this magic.
var pgCustomMagic = []byte("PGDMP")

// Verify dispatches on the artifact kind.
func Verify(kind domain.DatabaseKind, path string) error {
	switch kind {
	case domain.Postgres:
		return VerifyPostgresCustom(path)
	case domain.MongoDB:
		return VerifyGzip(path)
	}
	return fmt.Errorf("no verifier for %s", kind)
}

// VerifyGzip reads the whole gzip stream so a truncated archive fails on
// its missing trailer.
func VerifyGzip(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	if _, err := io.Copy(io.Discard, gzipReader); err != nil {
		return fmt.Errorf("corrupt gzip archive: %w", err)
	}

	return nil
}

func VerifyPostgresCustom(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	header := make([]byte, len(pgCustomMagic))
	if _, err := io.ReadFull(file, header); err != nil {
		return fmt.Errorf("archive too short: %w", err)
	}
	if !bytes.Equal(header, pgCustomMagic) {
		return fmt.Errorf("not a pg_dump custom-format archive")
	}

	return nil
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

type DatabaseKind string

const (
	Postgres DatabaseKind = "postgres"
	MongoDB  DatabaseKind = "mongodb"
)

// ParseDatabaseKind accepts the configured name of a database kind.
// "postgresql" is tolerated as an alias of postgres.
func ParseDatabaseKind(s string) (DatabaseKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "mongodb", "mongo":
		return MongoDB, nil
	}
	return "", fmt.Errorf("%w: unsupported database type %q, choose \"postgres\" or \"mongodb\"", ErrConfig, s)
}

// Extension returns the artifact file extension, including the dot.
func (k DatabaseKind) Extension() string {
	switch k {
	case Postgres:
		return ".dump"
	case MongoDB:
		return ".gz"
	}
	return ""
}

func (k DatabaseKind) Valid() bool {
	return k == Postgres || k == MongoDB
}

type StorageKind string

const (
	StorageLocal  StorageKind = "local"
	StorageS3     StorageKind = "aws"
	StorageGCS    StorageKind = "gcs"
	StorageGDrive StorageKind = "gdrive"
)

func ParseStorageKind(s string) (StorageKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return StorageLocal, nil
	case "aws", "s3":
		return StorageS3, nil
	case "gcs":
		return StorageGCS, nil
	case "gdrive":
		return StorageGDrive, nil
	}
	return "", fmt.Errorf("%w: unsupported storage type %q", ErrConfig, s)
}

func (k StorageKind) Valid() bool {
	switch k {
	case StorageLocal, StorageS3, StorageGCS, StorageGDrive:
		return true
	}
	return false
}

// Remote reports whether artifacts of this storage kind leave the host.
func (k StorageKind) Remote() bool {
	return k.Valid() && k != StorageLocal
}

type Artifact struct {
	Kind      DatabaseKind
	Path      string
	Filename  string
	CreatedAt time.Time
	Size      int64
}

// ArtifactFilename is {kind}_backup_{epochMillis}{ext}.
func ArtifactFilename(kind DatabaseKind, at time.Time) string {
	return fmt.Sprintf("%s_backup_%d%s", kind, at.UnixMilli(), kind.Extension())
}

type Result struct {
	RunID    string
	Artifact Artifact
	Location string
	Deleted  []string
	Duration time.Duration
}

// LocalFile is a regular file found in the backup directory.
type LocalFile struct {
	Name    string
	ModTime time.Time
	Size    int64
}

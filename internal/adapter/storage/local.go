package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/semmidev/dbkeep/internal/domain"
)

// LocalStorage is the backup directory every artifact is written to.
type LocalStorage struct {
	basePath string
}

// NewLocal creates basePath, including parents, if it does not exist.
func NewLocal(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create backup directory: %w", domain.ErrFilesystem, err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// OpenLocal wraps an existing directory without creating it.
func OpenLocal(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// Entries lists regular files only. Directories, symlinks and other
// special files are never candidates for deletion.
func (l *LocalStorage) Entries(ctx context.Context) ([]domain.LocalFile, error) {
	dirEntries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read directory: %w", domain.ErrFilesystem, err)
	}

	entries := make([]domain.LocalFile, 0, len(dirEntries))
	for _, entry := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("%w: failed to get file info for %s: %w", domain.ErrFilesystem, entry.Name(), err)
		}
		entries = append(entries, domain.LocalFile{Name: entry.Name(), ModTime: info.ModTime(), Size: info.Size()})
	}

	return entries, nil
}

func (l *LocalStorage) Delete(ctx context.Context, name string) error {
	if err := os.Remove(l.GetPath(name)); err != nil {
		return fmt.Errorf("%w: failed to delete file: %w", domain.ErrFilesystem, err)
	}
	return nil
}

func (l *LocalStorage) GetPath(filename string) string {
	return filepath.Join(l.basePath, filename)
}

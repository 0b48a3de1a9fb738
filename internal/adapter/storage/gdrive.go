package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	appconfig "github.com/semmidev/dbkeep/internal/config"
	"github.com/semmidev/dbkeep/internal/domain"
)

type GDriveStorage struct {
	service  *drive.Service
	folderID string
}

// NewGDrive authenticates with a service-account credentials file. The
// target folder must be shared with that account.
func NewGDrive(ctx context.Context, cfg *appconfig.GDriveConfig, opts ...option.ClientOption) (*GDriveStorage, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create drive service: %w", domain.ErrConfig, err)
	}

	return &GDriveStorage{
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

func (g *GDriveStorage) Name() string {
	return "gdrive"
}

func (g *GDriveStorage) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open file: %w", domain.ErrUpload, err)
	}
	defer file.Close()

	fileMetadata := &drive.File{
		Name:    filepath.Base(localPath),
		Parents: []string{g.folderID},
	}

	created, err := g.service.Files.Create(fileMetadata).
		Media(file).
		Fields("id", "webViewLink").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("%w: failed to upload to gdrive: %w", domain.ErrUpload, err)
	}

	if created.WebViewLink != "" {
		return created.WebViewLink, nil
	}
	return "gdrive://" + created.Id, nil
}

package domain

import "context"

// Uploader transfers a local artifact to remote storage and returns where
// it landed.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
	Name() string
}

type Notifier interface {
	NotifySuccess(ctx context.Context, result *Result) error
	NotifyFailure(ctx context.Context, kind DatabaseKind, err error) error
}

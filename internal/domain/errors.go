package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfig     = errors.New("config error")
	ErrConnection = errors.New("connection error")
	ErrExport     = errors.New("export error")
	ErrUpload     = errors.New("upload error")
	ErrFilesystem = errors.New("filesystem error")
)

// ExportError reports a dump subprocess failure. Output holds the
// subprocess diagnostics with secrets already redacted.
type ExportError struct {
	Kind   DatabaseKind
	Output string
	Err    error
}

func (e *ExportError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s export failed: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s export failed: %v, output: %s", e.Kind, e.Err, e.Output)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

func (e *ExportError) Is(target error) bool {
	return target == ErrExport
}

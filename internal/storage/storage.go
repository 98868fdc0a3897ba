package storage

import (
	"context"
	"errors"
	"io"
)

// ErrFileNotFound is returned by Open when no backend holds the file.
var ErrFileNotFound = errors.New("storage: file not found")

// FileStore persists generated ticket files. Callers see one
// capability; whether the bytes land in object storage, on local disk,
// or both is the implementation's business.
type FileStore interface {
	Save(ctx context.Context, name string, data []byte, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// Disk stores files under a local directory.
type Disk struct {
	Dir string
}

func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Disk{Dir: dir}, nil
}

func (d *Disk) path(name string) string {
	// Strip any path components a caller might smuggle in.
	return filepath.Join(d.Dir, filepath.Base(name))
}

func (d *Disk) Save(ctx context.Context, name string, data []byte, contentType string) error {
	return os.WriteFile(d.path(name), data, 0644)
}

func (d *Disk) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(d.path(name))
	if os.IsNotExist(err) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"raffle-service/internal/logger"
)

// Fallback writes to the primary backend and mirrors to the fallback;
// reads try the primary first. The chain stays hidden behind FileStore.
type Fallback struct {
	Primary FileStore
	Backup  FileStore
	Logger  *logger.Logger
}

func NewFallback(primary, backup FileStore, log *logger.Logger) *Fallback {
	return &Fallback{Primary: primary, Backup: backup, Logger: log}
}

func (f *Fallback) Save(ctx context.Context, name string, data []byte, contentType string) error {
	primaryErr := f.Primary.Save(ctx, name, data, contentType)
	if primaryErr != nil && f.Logger != nil {
		f.Logger.Warn("STORAGE", fmt.Sprintf("primary save failed for %s: %v", name, primaryErr))
	}

	backupErr := f.Backup.Save(ctx, name, data, contentType)
	if backupErr != nil && f.Logger != nil {
		f.Logger.Warn("STORAGE", fmt.Sprintf("fallback save failed for %s: %v", name, backupErr))
	}

	// The file survives as long as one backend took it.
	if primaryErr != nil && backupErr != nil {
		return primaryErr
	}
	return nil
}

func (f *Fallback) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	reader, err := f.Primary.Open(ctx, name)
	if err == nil {
		return reader, nil
	}
	if !errors.Is(err, ErrFileNotFound) && f.Logger != nil {
		f.Logger.Warn("STORAGE", fmt.Sprintf("primary open failed for %s: %v", name, err))
	}
	return f.Backup.Open(ctx, name)
}

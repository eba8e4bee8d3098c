package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("file record not found")

// FileRecord is a file that was downloaded into local storage.
type FileRecord struct {
	Account      string
	Path         string
	StoragePath  string
	Size         int64
	ETag         string
	TransferID   string
	DownloadedAt time.Time
}

type FileReadRepository interface {
	GetFile(ctx context.Context, account, path string) (FileRecord, error)
	ListFiles(ctx context.Context) ([]FileRecord, error)
	// ListFilesDownloadedBefore returns the records older than t, oldest first.
	ListFilesDownloadedBefore(ctx context.Context, t time.Time) ([]FileRecord, error)
}

type FileWriteRepository interface {
	// SaveFile inserts rec or replaces the record with the same account and path.
	SaveFile(ctx context.Context, rec FileRecord) error
	DeleteFile(ctx context.Context, account, path string) error
}

type FileRepository interface {
	FileReadRepository
	FileWriteRepository
}

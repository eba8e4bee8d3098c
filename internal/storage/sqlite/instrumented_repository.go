package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/transfer_scheduler/internal/storage"
	"github.com/italolelis/transfer_scheduler/internal/telemetry"
)

// InstrumentedFileRepository wraps FileRepository with telemetry.
type InstrumentedFileRepository struct {
	repo      *FileRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedFileRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedFileRepository {
	return &InstrumentedFileRepository{
		repo:      NewFileRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedFileRepository) SaveFile(ctx context.Context, rec storage.FileRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_file", func(ctx context.Context) error {
		return r.repo.SaveFile(ctx, rec)
	})
}

func (r *InstrumentedFileRepository) DeleteFile(ctx context.Context, account, path string) error {
	var notFound bool

	err := r.telemetry.InstrumentDBOperation(ctx, "delete_file", func(ctx context.Context) error {
		err := r.repo.DeleteFile(ctx, account, path)
		if errors.Is(err, storage.ErrNotFound) {
			notFound = true

			return nil
		}

		return err
	})

	if notFound {
		return storage.ErrNotFound
	}

	return err
}

// GetFile does not count a missing record as a failed operation.
func (r *InstrumentedFileRepository) GetFile(ctx context.Context, account, path string) (storage.FileRecord, error) {
	var (
		result   storage.FileRecord
		notFound bool
	)

	err := r.telemetry.InstrumentDBOperation(ctx, "get_file", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetFile(ctx, account, path)
		if errors.Is(err, storage.ErrNotFound) {
			notFound = true

			return nil
		}

		return err
	})

	if notFound {
		return storage.FileRecord{}, storage.ErrNotFound
	}

	return result, err
}

func (r *InstrumentedFileRepository) ListFiles(ctx context.Context) ([]storage.FileRecord, error) {
	var result []storage.FileRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_files", func(ctx context.Context) error {
		var err error

		result, err = r.repo.ListFiles(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedFileRepository) ListFilesDownloadedBefore(ctx context.Context, t time.Time) ([]storage.FileRecord, error) {
	var result []storage.FileRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_expired_files", func(ctx context.Context) error {
		var err error

		result, err = r.repo.ListFilesDownloadedBefore(ctx, t)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

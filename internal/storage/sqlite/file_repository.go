package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/transfer_scheduler/internal/storage"
)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const selectFiles = `SELECT account, path, storage_path, size, etag, transfer_id, downloaded_at FROM files`

type FileRepository struct {
	db *sql.DB
}

func NewFileRepository(dbConn *sql.DB) *FileRepository {
	return &FileRepository{db: dbConn}
}

func (r *FileRepository) SaveFile(ctx context.Context, rec storage.FileRecord) error {
	downloadedAt := rec.DownloadedAt
	if downloadedAt.IsZero() {
		downloadedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO files (account, path, storage_path, size, etag, transfer_id, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, path) DO UPDATE SET
			storage_path = excluded.storage_path,
			size = excluded.size,
			etag = excluded.etag,
			transfer_id = excluded.transfer_id,
			downloaded_at = excluded.downloaded_at
	`, rec.Account, rec.Path, rec.StoragePath, rec.Size, rec.ETag, rec.TransferID,
		downloadedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save file %s: %w", rec.Path, err)
	}

	return nil
}

func (r *FileRepository) DeleteFile(ctx context.Context, account, path string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE account = ? AND path = ?`, account, path)
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (r *FileRepository) GetFile(ctx context.Context, account, path string) (storage.FileRecord, error) {
	row := r.db.QueryRowContext(ctx, selectFiles+` WHERE account = ? AND path = ?`, account, path)

	rec, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.FileRecord{}, storage.ErrNotFound
	}

	return rec, err
}

func (r *FileRepository) ListFiles(ctx context.Context) ([]storage.FileRecord, error) {
	return r.query(ctx, selectFiles+` ORDER BY downloaded_at`)
}

func (r *FileRepository) ListFilesDownloadedBefore(ctx context.Context, t time.Time) ([]storage.FileRecord, error) {
	return r.query(ctx, selectFiles+` WHERE downloaded_at < ? ORDER BY downloaded_at`, t.UTC().Format(timeLayout))
}

func (r *FileRepository) query(ctx context.Context, query string, args ...any) ([]storage.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []storage.FileRecord

	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}

		files = append(files, rec)
	}

	return files, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (storage.FileRecord, error) {
	var (
		rec          storage.FileRecord
		etag         sql.NullString
		transferID   sql.NullString
		downloadedAt string
	)

	if err := s.Scan(&rec.Account, &rec.Path, &rec.StoragePath, &rec.Size, &etag, &transferID, &downloadedAt); err != nil {
		return storage.FileRecord{}, err
	}

	rec.ETag = etag.String
	rec.TransferID = transferID.String

	t, err := time.Parse(timeLayout, downloadedAt)
	if err != nil {
		return storage.FileRecord{}, fmt.Errorf("invalid downloaded_at for %s: %w", rec.Path, err)
	}

	rec.DownloadedAt = t

	return rec, nil
}

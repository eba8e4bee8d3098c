package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/transfer_scheduler/internal/logctx"
	"github.com/italolelis/transfer_scheduler/internal/storage"
)

// DeleteExpiredFiles removes downloaded files older than keepDuration from
// local storage together with their index records. It returns the number of
// files removed. A file that is already gone only loses its record.
func DeleteExpiredFiles(ctx context.Context, repo storage.FileRepository, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	expired, err := repo.ListFilesDownloadedBefore(ctx, time.Now().Add(-keepDuration))
	if err != nil {
		return 0, fmt.Errorf("failed to list expired files: %w", err)
	}

	var (
		removed int
		freed   int64
		errs    []error
	)

	for _, rec := range expired {
		if err := os.Remove(rec.StoragePath); err != nil && !os.IsNotExist(err) {
			logger.ErrorContext(ctx, "failed to delete expired file", "file_path", rec.StoragePath, "err", err)
			errs = append(errs, err)

			continue
		}

		if err := repo.DeleteFile(ctx, rec.Account, rec.Path); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.ErrorContext(ctx, "failed to delete file record", "file_path", rec.Path, "err", err)
			errs = append(errs, err)

			continue
		}

		removed++
		freed += rec.Size

		logger.InfoContext(ctx, "deleted expired file",
			"file_path", rec.StoragePath,
			"age", time.Since(rec.DownloadedAt).Round(time.Second),
			"size", humanize.Bytes(uint64(max(rec.Size, 0))))
	}

	if removed > 0 {
		logger.InfoContext(ctx, "expired files removed", "count", removed, "freed", humanize.Bytes(uint64(max(freed, 0))))
	}

	return removed, errors.Join(errs...)
}

// Run deletes expired files every interval until ctx is done. A
// keepDuration of zero keeps files forever and Run returns immediately.
func Run(ctx context.Context, repo storage.FileRepository, keepDuration, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	if keepDuration <= 0 {
		logger.InfoContext(ctx, "file cleanup disabled")

		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "file cleanup stopped")

			return
		case <-ticker.C:
			runOnce(ctx, repo, keepDuration)
		}
	}
}

func runOnce(ctx context.Context, repo storage.FileRepository, keepDuration time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "file cleanup panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if _, err := DeleteExpiredFiles(ctx, repo, keepDuration); err != nil {
		logger.ErrorContext(ctx, "file cleanup failed", "err", err)
	}
}

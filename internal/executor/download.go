// Package executor performs the file I/O of scheduled transfers against a
// remote backend and the local target directory.
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/italolelis/transfer_scheduler/internal/executor/progress"
	"github.com/italolelis/transfer_scheduler/internal/logctx"
	"github.com/italolelis/transfer_scheduler/internal/remote"
	"github.com/italolelis/transfer_scheduler/internal/scheduler"
	"github.com/italolelis/transfer_scheduler/internal/storage"
	"github.com/italolelis/transfer_scheduler/internal/telemetry"
	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

const (
	dirPerm = 0o755

	progressLogInterval = 5 * time.Second
)

// Download fetches one remote file into the target directory. The file is
// written to a temporary file next to the target and renamed into place
// once complete.
type Download struct {
	client    remote.Client
	files     storage.FileWriteRepository
	targetDir string
	telemetry *telemetry.Telemetry
	req       *transfer.DownloadRequest
}

// NewDownloadFactory returns the factory the scheduler uses for non-test
// download requests. files may be nil, in which case downloads are not
// indexed.
func NewDownloadFactory(
	client remote.Client,
	files storage.FileWriteRepository,
	targetDir string,
	tel *telemetry.Telemetry,
) scheduler.DownloadFactory {
	return func(req *transfer.DownloadRequest) scheduler.Executor {
		return &Download{
			client:    client,
			files:     files,
			targetDir: targetDir,
			telemetry: tel,
			req:       req,
		}
	}
}

func (d *Download) Execute(ctx context.Context, report scheduler.ProgressFunc) scheduler.Result {
	logger := logctx.LoggerFromContext(ctx).With("file_path", d.req.File.Path)

	targetPath, err := LocalPath(d.targetDir, d.req.User.AccountName, d.req.File.Path)
	if err != nil {
		return failed(err)
	}

	report(0)

	obj, err := d.client.Fetch(ctx, d.req.User, d.req.File.Path)
	if err != nil {
		logger.ErrorContext(ctx, "failed to fetch remote file", "err", err)

		return failed(err)
	}
	defer obj.Body.Close()

	logger.InfoContext(ctx, "downloading file", "target", targetPath, "file_size", sizeOf(obj.Size))

	pr := progress.NewReader(ctx, obj.Body, obj.Size, throttledProgress(ctx, "download progress", obj.Size, report))

	written, err := writeAtomically(targetPath, pr, obj.Size)
	if err != nil {
		logger.ErrorContext(ctx, "failed to write downloaded file", "target", targetPath, "err", err)

		return failed(err)
	}

	d.telemetry.RecordBytesTransferred(ctx, transfer.DirectionDownload.String(), written)

	if pr.Percent() < 100 {
		report(100)
	}

	file := d.req.File
	file.StoragePath = targetPath
	file.Size = written
	file.ETag = obj.ETag
	file.ModTime = obj.ModTime

	if obj.ContentType != "" {
		file.MimeType = obj.ContentType
	}

	if d.files != nil {
		err := d.files.SaveFile(ctx, storage.FileRecord{
			Account:     d.req.User.AccountName,
			Path:        remote.CleanPath(file.Path),
			StoragePath: targetPath,
			Size:        written,
			ETag:        obj.ETag,
			TransferID:  d.req.ID.String(),
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to index downloaded file", "err", err)
		}
	}

	logger.InfoContext(ctx, "downloaded and saved file", "target", targetPath, "file_size", humanize.Bytes(uint64(written)))

	return scheduler.Result{File: &file, Success: true}
}

// LocalPath maps an account's logical path below targetDir.
func LocalPath(targetDir, account, filePath string) (string, error) {
	if account == "" || account == "." || account == ".." || strings.ContainsAny(account, `/\`) {
		return "", &transfer.InvalidRequestError{Field: "user.account_name", Reason: "must be a single path segment"}
	}

	clean := remote.CleanPath(filePath)
	if clean == "/" {
		return "", &transfer.InvalidRequestError{Field: "file.path", Reason: "must name a file"}
	}

	return filepath.Join(targetDir, account, filepath.FromSlash(clean)), nil
}

// writeAtomically copies r into a temporary file next to targetPath and
// renames it into place. When size is not negative and the copy ends with a
// different byte count, the temporary file is discarded and targetPath is
// left untouched.
func writeAtomically(targetPath string, r io.Reader, size int64) (int64, error) {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return 0, &transfer.LocalFileError{Path: dir, Reason: "failed to create target directory", Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(targetPath)+".part-*")
	if err != nil {
		return 0, &transfer.LocalFileError{Path: targetPath, Reason: "failed to create temporary file", Err: err}
	}

	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return written, fmt.Errorf("failed to copy file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return written, &transfer.LocalFileError{Path: tmpName, Reason: "failed to close temporary file", Err: err}
	}

	if size >= 0 && written != size {
		os.Remove(tmpName)

		return written, &transfer.RemoteError{
			Operation: "fetch",
			Message:   fmt.Sprintf("short read: got %d of %d bytes", written, size),
		}
	}

	if err := os.Rename(tmpName, targetPath); err != nil {
		os.Remove(tmpName)

		return written, &transfer.LocalFileError{Path: targetPath, Reason: "failed to move file into place", Err: err}
	}

	return written, nil
}

// throttledProgress forwards every percent step to report and logs at most
// once per progressLogInterval.
func throttledProgress(ctx context.Context, msg string, total int64, report scheduler.ProgressFunc) func(int) {
	logger := logctx.LoggerFromContext(ctx)
	sometimes := rate.Sometimes{Interval: progressLogInterval}

	return func(percent int) {
		report(percent)

		sometimes.Do(func() {
			logger.DebugContext(ctx, msg,
				"progress", percent,
				"transferred", humanize.Bytes(uint64(total)*uint64(percent)/100),
				"total", humanize.Bytes(uint64(total)))
		})
	}
}

func sizeOf(n int64) string {
	if n < 0 {
		return "unknown"
	}

	return humanize.Bytes(uint64(n))
}

func failed(err error) scheduler.Result {
	return scheduler.Result{Err: err}
}

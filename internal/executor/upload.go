package executor

import (
	"context"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/italolelis/transfer_scheduler/internal/executor/progress"
	"github.com/italolelis/transfer_scheduler/internal/logctx"
	"github.com/italolelis/transfer_scheduler/internal/remote"
	"github.com/italolelis/transfer_scheduler/internal/scheduler"
	"github.com/italolelis/transfer_scheduler/internal/telemetry"
	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

// Upload streams a local file to the remote.
type Upload struct {
	client    remote.Client
	telemetry *telemetry.Telemetry
	req       *transfer.UploadRequest
}

func NewUploadFactory(client remote.Client, tel *telemetry.Telemetry) scheduler.UploadFactory {
	return func(req *transfer.UploadRequest) scheduler.Executor {
		return &Upload{client: client, telemetry: tel, req: req}
	}
}

func (u *Upload) Execute(ctx context.Context, report scheduler.ProgressFunc) scheduler.Result {
	localPath := u.req.Upload.LocalPath
	logger := logctx.LoggerFromContext(ctx).With("file_path", u.req.File.Path, "local_path", localPath)

	if localPath == "" {
		return failed(&transfer.InvalidRequestError{Field: "upload.local_path", Reason: "must not be empty"})
	}

	f, err := os.Open(localPath)
	if err != nil {
		return failed(&transfer.LocalFileError{Path: localPath, Reason: "failed to open file", Err: err})
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return failed(&transfer.LocalFileError{Path: localPath, Reason: "failed to stat file", Err: err})
	}

	if info.IsDir() {
		return failed(&transfer.LocalFileError{Path: localPath, Reason: "is a directory"})
	}

	contentType := u.req.File.MimeType
	if contentType == "" {
		mtype, err := mimetype.DetectFile(localPath)
		if err != nil {
			return failed(&transfer.LocalFileError{Path: localPath, Reason: "failed to detect content type", Err: err})
		}

		contentType = mtype.String()
	}

	report(0)

	size := info.Size()

	logger.InfoContext(ctx, "uploading file", "file_size", humanize.Bytes(uint64(size)), "mime_type", contentType)

	pr := progress.NewReader(ctx, f, size, throttledProgress(ctx, "upload progress", size, report))

	md, err := u.client.Store(ctx, u.req.User, u.req.File.Path, pr, remote.PutOptions{
		Size:          size,
		ContentType:   contentType,
		Overwrite:     u.req.Upload.Overwrite,
		CreateParents: u.req.Upload.CreateParents,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to upload file", "err", err)

		return failed(err)
	}

	u.telemetry.RecordBytesTransferred(ctx, transfer.DirectionUpload.String(), pr.BytesRead())

	if pr.Percent() < 100 {
		report(100)
	}

	file := u.req.File
	file.StoragePath = localPath
	file.Size = size
	file.MimeType = contentType
	file.ETag = md.ETag
	file.ModTime = md.ModTime

	logger.InfoContext(ctx, "uploaded file", "file_size", humanize.Bytes(uint64(size)))

	return scheduler.Result{File: &file, Success: true}
}

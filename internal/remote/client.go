// Package remote talks to the storage servers transfers read from and write
// to. Each backend addresses files by the owning account and a logical path.
package remote

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

var (
	// ErrNotFound is wrapped by errors for files missing on the remote.
	ErrNotFound = errors.New("remote file not found")
	// ErrExists is wrapped by errors for uploads that would overwrite a file
	// without permission to do so.
	ErrExists = errors.New("remote file already exists")
)

// Object is an open remote file. Size is -1 when the server did not announce
// it. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ETag        string
	ContentType string
	ModTime     time.Time
}

// Metadata describes a file after it was stored.
type Metadata struct {
	Size    int64
	ETag    string
	ModTime time.Time
}

// PutOptions control how Store writes a file. Size is -1 when unknown.
type PutOptions struct {
	Size          int64
	ContentType   string
	Overwrite     bool
	CreateParents bool
}

type Client interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	Fetch(ctx context.Context, user transfer.User, filePath string) (*Object, error)
	Store(ctx context.Context, user transfer.User, filePath string, body io.Reader, opts PutOptions) (Metadata, error)
}

// CleanPath normalizes a logical path to a rooted, slash separated form.
func CleanPath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

// Parents returns every ancestor directory of p, outermost first, excluding
// the root.
func Parents(p string) []string {
	dir := path.Dir(CleanPath(p))
	if dir == "/" {
		return nil
	}

	segments := strings.Split(strings.TrimPrefix(dir, "/"), "/")
	out := make([]string, 0, len(segments))

	for i := range segments {
		out = append(out, "/"+strings.Join(segments[:i+1], "/"))
	}

	return out
}

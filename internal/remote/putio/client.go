// Package putio implements the remote client on top of a put.io account.
// Each transfer account maps to a top level folder of the put.io account.
package putio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/putdotio/go-putio"
	"golang.org/x/oauth2"

	"github.com/italolelis/transfer_scheduler/internal/logctx"
	"github.com/italolelis/transfer_scheduler/internal/remote"
	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

const rootFolderID int64 = 0

type Client struct {
	putioClient *putio.Client
	httpClient  *http.Client
}

func NewClient(token string) *Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(context.Background(), tokenSource)

	return &Client{
		putioClient: putio.NewClient(oauthClient),
		httpClient:  http.DefaultClient,
	}
}

func (c *Client) Name() string {
	return "putio"
}

func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "authenticating with Put.io")

	user, err := c.putioClient.Account.Info(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get account info", "err", err)

		return &transfer.AuthenticationError{Operation: "account_info", Err: err}
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return nil
}

// Fetch resolves filePath inside the user's folder and streams it from the
// download URL put.io hands out.
func (c *Client) Fetch(ctx context.Context, user transfer.User, filePath string) (*remote.Object, error) {
	logger := logctx.LoggerFromContext(ctx)

	file, err := c.resolve(ctx, accountPath(user, filePath))
	if err != nil {
		return nil, err
	}

	if file.IsDir() {
		return nil, &transfer.RemoteError{Operation: "fetch", Message: fmt.Sprintf("%s is a folder", filePath)}
	}

	url, err := c.putioClient.Files.URL(ctx, file.ID, false)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get file download url", "file_id", file.ID, "err", err)

		return nil, &transfer.RemoteError{Operation: "fetch", Message: "failed to get file download url", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transfer.RemoteError{Operation: "fetch", Message: "failed to get file", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()

		return nil, &transfer.RemoteError{
			Operation:  "fetch",
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
		}
	}

	size := resp.ContentLength
	if size < 0 {
		size = file.Size
	}

	return &remote.Object{
		Body:        resp.Body,
		Size:        size,
		ETag:        strconv.FormatInt(file.ID, 10),
		ContentType: file.ContentType,
	}, nil
}

// Store uploads body into the folder of filePath.
func (c *Client) Store(
	ctx context.Context,
	user transfer.User,
	filePath string,
	body io.Reader,
	opts remote.PutOptions,
) (remote.Metadata, error) {
	logger := logctx.LoggerFromContext(ctx)
	full := accountPath(user, filePath)
	dir, name := path.Split(full)

	parent, err := c.folder(ctx, path.Clean(dir), opts.CreateParents)
	if err != nil {
		return remote.Metadata{}, err
	}

	existing, found, err := c.child(ctx, parent, name)
	if err != nil {
		return remote.Metadata{}, err
	}

	if found {
		if !opts.Overwrite {
			return remote.Metadata{}, &transfer.RemoteError{
				Operation: "store",
				Message:   "file exists and overwrite is disabled",
				Err:       remote.ErrExists,
			}
		}

		if err := c.putioClient.Files.Delete(ctx, existing.ID); err != nil {
			return remote.Metadata{}, &transfer.RemoteError{Operation: "store", Message: "failed to replace file", Err: err}
		}
	}

	logger.InfoContext(ctx, "uploading file to Put.io", "file_path", full, "parent_id", parent)

	upload, err := c.putioClient.Files.Upload(ctx, body, name, parent)
	if err != nil {
		return remote.Metadata{}, &transfer.RemoteError{Operation: "store", Message: err.Error(), Err: err}
	}

	md := remote.Metadata{Size: opts.Size, ModTime: time.Now().UTC()}
	if upload.File != nil {
		md.Size = upload.File.Size
		md.ETag = strconv.FormatInt(upload.File.ID, 10)
	}

	return md, nil
}

// resolve walks p from the root folder one segment at a time.
func (c *Client) resolve(ctx context.Context, p string) (putio.File, error) {
	id := rootFolderID
	current := putio.File{ID: rootFolderID, FileType: "FOLDER"}

	for _, name := range segments(p) {
		f, found, err := c.child(ctx, id, name)
		if err != nil {
			return putio.File{}, err
		}

		if !found {
			return putio.File{}, &transfer.RemoteError{
				Operation: "resolve",
				Message:   fmt.Sprintf("%s not found", p),
				Err:       remote.ErrNotFound,
			}
		}

		id = f.ID
		current = f
	}

	return current, nil
}

// folder returns the id of the folder at p, creating missing folders when
// create is set.
func (c *Client) folder(ctx context.Context, p string, create bool) (int64, error) {
	id := rootFolderID

	for _, name := range segments(p) {
		f, found, err := c.child(ctx, id, name)
		if err != nil {
			return 0, err
		}

		switch {
		case found && f.IsDir():
			id = f.ID
		case found:
			return 0, &transfer.RemoteError{Operation: "mkdir", Message: fmt.Sprintf("%s is not a folder", name)}
		case !create:
			return 0, &transfer.RemoteError{
				Operation: "mkdir",
				Message:   fmt.Sprintf("parent folder %s does not exist", p),
				Err:       remote.ErrNotFound,
			}
		default:
			created, err := c.putioClient.Files.CreateFolder(ctx, name, id)
			if err != nil {
				return 0, &transfer.RemoteError{Operation: "mkdir", Message: "failed to create folder", Err: err}
			}

			id = created.ID
		}
	}

	return id, nil
}

func (c *Client) child(ctx context.Context, parentID int64, name string) (putio.File, bool, error) {
	files, _, err := c.putioClient.Files.List(ctx, parentID)
	if err != nil {
		return putio.File{}, false, &transfer.RemoteError{Operation: "list", Message: "failed to list files", Err: err}
	}

	for _, f := range files {
		if f.Name == name {
			return f, true, nil
		}
	}

	return putio.File{}, false, nil
}

func accountPath(user transfer.User, filePath string) string {
	return path.Join("/", user.AccountName, remote.CleanPath(filePath))
}

func segments(p string) []string {
	p = strings.Trim(path.Clean(p), "/")
	if p == "" || p == "." {
		return nil
	}

	return strings.Split(p, "/")
}

// Package webdav implements the remote client for Nextcloud style WebDAV
// servers, where each account's files live under
// /remote.php/dav/files/<account>.
package webdav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/italolelis/transfer_scheduler/internal/logctx"
	"github.com/italolelis/transfer_scheduler/internal/remote"
	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

const filesRoot = "/remote.php/dav/files/"

type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a WebDAV client. baseURL is used for users that do not
// carry their own server URL.
func NewClient(baseURL, username, password string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: httpClient,
	}
}

func (c *Client) Name() string {
	return "webdav"
}

// Fetch opens the file at filePath in the user's storage.
func (c *Client) Fetch(ctx context.Context, user transfer.User, filePath string) (*remote.Object, error) {
	logger := logctx.LoggerFromContext(ctx)

	target, err := c.fileURL(user, filePath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, &transfer.RemoteError{Operation: "fetch", Message: "request failed", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		logger.DebugContext(ctx, "webdav fetch rejected", "file_path", filePath, "status", resp.StatusCode)

		return nil, statusError("fetch", resp)
	}

	obj := &remote.Object{
		Body:        resp.Body,
		Size:        resp.ContentLength,
		ETag:        etag(resp.Header),
		ContentType: resp.Header.Get("Content-Type"),
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			obj.ModTime = t
		}
	}

	return obj, nil
}

// Store uploads body to filePath. Without Overwrite the request is
// conditional and fails with remote.ErrExists when the file is present.
func (c *Client) Store(
	ctx context.Context,
	user transfer.User,
	filePath string,
	body io.Reader,
	opts remote.PutOptions,
) (remote.Metadata, error) {
	if opts.CreateParents {
		if err := c.mkdirAll(ctx, user, filePath); err != nil {
			return remote.Metadata{}, err
		}
	}

	target, err := c.fileURL(user, filePath)
	if err != nil {
		return remote.Metadata{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, body)
	if err != nil {
		return remote.Metadata{}, fmt.Errorf("failed to create request: %w", err)
	}

	if opts.Size >= 0 {
		req.ContentLength = opts.Size
	}

	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}

	if !opts.Overwrite {
		req.Header.Set("If-None-Match", "*")
	}

	resp, err := c.do(req)
	if err != nil {
		return remote.Metadata{}, &transfer.RemoteError{Operation: "store", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	case http.StatusPreconditionFailed:
		return remote.Metadata{}, &transfer.RemoteError{
			Operation:  "store",
			StatusCode: resp.StatusCode,
			Message:    "file exists and overwrite is disabled",
			Err:        remote.ErrExists,
		}
	default:
		return remote.Metadata{}, statusError("store", resp)
	}

	return remote.Metadata{
		Size:    opts.Size,
		ETag:    etag(resp.Header),
		ModTime: time.Now().UTC(),
	}, nil
}

// mkdirAll creates every missing ancestor of filePath. Servers answer MKCOL
// on an existing collection with 405.
func (c *Client) mkdirAll(ctx context.Context, user transfer.User, filePath string) error {
	for _, dir := range remote.Parents(filePath) {
		target, err := c.fileURL(user, dir)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, "MKCOL", target, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.do(req)
		if err != nil {
			return &transfer.RemoteError{Operation: "mkcol", Message: "request failed", Err: err}
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusMethodNotAllowed {
			return statusError("mkcol", resp)
		}
	}

	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	return c.httpClient.Do(req)
}

func (c *Client) fileURL(user transfer.User, filePath string) (string, error) {
	if user.AccountName == "" {
		return "", &transfer.InvalidRequestError{Field: "user.account_name", Reason: "must not be empty"}
	}

	base := c.baseURL
	if user.ServerURL != "" {
		base = strings.TrimRight(user.ServerURL, "/")
	}

	if base == "" {
		return "", &transfer.InvalidRequestError{Field: "user.server_url", Reason: "no server configured"}
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", &transfer.InvalidRequestError{Field: "user.server_url", Reason: err.Error()}
	}

	u.Path = strings.TrimRight(u.Path, "/") + filesRoot + user.AccountName + remote.CleanPath(filePath)
	u.RawPath = ""

	return u.String(), nil
}

func statusError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	err := &transfer.RemoteError{
		Operation:  op,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(msg)),
	}

	if err.Message == "" {
		err.Message = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		err.Err = remote.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return &transfer.AuthenticationError{Operation: op, Err: err}
	}

	return err
}

func etag(h http.Header) string {
	if v := h.Get("OC-ETag"); v != "" {
		return strings.Trim(v, `"`)
	}

	return strings.Trim(h.Get("ETag"), `"`)
}

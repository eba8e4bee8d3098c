package webdav

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/transfer_scheduler/internal/remote"
	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

var alice = transfer.User{AccountName: "alice"}

func TestClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "svc" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		switch r.URL.Path {
		case "/remote.php/dav/files/alice/docs/annual report.pdf":
			w.Header().Set("ETag", `"abc123"`)
			w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = io.WriteString(w, "pdf-bytes")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "svc", "secret", server.Client())

	obj, err := client.Fetch(context.Background(), alice, "docs/annual report.pdf")
	require.NoError(t, err)

	defer obj.Body.Close()

	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)

	assert.Equal(t, "pdf-bytes", string(body))
	assert.EqualValues(t, len("pdf-bytes"), obj.Size)
	assert.Equal(t, "abc123", obj.ETag)
	assert.Equal(t, "application/pdf", obj.ContentType)
	assert.Equal(t, 2006, obj.ModTime.Year())
}

func TestClient_FetchErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/forbidden") {
			w.WriteHeader(http.StatusForbidden)

			return
		}

		http.Error(w, "no such file", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "", server.Client())

	_, err := client.Fetch(context.Background(), alice, "/missing.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrNotFound))

	var remoteErr *transfer.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusNotFound, remoteErr.StatusCode)
	assert.Equal(t, "no such file", remoteErr.Message)

	_, err = client.Fetch(context.Background(), alice, "/forbidden")

	var authErr *transfer.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "fetch", authErr.Operation)
}

func TestClient_UsesUserServerURL(t *testing.T) {
	var hit atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit.Store(r.URL.Path == "/cloud/remote.php/dav/files/bob/a.txt")
		_, _ = io.WriteString(w, "x")
	}))
	defer server.Close()

	client := NewClient("http://unused.invalid", "", "", server.Client())

	obj, err := client.Fetch(context.Background(), transfer.User{AccountName: "bob", ServerURL: server.URL + "/cloud/"}, "/a.txt")
	require.NoError(t, err)
	obj.Body.Close()

	assert.True(t, hit.Load())
}

func TestClient_FetchRejectsMissingAccount(t *testing.T) {
	client := NewClient("http://localhost", "", "", nil)

	_, err := client.Fetch(context.Background(), transfer.User{}, "/a.txt")

	var invalid *transfer.InvalidRequestError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "user.account_name", invalid.Field)
}

func TestClient_Store(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
		stored  string
		headers http.Header
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		methods = append(methods, r.Method+" "+r.URL.Path)

		switch r.Method {
		case "MKCOL":
			if r.URL.Path == "/remote.php/dav/files/alice/photos" {
				w.WriteHeader(http.StatusMethodNotAllowed)

				return
			}

			w.WriteHeader(http.StatusCreated)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			stored = string(body)
			headers = r.Header.Clone()

			w.Header().Set("OC-ETag", `"etag-1"`)
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "", server.Client())

	md, err := client.Store(context.Background(), alice, "/photos/2024/cat.jpg", strings.NewReader("meow"), remote.PutOptions{
		Size:          4,
		ContentType:   "image/jpeg",
		CreateParents: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"MKCOL /remote.php/dav/files/alice/photos",
		"MKCOL /remote.php/dav/files/alice/photos/2024",
		"PUT /remote.php/dav/files/alice/photos/2024/cat.jpg",
	}, methods)
	assert.Equal(t, "meow", stored)
	assert.Equal(t, "image/jpeg", headers.Get("Content-Type"))
	assert.Equal(t, "*", headers.Get("If-None-Match"))
	assert.Equal(t, "etag-1", md.ETag)
	assert.EqualValues(t, 4, md.Size)
}

func TestClient_StoreWithoutOverwrite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == "*" {
			w.WriteHeader(http.StatusPreconditionFailed)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "", server.Client())

	_, err := client.Store(context.Background(), alice, "/a.txt", strings.NewReader("a"), remote.PutOptions{Size: 1})
	require.ErrorIs(t, err, remote.ErrExists)

	_, err = client.Store(context.Background(), alice, "/a.txt", strings.NewReader("a"), remote.PutOptions{Size: 1, Overwrite: true})
	require.NoError(t, err)
}

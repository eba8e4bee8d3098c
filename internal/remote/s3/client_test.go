package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/transfer_scheduler/internal/remote"
	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

type fakeAPI struct {
	objects map[string]string
	puts    []*s3.PutObjectInput
	headErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: make(map[string]string)}
}

func (f *fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
		ETag:          aws.String(`"etag-` + aws.ToString(in.Key) + `"`),
		ContentType:   aws.String("text/plain"),
		LastModified:  aws.Time(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
	}, nil
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.objects[aws.ToString(in.Key)] = string(data)
	f.puts = append(f.puts, in)

	return &s3.PutObjectOutput{ETag: aws.String(`"new-etag"`)}, nil
}

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}

	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}

	return &s3.HeadObjectOutput{}, nil
}

var alice = transfer.User{AccountName: "alice"}

func TestClient_Fetch(t *testing.T) {
	api := newFakeAPI()
	api.objects["alice/notes/todo.txt"] = "buy milk"

	client := NewClientWithAPI(api, "bucket")

	obj, err := client.Fetch(context.Background(), alice, "notes/todo.txt")
	require.NoError(t, err)

	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)

	assert.Equal(t, "buy milk", string(data))
	assert.EqualValues(t, 8, obj.Size)
	assert.Equal(t, "etag-alice/notes/todo.txt", obj.ETag)
	assert.Equal(t, 2024, obj.ModTime.Year())
}

func TestClient_FetchMissing(t *testing.T) {
	client := NewClientWithAPI(newFakeAPI(), "bucket")

	_, err := client.Fetch(context.Background(), alice, "/nope")
	require.ErrorIs(t, err, remote.ErrNotFound)

	var remoteErr *transfer.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "fetch", remoteErr.Operation)
}

func TestClient_Store(t *testing.T) {
	api := newFakeAPI()
	client := NewClientWithAPI(api, "bucket")

	md, err := client.Store(context.Background(), alice, "/up/a.txt", strings.NewReader("hello"), remote.PutOptions{
		Size:        5,
		ContentType: "text/plain",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", api.objects["alice/up/a.txt"])
	assert.Equal(t, "new-etag", md.ETag)
	require.Len(t, api.puts, 1)
	assert.Equal(t, "bucket", aws.ToString(api.puts[0].Bucket))
	assert.EqualValues(t, 5, aws.ToInt64(api.puts[0].ContentLength))
	assert.Equal(t, "text/plain", aws.ToString(api.puts[0].ContentType))
}

func TestClient_StoreOverwrite(t *testing.T) {
	api := newFakeAPI()
	api.objects["alice/a.txt"] = "old"

	client := NewClientWithAPI(api, "bucket")

	_, err := client.Store(context.Background(), alice, "/a.txt", strings.NewReader("new"), remote.PutOptions{Size: 3})
	require.ErrorIs(t, err, remote.ErrExists)
	assert.Equal(t, "old", api.objects["alice/a.txt"])

	_, err = client.Store(context.Background(), alice, "/a.txt", strings.NewReader("new"), remote.PutOptions{Size: 3, Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, "new", api.objects["alice/a.txt"])
}

func TestClient_StoreHeadFailure(t *testing.T) {
	api := newFakeAPI()
	api.headErr = errors.New("api error AccessDenied: Access Denied")

	client := NewClientWithAPI(api, "bucket")

	_, err := client.Store(context.Background(), alice, "/a.txt", strings.NewReader("x"), remote.PutOptions{Size: 1})

	var authErr *transfer.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Empty(t, api.puts)
}

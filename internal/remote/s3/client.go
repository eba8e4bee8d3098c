// Package s3 implements the remote client on an S3 bucket. Files are stored
// under the key <account>/<path>.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/italolelis/transfer_scheduler/internal/remote"
	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

// API is the subset of the S3 client used here.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

type Client struct {
	api    API
	bucket string
}

// NewClient loads AWS credentials from the default chain.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}

		o.UsePathStyle = cfg.ForcePathStyle
	})

	return NewClientWithAPI(api, cfg.Bucket), nil
}

func NewClientWithAPI(api API, bucket string) *Client {
	return &Client{api: api, bucket: bucket}
}

func (c *Client) Name() string {
	return "s3"
}

func (c *Client) Fetch(ctx context.Context, user transfer.User, filePath string) (*remote.Object, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey(user, filePath)),
	})
	if err != nil {
		return nil, convertError("fetch", err)
	}

	obj := &remote.Object{
		Body:        out.Body,
		Size:        aws.ToInt64(out.ContentLength),
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
		ContentType: aws.ToString(out.ContentType),
		ModTime:     aws.ToTime(out.LastModified),
	}

	if out.ContentLength == nil {
		obj.Size = -1
	}

	return obj, nil
}

// Store writes body to the object key of filePath. S3 has no folders, so
// CreateParents needs no work. Without Overwrite an existing key is an
// error.
func (c *Client) Store(
	ctx context.Context,
	user transfer.User,
	filePath string,
	body io.Reader,
	opts remote.PutOptions,
) (remote.Metadata, error) {
	key := objectKey(user, filePath)

	if !opts.Overwrite {
		_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})

		switch {
		case err == nil:
			return remote.Metadata{}, &transfer.RemoteError{
				Operation: "store",
				Message:   "file exists and overwrite is disabled",
				Err:       remote.ErrExists,
			}
		case !isNotFound(err):
			return remote.Metadata{}, convertError("store", err)
		}
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   body,
	}

	if opts.Size >= 0 {
		input.ContentLength = aws.Int64(opts.Size)
	}

	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	out, err := c.api.PutObject(ctx, input)
	if err != nil {
		return remote.Metadata{}, convertError("store", err)
	}

	return remote.Metadata{
		Size:    opts.Size,
		ETag:    strings.Trim(aws.ToString(out.ETag), `"`),
		ModTime: time.Now().UTC(),
	}, nil
}

func objectKey(user transfer.User, filePath string) string {
	return user.AccountName + remote.CleanPath(filePath)
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}

	// HEAD responses carry no error body, some S3 compatible servers only
	// expose the code through the message.
	msg := err.Error()

	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "NoSuchKey")
}

func convertError(op string, err error) error {
	if isNotFound(err) {
		return &transfer.RemoteError{Operation: op, Message: "object not found", Err: errors.Join(remote.ErrNotFound, err)}
	}

	msg := err.Error()
	if strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "InvalidAccessKeyId") {
		return &transfer.AuthenticationError{Operation: op, Err: err}
	}

	return &transfer.RemoteError{Operation: op, Message: msg, Err: err}
}

package remote

import (
	"context"
	"io"

	"github.com/italolelis/transfer_scheduler/internal/telemetry"
	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

// InstrumentedClient records a span and operation metrics around every call
// of the wrapped client.
type InstrumentedClient struct {
	client    Client
	telemetry *telemetry.Telemetry
}

func NewInstrumentedClient(client Client, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{client: client, telemetry: tel}
}

func (c *InstrumentedClient) Name() string {
	return c.client.Name()
}

func (c *InstrumentedClient) Fetch(ctx context.Context, user transfer.User, filePath string) (*Object, error) {
	var obj *Object

	err := c.telemetry.InstrumentRemoteOperation(ctx, c.client.Name(), "fetch", func(ctx context.Context) error {
		var err error

		obj, err = c.client.Fetch(ctx, user, filePath)

		return err
	})

	return obj, err
}

func (c *InstrumentedClient) Store(
	ctx context.Context,
	user transfer.User,
	filePath string,
	body io.Reader,
	opts PutOptions,
) (Metadata, error) {
	var md Metadata

	err := c.telemetry.InstrumentRemoteOperation(ctx, c.client.Name(), "store", func(ctx context.Context) error {
		var err error

		md, err = c.client.Store(ctx, user, filePath, body, opts)

		return err
	})

	return md, err
}

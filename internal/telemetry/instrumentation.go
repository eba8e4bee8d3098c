package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CARDINALITY:
//
// Span attributes that feed metrics must stay bounded. Transfer ids, file
// paths, account names and error messages belong in logs or span status, never
// in attributes. Safe attributes are direction ("download", "upload"), state
// ("completed", "failed"), backend ("webdav", "putio", "s3") and component
// names.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentRemoteOperation instruments calls to a remote file store backend.
func (t *Telemetry) InstrumentRemoteOperation(ctx context.Context, backend, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "remote_"+operation, "remote", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("remote.backend", backend))

		return fn(ctx)
	})

	t.RecordRemoteOperation(ctx, backend, operation, statusOf(err))

	return err
}

// InstrumentTransfer wraps the execution of one transfer task. The running
// gauge is held for the duration of fn.
func (t *Telemetry) InstrumentTransfer(ctx context.Context, direction string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	t.IncrementRunningTransfers(ctx, direction)
	defer t.DecrementRunningTransfers(ctx, direction)

	// Note: transfer ids are intentionally NOT added as attributes.
	return t.InstrumentOperation(ctx, "transfer_"+direction, "scheduler", fn)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/transfer_scheduler/internal/telemetry"
	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

// DefaultSyntheticStepDelay is the pause between two progress steps of a
// synthetic transfer.
const DefaultSyntheticStepDelay = 10 * time.Millisecond

var errTransferFailed = errors.New("transfer failed")

// ProgressFunc receives progress in percent, 0 to 100.
type ProgressFunc func(percent int)

// Result is the terminal outcome of one executor run. File, when not nil,
// replaces the transfer's file. Err is informational: only Success decides
// the terminal state.
type Result struct {
	File    *transfer.File
	Success bool
	Err     error
}

// Executor performs the I/O for one transfer. Implementations report progress
// through report and must return once ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, report ProgressFunc) Result
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, report ProgressFunc) Result

func (f ExecutorFunc) Execute(ctx context.Context, report ProgressFunc) Result {
	return f(ctx, report)
}

type (
	DownloadFactory func(req *transfer.DownloadRequest) Executor
	UploadFactory   func(req *transfer.UploadRequest) Executor
)

// syntheticTask walks progress from 0 to 100 in 1% steps without doing any
// I/O.
type syntheticTask struct {
	step time.Duration
}

func (t syntheticTask) Execute(ctx context.Context, report ProgressFunc) Result {
	var timer *time.Timer

	for p := 0; p <= 100; p++ {
		if err := ctx.Err(); err != nil {
			return Result{Err: err}
		}

		report(p)

		if p == 100 || t.step <= 0 {
			continue
		}

		if timer == nil {
			timer = time.NewTimer(t.step)
			defer timer.Stop()
		} else {
			timer.Reset(t.step)
		}

		select {
		case <-ctx.Done():
			return Result{Err: ctx.Err()}
		case <-timer.C:
		}
	}

	return Result{Success: true}
}

func failedExecutor(err error) Executor {
	return ExecutorFunc(func(context.Context, ProgressFunc) Result {
		return Result{Err: err}
	})
}

// instrumentedExecutor runs the wrapped executor inside a transfer span.
type instrumentedExecutor struct {
	exec      Executor
	telemetry *telemetry.Telemetry
	direction string
}

func (e instrumentedExecutor) Execute(ctx context.Context, report ProgressFunc) Result {
	var res Result

	_ = e.telemetry.InstrumentTransfer(ctx, e.direction, func(ctx context.Context) error {
		res = e.exec.Execute(ctx, report)
		if res.Success {
			return nil
		}

		if res.Err != nil {
			return res.Err
		}

		return errTransferFailed
	})

	return res
}

func (s *Scheduler) executorFor(req transfer.Request) Executor {
	if req.IsTest() {
		return syntheticTask{step: s.stepDelay}
	}

	switch r := req.(type) {
	case *transfer.DownloadRequest:
		if s.downloads == nil {
			return failedExecutor(errors.New("no download executor configured"))
		}

		return s.downloads(r)
	case *transfer.UploadRequest:
		if s.uploads == nil {
			return failedExecutor(errors.New("no upload executor configured"))
		}

		return s.uploads(r)
	default:
		return failedExecutor(fmt.Errorf("unsupported request type %T", req))
	}
}

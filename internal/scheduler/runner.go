package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Runner executes tasks off the caller's goroutine. done must be called
// exactly once per Run, whatever the executor does.
type Runner interface {
	Run(ctx context.Context, exec Executor, report ProgressFunc, done func(Result))
}

// AsyncRunner runs every task on its own goroutine.
type AsyncRunner struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewAsyncRunner(logger *slog.Logger) *AsyncRunner {
	if logger == nil {
		logger = slog.Default()
	}

	return &AsyncRunner{logger: logger}
}

func (r *AsyncRunner) Run(ctx context.Context, exec Executor, report ProgressFunc, done func(Result)) {
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		done(execute(ctx, r.logger, exec, report))
	}()
}

// Wait blocks until every started task has reported its result or ctx is
// done.
func (r *AsyncRunner) Wait(ctx context.Context) error {
	finished := make(chan struct{})

	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InlineRunner runs tasks on the calling goroutine. Useful for tools and
// tests that want fully deterministic execution.
type InlineRunner struct{}

func (InlineRunner) Run(ctx context.Context, exec Executor, report ProgressFunc, done func(Result)) {
	done(execute(ctx, slog.Default(), exec, report))
}

// execute turns an executor panic into a failed result.
func execute(ctx context.Context, logger *slog.Logger, exec Executor, report ProgressFunc) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "transfer executor panic",
				"panic", r,
				"stack", string(debug.Stack()))

			res = Result{Err: fmt.Errorf("executor panic: %v", r)}
		}
	}()

	return exec.Execute(ctx, report)
}

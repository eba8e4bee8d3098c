package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/italolelis/transfer_scheduler/internal/logctx"
	"github.com/italolelis/transfer_scheduler/internal/telemetry"
	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxRunning sets how many transfers may run at the same time.
func WithMaxRunning(n int) Option {
	return func(s *Scheduler) {
		s.maxRunning = n
	}
}

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Scheduler) {
		s.telemetry = tel
	}
}

// WithSyntheticStepDelay sets the pause between progress steps of test
// transfers.
func WithSyntheticStepDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		s.stepDelay = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// Scheduler owns the transfer registry and turns promotions into executor
// runs. It is safe for concurrent use.
//
// Registry mutations happen under mu. Executor launches and listener
// notifications are collected while mu is held and performed after it is
// released, so runners may call back synchronously and listeners may call
// into the Scheduler. Notifications are delivered by one goroutine at a time,
// in the order they were queued.
type Scheduler struct {
	runner     Runner
	downloads  DownloadFactory
	uploads    UploadFactory
	telemetry  *telemetry.Telemetry
	logger     *slog.Logger
	maxRunning int
	stepDelay  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu                sync.Mutex
	registry          *transfer.Registry
	transferListeners transfer.ListenerSet[transfer.TransferListener]
	statusListeners   transfer.ListenerSet[transfer.StatusListener]
	tasks             map[transfer.ID]*task
	cancelled         map[transfer.ID]struct{}
	launches          []launch
	outbox            []event
	draining          bool
}

type task struct {
	cancel    context.CancelFunc
	direction string
	started   time.Time
}

type launch struct {
	id   transfer.ID
	ctx  context.Context
	exec Executor
}

// event is one pending notification together with the listeners that were
// registered when it was emitted.
type event struct {
	transfer          transfer.Transfer
	transferListeners []transfer.TransferListener
	status            transfer.Status
	statusListeners   []transfer.StatusListener
}

func (e event) deliver() {
	for _, l := range e.transferListeners {
		l.OnTransferChanged(e.transfer)
	}

	for _, l := range e.statusListeners {
		l.OnStatusChanged(e.status)
	}
}

// New creates a Scheduler. downloads and uploads build the executors of
// non-test requests; either may be nil, in which case such transfers fail.
func New(runner Runner, downloads DownloadFactory, uploads UploadFactory, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:     runner,
		downloads:  downloads,
		uploads:    uploads,
		logger:     slog.Default(),
		maxRunning: 1,
		stepDelay:  DefaultSyntheticStepDelay,
		tasks:      make(map[transfer.ID]*task),
		cancelled:  make(map[transfer.ID]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.ctx, s.cancel = context.WithCancel(logctx.WithLogger(context.Background(), s.logger))
	s.registry = transfer.NewRegistry(s.onStart, s.onChanged, s.maxRunning)

	return s
}

// Enqueue registers req as a pending transfer and starts it if a slot is free.
// It never waits for I/O. Enqueueing a request whose ID is already known
// does nothing and returns that ID.
func (s *Scheduler) Enqueue(req transfer.Request) transfer.ID {
	s.mu.Lock()
	id := transfer.EnsureID(req)
	if s.registry.Has(id) {
		s.mu.Unlock()
		s.logger.Debug("transfer already known, ignoring", "transfer_id", id)

		return id
	}

	s.registry.Add(req)
	s.registry.StartNext()
	launches := s.takeLaunches()
	s.mu.Unlock()

	direction := req.Direction().String()
	s.telemetry.RecordTransferEnqueued(s.ctx, direction)
	s.logger.Info("transfer enqueued",
		"transfer_id", id,
		"direction", direction,
		"file_path", req.Target().Path,
		"test", req.IsTest())

	s.launch(launches)
	s.dispatch()

	return id
}

func (s *Scheduler) RegisterTransferListener(l transfer.TransferListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transferListeners.Add(l)
}

func (s *Scheduler) RemoveTransferListener(l transfer.TransferListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transferListeners.Remove(l)
}

func (s *Scheduler) RegisterStatusListener(l transfer.StatusListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statusListeners.Add(l)
}

func (s *Scheduler) RemoveStatusListener(l transfer.StatusListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statusListeners.Remove(l)
}

// Status returns a snapshot of all queues.
func (s *Scheduler) Status() transfer.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.registry.Status()
}

func (s *Scheduler) Transfer(id transfer.ID) (transfer.Transfer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.registry.Transfer(id)
}

func (s *Scheduler) TransferByFile(file transfer.File) (transfer.Transfer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.registry.TransferByFile(file)
}

// Attach registers listeners and statusListeners and queues the current
// snapshot of every known transfer in ids for listeners, followed by one
// status snapshot for statusListeners. Registration and snapshots happen in
// one critical section, so no change is missed or reported twice, and the
// events go out in order with every other notification. It returns how many
// of ids were known.
func (s *Scheduler) Attach(
	ids []transfer.ID,
	listeners []transfer.TransferListener,
	statusListeners []transfer.StatusListener,
) int {
	s.mu.Lock()

	for _, l := range listeners {
		s.transferListeners.Add(l)
	}

	for _, l := range statusListeners {
		s.statusListeners.Add(l)
	}

	found := 0

	for _, id := range ids {
		t, ok := s.registry.Transfer(id)
		if !ok {
			continue
		}

		found++

		if len(listeners) > 0 {
			s.outbox = append(s.outbox, event{transfer: t, transferListeners: listeners})
		}
	}

	if len(statusListeners) > 0 {
		s.outbox = append(s.outbox, event{status: s.registry.Status(), statusListeners: statusListeners})
	}

	s.mu.Unlock()

	s.dispatch()

	return found
}

// Cancel stops the transfer with the given id. A running transfer has its
// context cancelled. A pending transfer is marked and fails as soon as it is
// promoted. It reports false when id is unknown or already finished.
func (s *Scheduler) Cancel(id transfer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[id]; ok {
		t.cancel()

		return true
	}

	t, ok := s.registry.Transfer(id)
	if !ok || t.State != transfer.StatePending {
		return false
	}

	s.cancelled[id] = struct{}{}

	return true
}

// Shutdown cancels every transfer and waits until the runner has drained,
// when the runner supports waiting.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.cancel()

	w, ok := s.runner.(interface{ Wait(context.Context) error })
	if !ok {
		return nil
	}

	return w.Wait(ctx)
}

// onStart is called by the registry with mu held.
func (s *Scheduler) onStart(id transfer.ID, req transfer.Request) {
	direction := req.Direction().String()

	ctx, cancel := context.WithCancel(s.ctx)
	ctx = logctx.WithTransferID(ctx, id.String())
	ctx = logctx.WithLogger(ctx, s.logger.With("transfer_id", id.String(), "direction", direction))

	if _, ok := s.cancelled[id]; ok {
		delete(s.cancelled, id)
		cancel()
	}

	s.tasks[id] = &task{cancel: cancel, direction: direction, started: time.Now()}

	s.launches = append(s.launches, launch{
		id:  id,
		ctx: ctx,
		exec: instrumentedExecutor{
			exec:      s.executorFor(req),
			telemetry: s.telemetry,
			direction: direction,
		},
	})
}

// onChanged is called by the registry with mu held.
func (s *Scheduler) onChanged(t transfer.Transfer) {
	ev := event{transfer: t, transferListeners: s.transferListeners.Snapshot()}

	if s.statusListeners.Len() > 0 {
		ev.status = s.registry.Status()
		ev.statusListeners = s.statusListeners.Snapshot()
	}

	if len(ev.transferListeners) == 0 && len(ev.statusListeners) == 0 {
		return
	}

	s.outbox = append(s.outbox, ev)
}

func (s *Scheduler) takeLaunches() []launch {
	launches := s.launches
	s.launches = nil

	return launches
}

func (s *Scheduler) launch(launches []launch) {
	for _, l := range launches {
		id := l.id

		logctx.LoggerFromContext(l.ctx).Info("transfer started")

		s.runner.Run(l.ctx, l.exec,
			func(percent int) { s.progress(id, percent) },
			func(res Result) { s.finish(l.ctx, id, res) },
		)
	}
}

func (s *Scheduler) progress(id transfer.ID, percent int) {
	s.mu.Lock()
	s.registry.Progress(id, percent)
	s.mu.Unlock()

	s.dispatch()
}

func (s *Scheduler) finish(ctx context.Context, id transfer.ID, res Result) {
	s.mu.Lock()

	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()

		return
	}

	delete(s.tasks, id)
	t.cancel()

	s.registry.Complete(id, res.Success, res.File)
	s.registry.StartNext()
	launches := s.takeLaunches()
	s.mu.Unlock()

	state := transfer.StateCompleted
	if !res.Success {
		state = transfer.StateFailed
	}

	elapsed := time.Since(t.started)
	s.telemetry.RecordTransferFinished(ctx, t.direction, state.String(), elapsed)

	logger := logctx.LoggerFromContext(ctx)
	if res.Success {
		logger.Info("transfer completed", "duration", elapsed)
	} else {
		logger.Warn("transfer failed", "duration", elapsed, "err", res.Err)
	}

	s.launch(launches)
	s.dispatch()
}

// dispatch delivers queued events in emission order. Only one goroutine
// drains at a time; events queued by other goroutines or by listeners during
// delivery are picked up by the active drainer.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()

		return
	}

	s.draining = true
	s.mu.Unlock()

	delivered := false

	defer func() {
		if delivered {
			return
		}

		// A listener panicked. Release the drainer role so later
		// notifications still go out, then let the panic continue.
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		if len(s.outbox) == 0 {
			s.draining = false
			s.mu.Unlock()

			delivered = true

			return
		}

		batch := s.outbox
		s.outbox = nil
		s.mu.Unlock()

		for _, ev := range batch {
			ev.deliver()
		}
	}
}

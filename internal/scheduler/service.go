package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

type binding struct {
	onBound   func(*Scheduler)
	onUnbound func()
}

// Service is the execution boundary in front of a Scheduler. Requests may be
// submitted before the service starts; they are held back and handed over in
// submission order on Start.
type Service struct {
	scheduler *Scheduler
	logger    *slog.Logger

	mu       sync.Mutex
	started  bool
	stopped  bool
	backlog  []transfer.Request
	bindings []binding
}

func NewService(s *Scheduler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{scheduler: s, logger: logger}
}

// Attach registers callbacks invoked when the service binds to and unbinds
// from its Scheduler. Attaching to a running service binds immediately.
func (s *Service) Attach(onBound func(*Scheduler), onUnbound func()) {
	s.mu.Lock()
	s.bindings = append(s.bindings, binding{onBound: onBound, onUnbound: onUnbound})
	started := s.started
	s.mu.Unlock()

	if started && onBound != nil {
		onBound(s.scheduler)
	}
}

// Submit hands req to the Scheduler, or buffers it until Start.
func (s *Service) Submit(req transfer.Request) {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()
		s.logger.Warn("transfer submitted after shutdown, dropping",
			"transfer_id", req.TransferID(),
			"file_path", req.Target().Path)

		return
	}

	if !s.started {
		s.backlog = append(s.backlog, req)
		s.mu.Unlock()

		return
	}

	s.mu.Unlock()

	s.scheduler.Enqueue(req)
}

// Start flushes the backlog into the Scheduler and binds every attached
// component. Calling Start more than once has no effect.
func (s *Service) Start() {
	s.mu.Lock()

	if s.started || s.stopped {
		s.mu.Unlock()

		return
	}

	s.started = true
	backlog := s.backlog
	s.backlog = nil
	bindings := append([]binding(nil), s.bindings...)
	s.mu.Unlock()

	for _, req := range backlog {
		s.scheduler.Enqueue(req)
	}

	for _, b := range bindings {
		if b.onBound != nil {
			b.onBound(s.scheduler)
		}
	}

	s.logger.Info("transfer service started", "backlog", len(backlog))
}

// Stop unbinds every attached component and shuts the Scheduler down.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()

		return nil
	}

	wasStarted := s.started
	s.stopped = true
	s.started = false
	bindings := append([]binding(nil), s.bindings...)
	s.mu.Unlock()

	if wasStarted {
		for _, b := range bindings {
			if b.onUnbound != nil {
				b.onUnbound()
			}
		}
	}

	s.logger.Info("transfer service stopping")

	return s.scheduler.Shutdown(ctx)
}

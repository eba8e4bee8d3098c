package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/transfer_scheduler/internal/logctx"
	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

const defaultQueueSize = 64

// TransferNotifier is a transfer listener that posts a message for every
// finished transfer. Listener callbacks only queue the transfer; Run does
// the posting so a slow webhook never blocks the scheduler.
type TransferNotifier struct {
	notifier Notifier
	logger   *slog.Logger
	queue    chan transfer.Transfer
}

func NewTransferNotifier(n Notifier, logger *slog.Logger) *TransferNotifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &TransferNotifier{
		notifier: n,
		logger:   logger,
		queue:    make(chan transfer.Transfer, defaultQueueSize),
	}
}

// OnTransferChanged queues finished, non-test transfers. When the queue is
// full the notification is dropped.
func (tn *TransferNotifier) OnTransferChanged(t transfer.Transfer) {
	if !t.IsFinished() || t.Request.IsTest() {
		return
	}

	select {
	case tn.queue <- t:
	default:
		tn.logger.Warn("notification queue full, dropping", "transfer_id", t.ID.String())
	}
}

// Run posts queued notifications until ctx is done.
func (tn *TransferNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-tn.queue:
			tn.send(ctx, t)
		}
	}
}

func (tn *TransferNotifier) send(ctx context.Context, t transfer.Transfer) {
	logger := logctx.LoggerFromContext(ctx).With("transfer_id", t.ID.String())

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "notifier panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := tn.notifier.Notify(ctx, Message(t)); err != nil {
		logger.ErrorContext(ctx, "failed to send notification", "err", err)
	}
}

// Message renders the notification text for a finished transfer.
func Message(t transfer.Transfer) string {
	verb := "Download"
	if t.Direction() == transfer.DirectionUpload {
		verb = "Upload"
	}

	owner := t.Request.Owner().AccountName

	if t.State == transfer.StateCompleted {
		msg := fmt.Sprintf("✅ %s finished for %s (%s)", verb, t.File.Path, owner)
		if t.File.Size > 0 {
			msg += ", " + humanize.Bytes(uint64(t.File.Size))
		}

		return msg
	}

	return fmt.Sprintf("❌ %s failed for %s (%s)", verb, t.File.Path, owner)
}

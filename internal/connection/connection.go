// Package connection gives callers a stable handle on the transfer scheduler
// that survives the scheduler being bound and unbound. Listeners registered
// while unbound are kept locally and attached on the next bind; transfers
// enqueued in the meantime are replayed to them.
package connection

import (
	"log/slog"
	"sync"

	list "github.com/bahlo/generic-list-go"

	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

// Handle is the scheduler API a bound Connection talks to.
type Handle interface {
	RegisterTransferListener(l transfer.TransferListener)
	RemoveTransferListener(l transfer.TransferListener)
	RegisterStatusListener(l transfer.StatusListener)
	RemoveStatusListener(l transfer.StatusListener)
	Transfer(id transfer.ID) (transfer.Transfer, bool)
	TransferByFile(file transfer.File) (transfer.Transfer, bool)
	Status() transfer.Status
	Cancel(id transfer.ID) bool

	// Attach registers the listeners, then sends the current snapshot of
	// each known id to listeners and a status snapshot to statusListeners,
	// serialized with every other notification of the handle. It returns how
	// many ids were known.
	Attach(ids []transfer.ID, listeners []transfer.TransferListener, statusListeners []transfer.StatusListener) int
}

// Launcher accepts requests whether or not a scheduler is bound.
type Launcher interface {
	Submit(req transfer.Request)
}

type Connection struct {
	launcher Launcher
	logger   *slog.Logger

	mu                sync.Mutex
	handle            Handle
	transferListeners transfer.ListenerSet[transfer.TransferListener]
	statusListeners   transfer.ListenerSet[transfer.StatusListener]
	redeliver         *list.List[transfer.ID]
	redeliverIndex    map[transfer.ID]*list.Element[transfer.ID]
}

func New(launcher Launcher, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}

	return &Connection{
		launcher:       launcher,
		logger:         logger,
		redeliver:      list.New[transfer.ID](),
		redeliverIndex: make(map[transfer.ID]*list.Element[transfer.ID]),
	}
}

// Enqueue submits req and returns its id. While unbound, the id is remembered
// so that registered transfer listeners learn about it on the next bind.
func (c *Connection) Enqueue(req transfer.Request) transfer.ID {
	id := transfer.EnsureID(req)

	c.mu.Lock()
	if c.handle == nil && c.transferListeners.Len() > 0 {
		if _, ok := c.redeliverIndex[id]; !ok {
			c.redeliverIndex[id] = c.redeliver.PushBack(id)
		}
	}
	c.mu.Unlock()

	c.launcher.Submit(req)

	return id
}

func (c *Connection) RegisterTransferListener(l transfer.TransferListener) {
	c.mu.Lock()
	c.transferListeners.Add(l)
	h := c.handle
	c.mu.Unlock()

	if h != nil {
		h.RegisterTransferListener(l)
	}
}

func (c *Connection) RemoveTransferListener(l transfer.TransferListener) {
	c.mu.Lock()
	c.transferListeners.Remove(l)
	h := c.handle
	c.mu.Unlock()

	if h != nil {
		h.RemoveTransferListener(l)
	}
}

func (c *Connection) RegisterStatusListener(l transfer.StatusListener) {
	c.mu.Lock()
	c.statusListeners.Add(l)
	h := c.handle
	c.mu.Unlock()

	if h != nil {
		h.RegisterStatusListener(l)
	}
}

func (c *Connection) RemoveStatusListener(l transfer.StatusListener) {
	c.mu.Lock()
	c.statusListeners.Remove(l)
	h := c.handle
	c.mu.Unlock()

	if h != nil {
		h.RemoveStatusListener(l)
	}
}

// OnBound attaches every local listener to h and replays the latest state of
// transfers enqueued while unbound. A status snapshot follows the replay when
// status listeners exist.
func (c *Connection) OnBound(h Handle) {
	c.mu.Lock()
	c.handle = h
	transferListeners := c.transferListeners.Snapshot()
	statusListeners := c.statusListeners.Snapshot()

	pending := make([]transfer.ID, 0, c.redeliver.Len())
	for e := c.redeliver.Front(); e != nil; e = e.Next() {
		pending = append(pending, e.Value)
	}

	c.redeliver.Init()
	clear(c.redeliverIndex)
	c.mu.Unlock()

	replayed := h.Attach(pending, transferListeners, statusListeners)

	c.logger.Debug("transfer connection bound",
		"transfer_listeners", len(transferListeners),
		"status_listeners", len(statusListeners),
		"replayed", replayed)
}

// OnUnbound detaches the local listeners from the current handle. They stay
// registered locally for the next bind.
func (c *Connection) OnUnbound() {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	transferListeners := c.transferListeners.Snapshot()
	statusListeners := c.statusListeners.Snapshot()
	c.mu.Unlock()

	if h == nil {
		return
	}

	for _, l := range transferListeners {
		h.RemoveTransferListener(l)
	}

	for _, l := range statusListeners {
		h.RemoveStatusListener(l)
	}

	c.logger.Debug("transfer connection unbound")
}

func (c *Connection) IsBound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.handle != nil
}

func (c *Connection) Transfer(id transfer.ID) (transfer.Transfer, bool) {
	h := c.bound()
	if h == nil {
		return transfer.Transfer{}, false
	}

	return h.Transfer(id)
}

func (c *Connection) TransferByFile(file transfer.File) (transfer.Transfer, bool) {
	h := c.bound()
	if h == nil {
		return transfer.Transfer{}, false
	}

	return h.TransferByFile(file)
}

// Status returns an empty status while unbound.
func (c *Connection) Status() transfer.Status {
	h := c.bound()
	if h == nil {
		return transfer.Status{}
	}

	return h.Status()
}

// Cancel reports false while unbound.
func (c *Connection) Cancel(id transfer.ID) bool {
	h := c.bound()
	if h == nil {
		return false
	}

	return h.Cancel(id)
}

func (c *Connection) bound() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.handle
}

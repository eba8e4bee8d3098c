package transfer

import (
	"fmt"

	list "github.com/bahlo/generic-list-go"
)

// Registry keeps pending, running and completed transfers and enforces the
// concurrency bound on the running queue.
//
// Registry is not safe for concurrent use. All calls, including the ones made
// from executor callbacks, must be serialized by the owner.
type Registry struct {
	onStart    func(ID, Request)
	onChanged  func(Transfer)
	maxRunning int

	pending   *queue
	running   *queue
	completed *queue
}

// NewRegistry creates a registry that promotes at most maxRunning transfers at
// a time. maxRunning values below 1 are treated as 1.
func NewRegistry(onStart func(ID, Request), onChanged func(Transfer), maxRunning int) *Registry {
	if maxRunning < 1 {
		maxRunning = 1
	}

	return &Registry{
		onStart:    onStart,
		onChanged:  onChanged,
		maxRunning: maxRunning,
		pending:    newQueue(),
		running:    newQueue(),
		completed:  newQueue(),
	}
}

// Add puts a new pending transfer for req at the tail of the pending queue.
// A request without an ID is given a fresh one first. Adding a request whose
// ID is already known, in any queue, leaves the registry unchanged.
func (r *Registry) Add(req Request) ID {
	id := EnsureID(req)
	if r.Has(id) {
		return id
	}

	r.pending.push(newTransfer(req))

	return id
}

// Has reports whether id is pending, running or completed.
func (r *Registry) Has(id ID) bool {
	for _, q := range r.queues() {
		if _, ok := q.index[id]; ok {
			return true
		}
	}

	return false
}

// StartNext moves as many pending transfers as there are free slots into the
// running queue, oldest first. For each of them the start callback runs before
// the change callback.
func (r *Registry) StartNext() {
	free := r.maxRunning - r.running.len()
	if free <= 0 {
		return
	}

	ids := r.pending.head(free)
	for _, id := range ids {
		t, ok := r.pending.remove(id)
		if !ok {
			panic(fmt.Sprintf("transfer: pending transfer %s vanished during promotion", id))
		}

		t = t.withState(StateRunning)
		r.running.push(t)

		r.onStart(t.ID, t.Request)
		r.onChanged(t)
	}
}

// Progress records new progress for a running transfer. Updates for transfers
// that are not running and values lower than the current progress are
// dropped.
func (r *Registry) Progress(id ID, value int) {
	t, ok := r.running.get(id)
	if !ok {
		return
	}

	value = max(0, min(100, value))
	if value < t.Progress {
		return
	}

	t = t.withProgress(value)
	r.running.replace(t)
	r.onChanged(t)
}

// Complete moves a running transfer to the completed queue. When file is not
// nil it replaces the transfer's file. Calling Complete for a transfer that is
// not running does nothing. Complete does not start pending transfers.
func (r *Registry) Complete(id ID, success bool, file *File) {
	t, ok := r.running.remove(id)
	if !ok {
		return
	}

	state := StateFailed
	if success {
		state = StateCompleted
	}

	t = t.withState(state)
	if file != nil {
		t = t.withFile(*file)
	}

	r.completed.push(t)
	r.onChanged(t)
}

// Transfer looks id up in the pending, running and completed queues, in that
// order.
func (r *Registry) Transfer(id ID) (Transfer, bool) {
	for _, q := range r.queues() {
		if t, ok := q.get(id); ok {
			return t, true
		}
	}

	return Transfer{}, false
}

// TransferByFile returns the first transfer whose file has the same logical
// path as file, searching pending, running and completed in that order. When
// several transfers share a path the oldest pending one wins.
func (r *Registry) TransferByFile(file File) (Transfer, bool) {
	for _, q := range r.queues() {
		if t, ok := q.find(func(t Transfer) bool { return t.File.Path == file.Path }); ok {
			return t, true
		}
	}

	return Transfer{}, false
}

// IsRunning reports whether there is any pending or running transfer.
func (r *Registry) IsRunning() bool {
	return r.pending.len() > 0 || r.running.len() > 0
}

func (r *Registry) Pending() []Transfer   { return r.pending.values() }
func (r *Registry) Running() []Transfer   { return r.running.values() }
func (r *Registry) Completed() []Transfer { return r.completed.values() }

// Status returns a copy of all three queues.
func (r *Registry) Status() Status {
	return Status{
		Pending:   r.Pending(),
		Running:   r.Running(),
		Completed: r.Completed(),
	}
}

func (r *Registry) queues() [3]*queue {
	return [3]*queue{r.pending, r.running, r.completed}
}

// queue is an insertion ordered map of transfers.
type queue struct {
	items *list.List[Transfer]
	index map[ID]*list.Element[Transfer]
}

func newQueue() *queue {
	return &queue{
		items: list.New[Transfer](),
		index: make(map[ID]*list.Element[Transfer]),
	}
}

func (q *queue) len() int {
	return q.items.Len()
}

func (q *queue) push(t Transfer) {
	q.index[t.ID] = q.items.PushBack(t)
}

func (q *queue) get(id ID) (Transfer, bool) {
	e, ok := q.index[id]
	if !ok {
		return Transfer{}, false
	}

	return e.Value, true
}

// replace swaps the stored value in place, keeping its position.
func (q *queue) replace(t Transfer) {
	if e, ok := q.index[t.ID]; ok {
		e.Value = t
	}
}

func (q *queue) remove(id ID) (Transfer, bool) {
	e, ok := q.index[id]
	if !ok {
		return Transfer{}, false
	}

	delete(q.index, id)

	return q.items.Remove(e), true
}

// head returns up to n IDs from the front of the queue.
func (q *queue) head(n int) []ID {
	ids := make([]ID, 0, min(n, q.len()))
	for e := q.items.Front(); e != nil && len(ids) < n; e = e.Next() {
		ids = append(ids, e.Value.ID)
	}

	return ids
}

func (q *queue) find(match func(Transfer) bool) (Transfer, bool) {
	for e := q.items.Front(); e != nil; e = e.Next() {
		if match(e.Value) {
			return e.Value, true
		}
	}

	return Transfer{}, false
}

func (q *queue) values() []Transfer {
	out := make([]Transfer, 0, q.len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value)
	}

	return out
}

package transfer

// TransferListener is notified with the new snapshot every time a transfer
// changes state or progress.
//
// Listeners are compared by identity, so implementations must be comparable
// (pointer receivers). Use NewTransferListener to wrap a plain function.
type TransferListener interface {
	OnTransferChanged(Transfer)
}

// StatusListener is notified with a full queue snapshot after every change.
type StatusListener interface {
	OnStatusChanged(Status)
}

type transferFunc struct {
	fn func(Transfer)
}

func (l *transferFunc) OnTransferChanged(t Transfer) { l.fn(t) }

// NewTransferListener wraps fn in a listener handle. Every call returns a
// distinct handle; keep it to remove the listener later.
func NewTransferListener(fn func(Transfer)) TransferListener {
	return &transferFunc{fn: fn}
}

type statusFunc struct {
	fn func(Status)
}

func (l *statusFunc) OnStatusChanged(s Status) { l.fn(s) }

// NewStatusListener wraps fn in a listener handle, see NewTransferListener.
func NewStatusListener(fn func(Status)) StatusListener {
	return &statusFunc{fn: fn}
}

// ListenerSet is an insertion ordered set of listeners. The zero value is
// ready to use. It is not safe for concurrent use.
type ListenerSet[L comparable] struct {
	order []L
	index map[L]struct{}
}

// Add inserts l and reports whether it was not already present.
func (s *ListenerSet[L]) Add(l L) bool {
	if s.index == nil {
		s.index = make(map[L]struct{})
	}

	if _, ok := s.index[l]; ok {
		return false
	}

	s.index[l] = struct{}{}
	s.order = append(s.order, l)

	return true
}

// Remove deletes l and reports whether it was present.
func (s *ListenerSet[L]) Remove(l L) bool {
	if _, ok := s.index[l]; !ok {
		return false
	}

	delete(s.index, l)

	for i, cur := range s.order {
		if cur == l {
			s.order = append(s.order[:i:i], s.order[i+1:]...)

			break
		}
	}

	return true
}

func (s *ListenerSet[L]) Contains(l L) bool {
	_, ok := s.index[l]

	return ok
}

func (s *ListenerSet[L]) Len() int {
	return len(s.order)
}

// Snapshot returns the listeners in registration order. The returned slice is
// not shared with the set.
func (s *ListenerSet[L]) Snapshot() []L {
	if len(s.order) == 0 {
		return nil
	}

	out := make([]L, len(s.order))
	copy(out, s.order)

	return out
}

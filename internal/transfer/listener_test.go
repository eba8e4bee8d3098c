package transfer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerSet_Idempotent(t *testing.T) {
	var set ListenerSet[TransferListener]

	calls := 0
	l := NewTransferListener(func(Transfer) { calls++ })

	assert.True(t, set.Add(l))
	assert.False(t, set.Add(l), "second add of the same handle is a no-op")
	assert.Equal(t, 1, set.Len())

	for _, cur := range set.Snapshot() {
		cur.OnTransferChanged(Transfer{})
	}

	assert.Equal(t, 1, calls)

	assert.True(t, set.Remove(l))
	assert.False(t, set.Remove(l))
	assert.Zero(t, set.Len())
	assert.Nil(t, set.Snapshot())
}

func TestListenerSet_DistinctHandlesForSameFunc(t *testing.T) {
	var set ListenerSet[TransferListener]

	fn := func(Transfer) {}

	set.Add(NewTransferListener(fn))
	set.Add(NewTransferListener(fn))

	assert.Equal(t, 2, set.Len())
}

func TestListenerSet_KeepsInsertionOrder(t *testing.T) {
	var (
		set   ListenerSet[StatusListener]
		order []int
	)

	listeners := make([]StatusListener, 0, 4)
	for i := range 4 {
		listeners = append(listeners, NewStatusListener(func(Status) { order = append(order, i) }))
		set.Add(listeners[i])
	}

	set.Remove(listeners[1])

	snapshot := set.Snapshot()
	set.Add(listeners[1])

	for _, l := range snapshot {
		l.OnStatusChanged(Status{})
	}

	assert.Equal(t, []int{0, 2, 3}, order, "snapshot is detached from later mutations")
}

func TestTransfer_MarshalJSON(t *testing.T) {
	req := NewUploadRequest(testUser, File{Path: "/docs/a.txt", Size: 12}, Upload{LocalPath: "/tmp/a.txt"}, true)
	tr := newTransfer(req).withState(StateRunning).withProgress(42)

	data, err := json.Marshal(tr)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, req.ID.String(), decoded["id"])
	assert.Equal(t, "running", decoded["state"])
	assert.Equal(t, "upload", decoded["direction"])
	assert.InDelta(t, 42, decoded["progress"], 0)
	assert.Equal(t, true, decoded["test"])
}

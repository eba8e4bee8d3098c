package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxRunningTransfers = 4

type recorder struct {
	started []ID
	changed []Transfer
}

func (r *recorder) onStart(id ID, _ Request) { r.started = append(r.started, id) }
func (r *recorder) onChanged(t Transfer)     { r.changed = append(r.changed, t) }

func (r *recorder) reset() {
	r.started = nil
	r.changed = nil
}

func newTestRegistry(t *testing.T, maxRunning int) (*Registry, *recorder) {
	t.Helper()

	rec := &recorder{}

	return NewRegistry(rec.onStart, rec.onChanged, maxRunning), rec
}

var testUser = User{AccountName: "alice", ServerURL: "https://cloud.example.com"}

func download(path string) *DownloadRequest {
	return NewDownloadRequest(testUser, File{Path: path}, false)
}

func ids(ts []Transfer) []ID {
	out := make([]ID, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}

	return out
}

func TestRegistry_AddInsertsPending(t *testing.T) {
	registry, rec := newTestRegistry(t, maxRunningTransfers)

	for range 10 {
		registry.Add(download("/test/path"))
	}

	assert.Len(t, registry.Pending(), 10)
	assert.Empty(t, registry.Running())
	assert.Empty(t, rec.changed, "add must not emit changes")

	for _, tr := range registry.Pending() {
		assert.Equal(t, StatePending, tr.State)
		assert.Equal(t, 0, tr.Progress)
	}
}

func TestRegistry_AddReturnsRequestID(t *testing.T) {
	registry, _ := newTestRegistry(t, 1)
	req := download("/a")

	assert.Equal(t, req.ID, registry.Add(req))
}

func TestRegistry_AddKnownIDIsNoop(t *testing.T) {
	registry, rec := newTestRegistry(t, 1)
	req := download("/a")
	other := download("/b")

	assert.Equal(t, req.ID, registry.Add(req))
	assert.Equal(t, req.ID, registry.Add(req))
	registry.Add(other)
	require.Equal(t, []ID{req.ID, other.ID}, ids(registry.Pending()))

	registry.StartNext()
	require.Equal(t, []ID{req.ID}, ids(registry.Running()))

	// Known while running.
	registry.Add(req)
	assert.Equal(t, []ID{other.ID}, ids(registry.Pending()))

	registry.Complete(req.ID, true, nil)
	require.NotPanics(t, registry.StartNext)
	assert.Equal(t, []ID{other.ID}, ids(registry.Running()))

	// Known while completed.
	registry.Add(req)
	assert.Empty(t, registry.Pending())
	assert.Len(t, registry.Completed(), 1)
	assert.Equal(t, []ID{req.ID, other.ID}, rec.started)
}

func TestRegistry_AddAssignsIDWhenMissing(t *testing.T) {
	registry, rec := newTestRegistry(t, 2)

	first := &DownloadRequest{User: testUser, File: File{Path: "/a"}}
	second := &DownloadRequest{User: testUser, File: File{Path: "/b"}}

	firstID := registry.Add(first)
	secondID := registry.Add(second)

	assert.NotEqual(t, ID{}, firstID)
	assert.NotEqual(t, ID{}, secondID)
	assert.NotEqual(t, firstID, secondID)
	assert.Equal(t, firstID, first.ID)
	assert.Equal(t, secondID, second.ID)
	require.Len(t, registry.Pending(), 2)

	require.NotPanics(t, registry.StartNext)
	assert.Equal(t, []ID{firstID, secondID}, rec.started)

	registry.Complete(firstID, true, nil)
	registry.Complete(secondID, false, nil)
	assert.False(t, registry.IsRunning())
	assert.Len(t, registry.Completed(), 2)
}

func TestRegistry_Has(t *testing.T) {
	registry, _ := newTestRegistry(t, 1)
	id := registry.Add(download("/a"))

	assert.True(t, registry.Has(id))
	assert.False(t, registry.Has(NewID()))

	registry.StartNext()
	assert.True(t, registry.Has(id))

	registry.Complete(id, true, nil)
	assert.True(t, registry.Has(id))
}

func TestRegistry_StartNext(t *testing.T) {
	registry, rec := newTestRegistry(t, maxRunningTransfers)
	for range 10 {
		registry.Add(download("/test/path"))
	}

	registry.StartNext()

	assert.Len(t, registry.Running(), maxRunningTransfers)
	assert.Len(t, registry.Pending(), 10-maxRunningTransfers)
	assert.Len(t, rec.started, maxRunningTransfers)
	require.Len(t, rec.changed, maxRunningTransfers)

	for _, tr := range rec.changed {
		assert.Equal(t, StateRunning, tr.State)
	}
}

func TestRegistry_StartNextIgnoredWithoutFreeSlots(t *testing.T) {
	registry, rec := newTestRegistry(t, maxRunningTransfers)
	for range 10 {
		registry.Add(download("/test/path"))
	}

	registry.StartNext()
	rec.reset()

	registry.StartNext()

	assert.Len(t, registry.Running(), maxRunningTransfers)
	assert.Empty(t, rec.started)
	assert.Empty(t, rec.changed)
}

func TestRegistry_StartCallbackPrecedesChange(t *testing.T) {
	var events []string

	registry := NewRegistry(
		func(ID, Request) { events = append(events, "start") },
		func(Transfer) { events = append(events, "changed") },
		2,
	)
	registry.Add(download("/a"))
	registry.Add(download("/b"))

	registry.StartNext()

	assert.Equal(t, []string{"start", "changed", "start", "changed"}, events)
}

func TestRegistry_FIFOPromotionScenario(t *testing.T) {
	registry, _ := newTestRegistry(t, 2)

	var all []ID
	for range 5 {
		all = append(all, registry.Add(download("/f")))
	}

	registry.StartNext()

	assert.Equal(t, all[:2], ids(registry.Running()))
	assert.Equal(t, all[2:], ids(registry.Pending()))

	registry.Complete(all[0], true, nil)
	registry.StartNext()

	assert.Equal(t, []ID{all[1], all[2]}, ids(registry.Running()))
	assert.Equal(t, all[3:], ids(registry.Pending()))
	assert.Equal(t, all[:1], ids(registry.Completed()))
}

func TestRegistry_Progress(t *testing.T) {
	tests := []struct {
		name      string
		updates   []int
		wantValue int
		wantCalls int
	}{
		{name: "single update", updates: []int{50}, wantValue: 50, wantCalls: 1},
		{name: "duplicates are accepted", updates: []int{50, 50}, wantValue: 50, wantCalls: 2},
		{name: "lower values are ignored", updates: []int{60, 40}, wantValue: 60, wantCalls: 1},
		{name: "values are clamped", updates: []int{150}, wantValue: 100, wantCalls: 1},
		{name: "negative values are clamped", updates: []int{-5}, wantValue: 0, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, rec := newTestRegistry(t, 1)
			id := registry.Add(download("/a"))
			registry.StartNext()
			rec.reset()

			for _, v := range tt.updates {
				registry.Progress(id, v)
			}

			assert.Len(t, rec.changed, tt.wantCalls)

			got, ok := registry.Transfer(id)
			require.True(t, ok)
			assert.Equal(t, tt.wantValue, got.Progress)
		})
	}
}

func TestRegistry_ProgressForNonRunningIsIgnored(t *testing.T) {
	registry, rec := newTestRegistry(t, 1)
	id := registry.Add(download("/a"))
	pendingID := registry.Add(download("/b"))
	registry.StartNext()
	registry.Complete(id, true, nil)
	rec.reset()

	registry.Progress(id, 50)
	registry.Progress(pendingID, 50)
	registry.Progress(NewID(), 50)

	assert.Empty(t, rec.changed)
}

func TestRegistry_Complete(t *testing.T) {
	original := File{Path: "/test/path"}
	updated := File{Path: "/updated/file", StoragePath: "/data/updated/file"}

	tests := []struct {
		name      string
		success   bool
		file      *File
		wantState State
		wantFile  File
	}{
		{name: "success with updated file", success: true, file: &updated, wantState: StateCompleted, wantFile: updated},
		{name: "success keeps file", success: true, file: nil, wantState: StateCompleted, wantFile: original},
		{name: "failure", success: false, file: nil, wantState: StateFailed, wantFile: original},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, rec := newTestRegistry(t, 1)
			id := registry.Add(NewDownloadRequest(testUser, original, false))
			registry.StartNext()
			registry.Progress(id, 100)
			rec.reset()

			registry.Complete(id, tt.success, tt.file)

			require.Len(t, rec.changed, 1)
			assert.Equal(t, tt.wantState, rec.changed[0].State)
			assert.Equal(t, tt.wantFile, rec.changed[0].File)
			assert.True(t, rec.changed[0].IsFinished())
			assert.Empty(t, registry.Running())
			assert.Len(t, registry.Completed(), 1)
		})
	}
}

func TestRegistry_CompleteDoesNotStartNext(t *testing.T) {
	registry, rec := newTestRegistry(t, 1)
	id := registry.Add(download("/a"))
	registry.Add(download("/b"))
	registry.StartNext()
	rec.reset()

	registry.Complete(id, true, nil)

	assert.Empty(t, rec.started)
	assert.Len(t, registry.Pending(), 1)
	assert.Empty(t, registry.Running())
}

func TestRegistry_CompleteIsTerminal(t *testing.T) {
	registry, rec := newTestRegistry(t, 1)
	id := registry.Add(download("/a"))
	registry.StartNext()

	registry.Complete(id, true, nil)
	rec.reset()
	registry.Complete(id, false, nil)

	assert.Empty(t, rec.changed)

	got, ok := registry.Transfer(id)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, got.State)
}

func TestRegistry_CompleteForPendingIsIgnored(t *testing.T) {
	registry, rec := newTestRegistry(t, 1)
	id := registry.Add(download("/a"))

	registry.Complete(id, true, nil)

	assert.Empty(t, rec.changed)
	assert.Len(t, registry.Pending(), 1)
}

func TestRegistry_Lookups(t *testing.T) {
	pendingFile := File{Path: "/pending"}
	runningFile := File{Path: "/running"}
	completedFile := File{Path: "/completed"}

	registry, _ := newTestRegistry(t, 1)

	completedID := registry.Add(NewDownloadRequest(testUser, completedFile, false))
	registry.StartNext()
	registry.Complete(completedID, true, nil)

	runningID := registry.Add(NewDownloadRequest(testUser, runningFile, false))
	registry.StartNext()

	pendingID := registry.Add(NewDownloadRequest(testUser, pendingFile, false))

	require.Len(t, registry.Pending(), 1)
	require.Len(t, registry.Running(), 1)
	require.Len(t, registry.Completed(), 1)

	tests := []struct {
		name   string
		id     ID
		file   File
		wantID ID
	}{
		{name: "pending", id: pendingID, file: pendingFile, wantID: pendingID},
		{name: "running", id: runningID, file: runningFile, wantID: runningID},
		{name: "completed", id: completedID, file: completedFile, wantID: completedID},
	}

	for _, tt := range tests {
		t.Run(tt.name+" by id", func(t *testing.T) {
			got, ok := registry.Transfer(tt.id)
			require.True(t, ok)
			assert.Equal(t, tt.wantID, got.ID)
		})

		t.Run(tt.name+" by file", func(t *testing.T) {
			got, ok := registry.TransferByFile(tt.file)
			require.True(t, ok)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}

	t.Run("not found by id", func(t *testing.T) {
		_, ok := registry.Transfer(NewID())
		assert.False(t, ok)
	})

	t.Run("not found by file", func(t *testing.T) {
		_, ok := registry.TransferByFile(File{Path: "/non-existing/download"})
		assert.False(t, ok)
	})
}

func TestRegistry_TransferByFilePrefersPending(t *testing.T) {
	registry, _ := newTestRegistry(t, 1)
	shared := File{Path: "/docs/report.pdf"}

	completedID := registry.Add(NewDownloadRequest(testUser, shared, false))
	registry.StartNext()
	registry.Complete(completedID, true, nil)

	blocker := registry.Add(download("/other"))
	registry.StartNext()

	pendingID := registry.Add(NewUploadRequest(testUser, shared, Upload{LocalPath: "/tmp/report.pdf"}, false))

	got, ok := registry.TransferByFile(shared)
	require.True(t, ok)
	assert.Equal(t, pendingID, got.ID)
	assert.Equal(t, StatePending, got.State)
	assert.Equal(t, DirectionUpload, got.Direction())

	_, ok = registry.Transfer(blocker)
	assert.True(t, ok)
}

func TestRegistry_IsRunning(t *testing.T) {
	t.Run("no requests", func(t *testing.T) {
		registry, _ := newTestRegistry(t, 1)
		assert.False(t, registry.IsRunning())
	})

	t.Run("request pending", func(t *testing.T) {
		registry, _ := newTestRegistry(t, 1)
		registry.Add(download("/path/alpha/1"))
		assert.True(t, registry.IsRunning())
	})

	t.Run("request running", func(t *testing.T) {
		registry, _ := newTestRegistry(t, 1)
		registry.Add(download("/path/alpha/1"))
		registry.StartNext()
		assert.Empty(t, registry.Pending())
		assert.True(t, registry.IsRunning())
	})

	t.Run("request completed", func(t *testing.T) {
		registry, _ := newTestRegistry(t, 1)
		id := registry.Add(download("/path/alpha/1"))
		registry.StartNext()
		registry.Complete(id, true, nil)
		assert.False(t, registry.IsRunning())
	})
}

func TestRegistry_ExclusivityAndBound(t *testing.T) {
	const maxRunning = 3

	registry, _ := newTestRegistry(t, maxRunning)

	var all []ID
	for range 12 {
		all = append(all, registry.Add(download("/f")))
	}

	check := func() {
		t.Helper()

		seen := make(map[ID]int)
		for _, tr := range registry.Pending() {
			seen[tr.ID]++
		}
		for _, tr := range registry.Running() {
			seen[tr.ID]++
		}
		for _, tr := range registry.Completed() {
			seen[tr.ID]++
		}

		for _, id := range all {
			assert.Equal(t, 1, seen[id], "transfer %s must be in exactly one queue", id)
		}

		assert.LessOrEqual(t, len(registry.Running()), maxRunning)
	}

	check()

	for i := 0; registry.IsRunning(); i++ {
		registry.StartNext()
		check()

		running := registry.Running()
		registry.Complete(running[0].ID, i%2 == 0, nil)
		check()
	}

	assert.Len(t, registry.Completed(), len(all))
	assert.Equal(t, all, ids(registry.Completed()), "FIFO promotion with single completions keeps order")
}

func TestNewRegistry_ClampsMaxRunning(t *testing.T) {
	registry, _ := newTestRegistry(t, 0)
	registry.Add(download("/a"))
	registry.Add(download("/b"))

	registry.StartNext()

	assert.Len(t, registry.Running(), 1)
}

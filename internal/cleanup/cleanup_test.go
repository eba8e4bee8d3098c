package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/transfer_scheduler/internal/storage"
	"github.com/italolelis/transfer_scheduler/internal/storage/sqlite"
)

func TestDeleteExpiredFiles(t *testing.T) {
	dir := t.TempDir()

	db, err := sqlite.InitDB(filepath.Join(dir, "files.db"))
	require.NoError(t, err)

	defer db.Close()

	repo := sqlite.NewFileRepository(db)
	ctx := context.Background()

	write := func(name string, age time.Duration) storage.FileRecord {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0o600))

		rec := storage.FileRecord{
			Account:      "alice",
			Path:         "/" + name,
			StoragePath:  p,
			Size:         int64(len(name)),
			DownloadedAt: time.Now().Add(-age),
		}
		require.NoError(t, repo.SaveFile(ctx, rec))

		return rec
	}

	old := write("old.txt", 48*time.Hour)
	fresh := write("fresh.txt", time.Minute)

	gone := storage.FileRecord{
		Account:      "alice",
		Path:         "/gone.txt",
		StoragePath:  filepath.Join(dir, "gone.txt"),
		DownloadedAt: time.Now().Add(-72 * time.Hour),
	}
	require.NoError(t, repo.SaveFile(ctx, gone))

	removed, err := DeleteExpiredFiles(ctx, repo, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = os.Stat(old.StoragePath)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(fresh.StoragePath)
	require.NoError(t, err)

	files, err := repo.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, fresh.Path, files[0].Path)
}

func TestRun_DisabledReturnsImmediately(t *testing.T) {
	done := make(chan struct{})

	go func() {
		defer close(done)

		Run(context.Background(), nil, 0, time.Millisecond)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return with cleanup disabled")
	}
}

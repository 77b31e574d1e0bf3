package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/tendril/pkg/adapters/file"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ensure Store implements TrackerStore
var _ ports.TrackerStore = (*file.Store)(nil)

func TestFileStore_Contract(t *testing.T) {
	ports.RunTrackerStoreContract(t, file.New(t.TempDir()))
}

func TestFileStore_EscapesSenderID(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	dlg := &domain.Dialogue{SenderID: "slack/../U123", Events: domain.Events{
		&domain.ActionExecuted{ActionName: domain.ActionListen},
	}}
	require.NoError(t, store.Save(ctx, dlg))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "the file stays inside the base path")

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"slack/../U123"}, ids)

	loaded, err := store.Load(ctx, "slack/../U123")
	require.NoError(t, err)
	assert.Len(t, loaded.Events, 1)
}

func TestFileStore_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tmp-123.json"), []byte("{}"), 0644))

	ids, err := file.New(dir).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFileStore_EmptySenderID(t *testing.T) {
	store := file.New(t.TempDir())
	ctx := context.Background()

	assert.Error(t, store.Save(ctx, &domain.Dialogue{}))
	_, err := store.Load(ctx, "")
	assert.Error(t, err)
	assert.Error(t, store.Delete(ctx, ""))
}

func TestFileStore_MissingDirectory(t *testing.T) {
	ids, err := file.New(filepath.Join(t.TempDir(), "nope")).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

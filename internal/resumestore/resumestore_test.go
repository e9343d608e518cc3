package resumestore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/fluxion/internal/fluxtype"
	"github.com/NamanBalaji/fluxion/internal/resumestore"
)

func openStore(t *testing.T) *resumestore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fluxion.db")
	store, err := resumestore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveAndFind(t *testing.T) {
	store := openStore(t)

	rec := resumestore.Record{
		ID:         "r1",
		Target:     fluxtype.Target{Raw: "http://h/x"},
		OutputPath: "/tmp/x",
		State:      "EXECUTING",
		TotalSize:  1000,
	}
	require.NoError(t, store.Save(rec))

	got, err := store.Find("r1")
	require.NoError(t, err)
	assert.Equal(t, rec.OutputPath, got.OutputPath)
	assert.Equal(t, rec.State, got.State)
	assert.False(t, got.UpdatedAt.IsZero(), "Save stamps UpdatedAt")
}

func TestStore_FindMissingReturnsErrNotFound(t *testing.T) {
	store := openStore(t)
	_, err := store.Find("missing")
	assert.ErrorIs(t, err, resumestore.ErrNotFound)
}

func TestStore_FindAll(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Save(resumestore.Record{ID: "a"}))
	require.NoError(t, store.Save(resumestore.Record{ID: "b"}))

	all, err := store.FindAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_Delete(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Save(resumestore.Record{ID: "a"}))
	require.NoError(t, store.Delete("a"))

	_, err := store.Find("a")
	assert.ErrorIs(t, err, resumestore.ErrNotFound)

	assert.ErrorIs(t, store.Delete("a"), resumestore.ErrNotFound)
}

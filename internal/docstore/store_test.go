package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	empty, err := store.Query(ctx, "orders", Where("id", "missing"))
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, doc := range []map[string]any{
		{"id": "gid://shopify/Order/1", "name": "#1001", "createdAt": "2024-01-01T00:00:00Z", "quantity": 2},
		{"id": "gid://shopify/Order/2", "name": "#1002", "createdAt": "2024-01-03T00:00:00Z"},
		{"id": "gid://shopify/Order/3", "name": "#1003", "createdAt": "2024-01-02T00:00:00Z"},
	} {
		storeID, err := store.Insert(ctx, "orders", doc)
		require.NoError(t, err)
		require.NotEmpty(t, storeID)
		assert.NotEqual(t, doc["id"], storeID)
	}

	matches, err := store.Query(ctx, "orders", Where("id", "gid://shopify/Order/1"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "#1001", matches[0].Data["name"])
	assert.Equal(t, float64(2), matches[0].Data["quantity"])

	count, err := store.Count(ctx, "orders", Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	all, err := store.Query(ctx, "orders", Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "#1001", all[0].Data["name"], "insertion order without OrderBy")

	page, err := store.Query(ctx, "orders", Query{OrderBy: "createdAt", Descending: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "#1002", page[0].Data["name"])
	assert.Equal(t, "#1003", page[1].Data["name"])

	tail, err := store.Query(ctx, "orders", Query{OrderBy: "createdAt", Descending: true, Offset: 2})
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "#1001", tail[0].Data["name"])

	target := matches[0].ID
	require.NoError(t, store.UpdateByID(ctx, "orders", target, map[string]any{"status": "done"}))
	updated, err := store.Query(ctx, "orders", Where("id", "gid://shopify/Order/1"))
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "done", updated[0].Data["status"])
	assert.Equal(t, "#1001", updated[0].Data["name"], "update merges fields")

	err = store.UpdateByID(ctx, "orders", "does-not-exist", map[string]any{"status": "x"})
	assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

	require.NoError(t, store.CommitBatch(ctx, []Write{
		{Collection: "batch", Data: map[string]any{"id": "b1"}},
		{Collection: "batch", Data: map[string]any{"id": "b2"}},
	}))
	n, err := store.Count(ctx, "batch", Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	err = store.CommitBatch(ctx, []Write{
		{Collection: "atomic", ID: "dup", Data: map[string]any{"id": "a1"}},
		{Collection: "atomic", ID: "dup", Data: map[string]any{"id": "a2"}},
	})
	require.Error(t, err)
	n, err = store.Count(ctx, "atomic", Query{})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "failed batch must leave nothing behind")

	_, err = store.Query(ctx, "orders", Where("bad field", "x"))
	assert.True(t, errors.Is(err, ErrInvalidInput), "expected ErrInvalidInput, got %v", err)
}

func TestMemoryStoreContract(t *testing.T) {
	store := NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	runStoreContract(t, store)
}

func TestFileStoreContract(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "docs.json"))
	require.NoError(t, err)
	runStoreContract(t, store)
}

func TestSQLiteStoreContract(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	runStoreContract(t, store)
}

func TestFileStoreReloadsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docs.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	id, err := store.Insert(context.Background(), "sync-jobs", map[string]any{"id": "sync_1", "status": "started"})
	require.NoError(t, err)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	docs, err := reopened.Query(context.Background(), "sync-jobs", Where("id", "sync_1"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)
	assert.Equal(t, "started", docs[0].Data["status"])
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := NewMemoryStore()
	data := map[string]any{"id": "o1", "name": "first"}
	_, err := store.Insert(context.Background(), "orders", data)
	require.NoError(t, err)
	data["name"] = "mutated"

	docs, err := store.Query(context.Background(), "orders", Query{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "first", docs[0].Data["name"])
	docs[0].Data["name"] = "mutated again"

	again, err := store.Query(context.Background(), "orders", Query{})
	require.NoError(t, err)
	assert.Equal(t, "first", again[0].Data["name"])
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())
	_, err := store.Query(context.Background(), "orders", Query{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryStoreExpiredContextIsTransient(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()
	_, err := store.Query(ctx, "orders", Query{})
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryStoreRollsBackWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id, err := store.Insert(ctx, "orders", map[string]any{"id": "o1", "status": "open"})
	require.NoError(t, err)

	persistErr := errors.New("disk full")
	store.persist = func(map[string]*memoryCollection) error { return persistErr }

	err = store.CommitBatch(ctx, []Write{
		{Collection: "orders", Data: map[string]any{"id": "o2"}},
		{Collection: "sync-jobs", Data: map[string]any{"id": "sync_1"}},
	})
	require.ErrorIs(t, err, persistErr)
	err = store.UpdateByID(ctx, "orders", id, map[string]any{"status": "closed"})
	require.ErrorIs(t, err, persistErr)

	store.persist = nil
	docs, err := store.Query(ctx, "orders", Query{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "open", docs[0].Data["status"])
	jobs, err := store.Count(ctx, "sync-jobs", Query{})
	require.NoError(t, err)
	assert.Equal(t, 0, jobs)

	_, err = store.Insert(ctx, "orders", map[string]any{"id": "o3"})
	require.NoError(t, err)
	n, err := store.Count(ctx, "orders", Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFileStoreFailedSaveLeavesNothingVisible(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "sub", "docs.json"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub"), []byte("not a directory"), 0o644))

	err = store.CommitBatch(ctx, []Write{{Collection: "orders", Data: map[string]any{"id": "o1"}}})
	require.Error(t, err)
	n, err := store.Count(ctx, "orders", Query{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

package blobstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStoreSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "a/one", []byte("first")))
	require.NoError(t, store.Put(ctx, "a/two", []byte("second")))
	require.NoError(t, store.Put(ctx, "b/three", []byte("third")))

	rc, err := store.Open(ctx, "a/one")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, []byte("first"), data)

	// Put replaces.
	require.NoError(t, store.Put(ctx, "a/one", []byte("replaced")))
	rc, err = store.Open(ctx, "a/one")
	require.NoError(t, err)
	data, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, []byte("replaced"), data)

	names, err := store.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/one", "a/two"}, names)

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/one", "a/two", "b/three"}, names)

	require.NoError(t, store.Delete(ctx, "a/one"))
	_, err = store.Open(ctx, "a/one")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing blob succeeds.
	require.NoError(t, store.Delete(ctx, "a/one"))
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	runStoreSuite(t, store)
}

func TestMemoryStoreReaderIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "blob", []byte("before")))
	rc, err := store.Open(ctx, "blob")
	require.NoError(t, err)
	defer rc.Close()

	require.NoError(t, store.Put(ctx, "blob", []byte("after!")))

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), data)
}

func TestLocalStoreNotFoundMapsToErrNotFound(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

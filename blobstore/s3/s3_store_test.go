package s3

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcgo/parix/blobstore"
)

// TestS3Store_Integration requires AWS credentials and a bucket named in
// PARIX_TEST_S3_BUCKET. Skip otherwise.
func TestS3Store_Integration(t *testing.T) {
	bucket := os.Getenv("PARIX_TEST_S3_BUCKET")
	if bucket == "" {
		t.Skip("PARIX_TEST_S3_BUCKET not set")
	}

	ctx := context.Background()
	client, err := NewDefaultClient(ctx)
	require.NoError(t, err)

	store := NewStore(client, bucket, "parix-test/")

	data := []byte("hello s3 world")
	require.NoError(t, store.Put(ctx, "test.txt", data))

	rc, err := store.Open(ctx, "test.txt")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "test.txt")

	require.NoError(t, store.Delete(ctx, "test.txt"))

	_, err = store.Open(ctx, "test.txt")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

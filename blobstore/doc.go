// Package blobstore abstracts the storage backends checkpoints are
// written to.
//
// Implement the Store interface to support custom backends:
//
//	type Store interface {
//	    Open(ctx, name) (io.ReadCloser, error)   // read back a blob
//	    Put(ctx, name, data) error               // atomic replace
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// LocalStore keeps blobs on the local file system, MemoryStore keeps them
// in process memory for tests, and the s3 and minio subpackages talk to
// object storage.
package blobstore

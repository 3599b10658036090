// Package s3 provides an S3 implementation of the blobstore.Store interface.
//
//	client, err := s3.NewDefaultClient(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := s3.NewStore(client, "my-bucket", "checkpoints/")
//
// Uploads go through the transfer manager, listings are paginated, and a
// configurable prefix isolates multiple deployments in one bucket.
package s3

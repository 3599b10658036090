// Package minio provides a blobstore.Store implementation using the MinIO
// client, for MinIO itself and other S3-compatible storage systems such as
// Ceph, SeaweedFS, and Garage.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "checkpoints/")
package minio

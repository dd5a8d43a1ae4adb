// Package s3transfer provides a client for S3-compatible object storage
// built directly on the REST wire protocol. It implements AWS Signature
// Version 4 signing itself rather than wrapping a vendor SDK, so it works
// against any S3-compatible endpoint with nothing but a host and a key pair.
//
// Key features:
//   - Explicit construction: endpoint, credentials, and region are passed
//     in, never read from ambient configuration
//   - Bucket and object operations with input validation and typed errors
//   - Automatic multipart transfers for large files, with bounded
//     concurrency and per-chunk retries
//   - Resume: interrupted transfers persist their state and continue from
//     the last completed chunk on the next attempt
//   - Pull-based progress events alongside callback-style trackers
//   - Presigned URLs for delegated access
//
// Example usage:
//
//	client, err := s3transfer.New("storage.example.com:9000", accessKey, secretKey)
//	if err != nil {
//	    return err
//	}
//
//	// Upload a file, multipart and resumable when large.
//	result, err := client.UploadFile(ctx, "my-bucket", "path/file.txt", "/local/file.txt")
//	if err != nil {
//	    return err
//	}
package s3transfer

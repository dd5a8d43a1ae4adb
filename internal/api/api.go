// Package api implements the S3 REST operations used by this module on top
// of the signed transport. The API interface allows for mocking in tests and
// keeps the transfer managers independent of the wire layer.
package api

import (
	"context"

	"github.com/tidegate/s3transfer/s3types"
)

// API defines the storage operations used by the client and the transfer
// managers.
type API interface {
	// ListBuckets lists all buckets owned by the credentials.
	ListBuckets(ctx context.Context) ([]s3types.BucketInfo, error)

	// HeadBucket checks bucket existence; a missing bucket returns an error
	// unwrapping to errors.ErrBucketNotFound.
	HeadBucket(ctx context.Context, bucket string) error

	// CreateBucket creates a bucket, optionally in a specific region.
	CreateBucket(ctx context.Context, bucket, region string) error

	// DeleteBucket deletes an empty bucket.
	DeleteBucket(ctx context.Context, bucket string) error

	// ListObjectsV2 fetches one page of a bucket listing.
	ListObjectsV2(ctx context.Context, in *ListObjectsInput) (*ListObjectsPage, error)

	// PutObject uploads a single object in one request.
	PutObject(ctx context.Context, in *PutObjectInput) (*PutObjectOutput, error)

	// GetObject retrieves an object or a byte range of it.
	GetObject(ctx context.Context, in *GetObjectInput) (*GetObjectOutput, error)

	// HeadObject retrieves object metadata without the body.
	HeadObject(ctx context.Context, bucket, key string) (*HeadObjectOutput, error)

	// DeleteObject removes an object. Idempotent.
	DeleteObject(ctx context.Context, bucket, key string) error

	// CopyObject performs a server-side copy.
	CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (string, error)

	// GetBucketPolicy fetches the bucket policy JSON document.
	GetBucketPolicy(ctx context.Context, bucket string) (string, error)

	// PutBucketPolicy installs a bucket policy JSON document.
	PutBucketPolicy(ctx context.Context, bucket, policy string) error

	// DeleteBucketPolicy removes the bucket policy.
	DeleteBucketPolicy(ctx context.Context, bucket string) error

	// CreateMultipartUpload initiates a multipart upload and returns its id.
	CreateMultipartUpload(ctx context.Context, bucket, key, contentType string, metadata map[string]string) (string, error)

	// UploadPart uploads one part and returns its ETag.
	UploadPart(ctx context.Context, in *UploadPartInput) (string, error)

	// CompleteMultipartUpload assembles the object from parts listed in
	// ascending part-number order and returns the final ETag.
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (string, error)

	// AbortMultipartUpload discards an in-progress multipart upload.
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error

	// ListParts lists the parts uploaded so far for a multipart upload.
	ListParts(ctx context.Context, bucket, key, uploadID string) ([]PartInfo, error)
}

// Package s3types provides shared type definitions for the s3transfer module.
package s3types

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/tidegate/s3transfer/progress"
)

// Object represents an S3 object with its basic metadata, as returned by
// list and head calls. It is a read-only snapshot.
type Object struct {
	// Bucket is the bucket holding the object
	Bucket string

	// Key is the object key (path)
	Key string

	// Size is the object size in bytes
	Size int64

	// LastModified is when the object was last modified
	LastModified time.Time

	// ETag is the entity tag for the object
	ETag string

	// ContentType is the MIME type, when known
	ContentType string

	// StorageClass is the backend storage class
	StorageClass string
}

// ObjectMetadata contains detailed metadata about an object from a HEAD call.
type ObjectMetadata struct {
	// ContentType is the MIME type of the object
	ContentType string

	// ContentLength is the size of the object in bytes
	ContentLength int64

	// LastModified is when the object was last modified
	LastModified time.Time

	// ETag is the entity tag for the object
	ETag string

	// Metadata contains user-defined metadata (x-amz-meta-*)
	Metadata map[string]string
}

// BucketInfo describes a bucket from a ListBuckets call.
type BucketInfo struct {
	// Name is the bucket name
	Name string

	// CreationDate is when the bucket was created
	CreationDate time.Time
}

// ProgressFunc receives the cumulative number of bytes transferred so far.
// It runs on the goroutine performing the transfer and must not block.
type ProgressFunc func(bytesSoFar int64)

// ProgressTracker defines the interface for tracking transfer progress.
// Implementations can provide real-time progress updates during uploads
// and downloads.
type ProgressTracker interface {
	// Update is called periodically with transfer progress
	Update(bytesTransferred, totalBytes int64)

	// Complete is called when the transfer completes successfully
	Complete()

	// Error is called when the transfer fails
	Error(err error)
}

// UploadResult contains the result of an upload operation.
type UploadResult struct {
	// Bucket and Key locate the uploaded object
	Bucket string
	Key    string

	// Size is the size of the uploaded object in bytes
	Size int64

	// ETag is the entity tag for the uploaded object
	ETag string

	// UploadID is the multipart upload id, when multipart was used
	UploadID string

	// Parts is the number of parts transferred (1 for simple uploads)
	Parts int

	// Resumed reports whether previously completed parts were reused
	Resumed bool

	// Duration is how long the upload took
	Duration time.Duration
}

// AvgThroughput returns the average transfer rate in bytes per second.
func (r *UploadResult) AvgThroughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Size) / r.Duration.Seconds()
}

// DownloadResult contains the result of a download operation.
type DownloadResult struct {
	// Bucket and Key locate the downloaded object
	Bucket string
	Key    string

	// Size is the size of the downloaded object in bytes
	Size int64

	// ETag is the entity tag for the downloaded object
	ETag string

	// Parts is the number of chunks transferred (1 for simple downloads)
	Parts int

	// Resumed reports whether previously completed chunks were reused
	Resumed bool

	// Duration is how long the download took
	Duration time.Duration
}

// AvgThroughput returns the average transfer rate in bytes per second.
func (r *DownloadResult) AvgThroughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Size) / r.Duration.Seconds()
}

// ListResult contains one page worth of a list operation plus pagination
// bookkeeping. Client.ListObjects pages transparently, so most callers only
// see the aggregate form.
type ListResult struct {
	// Objects contains the listed objects in lexicographic key order
	Objects []Object

	// CommonPrefixes contains directory-style groupings when listing
	// non-recursively
	CommonPrefixes []string

	// IsTruncated indicates if the results were truncated
	IsTruncated bool

	// NextContinuationToken is the token for the next page of results
	NextContinuationToken string

	// Duration is how long the operation took
	Duration time.Duration
}

// Configuration types for functional options

// ClientConfig holds configuration for the storage client. All fields are
// plain values; credential and endpoint persistence belongs to the caller.
type ClientConfig struct {
	Region        string
	Secure        bool
	Timeout       time.Duration
	MaxRetries    int
	Concurrency   int
	ChunkSize     int64
	ResumeDir     string
	HTTPClient    *http.Client
	Logger        zerolog.Logger
	Filesystem    afero.Fs
	UserAgent     string
	DisableResume bool
}

// UploadOptionConfig holds configuration for upload operations.
type UploadOptionConfig struct {
	ContentType     string
	Metadata        map[string]string
	Progress        ProgressFunc
	ProgressTracker ProgressTracker
	Events          *progress.Collector
	ChunkSize       int64
	Concurrency     int
	MaxRetries      int
	DisableResume   bool
}

// DownloadOptionConfig holds configuration for download operations.
type DownloadOptionConfig struct {
	Progress        ProgressFunc
	ProgressTracker ProgressTracker
	Events          *progress.Collector
	ChunkSize       int64
	Concurrency     int
	MaxRetries      int
	DisableResume   bool
}

// ListOptionConfig holds configuration for list operations.
type ListOptionConfig struct {
	Recursive bool
	MaxKeys   int
}

// Option is a functional option for configuring the storage client.
type (
	Option func(*ClientConfig)
	// UploadOption is a functional option for configuring upload operations.
	UploadOption func(*UploadOptionConfig)
	// DownloadOption is a functional option for configuring download operations.
	DownloadOption func(*DownloadOptionConfig)
	// ListOption is a functional option for configuring list operations.
	ListOption func(*ListOptionConfig)
)

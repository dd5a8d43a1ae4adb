package s3transfer

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/tidegate/s3transfer/progress"
	"github.com/tidegate/s3transfer/s3types"
)

// Client options

// WithRegion sets the region used in the signing scope.
func WithRegion(region string) s3types.Option {
	return func(cfg *s3types.ClientConfig) {
		cfg.Region = region
	}
}

// WithSecure toggles TLS for the endpoint. Defaults to true.
func WithSecure(secure bool) s3types.Option {
	return func(cfg *s3types.ClientConfig) {
		cfg.Secure = secure
	}
}

// WithTimeout caps each HTTP request. Zero means no timeout; large
// transfers should rely on context cancellation instead.
func WithTimeout(timeout time.Duration) s3types.Option {
	return func(cfg *s3types.ClientConfig) {
		cfg.Timeout = timeout
	}
}

// WithMaxRetries sets how many times transient failures are retried, both
// per HTTP request and per chunk.
func WithMaxRetries(retries int) s3types.Option {
	return func(cfg *s3types.ClientConfig) {
		cfg.MaxRetries = retries
	}
}

// WithConcurrency bounds how many chunks transfer in parallel.
func WithConcurrency(n int) s3types.Option {
	return func(cfg *s3types.ClientConfig) {
		cfg.Concurrency = n
	}
}

// WithChunkSize sets the default chunk size for multipart transfers.
// Uploads below the protocol minimum of 5 MiB are raised to it.
func WithChunkSize(size int64) s3types.Option {
	return func(cfg *s3types.ClientConfig) {
		cfg.ChunkSize = size
	}
}

// WithResumeDir relocates the resume-state directory from its
// $HOME/.s3transfer/resume default.
func WithResumeDir(dir string) s3types.Option {
	return func(cfg *s3types.ClientConfig) {
		cfg.ResumeDir = dir
	}
}

// WithoutResume disables persisted transfer state entirely.
func WithoutResume() s3types.Option {
	return func(cfg *s3types.ClientConfig) {
		cfg.DisableResume = true
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(client *http.Client) s3types.Option {
	return func(cfg *s3types.ClientConfig) {
		cfg.HTTPClient = client
	}
}

// WithLogger attaches a structured logger. The default discards everything.
func WithLogger(logger zerolog.Logger) s3types.Option {
	return func(cfg *s3types.ClientConfig) {
		cfg.Logger = logger
	}
}

// WithFilesystem swaps the filesystem used for local files and resume
// state. Intended for tests.
func WithFilesystem(fsys afero.Fs) s3types.Option {
	return func(cfg *s3types.ClientConfig) {
		cfg.Filesystem = fsys
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) s3types.Option {
	return func(cfg *s3types.ClientConfig) {
		cfg.UserAgent = ua
	}
}

// Upload options

// WithContentType sets the Content-Type explicitly, skipping detection.
func WithContentType(contentType string) s3types.UploadOption {
	return func(cfg *s3types.UploadOptionConfig) {
		cfg.ContentType = contentType
	}
}

// WithMetadata attaches user-defined metadata to the uploaded object.
func WithMetadata(metadata map[string]string) s3types.UploadOption {
	return func(cfg *s3types.UploadOptionConfig) {
		cfg.Metadata = metadata
	}
}

// WithUploadProgress reports cumulative bytes as the upload moves.
func WithUploadProgress(fn s3types.ProgressFunc) s3types.UploadOption {
	return func(cfg *s3types.UploadOptionConfig) {
		cfg.Progress = fn
	}
}

// WithUploadTracker attaches a callback-style progress tracker.
func WithUploadTracker(tracker s3types.ProgressTracker) s3types.UploadOption {
	return func(cfg *s3types.UploadOptionConfig) {
		cfg.ProgressTracker = tracker
	}
}

// WithUploadEvents publishes chunk lifecycle events to the collector.
func WithUploadEvents(events *progress.Collector) s3types.UploadOption {
	return func(cfg *s3types.UploadOptionConfig) {
		cfg.Events = events
	}
}

// WithUploadChunkSize overrides the client chunk size for one upload.
func WithUploadChunkSize(size int64) s3types.UploadOption {
	return func(cfg *s3types.UploadOptionConfig) {
		cfg.ChunkSize = size
	}
}

// WithUploadConcurrency overrides the client concurrency for one upload.
func WithUploadConcurrency(n int) s3types.UploadOption {
	return func(cfg *s3types.UploadOptionConfig) {
		cfg.Concurrency = n
	}
}

// WithFreshUpload ignores and does not write resume state for this upload.
func WithFreshUpload() s3types.UploadOption {
	return func(cfg *s3types.UploadOptionConfig) {
		cfg.DisableResume = true
	}
}

// Download options

// WithDownloadProgress reports cumulative bytes as the download moves.
func WithDownloadProgress(fn s3types.ProgressFunc) s3types.DownloadOption {
	return func(cfg *s3types.DownloadOptionConfig) {
		cfg.Progress = fn
	}
}

// WithDownloadTracker attaches a callback-style progress tracker.
func WithDownloadTracker(tracker s3types.ProgressTracker) s3types.DownloadOption {
	return func(cfg *s3types.DownloadOptionConfig) {
		cfg.ProgressTracker = tracker
	}
}

// WithDownloadEvents publishes chunk lifecycle events to the collector.
func WithDownloadEvents(events *progress.Collector) s3types.DownloadOption {
	return func(cfg *s3types.DownloadOptionConfig) {
		cfg.Events = events
	}
}

// WithDownloadChunkSize overrides the client chunk size for one download.
func WithDownloadChunkSize(size int64) s3types.DownloadOption {
	return func(cfg *s3types.DownloadOptionConfig) {
		cfg.ChunkSize = size
	}
}

// WithDownloadConcurrency overrides the client concurrency for one download.
func WithDownloadConcurrency(n int) s3types.DownloadOption {
	return func(cfg *s3types.DownloadOptionConfig) {
		cfg.Concurrency = n
	}
}

// WithFreshDownload ignores and does not write resume state for this
// download.
func WithFreshDownload() s3types.DownloadOption {
	return func(cfg *s3types.DownloadOptionConfig) {
		cfg.DisableResume = true
	}
}

// List options

// WithRecursive lists all keys under the prefix instead of grouping by "/".
func WithRecursive() s3types.ListOption {
	return func(cfg *s3types.ListOptionConfig) {
		cfg.Recursive = true
	}
}

// WithMaxKeys caps the total number of keys returned.
func WithMaxKeys(n int) s3types.ListOption {
	return func(cfg *s3types.ListOptionConfig) {
		cfg.MaxKeys = n
	}
}

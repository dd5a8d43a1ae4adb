package s3transfer

import (
	"context"
	"time"

	"github.com/tidegate/s3transfer/internal/transfer"
	"github.com/tidegate/s3transfer/internal/validation"
	"github.com/tidegate/s3transfer/progress"
	"github.com/tidegate/s3transfer/s3types"
)

// emitSingleTransfer reports completion for transfers that never fan out
// into chunks.
func emitSingleTransfer(events *progress.Collector, size int64) {
	events.Publish(progress.Event{
		Kind:       progress.TransferCompleted,
		ChunkIndex: -1,
		Bytes:      size,
		Total:      size,
	})
}

// UploadFile uploads a local file, switching to a resumable multipart
// upload when the file exceeds the chunk size. The call blocks until the
// transfer finishes; chunk fan-out happens internally. On failure the
// transfer state is persisted so a repeat call resumes instead of
// restarting.
func (c *Client) UploadFile(ctx context.Context, bucket, key, path string, opts ...s3types.UploadOption) (*s3types.UploadResult, error) {
	if err := validation.BucketName(bucket); err != nil {
		return nil, err
	}
	if err := validation.ObjectKey(key); err != nil {
		return nil, err
	}
	cfg := c.uploadConfig(opts)
	if err := validation.Metadata(cfg.Metadata); err != nil {
		return nil, err
	}

	info, err := c.fs.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.Size() <= cfg.ChunkSize {
		return c.uploadSmall(ctx, bucket, key, path, info.Size(), cfg, opts)
	}

	start := time.Now()
	out, err := c.manager.Upload(ctx, &transfer.UploadInput{
		Bucket:        bucket,
		Key:           key,
		Path:          path,
		ContentType:   cfg.ContentType,
		Metadata:      cfg.Metadata,
		ChunkSize:     cfg.ChunkSize,
		Concurrency:   cfg.Concurrency,
		MaxRetries:    cfg.MaxRetries,
		Collector:     cfg.Events,
		Tracker:       cfg.ProgressTracker,
		Progress:      cfg.Progress,
		DisableResume: cfg.DisableResume || c.config.DisableResume,
	})
	if err != nil {
		return nil, err
	}
	return &s3types.UploadResult{
		Bucket:   bucket,
		Key:      key,
		Size:     out.Size,
		ETag:     out.ETag,
		UploadID: out.UploadID,
		Parts:    out.Parts,
		Resumed:  out.Resumed,
		Duration: time.Since(start),
	}, nil
}

// uploadSmall sends a file that fits in one request through PutObject.
func (c *Client) uploadSmall(ctx context.Context, bucket, key, path string, size int64, cfg s3types.UploadOptionConfig, opts []s3types.UploadOption) (*s3types.UploadResult, error) {
	file, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	result, err := c.PutObject(ctx, bucket, key, file, size, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Events != nil {
		// A single-request upload still reports transfer completion.
		emitSingleTransfer(cfg.Events, size)
	}
	return result, nil
}

// DownloadFile downloads an object to a local file, switching to a
// resumable chunked download when the object exceeds the chunk size. The
// bytes land in a temporary partial file renamed into place on success.
func (c *Client) DownloadFile(ctx context.Context, bucket, key, path string, opts ...s3types.DownloadOption) (*s3types.DownloadResult, error) {
	if err := validation.BucketName(bucket); err != nil {
		return nil, err
	}
	if err := validation.ObjectKey(key); err != nil {
		return nil, err
	}
	cfg := c.downloadConfig(opts)

	head, err := c.api.HeadObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	if head.ContentLength > 0 && head.ContentLength <= cfg.ChunkSize {
		return c.downloadSmall(ctx, bucket, key, path, cfg, opts)
	}

	start := time.Now()
	out, err := c.manager.Download(ctx, &transfer.DownloadInput{
		Bucket:        bucket,
		Key:           key,
		Path:          path,
		Head:          head,
		ChunkSize:     cfg.ChunkSize,
		Concurrency:   cfg.Concurrency,
		MaxRetries:    cfg.MaxRetries,
		Collector:     cfg.Events,
		Tracker:       cfg.ProgressTracker,
		Progress:      cfg.Progress,
		DisableResume: cfg.DisableResume || c.config.DisableResume,
	})
	if err != nil {
		return nil, err
	}
	return &s3types.DownloadResult{
		Bucket:   bucket,
		Key:      key,
		Size:     out.Size,
		ETag:     out.ETag,
		Parts:    out.Parts,
		Resumed:  out.Resumed,
		Duration: time.Since(start),
	}, nil
}

// downloadSmall streams an object that fits in one request to the
// destination path.
func (c *Client) downloadSmall(ctx context.Context, bucket, key, path string, cfg s3types.DownloadOptionConfig, opts []s3types.DownloadOption) (*s3types.DownloadResult, error) {
	file, err := c.fs.Create(path)
	if err != nil {
		return nil, err
	}

	result, err := c.GetObject(ctx, bucket, key, file, opts...)
	if err != nil {
		file.Close()
		_ = c.fs.Remove(path)
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}
	if cfg.Events != nil {
		emitSingleTransfer(cfg.Events, result.Size)
	}
	return result, nil
}

// AbortUpload cancels an interrupted multipart upload of path: the remote
// upload id is aborted and local resume state removed. Without resume state
// the call is a no-op.
func (c *Client) AbortUpload(ctx context.Context, bucket, key, path string) error {
	if err := validation.BucketName(bucket); err != nil {
		return err
	}
	if err := validation.ObjectKey(key); err != nil {
		return err
	}
	return c.manager.Abort(ctx, bucket, key, path)
}

func (c *Client) uploadConfig(opts []s3types.UploadOption) s3types.UploadOptionConfig {
	cfg := s3types.UploadOptionConfig{
		ChunkSize:   c.config.ChunkSize,
		Concurrency: c.config.Concurrency,
		MaxRetries:  c.config.MaxRetries,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return cfg
}

func (c *Client) downloadConfig(opts []s3types.DownloadOption) s3types.DownloadOptionConfig {
	cfg := s3types.DownloadOptionConfig{
		ChunkSize:   c.config.ChunkSize,
		Concurrency: c.config.Concurrency,
		MaxRetries:  c.config.MaxRetries,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return cfg
}

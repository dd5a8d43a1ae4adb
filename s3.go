package s3transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tidegate/s3transfer/errors"
	"github.com/tidegate/s3transfer/internal/api"
	"github.com/tidegate/s3transfer/internal/rest"
	"github.com/tidegate/s3transfer/internal/validation"
	"github.com/tidegate/s3transfer/s3types"
)

// streamBufferSize is the copy buffer for single-request object streaming.
const streamBufferSize = 64 << 10

// sniffLen is how many leading bytes content-type detection reads.
const sniffLen = 3072

// ListBuckets returns all buckets owned by the credentials.
func (c *Client) ListBuckets(ctx context.Context) ([]s3types.BucketInfo, error) {
	return c.api.ListBuckets(ctx)
}

// BucketExists reports whether the bucket exists. A missing bucket is a
// boolean answer, not an error; anything else surfaces as the underlying
// storage error.
func (c *Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if err := validation.BucketName(bucket); err != nil {
		return false, err
	}
	err := c.api.HeadBucket(ctx, bucket)
	if err == nil {
		return true, nil
	}
	var se *errors.StorageError
	if errors.As(err, &se) && se.NotFound() {
		return false, nil
	}
	return false, err
}

// CreateBucket creates a bucket in the client's region.
func (c *Client) CreateBucket(ctx context.Context, bucket string) error {
	if err := validation.BucketName(bucket); err != nil {
		return err
	}
	return c.api.CreateBucket(ctx, bucket, c.config.Region)
}

// DeleteBucket deletes a bucket. The bucket must be empty.
func (c *Client) DeleteBucket(ctx context.Context, bucket string) error {
	if err := validation.BucketName(bucket); err != nil {
		return err
	}
	return c.api.DeleteBucket(ctx, bucket)
}

// ListObjects lists objects under a prefix, paginating transparently until
// the listing is exhausted or the WithMaxKeys cap is reached. Keys come
// back in lexicographic order. Non-recursive listings group keys by "/"
// into CommonPrefixes.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string, opts ...s3types.ListOption) (*s3types.ListResult, error) {
	if err := validation.BucketName(bucket); err != nil {
		return nil, err
	}
	cfg := s3types.ListOptionConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	delimiter := "/"
	if cfg.Recursive {
		delimiter = ""
	}

	start := time.Now()
	result := &s3types.ListResult{}
	token := ""
	for {
		pageMax := 0
		if cfg.MaxKeys > 0 {
			pageMax = cfg.MaxKeys - len(result.Objects) - len(result.CommonPrefixes)
			if pageMax <= 0 {
				result.IsTruncated = true
				break
			}
		}
		page, err := c.api.ListObjectsV2(ctx, &api.ListObjectsInput{
			Bucket:            bucket,
			Prefix:            prefix,
			Delimiter:         delimiter,
			MaxKeys:           pageMax,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, entry := range page.Objects {
			result.Objects = append(result.Objects, s3types.Object{
				Bucket:       bucket,
				Key:          entry.Key,
				Size:         entry.Size,
				LastModified: entry.LastModified,
				ETag:         entry.ETag,
				StorageClass: entry.StorageClass,
			})
		}
		result.CommonPrefixes = append(result.CommonPrefixes, page.CommonPrefixes...)
		if !page.IsTruncated {
			break
		}
		result.NextContinuationToken = page.NextContinuationToken
		token = page.NextContinuationToken
	}
	result.Duration = time.Since(start)
	return result, nil
}

// PutObject uploads an object in a single request. When no content type is
// given, it is detected from the leading bytes of the stream. Size must be
// the exact byte count the reader will produce.
//
// Content sniffing and progress reporting wrap the reader, so the request
// body is not rewindable: a transient transport failure surfaces after a
// single attempt instead of being retried.
func (c *Client) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts ...s3types.UploadOption) (*s3types.UploadResult, error) {
	if err := validation.BucketName(bucket); err != nil {
		return nil, err
	}
	if err := validation.ObjectKey(key); err != nil {
		return nil, err
	}
	cfg := s3types.UploadOptionConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validation.Metadata(cfg.Metadata); err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, errors.NewObjectError("putObject", bucket, key, errors.ErrInvalidInput).
			WithMessage("size must be non-negative")
	}

	contentType := cfg.ContentType
	if contentType == "" {
		detected, replay, err := sniffContentType(reader, size)
		if err != nil {
			return nil, errors.NewObjectError("putObject", bucket, key, err)
		}
		contentType = detected
		reader = replay
	}

	body := reader
	if cfg.Progress != nil {
		body = &rest.ProgressReader{R: reader, Fn: cfg.Progress}
	}

	start := time.Now()
	out, err := c.api.PutObject(ctx, &api.PutObjectInput{
		Bucket:      bucket,
		Key:         key,
		Body:        body,
		Size:        size,
		ContentType: contentType,
		Metadata:    cfg.Metadata,
	})
	if err != nil {
		if cfg.ProgressTracker != nil {
			cfg.ProgressTracker.Error(err)
		}
		return nil, err
	}
	if cfg.ProgressTracker != nil {
		cfg.ProgressTracker.Update(size, size)
		cfg.ProgressTracker.Complete()
	}
	return &s3types.UploadResult{
		Bucket:   bucket,
		Key:      key,
		Size:     size,
		ETag:     out.ETag,
		Parts:    1,
		Duration: time.Since(start),
	}, nil
}

// GetObject streams an object into writer.
func (c *Client) GetObject(ctx context.Context, bucket, key string, writer io.Writer, opts ...s3types.DownloadOption) (*s3types.DownloadResult, error) {
	return c.getObject(ctx, bucket, key, writer, "", opts...)
}

// GetObjectRange streams bytes [start, end] (inclusive) of an object into
// writer. An end of -1 means everything from start onward.
func (c *Client) GetObjectRange(ctx context.Context, bucket, key string, writer io.Writer, start, end int64, opts ...s3types.DownloadOption) (*s3types.DownloadResult, error) {
	if start < 0 || (end >= 0 && end < start) {
		return nil, errors.NewObjectError("getObject", bucket, key, errors.ErrInvalidInput).
			WithMessage("invalid byte range")
	}
	byteRange := fmt.Sprintf("bytes=%d-", start)
	if end >= 0 {
		byteRange = fmt.Sprintf("bytes=%d-%d", start, end)
	}
	return c.getObject(ctx, bucket, key, writer, byteRange, opts...)
}

func (c *Client) getObject(ctx context.Context, bucket, key string, writer io.Writer, byteRange string, opts ...s3types.DownloadOption) (*s3types.DownloadResult, error) {
	if err := validation.BucketName(bucket); err != nil {
		return nil, err
	}
	if err := validation.ObjectKey(key); err != nil {
		return nil, err
	}
	cfg := s3types.DownloadOptionConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	out, err := c.api.GetObject(ctx, &api.GetObjectInput{Bucket: bucket, Key: key, Range: byteRange})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	dst := writer
	if cfg.Progress != nil {
		dst = &rest.ProgressWriter{W: writer, Fn: cfg.Progress}
	}
	written, err := io.CopyBuffer(dst, out.Body, make([]byte, streamBufferSize))
	if err != nil {
		if cfg.ProgressTracker != nil {
			cfg.ProgressTracker.Error(err)
		}
		return nil, errors.NewObjectError("getObject", bucket, key, err).WithMessage("stream object body")
	}
	if cfg.ProgressTracker != nil {
		cfg.ProgressTracker.Update(written, written)
		cfg.ProgressTracker.Complete()
	}
	return &s3types.DownloadResult{
		Bucket:   bucket,
		Key:      key,
		Size:     written,
		ETag:     out.ETag,
		Parts:    1,
		Duration: time.Since(start),
	}, nil
}

// StatObject returns object metadata without fetching the body.
func (c *Client) StatObject(ctx context.Context, bucket, key string) (*s3types.ObjectMetadata, error) {
	if err := validation.BucketName(bucket); err != nil {
		return nil, err
	}
	if err := validation.ObjectKey(key); err != nil {
		return nil, err
	}
	head, err := c.api.HeadObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return &s3types.ObjectMetadata{
		ContentType:   head.ContentType,
		ContentLength: head.ContentLength,
		LastModified:  head.LastModified,
		ETag:          head.ETag,
		Metadata:      head.Metadata,
	}, nil
}

// DeleteObject removes an object. Deleting a missing object succeeds.
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := validation.BucketName(bucket); err != nil {
		return err
	}
	if err := validation.ObjectKey(key); err != nil {
		return err
	}
	return c.api.DeleteObject(ctx, bucket, key)
}

// CopyObject copies an object server side and returns the new ETag.
func (c *Client) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (string, error) {
	for _, bucket := range []string{srcBucket, dstBucket} {
		if err := validation.BucketName(bucket); err != nil {
			return "", err
		}
	}
	for _, key := range []string{srcKey, dstKey} {
		if err := validation.ObjectKey(key); err != nil {
			return "", err
		}
	}
	return c.api.CopyObject(ctx, srcBucket, srcKey, dstBucket, dstKey)
}

// GetBucketPolicy returns the bucket policy JSON document.
func (c *Client) GetBucketPolicy(ctx context.Context, bucket string) (string, error) {
	if err := validation.BucketName(bucket); err != nil {
		return "", err
	}
	return c.api.GetBucketPolicy(ctx, bucket)
}

// SetBucketPolicy installs a bucket policy. An empty policy removes the
// current one.
func (c *Client) SetBucketPolicy(ctx context.Context, bucket, policy string) error {
	if err := validation.BucketName(bucket); err != nil {
		return err
	}
	if policy == "" {
		return c.api.DeleteBucketPolicy(ctx, bucket)
	}
	return c.api.PutBucketPolicy(ctx, bucket, policy)
}

// sniffContentType detects the MIME type from the stream's leading bytes
// and returns a reader that replays them.
func sniffContentType(reader io.Reader, size int64) (string, io.Reader, error) {
	if size == 0 {
		return "application/octet-stream", reader, nil
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(reader, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", nil, err
	}
	head = head[:n]
	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), reader), nil
}

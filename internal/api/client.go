package api

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidegate/s3transfer/errors"
	"github.com/tidegate/s3transfer/internal/rest"
	"github.com/tidegate/s3transfer/internal/sigv4"
	"github.com/tidegate/s3transfer/s3types"
)

// Client implements API over a signed REST transport.
type Client struct {
	transport *rest.Transport
}

// NewClient wraps a transport in the operation layer.
func NewClient(transport *rest.Transport) *Client {
	return &Client{transport: transport}
}

// Verify the transport-backed client satisfies the interface.
var _ API = (*Client)(nil)

// metadataHeaderPrefix is the header namespace for user-defined metadata.
const metadataHeaderPrefix = "X-Amz-Meta-"

// ListBuckets lists all buckets owned by the credentials.
func (c *Client) ListBuckets(ctx context.Context) ([]s3types.BucketInfo, error) {
	resp, err := c.transport.Do(ctx, &rest.Request{
		Method: http.MethodGet,
		Op:     "listBuckets",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result listAllMyBucketsResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.NewError("listBuckets", err).WithMessage("decode response")
	}

	buckets := make([]s3types.BucketInfo, 0, len(result.Buckets.Bucket))
	for _, b := range result.Buckets.Bucket {
		buckets = append(buckets, s3types.BucketInfo{
			Name:         b.Name,
			CreationDate: b.CreationDate,
		})
	}
	return buckets, nil
}

// HeadBucket checks bucket existence.
func (c *Client) HeadBucket(ctx context.Context, bucket string) error {
	resp, err := c.transport.Do(ctx, &rest.Request{
		Method: http.MethodHead,
		Bucket: bucket,
		Op:     "headBucket",
	})
	if err != nil {
		return err
	}
	return drainAndClose(resp)
}

// CreateBucket creates a bucket, optionally in a specific region. The
// us-east-1 default region must not be sent as a location constraint.
func (c *Client) CreateBucket(ctx context.Context, bucket, region string) error {
	req := &rest.Request{
		Method: http.MethodPut,
		Bucket: bucket,
		Op:     "createBucket",
	}
	if region != "" && region != "us-east-1" {
		body, err := xml.Marshal(createBucketConfiguration{LocationConstraint: region})
		if err != nil {
			return errors.NewError("createBucket", err)
		}
		req.Body = bytes.NewReader(body)
		req.ContentLength = int64(len(body))
		req.PayloadHash = sigv4.HashPayload(body)
	}
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return err
	}
	return drainAndClose(resp)
}

// DeleteBucket deletes an empty bucket.
func (c *Client) DeleteBucket(ctx context.Context, bucket string) error {
	resp, err := c.transport.Do(ctx, &rest.Request{
		Method: http.MethodDelete,
		Bucket: bucket,
		Op:     "deleteBucket",
	})
	if err != nil {
		return err
	}
	return drainAndClose(resp)
}

// ListObjectsV2 fetches one page of a bucket listing.
func (c *Client) ListObjectsV2(ctx context.Context, in *ListObjectsInput) (*ListObjectsPage, error) {
	query := url.Values{}
	query.Set("list-type", "2")
	if in.Prefix != "" {
		query.Set("prefix", in.Prefix)
	}
	if in.Delimiter != "" {
		query.Set("delimiter", in.Delimiter)
	}
	if in.MaxKeys > 0 {
		query.Set("max-keys", strconv.Itoa(in.MaxKeys))
	}
	if in.ContinuationToken != "" {
		query.Set("continuation-token", in.ContinuationToken)
	}

	resp, err := c.transport.Do(ctx, &rest.Request{
		Method: http.MethodGet,
		Bucket: in.Bucket,
		Query:  query,
		Op:     "listObjects",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result listBucketResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.NewError("listObjects", err).WithBucket(in.Bucket).WithMessage("decode response")
	}

	page := &ListObjectsPage{
		IsTruncated:           result.IsTruncated,
		NextContinuationToken: result.NextContinuationToken,
		Objects:               make([]ObjectEntry, 0, len(result.Contents)),
	}
	for _, obj := range result.Contents {
		page.Objects = append(page.Objects, ObjectEntry{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         trimETag(obj.ETag),
			LastModified: obj.LastModified,
			StorageClass: obj.StorageClass,
		})
	}
	for _, cp := range result.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, cp.Prefix)
	}
	return page, nil
}

// PutObject uploads a single object in one request. The body is streamed
// with the unsigned-payload sentinel so it is never buffered for hashing.
func (c *Client) PutObject(ctx context.Context, in *PutObjectInput) (*PutObjectOutput, error) {
	header := http.Header{}
	if in.ContentType != "" {
		header.Set("Content-Type", in.ContentType)
	}
	for k, v := range in.Metadata {
		header.Set(metadataHeaderPrefix+k, v)
	}

	resp, err := c.transport.Do(ctx, &rest.Request{
		Method:        http.MethodPut,
		Bucket:        in.Bucket,
		Key:           in.Key,
		Header:        header,
		Body:          in.Body,
		ContentLength: in.Size,
		PayloadHash:   sigv4.UnsignedPayload,
		Op:            "putObject",
	})
	if err != nil {
		return nil, err
	}
	etag := trimETag(resp.Header.Get("ETag"))
	if err := drainAndClose(resp); err != nil {
		return nil, err
	}
	return &PutObjectOutput{ETag: etag}, nil
}

// GetObject retrieves an object or a byte range of it. The caller must close
// the returned body.
func (c *Client) GetObject(ctx context.Context, in *GetObjectInput) (*GetObjectOutput, error) {
	header := http.Header{}
	if in.Range != "" {
		header.Set("Range", in.Range)
	}

	resp, err := c.transport.Do(ctx, &rest.Request{
		Method: http.MethodGet,
		Bucket: in.Bucket,
		Key:    in.Key,
		Header: header,
		Op:     "getObject",
	})
	if err != nil {
		return nil, err
	}

	// Servers may lawfully answer a ranged request with 200 and the full
	// body. Writing that at a chunk offset corrupts the destination, so a
	// ranged get that does not come back 206 is an error.
	if in.Range != "" && resp.StatusCode != http.StatusPartialContent {
		if err := drainAndClose(resp); err != nil {
			return nil, err
		}
		return nil, errors.NewObjectError("getObject", in.Bucket, in.Key, errors.ErrRangeNotSatisfied).
			WithMessage(fmt.Sprintf("ranged request answered with status %d", resp.StatusCode))
	}

	out := &GetObjectOutput{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
		ETag:          trimETag(resp.Header.Get("ETag")),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			out.LastModified = t
		}
	}
	return out, nil
}

// HeadObject retrieves object metadata without the body.
func (c *Client) HeadObject(ctx context.Context, bucket, key string) (*HeadObjectOutput, error) {
	resp, err := c.transport.Do(ctx, &rest.Request{
		Method: http.MethodHead,
		Bucket: bucket,
		Key:    key,
		Op:     "headObject",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &HeadObjectOutput{
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
		ETag:          trimETag(resp.Header.Get("ETag")),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			out.LastModified = t
		}
	}
	for name := range resp.Header {
		if strings.HasPrefix(name, metadataHeaderPrefix) {
			if out.Metadata == nil {
				out.Metadata = make(map[string]string)
			}
			out.Metadata[strings.TrimPrefix(name, metadataHeaderPrefix)] = resp.Header.Get(name)
		}
	}
	return out, nil
}

// DeleteObject removes an object. Deleting a missing object is not an error.
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	resp, err := c.transport.Do(ctx, &rest.Request{
		Method: http.MethodDelete,
		Bucket: bucket,
		Key:    key,
		Op:     "deleteObject",
	})
	if err != nil {
		return err
	}
	return drainAndClose(resp)
}

// CopyObject performs a server-side copy and returns the new ETag.
func (c *Client) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (string, error) {
	header := http.Header{}
	header.Set("X-Amz-Copy-Source", "/"+srcBucket+"/"+srcKey)

	resp, err := c.transport.Do(ctx, &rest.Request{
		Method: http.MethodPut,
		Bucket: dstBucket,
		Key:    dstKey,
		Header: header,
		Op:     "copyObject",
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result copyObjectResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.NewObjectError("copyObject", dstBucket, dstKey, err).WithMessage("decode response")
	}
	return trimETag(result.ETag), nil
}

// GetBucketPolicy fetches the bucket policy JSON document.
func (c *Client) GetBucketPolicy(ctx context.Context, bucket string) (string, error) {
	query := url.Values{}
	query.Set("policy", "")

	resp, err := c.transport.Do(ctx, &rest.Request{
		Method: http.MethodGet,
		Bucket: bucket,
		Query:  query,
		Op:     "getBucketPolicy",
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	policy, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewError("getBucketPolicy", err).WithBucket(bucket)
	}
	return string(policy), nil
}

// PutBucketPolicy installs a bucket policy JSON document.
func (c *Client) PutBucketPolicy(ctx context.Context, bucket, policy string) error {
	query := url.Values{}
	query.Set("policy", "")

	body := []byte(policy)
	resp, err := c.transport.Do(ctx, &rest.Request{
		Method:        http.MethodPut,
		Bucket:        bucket,
		Query:         query,
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
		PayloadHash:   sigv4.HashPayload(body),
		Op:            "putBucketPolicy",
	})
	if err != nil {
		return err
	}
	return drainAndClose(resp)
}

// DeleteBucketPolicy removes the bucket policy.
func (c *Client) DeleteBucketPolicy(ctx context.Context, bucket string) error {
	query := url.Values{}
	query.Set("policy", "")

	resp, err := c.transport.Do(ctx, &rest.Request{
		Method: http.MethodDelete,
		Bucket: bucket,
		Query:  query,
		Op:     "deleteBucketPolicy",
	})
	if err != nil {
		return err
	}
	return drainAndClose(resp)
}

// CreateMultipartUpload initiates a multipart upload and returns its id.
func (c *Client) CreateMultipartUpload(
	ctx context.Context,
	bucket, key, contentType string,
	metadata map[string]string,
) (string, error) {
	query := url.Values{}
	query.Set("uploads", "")

	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	for k, v := range metadata {
		header.Set(metadataHeaderPrefix+k, v)
	}

	resp, err := c.transport.Do(ctx, &rest.Request{
		Method: http.MethodPost,
		Bucket: bucket,
		Key:    key,
		Query:  query,
		Header: header,
		Op:     "createMultipartUpload",
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result initiateMultipartUploadResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.NewObjectError("createMultipartUpload", bucket, key, err).WithMessage("decode response")
	}
	if result.UploadID == "" {
		return "", errors.NewObjectError("createMultipartUpload", bucket, key, errors.ErrInvalidInput).
			WithMessage("backend returned empty upload id")
	}
	return result.UploadID, nil
}

// UploadPart uploads one part and returns its ETag. The rewindable body lets
// the transport retry transient failures; the unsigned-payload sentinel
// avoids rehashing the chunk on every attempt.
func (c *Client) UploadPart(ctx context.Context, in *UploadPartInput) (string, error) {
	query := url.Values{}
	query.Set("partNumber", strconv.Itoa(in.PartNumber))
	query.Set("uploadId", in.UploadID)

	resp, err := c.transport.Do(ctx, &rest.Request{
		Method:        http.MethodPut,
		Bucket:        in.Bucket,
		Key:           in.Key,
		Query:         query,
		Body:          in.Body,
		ContentLength: in.Size,
		PayloadHash:   sigv4.UnsignedPayload,
		Op:            "uploadPart",
	})
	if err != nil {
		return "", err
	}
	etag := trimETag(resp.Header.Get("ETag"))
	if err := drainAndClose(resp); err != nil {
		return "", err
	}
	if etag == "" {
		return "", errors.NewObjectError("uploadPart", in.Bucket, in.Key, errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("backend returned no ETag for part %d", in.PartNumber))
	}
	return etag, nil
}

// CompleteMultipartUpload assembles the object from its parts. Parts must be
// listed in ascending part-number order; the backend rejects anything else.
func (c *Client) CompleteMultipartUpload(
	ctx context.Context,
	bucket, key, uploadID string,
	parts []CompletedPart,
) (string, error) {
	payload := completeMultipartUpload{Parts: make([]completeMultipartUploadPart, len(parts))}
	for i, p := range parts {
		payload.Parts[i] = completeMultipartUploadPart{
			PartNumber: p.PartNumber,
			ETag:       p.ETag,
		}
	}
	body, err := xml.Marshal(payload)
	if err != nil {
		return "", errors.NewObjectError("completeMultipartUpload", bucket, key, err)
	}

	query := url.Values{}
	query.Set("uploadId", uploadID)

	header := http.Header{}
	header.Set("Content-Type", "application/xml")

	resp, err := c.transport.Do(ctx, &rest.Request{
		Method:        http.MethodPost,
		Bucket:        bucket,
		Key:           key,
		Query:         query,
		Header:        header,
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
		PayloadHash:   sigv4.HashPayload(body),
		Op:            "completeMultipartUpload",
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result completeMultipartUploadResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.NewObjectError("completeMultipartUpload", bucket, key, err).WithMessage("decode response")
	}
	return trimETag(result.ETag), nil
}

// AbortMultipartUpload discards an in-progress multipart upload.
func (c *Client) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	query := url.Values{}
	query.Set("uploadId", uploadID)

	resp, err := c.transport.Do(ctx, &rest.Request{
		Method: http.MethodDelete,
		Bucket: bucket,
		Key:    key,
		Query:  query,
		Op:     "abortMultipartUpload",
	})
	if err != nil {
		return err
	}
	return drainAndClose(resp)
}

// ListParts lists the parts uploaded so far for a multipart upload,
// paginating until exhausted.
func (c *Client) ListParts(ctx context.Context, bucket, key, uploadID string) ([]PartInfo, error) {
	var parts []PartInfo
	marker := 0
	for {
		query := url.Values{}
		query.Set("uploadId", uploadID)
		if marker > 0 {
			query.Set("part-number-marker", strconv.Itoa(marker))
		}

		resp, err := c.transport.Do(ctx, &rest.Request{
			Method: http.MethodGet,
			Bucket: bucket,
			Key:    key,
			Query:  query,
			Op:     "listParts",
		})
		if err != nil {
			return nil, err
		}

		var result listPartsResult
		err = xml.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			return nil, errors.NewObjectError("listParts", bucket, key, err).WithMessage("decode response")
		}

		for _, p := range result.Parts {
			parts = append(parts, PartInfo{
				PartNumber: p.PartNumber,
				ETag:       trimETag(p.ETag),
				Size:       p.Size,
			})
		}
		if !result.IsTruncated {
			return parts, nil
		}
		marker = result.NextPartNumberMarker
	}
}

// trimETag strips the surrounding quotes the wire format carries.
func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// drainAndClose consumes any remaining body so the connection can be reused.
func drainAndClose(resp *http.Response) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.Body.Close()
}

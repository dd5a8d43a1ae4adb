package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/s3transfer/errors"
	"github.com/tidegate/s3transfer/internal/rest"
	"github.com/tidegate/s3transfer/internal/sigv4"
)

var testCreds = sigv4.Credentials{AccessKey: "AKID", SecretKey: "SECRET", Region: "us-east-1"}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	return NewClient(rest.New(u.Host, false, testCreds, server.Client(), 0, "test", zerolog.Nop()))
}

func TestListObjectsV2(t *testing.T) {
	var gotQuery url.Values
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		io.WriteString(w, `<?xml version="1.0"?>
<ListBucketResult>
  <IsTruncated>true</IsTruncated>
  <NextContinuationToken>token-2</NextContinuationToken>
  <Contents>
    <Key>a/one.txt</Key>
    <Size>11</Size>
    <ETag>&quot;abcdef&quot;</ETag>
    <LastModified>2026-08-01T10:00:00Z</LastModified>
    <StorageClass>STANDARD</StorageClass>
  </Contents>
  <CommonPrefixes><Prefix>a/b/</Prefix></CommonPrefixes>
</ListBucketResult>`)
	}))

	page, err := client.ListObjectsV2(context.Background(), &ListObjectsInput{
		Bucket:    "bucket",
		Prefix:    "a/",
		Delimiter: "/",
		MaxKeys:   100,
	})
	require.NoError(t, err)

	assert.Equal(t, "2", gotQuery.Get("list-type"))
	assert.Equal(t, "a/", gotQuery.Get("prefix"))
	assert.Equal(t, "/", gotQuery.Get("delimiter"))
	assert.Equal(t, "100", gotQuery.Get("max-keys"))

	assert.True(t, page.IsTruncated)
	assert.Equal(t, "token-2", page.NextContinuationToken)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "a/one.txt", page.Objects[0].Key)
	assert.Equal(t, int64(11), page.Objects[0].Size)
	assert.Equal(t, "abcdef", page.Objects[0].ETag)
	assert.Equal(t, []string{"a/b/"}, page.CommonPrefixes)
}

func TestPutObjectHeaders(t *testing.T) {
	var gotHeader http.Header
	var gotBody []byte
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"put-etag"`)
	}))

	out, err := client.PutObject(context.Background(), &PutObjectInput{
		Bucket:      "bucket",
		Key:         "file.txt",
		Body:        strings.NewReader("hello world"),
		Size:        11,
		ContentType: "text/plain",
		Metadata:    map[string]string{"owner": "backups"},
	})
	require.NoError(t, err)

	assert.Equal(t, "put-etag", out.ETag)
	assert.Equal(t, "hello world", string(gotBody))
	assert.Equal(t, "text/plain", gotHeader.Get("Content-Type"))
	assert.Equal(t, "backups", gotHeader.Get("X-Amz-Meta-Owner"))
	assert.Equal(t, sigv4.UnsignedPayload, gotHeader.Get("X-Amz-Content-Sha256"))
}

func TestHeadObjectMetadata(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", "42")
		w.Header().Set("ETag", `"head-etag"`)
		w.Header().Set("Last-Modified", time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC).Format(http.TimeFormat))
		w.Header().Set("X-Amz-Meta-Owner", "backups")
	}))

	out, err := client.HeadObject(context.Background(), "bucket", "file.json")
	require.NoError(t, err)
	assert.Equal(t, int64(42), out.ContentLength)
	assert.Equal(t, "application/json", out.ContentType)
	assert.Equal(t, "head-etag", out.ETag)
	assert.Equal(t, time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC), out.LastModified)
	assert.Equal(t, map[string]string{"Owner": "backups"}, out.Metadata)
}

func TestGetObjectRangedWants206(t *testing.T) {
	full := strings.Repeat("x", 1024)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Answer 200 with the whole object even though a range was asked.
		io.WriteString(w, full)
	}))

	_, err := client.GetObject(context.Background(), &GetObjectInput{
		Bucket: "bucket",
		Key:    "file.bin",
		Range:  "bytes=0-255",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRangeNotSatisfied)
}

func TestGetObjectRangedPartialContent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=0-255", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "bytes 0-255/1024")
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, strings.Repeat("y", 256))
	}))

	out, err := client.GetObject(context.Background(), &GetObjectInput{
		Bucket: "bucket",
		Key:    "file.bin",
		Range:  "bytes=0-255",
	})
	require.NoError(t, err)
	defer out.Body.Close()
	assert.Equal(t, int64(256), out.ContentLength)
	data, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Len(t, data, 256)
}

func TestMultipartFlow(t *testing.T) {
	var partQueries []url.Values
	var completeBody string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case r.Method == http.MethodPost && q.Has("uploads"):
			io.WriteString(w, `<InitiateMultipartUploadResult><UploadId>upload-9</UploadId></InitiateMultipartUploadResult>`)
		case r.Method == http.MethodPut && q.Get("partNumber") != "":
			partQueries = append(partQueries, q)
			w.Header().Set("ETag", `"etag-`+q.Get("partNumber")+`"`)
		case r.Method == http.MethodPost && q.Get("uploadId") != "":
			body, _ := io.ReadAll(r.Body)
			completeBody = string(body)
			io.WriteString(w, `<CompleteMultipartUploadResult><ETag>"final-etag"</ETag></CompleteMultipartUploadResult>`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))

	ctx := context.Background()
	uploadID, err := client.CreateMultipartUpload(ctx, "bucket", "big.bin", "application/octet-stream", nil)
	require.NoError(t, err)
	assert.Equal(t, "upload-9", uploadID)

	var parts []CompletedPart
	for n := 1; n <= 2; n++ {
		etag, err := client.UploadPart(ctx, &UploadPartInput{
			Bucket:     "bucket",
			Key:        "big.bin",
			UploadID:   uploadID,
			PartNumber: n,
			Body:       strings.NewReader("chunk"),
			Size:       5,
		})
		require.NoError(t, err)
		parts = append(parts, CompletedPart{PartNumber: n, ETag: etag})
	}
	require.Len(t, partQueries, 2)
	assert.Equal(t, "1", partQueries[0].Get("partNumber"))
	assert.Equal(t, "upload-9", partQueries[0].Get("uploadId"))

	etag, err := client.CompleteMultipartUpload(ctx, "bucket", "big.bin", uploadID, parts)
	require.NoError(t, err)
	assert.Equal(t, "final-etag", etag)

	// Parts serialized in ascending order.
	first := strings.Index(completeBody, "<PartNumber>1</PartNumber>")
	second := strings.Index(completeBody, "<PartNumber>2</PartNumber>")
	require.GreaterOrEqual(t, first, 0)
	require.Greater(t, second, first)
	assert.Contains(t, completeBody, "etag-1")
}

func TestBucketPolicyRoundTrip(t *testing.T) {
	const policy = `{"Version":"2012-10-17","Statement":[]}`
	var stored string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !r.URL.Query().Has("policy") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			stored = string(body)
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			io.WriteString(w, stored)
		case http.MethodDelete:
			stored = ""
			w.WriteHeader(http.StatusNoContent)
		}
	}))

	ctx := context.Background()
	require.NoError(t, client.PutBucketPolicy(ctx, "bucket", policy))
	assert.Equal(t, policy, stored)

	got, err := client.GetBucketPolicy(ctx, "bucket")
	require.NoError(t, err)
	assert.Equal(t, policy, got)

	require.NoError(t, client.DeleteBucketPolicy(ctx, "bucket"))
	assert.Empty(t, stored)
}

func TestCopyObjectHeader(t *testing.T) {
	var gotSource string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSource = r.Header.Get("X-Amz-Copy-Source")
		io.WriteString(w, `<CopyObjectResult><ETag>"copy-etag"</ETag></CopyObjectResult>`)
	}))

	etag, err := client.CopyObject(context.Background(), "src-bucket", "src/key.bin", "dst-bucket", "dst/key.bin")
	require.NoError(t, err)
	assert.Equal(t, "copy-etag", etag)
	assert.Equal(t, "/src-bucket/src/key.bin", gotSource)
}

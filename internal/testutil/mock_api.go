// Package testutil provides in-memory fakes for the storage API and
// progress tracking, shared by the transfer and client tests.
package testutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidegate/s3transfer/errors"
	"github.com/tidegate/s3transfer/internal/api"
	"github.com/tidegate/s3transfer/s3types"
)

type mockObject struct {
	data         []byte
	contentType  string
	metadata     map[string]string
	lastModified time.Time
}

type mockUpload struct {
	bucket      string
	key         string
	contentType string
	metadata    map[string]string
	parts       map[int][]byte
	etags       map[int]string
}

// MockAPI is an in-memory API implementation. Beyond storing objects, it
// counts calls per operation, records part sizes and completion order, and
// tracks the high-water mark of concurrent UploadPart calls so tests can
// assert pool bounds.
type MockAPI struct {
	mu sync.Mutex

	buckets  map[string]time.Time
	objects  map[string]*mockObject
	policies map[string]string
	uploads  map[string]*mockUpload
	nextID   int

	calls map[string]int

	// FailOp and FailCount inject FailErr for the next FailCount calls to
	// the named operation.
	FailOp    string
	FailCount int
	FailErr   error

	// UploadPart bookkeeping.
	PartSizes      map[int]int64
	CompletedOrder []int

	// Ranges records the Range header of every GetObject call, in order.
	Ranges []string

	// IgnoreRange makes GetObject return the full object for ranged
	// requests, the way a server that does not support Range would.
	IgnoreRange bool

	inFlightParts    int
	MaxInFlightParts int
}

// NewMockAPI returns an empty in-memory backend.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		buckets:   map[string]time.Time{},
		objects:   map[string]*mockObject{},
		policies:  map[string]string{},
		uploads:   map[string]*mockUpload{},
		calls:     map[string]int{},
		PartSizes: map[int]int64{},
	}
}

var _ api.API = (*MockAPI)(nil)

// Calls returns how many times the named operation was invoked.
func (m *MockAPI) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// SeedObject installs an object directly, bypassing the API surface.
func (m *MockAPI) SeedObject(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket] = time.Now()
	m.objects[bucket+"/"+key] = &mockObject{
		data:         append([]byte(nil), data...),
		lastModified: time.Now().UTC().Truncate(time.Second),
	}
}

// ObjectData returns a copy of a stored object's bytes.
func (m *MockAPI) ObjectData(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// record counts the call and returns an injected failure when armed.
func (m *MockAPI) record(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if op == m.FailOp && m.FailCount != 0 {
		m.FailCount--
		if m.FailErr != nil {
			return m.FailErr
		}
		return &errors.StorageError{Op: op, StatusCode: http.StatusInternalServerError, Code: "InternalError"}
	}
	return nil
}

func etagFor(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func (m *MockAPI) ListBuckets(_ context.Context) ([]s3types.BucketInfo, error) {
	if err := m.record("listBuckets"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]s3types.BucketInfo, 0, len(m.buckets))
	for name, created := range m.buckets {
		out = append(out, s3types.BucketInfo{Name: name, CreationDate: created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MockAPI) HeadBucket(_ context.Context, bucket string) error {
	if err := m.record("headBucket"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		return &errors.StorageError{Op: "headBucket", StatusCode: http.StatusNotFound, Code: "NoSuchBucket", Bucket: bucket}
	}
	return nil
}

func (m *MockAPI) CreateBucket(_ context.Context, bucket, _ string) error {
	if err := m.record("createBucket"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; ok {
		return &errors.StorageError{Op: "createBucket", StatusCode: http.StatusConflict, Code: "BucketAlreadyExists", Bucket: bucket}
	}
	m.buckets[bucket] = time.Now()
	return nil
}

func (m *MockAPI) DeleteBucket(_ context.Context, bucket string) error {
	if err := m.record("deleteBucket"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for path := range m.objects {
		if strings.HasPrefix(path, bucket+"/") {
			return &errors.StorageError{Op: "deleteBucket", StatusCode: http.StatusConflict, Code: "BucketNotEmpty", Bucket: bucket}
		}
	}
	delete(m.buckets, bucket)
	return nil
}

func (m *MockAPI) ListObjectsV2(_ context.Context, in *api.ListObjectsInput) (*api.ListObjectsPage, error) {
	if err := m.record("listObjects"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for path := range m.objects {
		if strings.HasPrefix(path, in.Bucket+"/") {
			keys = append(keys, strings.TrimPrefix(path, in.Bucket+"/"))
		}
	}
	sort.Strings(keys)

	pageSize := in.MaxKeys
	if pageSize <= 0 {
		pageSize = 1000
	}

	page := &api.ListObjectsPage{}
	prefixSeen := map[string]bool{}
	start := 0
	if in.ContinuationToken != "" {
		start, _ = strconv.Atoi(in.ContinuationToken)
	}

	count := 0
	for i := start; i < len(keys); i++ {
		key := keys[i]
		if in.Prefix != "" && !strings.HasPrefix(key, in.Prefix) {
			continue
		}
		if count == pageSize {
			page.IsTruncated = true
			page.NextContinuationToken = strconv.Itoa(i)
			break
		}
		if in.Delimiter != "" {
			rest := strings.TrimPrefix(key, in.Prefix)
			if cut := strings.Index(rest, in.Delimiter); cut >= 0 {
				prefix := in.Prefix + rest[:cut+1]
				if !prefixSeen[prefix] {
					prefixSeen[prefix] = true
					page.CommonPrefixes = append(page.CommonPrefixes, prefix)
					count++
				}
				continue
			}
		}
		obj := m.objects[in.Bucket+"/"+key]
		page.Objects = append(page.Objects, api.ObjectEntry{
			Key:          key,
			Size:         int64(len(obj.data)),
			ETag:         etagFor(obj.data),
			LastModified: obj.lastModified,
		})
		count++
	}
	return page, nil
}

func (m *MockAPI) PutObject(_ context.Context, in *api.PutObjectInput) (*api.PutObjectOutput, error) {
	if err := m.record("putObject"); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[in.Bucket+"/"+in.Key] = &mockObject{
		data:         data,
		contentType:  in.ContentType,
		metadata:     in.Metadata,
		lastModified: time.Now().UTC().Truncate(time.Second),
	}
	return &api.PutObjectOutput{ETag: etagFor(data)}, nil
}

func (m *MockAPI) GetObject(_ context.Context, in *api.GetObjectInput) (*api.GetObjectOutput, error) {
	if err := m.record("getObject"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.Ranges = append(m.Ranges, in.Range)
	obj, ok := m.objects[in.Bucket+"/"+in.Key]
	m.mu.Unlock()
	if !ok {
		return nil, &errors.StorageError{Op: "getObject", StatusCode: http.StatusNotFound, Code: "NoSuchKey", Bucket: in.Bucket, Key: in.Key}
	}

	data := obj.data
	if in.Range != "" && !m.IgnoreRange {
		start, end, err := parseRange(in.Range, int64(len(data)))
		if err != nil {
			return nil, err
		}
		data = data[start : end+1]
	}
	return &api.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		ContentType:   obj.contentType,
		ETag:          etagFor(obj.data),
		LastModified:  obj.lastModified,
	}, nil
}

func (m *MockAPI) HeadObject(_ context.Context, bucket, key string) (*api.HeadObjectOutput, error) {
	if err := m.record("headObject"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, &errors.StorageError{Op: "headObject", StatusCode: http.StatusNotFound, Code: "NoSuchKey", Bucket: bucket, Key: key}
	}
	return &api.HeadObjectOutput{
		ContentLength: int64(len(obj.data)),
		ContentType:   obj.contentType,
		ETag:          etagFor(obj.data),
		LastModified:  obj.lastModified,
		Metadata:      obj.metadata,
	}, nil
}

func (m *MockAPI) DeleteObject(_ context.Context, bucket, key string) error {
	if err := m.record("deleteObject"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *MockAPI) CopyObject(_ context.Context, srcBucket, srcKey, dstBucket, dstKey string) (string, error) {
	if err := m.record("copyObject"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.objects[srcBucket+"/"+srcKey]
	if !ok {
		return "", &errors.StorageError{Op: "copyObject", StatusCode: http.StatusNotFound, Code: "NoSuchKey", Bucket: srcBucket, Key: srcKey}
	}
	cp := *src
	cp.data = append([]byte(nil), src.data...)
	cp.lastModified = time.Now().UTC().Truncate(time.Second)
	m.objects[dstBucket+"/"+dstKey] = &cp
	return etagFor(cp.data), nil
}

func (m *MockAPI) GetBucketPolicy(_ context.Context, bucket string) (string, error) {
	if err := m.record("getBucketPolicy"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	policy, ok := m.policies[bucket]
	if !ok {
		return "", &errors.StorageError{Op: "getBucketPolicy", StatusCode: http.StatusNotFound, Code: "NoSuchBucketPolicy", Bucket: bucket}
	}
	return policy, nil
}

func (m *MockAPI) PutBucketPolicy(_ context.Context, bucket, policy string) error {
	if err := m.record("putBucketPolicy"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[bucket] = policy
	return nil
}

func (m *MockAPI) DeleteBucketPolicy(_ context.Context, bucket string) error {
	if err := m.record("deleteBucketPolicy"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.policies, bucket)
	return nil
}

func (m *MockAPI) CreateMultipartUpload(_ context.Context, bucket, key, contentType string, metadata map[string]string) (string, error) {
	if err := m.record("createMultipartUpload"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("upload-%d", m.nextID)
	m.uploads[id] = &mockUpload{
		bucket:      bucket,
		key:         key,
		contentType: contentType,
		metadata:    metadata,
		parts:       map[int][]byte{},
		etags:       map[int]string{},
	}
	return id, nil
}

func (m *MockAPI) UploadPart(_ context.Context, in *api.UploadPartInput) (string, error) {
	m.mu.Lock()
	m.inFlightParts++
	if m.inFlightParts > m.MaxInFlightParts {
		m.MaxInFlightParts = m.inFlightParts
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlightParts--
		m.mu.Unlock()
	}()

	if err := m.record("uploadPart"); err != nil {
		return "", err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[in.UploadID]
	if !ok {
		return "", &errors.StorageError{Op: "uploadPart", StatusCode: http.StatusNotFound, Code: "NoSuchUpload", Bucket: in.Bucket, Key: in.Key}
	}
	etag := etagFor(data)
	up.parts[in.PartNumber] = data
	up.etags[in.PartNumber] = etag
	m.PartSizes[in.PartNumber] = int64(len(data))
	return etag, nil
}

func (m *MockAPI) CompleteMultipartUpload(_ context.Context, bucket, key, uploadID string, parts []api.CompletedPart) (string, error) {
	if err := m.record("completeMultipartUpload"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok {
		return "", &errors.StorageError{Op: "completeMultipartUpload", StatusCode: http.StatusNotFound, Code: "NoSuchUpload", Bucket: bucket, Key: key}
	}

	var data []byte
	last := 0
	m.CompletedOrder = nil
	for _, p := range parts {
		if p.PartNumber <= last {
			return "", &errors.StorageError{Op: "completeMultipartUpload", StatusCode: http.StatusBadRequest, Code: "InvalidPartOrder", Bucket: bucket, Key: key}
		}
		stored, held := up.parts[p.PartNumber]
		if !held || up.etags[p.PartNumber] != p.ETag {
			return "", &errors.StorageError{Op: "completeMultipartUpload", StatusCode: http.StatusBadRequest, Code: "InvalidPart", Bucket: bucket, Key: key}
		}
		data = append(data, stored...)
		m.CompletedOrder = append(m.CompletedOrder, p.PartNumber)
		last = p.PartNumber
	}

	m.objects[bucket+"/"+key] = &mockObject{
		data:         data,
		contentType:  up.contentType,
		metadata:     up.metadata,
		lastModified: time.Now().UTC().Truncate(time.Second),
	}
	delete(m.uploads, uploadID)
	return etagFor(data) + "-" + strconv.Itoa(len(parts)), nil
}

func (m *MockAPI) AbortMultipartUpload(_ context.Context, bucket, key, uploadID string) error {
	if err := m.record("abortMultipartUpload"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.uploads[uploadID]; !ok {
		return &errors.StorageError{Op: "abortMultipartUpload", StatusCode: http.StatusNotFound, Code: "NoSuchUpload", Bucket: bucket, Key: key}
	}
	delete(m.uploads, uploadID)
	return nil
}

func (m *MockAPI) ListParts(_ context.Context, bucket, key, uploadID string) ([]api.PartInfo, error) {
	if err := m.record("listParts"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok {
		return nil, &errors.StorageError{Op: "listParts", StatusCode: http.StatusNotFound, Code: "NoSuchUpload", Bucket: bucket, Key: key}
	}
	var parts []api.PartInfo
	for num, data := range up.parts {
		parts = append(parts, api.PartInfo{PartNumber: num, ETag: up.etags[num], Size: int64(len(data))})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

// parseRange interprets "bytes=start-end" against an object of the given
// size, returning inclusive bounds.
func parseRange(spec string, size int64) (int64, int64, error) {
	spec = strings.TrimPrefix(spec, "bytes=")
	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, fmt.Errorf("malformed range %q", spec)
	}
	start, err := strconv.ParseInt(spec[:dash], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed range %q", spec)
	}
	end := size - 1
	if dash < len(spec)-1 {
		end, err = strconv.ParseInt(spec[dash+1:], 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("malformed range %q", spec)
		}
	}
	if start > end || start >= size {
		return 0, 0, &errors.StorageError{Op: "getObject", StatusCode: http.StatusRequestedRangeNotSatisfiable, Code: "InvalidRange"}
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

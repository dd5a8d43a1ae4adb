package transfer

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/s3transfer/errors"
	"github.com/tidegate/s3transfer/internal/api"
	"github.com/tidegate/s3transfer/internal/testutil"
	"github.com/tidegate/s3transfer/progress"
)

func patternBytes(size int64) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newTestManager(t *testing.T) (*Manager, *testutil.MockAPI, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	mock := testutil.NewMockAPI()
	store := NewStore(fsys, "/resume", zerolog.Nop())
	return NewManager(mock, store, fsys, zerolog.Nop()), mock, fsys
}

func writeSource(t *testing.T, fsys afero.Fs, path string, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, path, data, 0o644))
}

func TestUploadPartSizesAndCompletionOrder(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	data := patternBytes(150 << 20)
	writeSource(t, fsys, "/src/big.bin", data)

	collector := progress.NewCollector()
	out, err := mgr.Upload(context.Background(), &UploadInput{
		Bucket:      "bucket",
		Key:         "big.bin",
		Path:        "/src/big.bin",
		ChunkSize:   64 << 20,
		Concurrency: 3,
		MaxRetries:  0,
		Collector:   collector,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, out.Parts)
	assert.Equal(t, int64(150<<20), out.Size)
	assert.False(t, out.Resumed)
	assert.NotEmpty(t, out.ETag)

	// Parts 1 and 2 carry a full chunk, part 3 the 22 MiB remainder.
	assert.Equal(t, int64(64<<20), mock.PartSizes[1])
	assert.Equal(t, int64(64<<20), mock.PartSizes[2])
	assert.Equal(t, int64(22<<20), mock.PartSizes[3])

	// One completion call with parts in ascending order.
	assert.Equal(t, 1, mock.Calls("completeMultipartUpload"))
	assert.Equal(t, []int{1, 2, 3}, mock.CompletedOrder)

	// The pool never exceeded its bound.
	assert.LessOrEqual(t, mock.MaxInFlightParts, 3)

	stored, ok := mock.ObjectData("bucket", "big.bin")
	require.True(t, ok)
	assert.Equal(t, data, stored)

	// The transfer reported completion exactly once.
	events := collector.Drain()
	var completed int
	for _, ev := range events {
		if ev.Kind == progress.TransferCompleted {
			completed++
			assert.Equal(t, int64(150<<20), ev.Bytes)
		}
	}
	assert.Equal(t, 1, completed)
}

func TestUploadRetriesTransientFailure(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	writeSource(t, fsys, "/src/data.bin", patternBytes(10<<20))
	mock.FailOp = "uploadPart"
	mock.FailCount = 1

	out, err := mgr.Upload(context.Background(), &UploadInput{
		Bucket:      "bucket",
		Key:         "data.bin",
		Path:        "/src/data.bin",
		ChunkSize:   5 << 20,
		Concurrency: 1,
		MaxRetries:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Parts)

	// Two parts plus the one retried attempt.
	assert.Equal(t, 3, mock.Calls("uploadPart"))
}

func TestUploadFailurePreservesStateWithoutAbort(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	writeSource(t, fsys, "/src/data.bin", patternBytes(10<<20))
	mock.FailOp = "uploadPart"
	mock.FailCount = 100

	_, err := mgr.Upload(context.Background(), &UploadInput{
		Bucket:      "bucket",
		Key:         "data.bin",
		Path:        "/src/data.bin",
		ChunkSize:   5 << 20,
		Concurrency: 1,
		MaxRetries:  0,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransferFailed)

	// The remote upload survives for a later resume.
	assert.Zero(t, mock.Calls("abortMultipartUpload"))
	state, ok := mgr.store.Load("bucket", "data.bin", "/src/data.bin", DirectionUpload)
	require.True(t, ok)
	assert.NotEmpty(t, state.UploadID)
}

func TestUploadResumeSkipsCompletedChunks(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	data := patternBytes(15 << 20)
	writeSource(t, fsys, "/src/data.bin", data)

	ctx := context.Background()

	// Simulate an earlier run that finished chunks 0 and 1 before dying.
	uploadID, err := mock.CreateMultipartUpload(ctx, "bucket", "data.bin", "", nil)
	require.NoError(t, err)

	info, err := fsys.Stat("/src/data.bin")
	require.NoError(t, err)
	state := NewState("bucket", "data.bin", "/src/data.bin", DirectionUpload, info.Size(), 5<<20,
		Fingerprint{Size: info.Size(), ModTime: info.ModTime().UTC()})
	state.UploadID = uploadID

	for idx := 0; idx < 2; idx++ {
		rec := state.Chunk(idx)
		etag, err := mock.UploadPart(ctx, &api.UploadPartInput{
			Bucket:     "bucket",
			Key:        "data.bin",
			UploadID:   uploadID,
			PartNumber: idx + 1,
			Body:       newChunkReader(mustOpen(t, fsys, "/src/data.bin"), rec, newEmitter(nil, nil, nil, info.Size(), 0)),
			Size:       rec.Length,
		})
		require.NoError(t, err)
		state.SetChunk(idx, func(c *ChunkRecord) {
			c.Status = ChunkCompleted
			c.ETag = etag
		})
	}
	require.NoError(t, mgr.store.Save(state))

	before := mock.Calls("uploadPart")
	out, err := mgr.Upload(ctx, &UploadInput{
		Bucket:      "bucket",
		Key:         "data.bin",
		Path:        "/src/data.bin",
		ChunkSize:   5 << 20,
		Concurrency: 2,
		MaxRetries:  0,
	})
	require.NoError(t, err)

	assert.True(t, out.Resumed)
	assert.Equal(t, 3, out.Parts)

	// Only the one incomplete chunk went over the wire.
	assert.Equal(t, 1, mock.Calls("uploadPart")-before)
	assert.Zero(t, mock.Calls("createMultipartUpload")-1)
	assert.Equal(t, []int{1, 2, 3}, mock.CompletedOrder)

	stored, ok := mock.ObjectData("bucket", "data.bin")
	require.True(t, ok)
	assert.Equal(t, data, stored)
}

func TestUploadFingerprintMismatchRestarts(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	data := patternBytes(10 << 20)
	writeSource(t, fsys, "/src/data.bin", data)

	ctx := context.Background()
	uploadID, err := mock.CreateMultipartUpload(ctx, "bucket", "data.bin", "", nil)
	require.NoError(t, err)

	// Stale state whose fingerprint no longer matches the file.
	stale := NewState("bucket", "data.bin", "/src/data.bin", DirectionUpload, 9<<20, 5<<20,
		Fingerprint{Size: 9 << 20})
	stale.UploadID = uploadID
	for i := range stale.Chunks {
		stale.SetChunk(i, func(c *ChunkRecord) { c.Status = ChunkCompleted; c.ETag = "stale" })
	}
	require.NoError(t, mgr.store.Save(stale))

	out, err := mgr.Upload(ctx, &UploadInput{
		Bucket:      "bucket",
		Key:         "data.bin",
		Path:        "/src/data.bin",
		ChunkSize:   5 << 20,
		Concurrency: 2,
		MaxRetries:  0,
	})
	require.NoError(t, err)

	// Every chunk transferred fresh under a new upload id.
	assert.False(t, out.Resumed)
	assert.Equal(t, 2, mock.Calls("createMultipartUpload"))
	assert.Equal(t, 2, mock.Calls("uploadPart"))

	stored, ok := mock.ObjectData("bucket", "data.bin")
	require.True(t, ok)
	assert.Equal(t, data, stored)
}

func TestUploadZeroByteFile(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	writeSource(t, fsys, "/src/empty.bin", nil)

	out, err := mgr.Upload(context.Background(), &UploadInput{
		Bucket:      "bucket",
		Key:         "empty.bin",
		Path:        "/src/empty.bin",
		ChunkSize:   5 << 20,
		Concurrency: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Parts)
	assert.Equal(t, int64(0), out.Size)

	stored, ok := mock.ObjectData("bucket", "empty.bin")
	require.True(t, ok)
	assert.Empty(t, stored)
}

func TestAbortRemovesUploadAndState(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	writeSource(t, fsys, "/src/data.bin", patternBytes(10<<20))
	mock.FailOp = "uploadPart"
	mock.FailCount = 100

	ctx := context.Background()
	_, err := mgr.Upload(ctx, &UploadInput{
		Bucket:      "bucket",
		Key:         "data.bin",
		Path:        "/src/data.bin",
		ChunkSize:   5 << 20,
		Concurrency: 1,
		MaxRetries:  0,
	})
	require.Error(t, err)

	require.NoError(t, mgr.Abort(ctx, "bucket", "data.bin", "/src/data.bin"))
	assert.Equal(t, 1, mock.Calls("abortMultipartUpload"))

	_, ok := mgr.store.Load("bucket", "data.bin", "/src/data.bin", DirectionUpload)
	assert.False(t, ok)

	// A second abort finds nothing to do.
	require.NoError(t, mgr.Abort(ctx, "bucket", "data.bin", "/src/data.bin"))
	assert.Equal(t, 1, mock.Calls("abortMultipartUpload"))
}

func mustOpen(t *testing.T, fsys afero.Fs, path string) afero.File {
	t.Helper()
	f, err := fsys.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

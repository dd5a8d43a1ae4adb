package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/s3transfer/errors"
)

func TestDownloadRangedGets(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	data := patternBytes(10 << 20)
	mock.SeedObject("bucket", "data.bin", data)

	out, err := mgr.Download(context.Background(), &DownloadInput{
		Bucket:      "bucket",
		Key:         "data.bin",
		Path:        "/dst/data.bin",
		ChunkSize:   4 << 20,
		Concurrency: 3,
		MaxRetries:  0,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Parts)
	assert.Equal(t, int64(10<<20), out.Size)

	// Three ranged GETs tiling the object, inclusive bounds.
	assert.ElementsMatch(t, []string{
		fmt.Sprintf("bytes=%d-%d", 0, 4<<20-1),
		fmt.Sprintf("bytes=%d-%d", 4<<20, 8<<20-1),
		fmt.Sprintf("bytes=%d-%d", 8<<20, 10<<20-1),
	}, mock.Ranges)

	got, err := afero.ReadFile(fsys, "/dst/data.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// The partial file was renamed away.
	exists, err := afero.Exists(fsys, "/dst/data.bin"+PartialSuffix)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDownloadResumeFetchesOnlyMissingChunks(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	data := patternBytes(10 << 20)
	mock.SeedObject("bucket", "data.bin", data)

	ctx := context.Background()
	head, err := mock.HeadObject(ctx, "bucket", "data.bin")
	require.NoError(t, err)

	// Simulate an earlier run that landed chunks 0 and 1 in the partial.
	state := NewState("bucket", "data.bin", "/dst/data.bin", DirectionDownload, head.ContentLength, 4<<20,
		Fingerprint{Size: head.ContentLength, ModTime: head.LastModified.UTC(), ETag: head.ETag})
	partial := "/dst/data.bin" + PartialSuffix
	require.NoError(t, afero.WriteFile(fsys, partial, make([]byte, head.ContentLength), 0o644))
	pf, err := fsys.OpenFile(partial, os.O_RDWR, 0o644)
	require.NoError(t, err)
	for idx := 0; idx < 2; idx++ {
		rec := state.Chunk(idx)
		_, err := pf.WriteAt(data[rec.Offset:rec.Offset+rec.Length], rec.Offset)
		require.NoError(t, err)
		state.SetChunk(idx, func(c *ChunkRecord) { c.Status = ChunkCompleted })
	}
	require.NoError(t, pf.Close())
	require.NoError(t, mgr.store.Save(state))

	out, err := mgr.Download(ctx, &DownloadInput{
		Bucket:      "bucket",
		Key:         "data.bin",
		Path:        "/dst/data.bin",
		ChunkSize:   4 << 20,
		Concurrency: 2,
		MaxRetries:  0,
	})
	require.NoError(t, err)
	assert.True(t, out.Resumed)

	// Only the missing tail range went over the wire.
	require.Len(t, mock.Ranges, 1)
	assert.Equal(t, fmt.Sprintf("bytes=%d-%d", 8<<20, 10<<20-1), mock.Ranges[0])

	got, err := afero.ReadFile(fsys, "/dst/data.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownloadFingerprintMismatchRestarts(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	data := patternBytes(8 << 20)
	mock.SeedObject("bucket", "data.bin", data)

	// Stale state recorded against a different object generation.
	state := NewState("bucket", "data.bin", "/dst/data.bin", DirectionDownload, 8<<20, 4<<20,
		Fingerprint{Size: 8 << 20, ETag: "old-etag"})
	for i := range state.Chunks {
		state.SetChunk(i, func(c *ChunkRecord) { c.Status = ChunkCompleted })
	}
	partial := "/dst/data.bin" + PartialSuffix
	require.NoError(t, afero.WriteFile(fsys, partial, make([]byte, 8<<20), 0o644))
	require.NoError(t, mgr.store.Save(state))

	out, err := mgr.Download(context.Background(), &DownloadInput{
		Bucket:      "bucket",
		Key:         "data.bin",
		Path:        "/dst/data.bin",
		ChunkSize:   4 << 20,
		Concurrency: 1,
		MaxRetries:  0,
	})
	require.NoError(t, err)

	// All chunks re-fetched.
	assert.False(t, out.Resumed)
	assert.Len(t, mock.Ranges, 2)

	got, err := afero.ReadFile(fsys, "/dst/data.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownloadFailurePersistsState(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	mock.SeedObject("bucket", "data.bin", patternBytes(8<<20))
	mock.FailOp = "getObject"
	mock.FailCount = 100

	_, err := mgr.Download(context.Background(), &DownloadInput{
		Bucket:      "bucket",
		Key:         "data.bin",
		Path:        "/dst/data.bin",
		ChunkSize:   4 << 20,
		Concurrency: 1,
		MaxRetries:  0,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransferFailed)

	_, ok := mgr.store.Load("bucket", "data.bin", "/dst/data.bin", DirectionDownload)
	assert.True(t, ok)

	// The destination was never created; the partial remains for resume.
	exists, err := afero.Exists(fsys, "/dst/data.bin")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.Exists(fsys, "/dst/data.bin"+PartialSuffix)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDownloadFailsWhenServerIgnoresRange(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	data := patternBytes(10 << 20)
	mock.SeedObject("bucket", "data.bin", data)
	mock.IgnoreRange = true

	_, err := mgr.Download(context.Background(), &DownloadInput{
		Bucket:      "bucket",
		Key:         "data.bin",
		Path:        "/dst/data.bin",
		ChunkSize:   4 << 20,
		Concurrency: 3,
		MaxRetries:  2,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransferFailed)
	assert.ErrorIs(t, err, errors.ErrRangeNotSatisfied)

	// Nothing landed and nothing was renamed into place.
	exists, err := afero.Exists(fsys, "/dst/data.bin")
	require.NoError(t, err)
	assert.False(t, exists)

	// Not retryable: one GET per chunk despite the retry budget.
	assert.LessOrEqual(t, mock.Calls("getObject"), 3)
}

func TestDownloadReusesCallerHead(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	data := patternBytes(8 << 20)
	mock.SeedObject("bucket", "data.bin", data)

	ctx := context.Background()
	head, err := mock.HeadObject(ctx, "bucket", "data.bin")
	require.NoError(t, err)
	heads := mock.Calls("headObject")

	out, err := mgr.Download(ctx, &DownloadInput{
		Bucket:      "bucket",
		Key:         "data.bin",
		Path:        "/dst/data.bin",
		Head:        head,
		ChunkSize:   4 << 20,
		Concurrency: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8<<20), out.Size)

	// The manager trusts the metadata it was handed.
	assert.Equal(t, heads, mock.Calls("headObject"))

	got, err := afero.ReadFile(fsys, "/dst/data.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownloadChunkRecordsChecksum(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	data := patternBytes(6 << 20)
	mock.SeedObject("bucket", "data.bin", data)

	state := NewState("bucket", "data.bin", "/dst/data.bin", DirectionDownload, int64(len(data)), 4<<20,
		Fingerprint{Size: int64(len(data))})
	partial := "/dst/data.bin" + PartialSuffix
	require.NoError(t, afero.WriteFile(fsys, partial, make([]byte, len(data)), 0o644))
	pf, err := fsys.OpenFile(partial, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer pf.Close()

	in := &DownloadInput{Bucket: "bucket", Key: "data.bin", Path: "/dst/data.bin", MaxRetries: 0}
	emit := newEmitter(nil, nil, nil, int64(len(data)), 0)
	require.NoError(t, mgr.downloadChunk(context.Background(), pf, state, 0, in, emit))

	rec := state.Chunk(0)
	assert.Equal(t, ChunkCompleted, rec.Status)
	want := sha256.Sum256(data[:4<<20])
	assert.Equal(t, hex.EncodeToString(want[:]), rec.Checksum)
}

func TestDownloadZeroByteObject(t *testing.T) {
	mgr, mock, fsys := newTestManager(t)
	mock.SeedObject("bucket", "empty.bin", nil)

	out, err := mgr.Download(context.Background(), &DownloadInput{
		Bucket:    "bucket",
		Key:       "empty.bin",
		Path:      "/dst/empty.bin",
		ChunkSize: 4 << 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Parts)
	assert.Equal(t, int64(0), out.Size)
	assert.Zero(t, mock.Calls("getObject"))

	got, err := afero.ReadFile(fsys, "/dst/empty.bin")
	require.NoError(t, err)
	assert.Empty(t, got)
}

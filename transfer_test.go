package s3transfer

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/s3transfer/internal/testutil"
	"github.com/tidegate/s3transfer/progress"
	"github.com/tidegate/s3transfer/s3types"
)

func patternBytes(size int64) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newTransferClient(t *testing.T) (*Client, *testutil.MockAPI, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	mock := testutil.NewMockAPI()
	client := newWithAPI(mock, s3types.ClientConfig{
		Region:      DefaultRegion,
		ChunkSize:   5 << 20,
		Concurrency: 2,
		MaxRetries:  1,
		ResumeDir:   "/resume",
		Filesystem:  fsys,
	})
	return client, mock, fsys
}

func TestUploadDownloadRoundTripSmall(t *testing.T) {
	client, _, fsys := newTransferClient(t)
	ctx := context.Background()
	data := patternBytes(1024)
	require.NoError(t, afero.WriteFile(fsys, "/src/small.bin", data, 0o644))

	up, err := client.UploadFile(ctx, "bucket", "small.bin", "/src/small.bin")
	require.NoError(t, err)
	assert.Equal(t, 1, up.Parts)
	assert.Equal(t, int64(1024), up.Size)
	assert.Empty(t, up.UploadID)

	down, err := client.DownloadFile(ctx, "bucket", "small.bin", "/dst/small.bin")
	require.NoError(t, err)
	assert.Equal(t, 1, down.Parts)

	got, err := afero.ReadFile(fsys, "/dst/small.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestUploadDownloadRoundTripMultipart(t *testing.T) {
	client, mock, fsys := newTransferClient(t)
	ctx := context.Background()

	// Three full chunks plus one byte.
	data := patternBytes(3*(5<<20) + 1)
	require.NoError(t, afero.WriteFile(fsys, "/src/big.bin", data, 0o644))

	events := progress.NewCollector()
	up, err := client.UploadFile(ctx, "bucket", "big.bin", "/src/big.bin", WithUploadEvents(events))
	require.NoError(t, err)
	assert.Equal(t, 4, up.Parts)
	assert.NotEmpty(t, up.UploadID)
	assert.Equal(t, 4, mock.Calls("uploadPart"))

	// Chunk lifecycle plus final completion observed through the collector.
	var kinds = map[progress.EventKind]int{}
	for _, ev := range events.Drain() {
		kinds[ev.Kind]++
	}
	assert.Equal(t, 4, kinds[progress.ChunkStarted])
	assert.Equal(t, 4, kinds[progress.ChunkCompleted])
	assert.Equal(t, 1, kinds[progress.TransferCompleted])
	assert.Positive(t, kinds[progress.ChunkProgress])

	down, err := client.DownloadFile(ctx, "bucket", "big.bin", "/dst/big.bin")
	require.NoError(t, err)
	assert.Equal(t, 4, down.Parts)

	// One HeadObject sizes the download; the manager reuses it.
	assert.Equal(t, 1, mock.Calls("headObject"))

	got, err := afero.ReadFile(fsys, "/dst/big.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestUploadFileReportsThroughput(t *testing.T) {
	client, _, fsys := newTransferClient(t)
	data := patternBytes(2048)
	require.NoError(t, afero.WriteFile(fsys, "/src/f.bin", data, 0o644))

	result, err := client.UploadFile(context.Background(), "bucket", "f.bin", "/src/f.bin")
	require.NoError(t, err)
	assert.Positive(t, result.Duration)
	assert.Positive(t, result.AvgThroughput())
}

func TestUploadFileTracksProgress(t *testing.T) {
	client, _, fsys := newTransferClient(t)
	data := patternBytes(12 << 20)
	require.NoError(t, afero.WriteFile(fsys, "/src/f.bin", data, 0o644))

	tracker := testutil.NewMockTracker()
	_, err := client.UploadFile(context.Background(), "bucket", "f.bin", "/src/f.bin",
		WithUploadTracker(tracker))
	require.NoError(t, err)

	assert.True(t, tracker.Completed())
	assert.Equal(t, int64(12<<20), tracker.Total())
	updates := tracker.Updates()
	require.NotEmpty(t, updates)
	assert.Contains(t, updates, int64(12<<20))
}

func TestAbortUpload(t *testing.T) {
	client, mock, fsys := newTransferClient(t)
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(fsys, "/src/f.bin", patternBytes(12<<20), 0o644))

	mock.FailOp = "uploadPart"
	mock.FailCount = 100
	_, err := client.UploadFile(ctx, "bucket", "f.bin", "/src/f.bin")
	require.Error(t, err)

	mock.FailCount = 0
	require.NoError(t, client.AbortUpload(ctx, "bucket", "f.bin", "/src/f.bin"))
	assert.Equal(t, 1, mock.Calls("abortMultipartUpload"))
}

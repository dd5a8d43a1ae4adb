package transfer

import (
	"context"
	"fmt"
	"io"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/tidegate/s3transfer/errors"
	"github.com/tidegate/s3transfer/internal/api"
	"github.com/tidegate/s3transfer/progress"
	"github.com/tidegate/s3transfer/s3types"
)

const (
	// MinChunkSize is the smallest part size the multipart protocol accepts
	// for any part other than the last.
	MinChunkSize = 5 << 20

	// maxParts is the backend's cap on parts per multipart upload.
	maxParts = 10000
)

// Manager drives chunked uploads and downloads over the storage API,
// persisting state through the resume store between failures.
type Manager struct {
	api    api.API
	store  *Store
	fs     afero.Fs
	logger zerolog.Logger
}

// NewManager wires a transfer manager. store may be nil to disable resume.
func NewManager(storageAPI api.API, store *Store, fsys afero.Fs, logger zerolog.Logger) *Manager {
	return &Manager{api: storageAPI, store: store, fs: fsys, logger: logger}
}

// UploadInput describes one multipart upload.
type UploadInput struct {
	Bucket      string
	Key         string
	Path        string
	ContentType string
	Metadata    map[string]string

	ChunkSize   int64
	Concurrency int
	MaxRetries  int

	Collector     *progress.Collector
	Tracker       s3types.ProgressTracker
	Progress      s3types.ProgressFunc
	DisableResume bool
}

// UploadOutput reports a finished multipart upload.
type UploadOutput struct {
	ETag     string
	UploadID string
	Size     int64
	Parts    int
	Resumed  bool
}

// Upload runs a resumable multipart upload of a local file. On failure the
// upload id and every completed part record are persisted; the remote upload
// is never aborted implicitly, so a later call with the same identity
// resumes where this one stopped.
func (m *Manager) Upload(ctx context.Context, in *UploadInput) (*UploadOutput, error) {
	const op = "multipartUpload"

	info, err := m.fs.Stat(in.Path)
	if err != nil {
		return nil, errors.NewObjectError(op, in.Bucket, in.Key, err).WithMessage("stat source file")
	}
	fp := Fingerprint{Size: info.Size(), ModTime: info.ModTime().UTC()}
	chunkSize := normalizeChunkSize(in.ChunkSize, info.Size())

	state, resumed := m.loadUploadState(ctx, in, chunkSize, fp)
	if state == nil {
		state = NewState(in.Bucket, in.Key, in.Path, DirectionUpload, info.Size(), chunkSize, fp)
		uploadID, err := m.api.CreateMultipartUpload(ctx, in.Bucket, in.Key, in.ContentType, in.Metadata)
		if err != nil {
			return nil, err
		}
		state.UploadID = uploadID
	}

	file, err := m.fs.Open(in.Path)
	if err != nil {
		return nil, errors.NewObjectError(op, in.Bucket, in.Key, err).WithMessage("open source file")
	}
	defer file.Close()

	emit := newEmitter(in.Collector, in.Tracker, in.Progress, state.TotalSize, state.CompletedBytes())
	if err := m.runChunks(ctx, state, in.Concurrency, func(gctx context.Context, idx int) error {
		return m.uploadChunk(gctx, file, state, idx, in, emit)
	}); err != nil {
		return nil, m.failTransfer(op, state, emit, err)
	}

	etag, err := m.completeUpload(ctx, state)
	if err != nil {
		return nil, m.failTransfer(op, state, emit, err)
	}

	if m.store != nil {
		if err := m.store.Delete(state); err != nil {
			m.logger.Warn().Err(err).Str("bucket", in.Bucket).Str("key", in.Key).
				Msg("could not remove resume state after successful upload")
		}
	}
	emit.transferCompleted()

	return &UploadOutput{
		ETag:     etag,
		UploadID: state.UploadID,
		Size:     state.TotalSize,
		Parts:    len(state.Chunks),
		Resumed:  resumed,
	}, nil
}

// Abort cancels an interrupted multipart upload: the remote upload id is
// aborted and the resume record deleted. Without a resume record there is
// nothing to abort.
func (m *Manager) Abort(ctx context.Context, bucket, key, path string) error {
	if m.store == nil {
		return nil
	}
	state, ok := m.store.Load(bucket, key, path, DirectionUpload)
	if !ok {
		return nil
	}
	if state.UploadID != "" {
		if err := m.api.AbortMultipartUpload(ctx, bucket, key, state.UploadID); err != nil &&
			!errors.Is(err, errors.ErrUploadNotFound) {
			return err
		}
	}
	return m.store.Delete(state)
}

// runChunks feeds pending chunk indices to a bounded worker pool.
func (m *Manager) runChunks(ctx context.Context, state *State, concurrency int, work func(context.Context, int) error) error {
	if concurrency < 1 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, idx := range state.PendingChunks() {
		idx := idx
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return work(gctx, idx)
		})
	}
	return g.Wait()
}

// failTransfer persists state for resume and wraps the cause so callers can
// match errors.ErrTransferFailed.
func (m *Manager) failTransfer(op string, state *State, emit *emitter, cause error) error {
	if m.store != nil {
		if saveErr := m.store.Save(state); saveErr != nil {
			m.logger.Error().Err(saveErr).Str("bucket", state.Bucket).Str("key", state.Key).
				Msg("could not persist resume state")
		}
	}
	err := errors.NewObjectError(op, state.Bucket, state.Key,
		fmt.Errorf("%w: %w", errors.ErrTransferFailed, cause))
	emit.transferFailed(err)
	return err
}

func (m *Manager) uploadChunk(ctx context.Context, file io.ReaderAt, state *State, idx int, in *UploadInput, emit *emitter) error {
	rec := state.Chunk(idx)
	state.SetChunk(idx, func(c *ChunkRecord) { c.Status = ChunkInFlight })
	emit.chunkStarted(idx)

	body := newChunkReader(file, rec, emit)
	var etag string

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(in.MaxRetries)), ctx)
	err := backoff.Retry(func() error {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		tag, err := m.api.UploadPart(ctx, &api.UploadPartInput{
			Bucket:     state.Bucket,
			Key:        state.Key,
			UploadID:   state.UploadID,
			PartNumber: idx + 1,
			Body:       body,
			Size:       rec.Length,
		})
		if err != nil {
			state.SetChunk(idx, func(c *ChunkRecord) { c.Retries++ })
			emit.chunkFailed(idx, err)
			if !errors.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			m.logger.Warn().Err(err).Int("chunk", idx).Str("key", state.Key).Msg("retrying chunk upload")
			return err
		}
		etag = tag
		return nil
	}, bo)
	if err != nil {
		state.SetChunk(idx, func(c *ChunkRecord) { c.Status = ChunkFailed })
		return err
	}

	state.SetChunk(idx, func(c *ChunkRecord) {
		c.Status = ChunkCompleted
		c.ETag = etag
	})
	emit.chunkCompleted(idx)
	m.logger.Debug().Int("chunk", idx).Str("key", state.Key).Msg("chunk uploaded")
	return nil
}

// completeUpload assembles the object. Parts are listed in ascending part
// number order and every chunk must have finished.
func (m *Manager) completeUpload(ctx context.Context, state *State) (string, error) {
	snap := state.Snapshot()
	parts := make([]api.CompletedPart, len(snap.Chunks))
	for i, c := range snap.Chunks {
		if c.Status != ChunkCompleted {
			return "", fmt.Errorf("chunk %d not completed", c.Index)
		}
		parts[i] = api.CompletedPart{PartNumber: c.Index + 1, ETag: c.ETag}
	}
	return m.api.CompleteMultipartUpload(ctx, state.Bucket, state.Key, state.UploadID, parts)
}

// loadUploadState returns resumable state for this upload, or nil when a
// fresh transfer is required. Invalid state is discarded, never fatal.
func (m *Manager) loadUploadState(ctx context.Context, in *UploadInput, chunkSize int64, fp Fingerprint) (*State, bool) {
	if m.store == nil || in.DisableResume {
		return nil, false
	}
	state, ok := m.store.Load(in.Bucket, in.Key, in.Path, DirectionUpload)
	if !ok {
		return nil, false
	}
	if state.UploadID == "" || state.ChunkSize != chunkSize || !state.Fingerprint.Matches(fp) {
		m.logger.Warn().Str("bucket", in.Bucket).Str("key", in.Key).Err(errors.ErrResumeDataInvalid).
			Msg("source changed since last attempt, restarting upload")
		_ = m.store.Delete(state)
		return nil, false
	}

	// Cross-check recorded parts against what the backend actually holds.
	remote, err := m.api.ListParts(ctx, in.Bucket, in.Key, state.UploadID)
	if err != nil {
		m.logger.Warn().Err(err).Str("bucket", in.Bucket).Str("key", in.Key).
			Msg("upload id no longer valid, restarting upload")
		_ = m.store.Delete(state)
		return nil, false
	}
	byNumber := make(map[int]api.PartInfo, len(remote))
	for _, p := range remote {
		byNumber[p.PartNumber] = p
	}
	for i := range state.Chunks {
		c := &state.Chunks[i]
		if c.Status != ChunkCompleted {
			continue
		}
		p, held := byNumber[c.Index+1]
		if !held || p.ETag != c.ETag || p.Size != c.Length {
			c.Status = ChunkPending
			c.ETag = ""
		}
	}
	return state, true
}

// normalizeChunkSize enforces the protocol minimum and the part-count cap.
func normalizeChunkSize(chunkSize, totalSize int64) int64 {
	if chunkSize < MinChunkSize {
		chunkSize = MinChunkSize
	}
	for totalSize/chunkSize >= maxParts {
		chunkSize *= 2
	}
	return chunkSize
}

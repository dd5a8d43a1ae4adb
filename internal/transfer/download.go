package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/afero"

	"github.com/tidegate/s3transfer/errors"
	"github.com/tidegate/s3transfer/internal/api"
	"github.com/tidegate/s3transfer/progress"
	"github.com/tidegate/s3transfer/s3types"
)

// PartialSuffix marks the in-progress download file next to the final
// destination. The partial is renamed over the destination only once every
// chunk has landed.
const PartialSuffix = ".s3transfer.partial"

// DownloadInput describes one chunked download.
type DownloadInput struct {
	Bucket string
	Key    string
	Path   string

	// Head carries object metadata the caller already fetched. When nil the
	// manager issues its own HeadObject.
	Head *api.HeadObjectOutput

	ChunkSize   int64
	Concurrency int
	MaxRetries  int

	Collector     *progress.Collector
	Tracker       s3types.ProgressTracker
	Progress      s3types.ProgressFunc
	DisableResume bool
}

// DownloadOutput reports a finished chunked download.
type DownloadOutput struct {
	ETag    string
	Size    int64
	Parts   int
	Resumed bool
}

// Download runs a resumable chunked download to a local file. Chunks are
// fetched with ranged GETs and written at their offsets into a preallocated
// partial file, which is renamed to the destination on success.
func (m *Manager) Download(ctx context.Context, in *DownloadInput) (*DownloadOutput, error) {
	const op = "multipartDownload"

	head := in.Head
	if head == nil {
		var err error
		head, err = m.api.HeadObject(ctx, in.Bucket, in.Key)
		if err != nil {
			return nil, err
		}
	}
	fp := Fingerprint{Size: head.ContentLength, ModTime: head.LastModified.UTC(), ETag: head.ETag}

	if head.ContentLength == 0 {
		if err := afero.WriteFile(m.fs, in.Path, nil, 0o644); err != nil {
			return nil, errors.NewObjectError(op, in.Bucket, in.Key, err).WithMessage("create destination file")
		}
		return &DownloadOutput{ETag: head.ETag, Size: 0, Parts: 0}, nil
	}

	chunkSize := in.ChunkSize
	if chunkSize <= 0 {
		chunkSize = MinChunkSize
	}
	partial := in.Path + PartialSuffix

	state, resumed := m.loadDownloadState(in, chunkSize, fp, partial)
	if state == nil {
		state = NewState(in.Bucket, in.Key, in.Path, DirectionDownload, head.ContentLength, chunkSize, fp)
		if err := m.preallocate(partial, head.ContentLength); err != nil {
			return nil, errors.NewObjectError(op, in.Bucket, in.Key, err).WithMessage("preallocate partial file")
		}
	}

	file, err := m.fs.OpenFile(partial, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.NewObjectError(op, in.Bucket, in.Key, err).WithMessage("open partial file")
	}

	emit := newEmitter(in.Collector, in.Tracker, in.Progress, state.TotalSize, state.CompletedBytes())
	if err := m.runChunks(ctx, state, in.Concurrency, func(gctx context.Context, idx int) error {
		return m.downloadChunk(gctx, file, state, idx, in, emit)
	}); err != nil {
		file.Close()
		return nil, m.failTransfer(op, state, emit, err)
	}
	if err := file.Close(); err != nil {
		return nil, m.failTransfer(op, state, emit, err)
	}

	if !state.AllCompleted() {
		return nil, m.failTransfer(op, state, emit, fmt.Errorf("incomplete chunk set"))
	}
	if err := m.fs.Rename(partial, in.Path); err != nil {
		return nil, m.failTransfer(op, state, emit, err)
	}

	if m.store != nil {
		if err := m.store.Delete(state); err != nil {
			m.logger.Warn().Err(err).Str("bucket", in.Bucket).Str("key", in.Key).
				Msg("could not remove resume state after successful download")
		}
	}
	emit.transferCompleted()

	return &DownloadOutput{
		ETag:    head.ETag,
		Size:    state.TotalSize,
		Parts:   len(state.Chunks),
		Resumed: resumed,
	}, nil
}

func (m *Manager) downloadChunk(ctx context.Context, dst io.WriterAt, state *State, idx int, in *DownloadInput, emit *emitter) error {
	rec := state.Chunk(idx)
	state.SetChunk(idx, func(c *ChunkRecord) { c.Status = ChunkInFlight })
	emit.chunkStarted(idx)

	// Range header bounds are inclusive.
	byteRange := fmt.Sprintf("bytes=%d-%d", rec.Offset, rec.Offset+rec.Length-1)

	var checksum string
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(in.MaxRetries)), ctx)
	err := backoff.Retry(func() error {
		written, sum, err := m.fetchRange(ctx, dst, state, rec, byteRange, emit)
		if written > 0 && err != nil {
			// The next attempt rewrites the whole range; uncount the bytes.
			emit.advance(idx, -written)
		}
		if err != nil {
			state.SetChunk(idx, func(c *ChunkRecord) { c.Retries++ })
			emit.chunkFailed(idx, err)
			if !errors.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			m.logger.Warn().Err(err).Int("chunk", idx).Str("key", state.Key).Msg("retrying chunk download")
			return err
		}
		checksum = sum
		return nil
	}, bo)
	if err != nil {
		state.SetChunk(idx, func(c *ChunkRecord) { c.Status = ChunkFailed })
		return err
	}

	state.SetChunk(idx, func(c *ChunkRecord) {
		c.Status = ChunkCompleted
		c.Checksum = checksum
	})
	emit.chunkCompleted(idx)
	m.logger.Debug().Int("chunk", idx).Str("key", state.Key).Msg("chunk downloaded")
	return nil
}

// fetchRange streams one ranged GET into the destination at the chunk
// offset, hashing the bytes as they land. A byte count short of the range
// length is a chunk failure.
func (m *Manager) fetchRange(ctx context.Context, dst io.WriterAt, state *State, rec ChunkRecord, byteRange string, emit *emitter) (int64, string, error) {
	out, err := m.api.GetObject(ctx, &api.GetObjectInput{
		Bucket: state.Bucket,
		Key:    state.Key,
		Range:  byteRange,
	})
	if err != nil {
		return 0, "", err
	}
	defer out.Body.Close()

	// A server that ignores Range answers with the whole object. Refuse to
	// write anything unless the response length matches the chunk exactly.
	if out.ContentLength >= 0 && out.ContentLength != rec.Length {
		return 0, "", errors.NewObjectError("getObject", state.Bucket, state.Key, errors.ErrRangeNotSatisfied).
			WithMessage(fmt.Sprintf("requested %d bytes, response carries %d", rec.Length, out.ContentLength))
	}

	hash := sha256.New()
	var written int64
	buf := make([]byte, 64<<10)
	for written < rec.Length {
		n, readErr := out.Body.Read(buf)
		if n > 0 {
			if _, writeErr := dst.WriteAt(buf[:n], rec.Offset+written); writeErr != nil {
				return written, "", writeErr
			}
			hash.Write(buf[:n])
			written += int64(n)
			emit.advance(rec.Index, int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, "", readErr
		}
	}
	if written != rec.Length {
		return written, "", fmt.Errorf("short read: got %d of %d bytes", written, rec.Length)
	}
	// With an unknown Content-Length the loop alone cannot tell a honored
	// range from a full body of the same prefix; a trailing byte gives it away.
	if n, _ := out.Body.Read(make([]byte, 1)); n > 0 {
		return written, "", errors.NewObjectError("getObject", state.Bucket, state.Key, errors.ErrRangeNotSatisfied).
			WithMessage("response carries more bytes than the requested range")
	}
	return written, hex.EncodeToString(hash.Sum(nil)), nil
}

// loadDownloadState returns resumable state for this download, or nil when
// a fresh transfer is required.
func (m *Manager) loadDownloadState(in *DownloadInput, chunkSize int64, fp Fingerprint, partial string) (*State, bool) {
	if m.store == nil || in.DisableResume {
		return nil, false
	}
	state, ok := m.store.Load(in.Bucket, in.Key, in.Path, DirectionDownload)
	if !ok {
		return nil, false
	}
	if state.ChunkSize != chunkSize || !state.Fingerprint.Matches(fp) {
		m.logger.Warn().Str("bucket", in.Bucket).Str("key", in.Key).Err(errors.ErrSourceChanged).
			Msg("remote object changed since last attempt, restarting download")
		_ = m.store.Delete(state)
		return nil, false
	}
	info, err := m.fs.Stat(partial)
	if err != nil || info.Size() != state.TotalSize {
		m.logger.Warn().Str("bucket", in.Bucket).Str("key", in.Key).Err(errors.ErrResumeDataInvalid).
			Msg("partial file missing or truncated, restarting download")
		_ = m.store.Delete(state)
		return nil, false
	}
	return state, true
}

// preallocate creates the partial file at its final size so workers can
// WriteAt anywhere in it.
func (m *Manager) preallocate(path string, size int64) error {
	file, err := m.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	if err := file.Truncate(size); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

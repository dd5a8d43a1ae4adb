package transfer

import (
	"io"
	"sync/atomic"

	"github.com/tidegate/s3transfer/progress"
	"github.com/tidegate/s3transfer/s3types"
)

// emitter fans progress out to the pull-based collector, the optional
// callback-style tracker, and the optional plain progress func. All methods
// are safe for concurrent use by chunk workers.
type emitter struct {
	collector *progress.Collector
	tracker   s3types.ProgressTracker
	fn        s3types.ProgressFunc
	total     int64
	done      atomic.Int64
}

func newEmitter(collector *progress.Collector, tracker s3types.ProgressTracker, fn s3types.ProgressFunc, total, alreadyDone int64) *emitter {
	e := &emitter{collector: collector, tracker: tracker, fn: fn, total: total}
	e.done.Store(alreadyDone)
	return e
}

// advance credits delta bytes to the running total and reports it. A
// negative delta rolls bytes back after a retry rewound its body.
func (e *emitter) advance(chunkIndex int, delta int64) {
	done := e.done.Add(delta)
	e.collector.Publish(progress.Event{
		Kind:       progress.ChunkProgress,
		ChunkIndex: chunkIndex,
		Bytes:      done,
		Total:      e.total,
	})
	if e.tracker != nil {
		e.tracker.Update(done, e.total)
	}
	if e.fn != nil {
		e.fn(done)
	}
}

func (e *emitter) chunkStarted(chunkIndex int) {
	e.collector.Publish(progress.Event{
		Kind:       progress.ChunkStarted,
		ChunkIndex: chunkIndex,
		Bytes:      e.done.Load(),
		Total:      e.total,
	})
}

func (e *emitter) chunkCompleted(chunkIndex int) {
	e.collector.Publish(progress.Event{
		Kind:       progress.ChunkCompleted,
		ChunkIndex: chunkIndex,
		Bytes:      e.done.Load(),
		Total:      e.total,
	})
}

func (e *emitter) chunkFailed(chunkIndex int, err error) {
	e.collector.Publish(progress.Event{
		Kind:       progress.ChunkFailed,
		ChunkIndex: chunkIndex,
		Bytes:      e.done.Load(),
		Total:      e.total,
		Err:        err,
	})
}

func (e *emitter) transferCompleted() {
	e.collector.Publish(progress.Event{
		Kind:       progress.TransferCompleted,
		ChunkIndex: -1,
		Bytes:      e.done.Load(),
		Total:      e.total,
	})
	if e.tracker != nil {
		e.tracker.Complete()
	}
}

func (e *emitter) transferFailed(err error) {
	if e.tracker != nil {
		e.tracker.Error(err)
	}
}

// chunkReader wraps a section of the source file, crediting bytes to the
// emitter as they are read. Seeking backwards (a retry rewinding the body)
// debits the bytes it uncounts so the running total stays honest.
type chunkReader struct {
	section    *io.SectionReader
	emit       *emitter
	chunkIndex int
	read       int64
}

func newChunkReader(src io.ReaderAt, rec ChunkRecord, emit *emitter) *chunkReader {
	return &chunkReader{
		section:    io.NewSectionReader(src, rec.Offset, rec.Length),
		emit:       emit,
		chunkIndex: rec.Index,
	}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	n, err := r.section.Read(p)
	if n > 0 {
		r.read += int64(n)
		r.emit.advance(r.chunkIndex, int64(n))
	}
	return n, err
}

func (r *chunkReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.section.Seek(offset, whence)
	if err == nil && pos < r.read {
		r.emit.advance(r.chunkIndex, pos-r.read)
		r.read = pos
	}
	return pos, err
}

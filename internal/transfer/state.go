// Package transfer holds the resumable multipart machinery: serializable
// transfer state, its on-disk resume store, and the upload and download
// managers that drive chunked transfers against the storage API.
package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Direction distinguishes upload state from download state. The two are
// never interchangeable when matching resume records.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// ChunkStatus tracks the lifecycle of a single chunk.
type ChunkStatus string

const (
	ChunkPending   ChunkStatus = "pending"
	ChunkInFlight  ChunkStatus = "in-flight"
	ChunkCompleted ChunkStatus = "completed"
	ChunkFailed    ChunkStatus = "failed"
)

// ChunkRecord describes one contiguous byte range of a transfer.
type ChunkRecord struct {
	Index   int         `json:"index"`
	Offset  int64       `json:"offset"`
	Length  int64       `json:"length"`
	Status  ChunkStatus `json:"status"`
	Retries int         `json:"retries"`
	ETag    string      `json:"etag,omitempty"`

	// Checksum is the hex SHA-256 of the chunk's bytes, recorded for
	// downloaded chunks.
	Checksum string `json:"checksum,omitempty"`
}

// Fingerprint captures the identity of the transfer source at start time.
// Uploads record the local file's size and mtime; downloads record the
// remote object's ETag, size, and last-modified. A mismatch on resume means
// the source changed and recorded progress is worthless.
type Fingerprint struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	ETag    string    `json:"etag,omitempty"`
}

// Matches reports whether two fingerprints identify the same source.
// Mod times are compared at second granularity since filesystems and HTTP
// Last-Modified headers disagree below that.
func (f Fingerprint) Matches(other Fingerprint) bool {
	return f.Size == other.Size &&
		f.ETag == other.ETag &&
		f.ModTime.Truncate(time.Second).Equal(other.ModTime.Truncate(time.Second))
}

// State is the serializable record of an in-progress transfer. All chunk
// mutation goes through SetChunk so concurrent workers never race; each
// worker owns exactly one index at a time.
type State struct {
	mu sync.Mutex

	ID          string        `json:"id"`
	Bucket      string        `json:"bucket"`
	Key         string        `json:"key"`
	LocalPath   string        `json:"local_path"`
	Direction   Direction     `json:"direction"`
	TotalSize   int64         `json:"total_size"`
	ChunkSize   int64         `json:"chunk_size"`
	UploadID    string        `json:"upload_id,omitempty"`
	Chunks      []ChunkRecord `json:"chunks"`
	Fingerprint Fingerprint   `json:"fingerprint"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewState builds a fresh state with partitioned chunks. A zero-byte upload
// gets a single empty chunk so the backend still receives one part; a
// zero-byte download needs no chunks at all.
func NewState(bucket, key, localPath string, direction Direction, totalSize, chunkSize int64, fp Fingerprint) *State {
	chunks := Partition(totalSize, chunkSize)
	if totalSize == 0 && direction == DirectionUpload {
		chunks = []ChunkRecord{{Index: 0, Offset: 0, Length: 0, Status: ChunkPending}}
	}
	now := time.Now().UTC()
	return &State{
		ID:          uuid.NewString(),
		Bucket:      bucket,
		Key:         key,
		LocalPath:   localPath,
		Direction:   direction,
		TotalSize:   totalSize,
		ChunkSize:   chunkSize,
		Chunks:      chunks,
		Fingerprint: fp,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Partition splits totalSize bytes into chunkSize ranges. The returned
// records tile [0, totalSize) exactly: pairwise disjoint, ascending, with
// only the final chunk allowed to be short. A zero total yields no chunks.
func Partition(totalSize, chunkSize int64) []ChunkRecord {
	if totalSize <= 0 || chunkSize <= 0 {
		return nil
	}
	count := totalSize / chunkSize
	if totalSize%chunkSize != 0 {
		count++
	}
	chunks := make([]ChunkRecord, 0, count)
	for offset := int64(0); offset < totalSize; offset += chunkSize {
		length := chunkSize
		if remaining := totalSize - offset; remaining < length {
			length = remaining
		}
		chunks = append(chunks, ChunkRecord{
			Index:  len(chunks),
			Offset: offset,
			Length: length,
			Status: ChunkPending,
		})
	}
	return chunks
}

// SetChunk applies mutate to the record at index under the state lock and
// bumps UpdatedAt.
func (s *State) SetChunk(index int, mutate func(*ChunkRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.Chunks) {
		return
	}
	mutate(&s.Chunks[index])
	s.UpdatedAt = time.Now().UTC()
}

// Chunk returns a copy of the record at index.
func (s *State) Chunk(index int) ChunkRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Chunks[index]
}

// PendingChunks returns the indices not yet completed, ascending.
func (s *State) PendingChunks() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []int
	for i := range s.Chunks {
		if s.Chunks[i].Status != ChunkCompleted {
			pending = append(pending, i)
		}
	}
	return pending
}

// CompletedBytes sums the lengths of completed chunks.
func (s *State) CompletedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for i := range s.Chunks {
		if s.Chunks[i].Status == ChunkCompleted {
			total += s.Chunks[i].Length
		}
	}
	return total
}

// AllCompleted reports whether every chunk finished.
func (s *State) AllCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Chunks {
		if s.Chunks[i].Status != ChunkCompleted {
			return false
		}
	}
	return true
}

// Snapshot returns a deep copy safe to serialize while workers keep
// mutating the live state.
func (s *State) Snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := &State{
		ID:          s.ID,
		Bucket:      s.Bucket,
		Key:         s.Key,
		LocalPath:   s.LocalPath,
		Direction:   s.Direction,
		TotalSize:   s.TotalSize,
		ChunkSize:   s.ChunkSize,
		UploadID:    s.UploadID,
		Chunks:      make([]ChunkRecord, len(s.Chunks)),
		Fingerprint: s.Fingerprint,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	copy(cp.Chunks, s.Chunks)
	return cp
}

package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/tidegate/s3transfer/errors"
)

// Store persists transfer state so interrupted transfers can resume. One
// JSON file per transfer, keyed by a digest of the transfer identity so the
// same (bucket, key, path, direction) tuple always maps to the same file.
type Store struct {
	fs     afero.Fs
	dir    string
	logger zerolog.Logger
}

// NewStore creates a resume store rooted at dir. An empty dir falls back to
// $HOME/.s3transfer/resume.
func NewStore(fsys afero.Fs, dir string, logger zerolog.Logger) *Store {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".s3transfer", "resume")
	}
	return &Store{fs: fsys, dir: dir, logger: logger}
}

// stateKey derives the resume file name from the transfer identity.
func stateKey(bucket, key, localPath string, direction Direction) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", bucket, key, localPath, direction)))
	return hex.EncodeToString(sum[:]) + ".json"
}

func (st *Store) path(bucket, key, localPath string, direction Direction) string {
	return filepath.Join(st.dir, stateKey(bucket, key, localPath, direction))
}

// Save writes a snapshot of the state to disk, creating the store directory
// on first use.
func (st *Store) Save(state *State) error {
	if err := st.fs.MkdirAll(st.dir, 0o700); err != nil {
		return errors.NewError("saveResumeState", err).WithMessage("create resume directory")
	}
	data, err := json.MarshalIndent(state.Snapshot(), "", "  ")
	if err != nil {
		return errors.NewError("saveResumeState", err)
	}
	path := st.path(state.Bucket, state.Key, state.LocalPath, state.Direction)
	if err := afero.WriteFile(st.fs, path, data, 0o600); err != nil {
		return errors.NewError("saveResumeState", err).WithMessage("write resume file")
	}
	return nil
}

// Load returns the persisted state for a transfer identity, or (nil, false)
// when none exists. A corrupt or mismatched record is treated as absent:
// it is logged, removed, and never surfaces as an error.
func (st *Store) Load(bucket, key, localPath string, direction Direction) (*State, bool) {
	path := st.path(bucket, key, localPath, direction)
	data, err := afero.ReadFile(st.fs, path)
	if err != nil {
		return nil, false
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		st.logger.Warn().Err(err).Str("path", path).Msg("discarding corrupt resume state")
		_ = st.fs.Remove(path)
		return nil, false
	}
	if state.Bucket != bucket || state.Key != key || state.LocalPath != localPath || state.Direction != direction {
		st.logger.Warn().Str("path", path).Msg("discarding resume state for different transfer")
		_ = st.fs.Remove(path)
		return nil, false
	}

	// Anything that was in flight when the process died is not completed.
	for i := range state.Chunks {
		if state.Chunks[i].Status == ChunkInFlight {
			state.Chunks[i].Status = ChunkPending
		}
	}
	return &state, true
}

// Delete removes the persisted record for a finished or aborted transfer.
// Deleting a record that does not exist is not an error.
func (st *Store) Delete(state *State) error {
	path := st.path(state.Bucket, state.Key, state.LocalPath, state.Direction)
	if err := st.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewError("deleteResumeState", err)
	}
	return nil
}

package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	errs "camclass/pkg/errors"
	"camclass/pkg/logger"
	"camclass/pkg/models"
)

// SchemaVersion is bumped whenever the on-disk layout changes; files with
// a different version are rejected as corrupt rather than misparsed.
const SchemaVersion = 1

// RunState is the durable record of one batch run over a survey root.
// It is exclusively owned and mutated by the batch runner; this package
// only serializes and deserializes it.
type RunState struct {
	SchemaVersion int                                    `json:"schema_version"`
	RunID         string                                 `json:"run_id"`
	RootPath      string                                 `json:"root_path"`
	Results       map[string]models.ClassificationResult `json:"results"`
	StartedAt     time.Time                              `json:"started_at"`
	UpdatedAt     time.Time                              `json:"updated_at"`
	CompletedAt   *time.Time                             `json:"completed_at,omitempty"`
}

// NewRunState creates an empty run state for the given root
func NewRunState(runID, rootPath string) *RunState {
	return &RunState{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		RootPath:      rootPath,
		Results:       make(map[string]models.ClassificationResult),
		StartedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

// OrderedResults returns the recorded results in enumeration order.
func (s *RunState) OrderedResults() []models.ClassificationResult {
	results := make([]models.ClassificationResult, 0, len(s.Results))
	for _, r := range s.Results {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Index != results[j].Index {
			return results[i].Index < results[j].Index
		}
		return results[i].Item.Path < results[j].Item.Path
	})
	return results
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (s *RunState) Clone() *RunState {
	clone := *s
	clone.Results = make(map[string]models.ClassificationResult, len(s.Results))
	for k, v := range s.Results {
		clone.Results[k] = v
	}
	if s.CompletedAt != nil {
		completedAt := *s.CompletedAt
		clone.CompletedAt = &completedAt
	}
	return &clone
}

// Completed reports whether the run finished all items.
func (s *RunState) Completed() bool {
	return s.CompletedAt != nil
}

// Store handles checkpoint persistence
type Store struct {
	path   string
	logger logger.Logger
}

// NewStore creates a checkpoint store backed by the given file path
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		logger: logger.GetLogger(),
	}
}

// Path returns the checkpoint file location
func (st *Store) Path() string {
	return st.path
}

// Exists checks if a checkpoint file exists
func (st *Store) Exists() bool {
	_, err := os.Stat(st.path)
	return err == nil
}

// Load deserializes the persisted run state. A missing file returns
// (nil, nil); an unreadable or schema-invalid file returns a corrupt
// state error so the caller can choose to start fresh instead of crashing.
func (st *Store) Load() (*RunState, error) {
	file, err := os.Open(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No checkpoint exists
		}
		return nil, errs.Wrap(errs.ErrorTypeStorage, "failed to open checkpoint file", err)
	}
	defer file.Close()

	var state RunState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeCorruptState, "failed to decode checkpoint", err)
	}

	if state.SchemaVersion != SchemaVersion {
		return nil, errs.Newf(errs.ErrorTypeCorruptState,
			"unsupported checkpoint schema version %d (want %d)", state.SchemaVersion, SchemaVersion)
	}
	if state.RootPath == "" {
		return nil, errs.New(errs.ErrorTypeCorruptState, "checkpoint is missing root path")
	}
	if state.Results == nil {
		state.Results = make(map[string]models.ClassificationResult)
	}

	st.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"root_path":  state.RootPath,
		"results":    len(state.Results),
		"updated_at": state.UpdatedAt,
	})

	return &state, nil
}

// Save writes the full run state atomically. Every save is a complete
// snapshot: write to a temp file, sync, then rename over the old file so
// a crash mid-write never leaves a truncated checkpoint behind.
func (st *Store) Save(state *RunState) error {
	state.UpdatedAt = time.Now()

	if dir := filepath.Dir(st.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errs.Wrap(errs.ErrorTypeStorage, "failed to create checkpoint directory", err)
		}
	}

	tempPath := st.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeStorage, "failed to create temporary checkpoint file", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.Wrap(errs.ErrorTypeStorage, "failed to encode checkpoint", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.Wrap(errs.ErrorTypeStorage, "failed to sync checkpoint file", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return errs.Wrap(errs.ErrorTypeStorage, "failed to close checkpoint file", err)
	}

	if err := os.Rename(tempPath, st.path); err != nil {
		os.Remove(tempPath)
		return errs.Wrap(errs.ErrorTypeStorage, "failed to replace checkpoint file", err)
	}

	st.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"root_path": state.RootPath,
		"results":   len(state.Results),
	})

	return nil
}

// Clear removes the checkpoint file. This is the explicit "start fresh"
// destruction; a completed run keeps its checkpoint as the export source.
func (st *Store) Clear() error {
	if err := os.Remove(st.path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.ErrorTypeStorage, "failed to delete checkpoint", err)
	}

	st.logger.Info("Checkpoint cleared")
	return nil
}

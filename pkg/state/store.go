// Package state persists per-creator, per-category sync progress: the feed
// cursor and the fingerprint index snapshot. Every write is staged to a
// temp file, fsynced and renamed, so a crash leaves either the old state
// or the new one, never a torn file.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"creatorsync/pkg/feed"
	"creatorsync/pkg/logger"
)

// SyncState is the persisted progress of one creator+category sync.
type SyncState struct {
	Creator  string `json:"creator"`
	Category string `json:"category"`
	// Cursor is the publish time of the newest fully-resolved post.
	Cursor string `json:"cursor"`
	// Fingerprints maps fingerprint -> artifact path relative to the
	// archive root.
	Fingerprints    map[string]string `json:"fingerprints"`
	TotalDownloaded int               `json:"total_downloaded"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Version         int               `json:"version"`
}

// Store reads and writes sync state files under one directory.
type Store struct {
	dir    string
	logger logger.Logger
}

// NewStore creates the state directory if needed.
func NewStore(dir string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{dir: dir, logger: log}, nil
}

// Load returns the stored state, or a fresh empty state when none exists.
func (s *Store) Load(creator string, category feed.Category) (*SyncState, error) {
	file, err := os.Open(s.path(creator, category))
	if err != nil {
		if os.IsNotExist(err) {
			return newState(creator, category), nil
		}
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}
	defer file.Close()

	var state SyncState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode state file: %w", err)
	}
	if state.Fingerprints == nil {
		state.Fingerprints = make(map[string]string)
	}

	s.logger.DebugWithFields("sync state loaded", map[string]interface{}{
		"creator":      state.Creator,
		"category":     state.Category,
		"cursor":       state.Cursor,
		"fingerprints": len(state.Fingerprints),
	})
	return &state, nil
}

// Checkpoint folds a completed batch into the state and writes it
// atomically. An empty cursor keeps the stored one; delta entries are new
// fingerprint records from the batch.
func (s *Store) Checkpoint(state *SyncState, cursor string, delta map[string]string) error {
	if cursor != "" {
		state.Cursor = cursor
	}
	for fp, path := range delta {
		if _, known := state.Fingerprints[fp]; !known {
			state.TotalDownloaded++
		}
		state.Fingerprints[fp] = path
	}
	return s.save(state)
}

// Replace overwrites the stored fingerprint snapshot entirely. Used by
// overwrite runs, which rebuild the index instead of accumulating.
func (s *Store) Replace(state *SyncState, cursor string, fingerprints map[string]string) error {
	state.Cursor = cursor
	state.Fingerprints = fingerprints
	state.TotalDownloaded = len(fingerprints)
	return s.save(state)
}

func (s *Store) save(state *SyncState) error {
	state.UpdatedAt = time.Now()

	path := s.path(state.Creator, feed.Category(state.Category))
	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close state file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	s.logger.DebugWithFields("sync state saved", map[string]interface{}{
		"creator":  state.Creator,
		"category": state.Category,
		"cursor":   state.Cursor,
	})
	return nil
}

// Delete removes the stored state for one creator+category.
func (s *Store) Delete(creator string, category feed.Category) error {
	if err := os.Remove(s.path(creator, category)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// Exists reports whether state is stored for the creator+category.
func (s *Store) Exists(creator string, category feed.Category) bool {
	_, err := os.Stat(s.path(creator, category))
	return err == nil
}

func (s *Store) path(creator string, category feed.Category) string {
	name := fmt.Sprintf("%s.%s.state.json", safeComponent(creator), safeComponent(string(category)))
	return filepath.Join(s.dir, name)
}

func newState(creator string, category feed.Category) *SyncState {
	now := time.Now()
	return &SyncState{
		Creator:      creator,
		Category:     string(category),
		Fingerprints: make(map[string]string),
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
}

func safeComponent(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	out := replacer.Replace(name)
	if out == "" {
		return "_"
	}
	return out
}

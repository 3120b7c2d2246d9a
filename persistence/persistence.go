// Package persistence durably records the single logical value this daemon
// must survive a restart with: the last finalized beacon root processed to
// completion.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/exitproof/verifier/beacon"
)

// LastProcessedRoot is the durable cursor a cycle commits only after its
// verification pass completes successfully.
type LastProcessedRoot struct {
	Root beacon.Root `json:"root"`
	Slot beacon.Slot `json:"slot"`
}

type wireRoot struct {
	Root string      `json:"root"`
	Slot beacon.Slot `json:"slot"`
}

// Store persists LastProcessedRoot to a single JSON file, overwritten
// atomically via write-to-temp-then-rename so a crash mid-write never
// leaves a truncated or partially-written file behind.
type Store struct {
	path string
}

// NewStore constructs a Store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted value. A missing file is not an error: it
// reports ok=false so the caller falls back to its configured bootstrap.
func (s *Store) Load() (val LastProcessedRoot, ok bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return LastProcessedRoot{}, false, nil
		}
		return LastProcessedRoot{}, false, fmt.Errorf("persistence: read %s: %w", s.path, err)
	}
	var w wireRoot
	if err := json.Unmarshal(data, &w); err != nil {
		return LastProcessedRoot{}, false, fmt.Errorf("persistence: decode %s: %w", s.path, err)
	}
	root, err := beacon.RootFromHex(w.Root)
	if err != nil {
		return LastProcessedRoot{}, false, fmt.Errorf("persistence: decode %s: %w", s.path, err)
	}
	return LastProcessedRoot{Root: root, Slot: w.Slot}, true, nil
}

// Save writes val, replacing any previous value. The write goes to a
// sibling temp file first and is renamed into place, so readers never
// observe a partial write.
func (s *Store) Save(val LastProcessedRoot) error {
	data, err := json.Marshal(wireRoot{Root: val.Root.String(), Slot: val.Slot})
	if err != nil {
		return fmt.Errorf("persistence: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".lastprocessedroot-*.tmp")
	if err != nil {
		return fmt.Errorf("persistence: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persistence: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("persistence: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persistence: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("persistence: rename into place: %w", err)
	}
	return nil
}

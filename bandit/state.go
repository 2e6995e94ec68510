package bandit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// SelectionCounts maps "<tenant>||<workspace>" to per-arm selection counts.
type SelectionCounts map[string]map[string]int64

// StateStore is the durable-state capability boundary. The engine treats
// every implementation as best-effort: Load errors mean cold start with
// uniform priors, Save errors are logged and dropped. Losing learned state
// is recoverable; blocking the request path on disk is not.
type StateStore interface {
	// Load returns the persisted policy state for one tenant router, or
	// (nil, nil) when none exists.
	Load(tenant, workspace string) (*PolicyState, error)
	// Save persists one tenant router's state.
	Save(tenant, workspace string, state PolicyState) error
	// LoadCounts returns the shared selection-count document.
	LoadCounts() (SelectionCounts, error)
	// SaveCounts atomically replaces the shared selection-count document.
	SaveCounts(counts SelectionCounts) error
}

// NoopStateStore discards everything: the default when persistence is not
// explicitly enabled.
type NoopStateStore struct{}

func (NoopStateStore) Load(string, string) (*PolicyState, error)  { return nil, nil }
func (NoopStateStore) Save(string, string, PolicyState) error     { return nil }
func (NoopStateStore) LoadCounts() (SelectionCounts, error)       { return nil, nil }
func (NoopStateStore) SaveCounts(SelectionCounts) error           { return nil }

const countsFileName = "selection_counts.json"

// FileStateStore persists one JSON document per tenant router plus one
// shared selection-count document under a base directory.
type FileStateStore struct {
	dir string
}

// NewFileStateStore creates a store rooted at dir, creating it if needed.
func NewFileStateStore(dir string) (*FileStateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return &FileStateStore{dir: dir}, nil
}

// StatePath returns the per-tenant state file path,
// bandit_state__<tenant>__<workspace>.json with unsafe runes replaced.
func (f *FileStateStore) StatePath(tenant, workspace string) string {
	name := fmt.Sprintf("bandit_state__%s__%s.json", sanitizeToken(tenant), sanitizeToken(workspace))
	return filepath.Join(f.dir, name)
}

// Load implements StateStore.
func (f *FileStateStore) Load(tenant, workspace string) (*PolicyState, error) {
	data, err := os.ReadFile(f.StatePath(tenant, workspace))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading bandit state: %w", err)
	}
	var state PolicyState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing bandit state: %w", err)
	}
	return &state, nil
}

// Save implements StateStore.
func (f *FileStateStore) Save(tenant, workspace string, state PolicyState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding bandit state: %w", err)
	}
	return f.writeAtomic(f.StatePath(tenant, workspace), data)
}

// LoadCounts implements StateStore.
func (f *FileStateStore) LoadCounts() (SelectionCounts, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, countsFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading selection counts: %w", err)
	}
	var counts SelectionCounts
	if err := json.Unmarshal(data, &counts); err != nil {
		return nil, fmt.Errorf("parsing selection counts: %w", err)
	}
	return counts, nil
}

// SaveCounts implements StateStore. The document is written to a temp file
// and renamed so a crash mid-write never leaves a torn document behind.
func (f *FileStateStore) SaveCounts(counts SelectionCounts) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("encoding selection counts: %w", err)
	}
	return f.writeAtomic(filepath.Join(f.dir, countsFileName), data)
}

func (f *FileStateStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// sanitizeToken replaces path- and shell-hostile runes in tenant and
// workspace identifiers (":" from URN-style tenant IDs, separators, spaces)
// so they are safe as filename fragments.
func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// bestEffortSave persists a router's state, logging and swallowing any
// failure. The request path never blocks on durable storage.
func bestEffortSave(store StateStore, tenant, workspace string, state PolicyState) {
	if err := store.Save(tenant, workspace, state); err != nil {
		logrus.Warnf("bandit: persisting state for %s||%s failed: %v", tenant, workspace, err)
	}
}

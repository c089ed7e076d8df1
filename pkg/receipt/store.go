package receipt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/enact-dev/enact/pkg/canonical"
	"github.com/enact-dev/enact/pkg/contracts"
)

// runIDPattern is the UUIDv4 textual form: 8-4-4-4-12 hex with dashes.
// Anything else is refused before a path is ever constructed.
var runIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Store persists receipts to a directory, one file per run, named
// <runID>.json. Concurrent runs never conflict: run IDs are unique, so
// no locking protocol is needed.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir. The directory is created on
// first write, not here.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the receipts directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes r to <dir>/<runID>.json and syncs the file. The stored
// bytes are the canonical serialization, signature included.
func (s *Store) Save(r *contracts.Receipt) (string, error) {
	path, err := s.path(r.RunID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("receipt store: create dir: %w", err)
	}
	data, err := canonical.Canonicalize(r)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("receipt store: open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("receipt store: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("receipt store: sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("receipt store: close %s: %w", path, err)
	}
	return path, nil
}

// Load validates runID, reads the receipt file, and parses it. The
// signature is NOT re-verified here; callers that act on the receipt
// (rollback in particular) verify explicitly.
func (s *Store) Load(runID string) (*contracts.Receipt, error) {
	path, err := s.path(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("receipt store: read %s: %w", runID, err)
	}
	var r contracts.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("receipt store: parse %s: %w", runID, err)
	}
	return &r, nil
}

// List returns the run IDs of every persisted receipt.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("receipt store: list: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		id := strings.TrimSuffix(name, ".json")
		if name == id || !runIDPattern.MatchString(id) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// path validates the run ID and confines the resolved path to the
// receipts directory. Both checks are errors, never silent empty reads.
func (s *Store) path(runID string) (string, error) {
	if !runIDPattern.MatchString(runID) {
		return "", &contracts.PathTraversalError{RunID: runID}
	}
	path := filepath.Join(s.dir, runID+".json")
	absDir, err := filepath.Abs(s.dir)
	if err != nil {
		return "", fmt.Errorf("receipt store: resolve dir: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("receipt store: resolve path: %w", err)
	}
	if absPath != filepath.Join(absDir, runID+".json") || !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		return "", &contracts.PathTraversalError{RunID: runID}
	}
	return path, nil
}

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FilePersistence stores ledger history as JSON on disk with atomic writes.
type FilePersistence struct {
	mu   sync.Mutex
	path string
}

// NewFilePersistence creates persistence rooted at path.
func NewFilePersistence(path string) *FilePersistence {
	return &FilePersistence{path: path}
}

// SaveEntries writes entries to disk, tmp file first then rename.
func (p *FilePersistence) SaveEntries(entries []Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger entries: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename ledger file: %w", err)
	}
	return nil
}

// LoadEntries reads history from disk. A missing file yields an empty slice.
func (p *FilePersistence) LoadEntries() ([]Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse ledger file: %w", err)
	}
	return entries, nil
}

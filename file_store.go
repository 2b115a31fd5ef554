package durablesaga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore persists instance records as one JSON file per instance.
type FileStore struct {
	basePath string
	mu       sync.Mutex // Protects file operations
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store that keeps records under basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Save writes the record to its file. The write goes through a temporary
// file and a rename so that a crash never leaves a truncated record.
func (f *FileStore) Save(ctx context.Context, rec InstanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	filename := f.filename(rec.ID)
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to replace record file: %w", err)
	}
	return nil
}

// Load reads the record from its file.
func (f *FileStore) Load(ctx context.Context, id InstanceID) (*InstanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.read(f.filename(id), id)
}

// Delete removes the record file.
func (f *FileStore) Delete(ctx context.Context, id InstanceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete record file: %w", err)
	}
	return nil
}

// List reads every record in the directory, oldest first.
func (f *FileStore) List(ctx context.Context) ([]InstanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var out []InstanceRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := InstanceID(strings.TrimSuffix(name, ".json"))
		rec, err := f.read(filepath.Join(f.basePath, name), id)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	SortRecords(out)
	return out, nil
}

func (f *FileStore) read(filename string, id InstanceID) (*InstanceRecord, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	var rec InstanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}
	return &rec, nil
}

// filename returns the full path for an instance's record file.
func (f *FileStore) filename(id InstanceID) string {
	return filepath.Join(f.basePath, string(id)+".json")
}

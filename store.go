package durablesaga

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InstanceStatus is the lifecycle status of a saga instance as seen by
// callers of the runtime.
type InstanceStatus string

const (
	InstanceRunning     InstanceStatus = "running"
	InstanceInterrupted InstanceStatus = "interrupted"
	InstanceCompleted   InstanceStatus = "completed"
	InstanceRolledBack  InstanceStatus = "rolled_back"
	InstanceTerminated  InstanceStatus = "terminated"
	InstanceFailed      InstanceStatus = "failed"
)

// Terminal reports whether an instance in status s will never run again.
func (s InstanceStatus) Terminal() bool {
	switch s {
	case InstanceCompleted, InstanceRolledBack, InstanceTerminated, InstanceFailed:
		return true
	}
	return false
}

// InstanceRecord is what a Store keeps about a saga instance.
type InstanceRecord struct {
	ID        InstanceID      `json:"id"`
	SagaName  SagaName        `json:"saga_name"`
	Status    InstanceStatus  `json:"status"`
	Input     json.RawMessage `json:"input,omitempty"`
	Outcome   *SagaOutcome    `json:"outcome,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists instance records so that outcomes can be queried.
type Store interface {
	// Save creates or replaces the record for rec.ID.
	Save(ctx context.Context, rec InstanceRecord) error

	// Load retrieves a record. It returns an error wrapping
	// ErrInstanceNotFound for unknown IDs.
	Load(ctx context.Context, id InstanceID) (*InstanceRecord, error)

	// Delete removes a record. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id InstanceID) error

	// List returns every record, oldest first.
	List(ctx context.Context) ([]InstanceRecord, error)
}

// SortRecords orders records oldest first, breaking ties by ID.
func SortRecords(records []InstanceRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}

// MemoryStore keeps records in memory. It is the default store of a
// Runtime.
type MemoryStore struct {
	records map[InstanceID]*InstanceRecord
	mu      sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[InstanceID]*InstanceRecord),
	}
}

// Save stores the record in memory.
func (m *MemoryStore) Save(ctx context.Context, rec InstanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recCopy := rec
	m.records[rec.ID] = &recCopy
	return nil
}

// Load retrieves the record from memory.
func (m *MemoryStore) Load(ctx context.Context, id InstanceID) (*InstanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	recCopy := *rec
	return &recCopy, nil
}

// Delete removes the record from memory.
func (m *MemoryStore) Delete(ctx context.Context, id InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, id)
	return nil
}

// List returns every record, oldest first.
func (m *MemoryStore) List(ctx context.Context) ([]InstanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]InstanceRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	SortRecords(out)
	return out, nil
}

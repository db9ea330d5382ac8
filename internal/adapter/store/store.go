// Package store defines the persistence interfaces shared by the pipeline.
package store

import (
	"context"
	"sync"
)

// KV is a string key-value store with an atomic insert-if-absent.
type KV interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key, value string) error

	// PutIfAbsent stores value only when key is not present and reports
	// whether it did.
	PutIfAbsent(ctx context.Context, key, value string) (bool, error)
}

// FileRecord maps a dataset, variable and date to a cached local file.
type FileRecord struct {
	DatasetID  string
	VariableID string
	DateStr    string
	FilePath   string
}

// FileIndex records where fetched dataset files live on disk.
type FileIndex interface {
	// LookupFile returns the cached path for a dataset/variable/date.
	LookupFile(ctx context.Context, datasetID, variableID, dateStr string) (string, bool, error)

	// RecordFile inserts rec unless an entry for the same key exists and
	// reports whether it was inserted.
	RecordFile(ctx context.Context, rec FileRecord) (bool, error)

	// Files lists the records of a dataset ordered by date.
	Files(ctx context.Context, datasetID string) ([]FileRecord, error)
}

// MemoryKV is an in-process KV.
type MemoryKV struct {
	mu   sync.RWMutex // Protect data.
	data map[string]string
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Put implements KV.
func (m *MemoryKV) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

// PutIfAbsent implements KV.
func (m *MemoryKV) PutIfAbsent(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

// Package objectstore archives evidence documents (eval-run provenance
// bundles, certification reports) outside the relational store.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrObjectNotFound is returned by Get when nothing is stored under a key.
var ErrObjectNotFound = errors.New("archive object not found")

// Archiver is the evidence sink the engines write to after commit.
type Archiver interface {
	PutJSON(ctx context.Context, key string, v any) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// EvalRunKey is where an eval run's evidence bundle lives.
func EvalRunKey(id string) string { return "eval-runs/" + id + ".json" }

// CertificationKey is where a certification report lives.
func CertificationKey(id string) string { return "certifications/" + id + ".json" }

// MemoryArchive keeps objects in process memory. It backs local runs without
// MinIO and tests.
type MemoryArchive struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryArchive returns an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{objects: map[string][]byte{}}
}

func (m *MemoryArchive) PutJSON(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode archive object %s: %w", key, err)
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryArchive) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Len reports how many objects are stored.
func (m *MemoryArchive) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

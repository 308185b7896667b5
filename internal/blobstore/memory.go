package blobstore

import (
	"fmt"
	"sync"
)

// Memory is an in-process Store for tests and dry runs.
type Memory struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(bucket, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[bucket+"/"+key] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.blobs[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

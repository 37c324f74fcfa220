package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process ObjectStore
type Memory struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]*Object
}

// NewMemory creates an empty store whose URLs are rooted at baseURL
func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "memory://"
	}
	return &Memory{baseURL: baseURL, objects: make(map[string]*Object)}
}

// Exists reports whether key is stored
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// Put stores a copy of data under key, replacing any previous object
func (m *Memory) Put(_ context.Context, key string, data []byte, contentType string) error {
	obj := &Object{
		Key:         key,
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
		Size:        int64(len(data)),
		Checksum:    Checksum(data),
		UploadedAt:  time.Now().UTC(),
	}
	m.mu.Lock()
	m.objects[key] = obj
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the object under key
func (m *Memory) Get(_ context.Context, key string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := *obj
	out.Data = append([]byte(nil), obj.Data...)
	return &out, nil
}

// URL returns baseURL joined with key
func (m *Memory) URL(key string) string {
	return JoinURL(m.baseURL, key)
}

// Len returns the number of stored objects
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

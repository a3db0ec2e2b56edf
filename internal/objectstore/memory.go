// Package objectstore holds the non-Cloudinary backends for check-in photos.
package objectstore

import (
	"context"
	"sync"
)

// Object is a stored blob.
type Object struct {
	Data        []byte
	ContentType string
}

// Memory keeps objects in process and returns mem:// URLs.
type Memory struct {
	mu       sync.Mutex
	objects  map[string]Object
	failWith error
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return "", m.failWith
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = Object{Data: buf, ContentType: contentType}
	return "mem://" + key, nil
}

// Get returns the object stored under key.
func (m *Memory) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return o, ok
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// FailPuts makes subsequent puts fail with err; nil restores normal behaviour.
func (m *Memory) FailPuts(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// collection keeps entries in insertion order. An overwrite keeps the
// entry's position.
type collection struct {
	order []string
	data  map[string]json.RawMessage
}

func (c *collection) entries() []Entry {
	out := make([]Entry, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, Entry{Key: key, Value: c.data[key]})
	}
	return out
}

func (c *collection) put(key string, value json.RawMessage) {
	if _, exists := c.data[key]; !exists {
		c.order = append(c.order, key)
	}
	c.data[key] = value
}

func (c *collection) remove(key string) bool {
	if _, exists := c.data[key]; !exists {
		return false
	}
	delete(c.data, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// MemoryStore implements RemoteStore in process memory.
// Uses sync.Mutex so that writes and the snapshots they trigger are ordered.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]*collection
	hub         *Hub
	closed      bool
	newID       func() (string, error)
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*collection),
		hub:         NewHub(),
		newID:       NewID,
	}
}

// NewID returns a time-ordered unique id for a pushed entry
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

func (m *MemoryStore) collection(path string) *collection {
	c, ok := m.collections[path]
	if !ok {
		c = &collection{data: make(map[string]json.RawMessage)}
		m.collections[path] = c
	}
	return c
}

// Subscribe delivers the current content of path, then every change
func (m *MemoryStore) Subscribe(ctx context.Context, path string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	return m.hub.Subscribe(p, m.collection(p).entries()), nil
}

// Push stores fields under a fresh id
func (m *MemoryStore) Push(ctx context.Context, path string, fields any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := CleanPath(path)
	if err != nil {
		return "", err
	}
	raw, deleted, err := Encode(fields)
	if err != nil {
		return "", err
	}
	if deleted {
		return "", fmt.Errorf("push: value is required")
	}
	id, err := m.newID()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrClosed
	}
	c := m.collection(p)
	c.put(id, raw)
	m.hub.Publish(p, c.entries())
	return id, nil
}

// Write overwrites or deletes one entry
func (m *MemoryStore) Write(ctx context.Context, path, id string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	if id == "" {
		return ErrEmptyID
	}
	raw, deleted, err := Encode(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	c := m.collection(p)
	if deleted {
		if !c.remove(id) {
			// deleting a missing entry is a no-op, nothing to announce
			return nil
		}
	} else {
		c.put(id, raw)
	}
	m.hub.Publish(p, c.entries())
	return nil
}

// Len returns the number of entries under path
func (m *MemoryStore) Len(path string) int {
	p, _ := CleanPath(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.collections[p]; ok {
		return len(c.order)
	}
	return 0
}

// Close ends every subscription. Later calls fail with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.hub.CloseAll()
	return nil
}

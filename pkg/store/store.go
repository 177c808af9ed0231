// Package store defines the remote keyed-collection contract the incident
// view is built on, together with an in-process implementation.
//
// A collection lives at a path and maps opaque ids to JSON values. Clients
// subscribe to a path and receive full snapshots of it: the current state
// immediately, then again after every change. Snapshots are never deltas.
//
// Concrete backends live in the sqlite and postgres subpackages.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyPath is returned when an operation is given a blank collection path
	ErrEmptyPath = errors.New("collection path is required")

	// ErrEmptyID is returned by Write when no entry id is given
	ErrEmptyID = errors.New("entry id is required")

	// ErrClosed is returned by stores that have been shut down
	ErrClosed = errors.New("store is closed")
)

// Entry is one child of a collection, in the order the store enumerates it
type Entry struct {
	Key   string
	Value json.RawMessage
}

// Snapshot is the full content of a collection at one point in time.
// Seq increases with every change the store has published.
type Snapshot struct {
	Path    string
	Seq     uint64
	Entries []Entry
}

// Len returns the number of entries
func (s Snapshot) Len() int {
	return len(s.Entries)
}

// Subscription streams snapshots for one path. A reader that falls behind
// only sees the newest snapshot; intermediate ones are dropped.
type Subscription interface {
	// Snapshots is closed once the subscription is closed
	Snapshots() <-chan Snapshot

	// Close releases the subscription. Safe to call more than once.
	Close() error
}

// RemoteStore is the contract every backend satisfies.
// Concurrent writers are resolved by the store: last write wins per entry.
type RemoteStore interface {
	// Subscribe delivers the current snapshot of path immediately and again
	// after every change
	Subscribe(ctx context.Context, path string) (Subscription, error)

	// Push creates an entry under a store-generated id and returns the id
	Push(ctx context.Context, path string, fields any) (string, error)

	// Write overwrites the entry id. A nil value, or one encoding to JSON
	// null, deletes it.
	Write(ctx context.Context, path, id string, value any) error
}

var jsonNull = []byte("null")

// Encode marshals a value for storage. The second result is true when the
// value means "delete".
func Encode(value any) (json.RawMessage, bool, error) {
	if value == nil {
		return nil, true, nil
	}
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, false, fmt.Errorf("encode value: %w", err)
		}
		raw = b
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull) {
		return nil, true, nil
	}
	if !json.Valid(trimmed) {
		return nil, false, fmt.Errorf("encode value: invalid JSON")
	}
	out := make(json.RawMessage, len(trimmed))
	copy(out, trimmed)
	return out, false, nil
}

// CleanPath trims a collection path and rejects blank ones
func CleanPath(path string) (string, error) {
	p := strings.Trim(strings.TrimSpace(path), "/")
	if p == "" {
		return "", ErrEmptyPath
	}
	return p, nil
}

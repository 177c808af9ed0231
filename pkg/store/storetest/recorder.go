// Package storetest provides a scripted store.RemoteStore for tests.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kass/go-geo-incidents/pkg/latest"
	"github.com/kass/go-geo-incidents/pkg/store"
)

// Call is one recorded store operation. Value is nil for deletes.
type Call struct {
	Op    string
	Path  string
	ID    string
	Value json.RawMessage
}

// Recorder records every Push and Write and only delivers the snapshots a
// test emits explicitly. Set the *Err fields to make operations fail.
type Recorder struct {
	SubscribeErr error
	PushErr      error
	WriteErr     error

	mu     sync.Mutex
	calls  []Call
	subs   []*subscription
	seq    uint64
	nextID int
}

// New creates an empty recorder
func New() *Recorder {
	return &Recorder{}
}

// Subscribe registers a subscription that receives later Emit calls
func (r *Recorder) Subscribe(ctx context.Context, path string) (store.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Op: "subscribe", Path: path})
	if r.SubscribeErr != nil {
		return nil, r.SubscribeErr
	}
	sub := &subscription{path: path, box: latest.New[store.Snapshot]()}
	r.subs = append(r.subs, sub)
	return sub, nil
}

// Push records the pushed fields and returns id-1, id-2, ...
func (r *Recorder) Push(ctx context.Context, path string, fields any) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Op: "push", Path: path, Value: raw})
	if r.PushErr != nil {
		return "", r.PushErr
	}
	r.nextID++
	return fmt.Sprintf("id-%d", r.nextID), nil
}

// Write records an overwrite, or a delete when value is nil
func (r *Recorder) Write(ctx context.Context, path, id string, value any) error {
	raw, _, err := store.Encode(value)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Op: "write", Path: path, ID: id, Value: raw})
	return r.WriteErr
}

// Calls returns the recorded calls for op, or all calls when op is empty
func (r *Recorder) Calls(op string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Call
	for _, c := range r.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Emit delivers a snapshot with the given entries to every open subscription
func (r *Recorder) Emit(entries ...store.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	for _, sub := range r.subs {
		if sub.isClosed() {
			continue
		}
		sub.box.Offer(store.Snapshot{Path: sub.path, Seq: r.seq, Entries: entries})
	}
}

// Open returns the number of subscriptions not yet closed
func (r *Recorder) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, sub := range r.subs {
		if !sub.isClosed() {
			n++
		}
	}
	return n
}

// Disconnect closes every open subscription from the store side
func (r *Recorder) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs {
		sub.Close()
	}
}

// Entry builds a snapshot entry from any JSON-encodable value
func Entry(key string, value any) store.Entry {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return store.Entry{Key: key, Value: raw}
}

type subscription struct {
	path   string
	box    *latest.Mailbox[store.Snapshot]
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Snapshots() <-chan store.Snapshot {
	return s.box.C()
}

func (s *subscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.box.Close()
	return nil
}

func (s *subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

package store

import (
	"sync"

	"github.com/kass/go-geo-incidents/pkg/latest"
)

// Hub fans snapshots out to the subscribers of each path. Backends call
// Publish while holding whatever lock orders their writes, so subscribers
// observe snapshots in commit order.
type Hub struct {
	mu   sync.Mutex
	seq  uint64
	subs map[string]map[*hubSubscription]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSubscription]struct{})}
}

// Subscribe registers a subscriber for path and hands it initial as its
// first snapshot
func (h *Hub) Subscribe(path string, initial []Entry) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &hubSubscription{hub: h, path: path, box: latest.New[Snapshot]()}
	set, ok := h.subs[path]
	if !ok {
		set = make(map[*hubSubscription]struct{})
		h.subs[path] = set
	}
	set[sub] = struct{}{}
	sub.box.Offer(Snapshot{Path: path, Seq: h.seq, Entries: cloneEntries(initial)})
	return sub
}

// Publish sends a new snapshot of path to all of its subscribers
func (h *Hub) Publish(path string, entries []Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	for sub := range h.subs[path] {
		// each subscriber gets its own copy
		sub.box.Offer(Snapshot{Path: path, Seq: h.seq, Entries: cloneEntries(entries)})
	}
}

// Watching reports whether path has at least one subscriber
func (h *Hub) Watching(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[path]) > 0
}

// Paths returns every path that currently has subscribers
func (h *Hub) Paths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	paths := make([]string, 0, len(h.subs))
	for p, set := range h.subs {
		if len(set) > 0 {
			paths = append(paths, p)
		}
	}
	return paths
}

// CloseAll closes every subscription
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for path, set := range h.subs {
		for sub := range set {
			sub.box.Close()
		}
		delete(h.subs, path)
	}
}

func (h *Hub) remove(sub *hubSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[sub.path]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.path)
		}
	}
	sub.box.Close()
}

type hubSubscription struct {
	hub  *Hub
	path string
	box  *latest.Mailbox[Snapshot]
	once sync.Once
}

func (s *hubSubscription) Snapshots() <-chan Snapshot {
	return s.box.C()
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.remove(s)
	})
	return nil
}

func cloneEntries(entries []Entry) []Entry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		v := make([]byte, len(e.Value))
		copy(v, e.Value)
		out[i] = Entry{Key: e.Key, Value: v}
	}
	return out
}

// Package view composes the sync controller, editor and overlay state into
// one consistent snapshot for presentation code.
package view

import (
	"context"
	"sync"

	"github.com/kass/go-geo-incidents/pkg/editor"
	"github.com/kass/go-geo-incidents/pkg/latest"
	"github.com/kass/go-geo-incidents/pkg/models"
	"github.com/kass/go-geo-incidents/pkg/overlay"
	"github.com/kass/go-geo-incidents/pkg/store"
	"github.com/kass/go-geo-incidents/pkg/syncer"
)

// DefaultPath is the incident collection path
const DefaultPath = "crimes"

// Row is one table row. Delete removes the row's record after the model's
// confirmer approves.
type Row struct {
	models.IncidentRecord
	Key    string
	Delete func(ctx context.Context) (bool, error)
}

// Snapshot is everything a presentation layer draws, taken at one instant
type Snapshot struct {
	Seq      uint64
	Rows     []Row
	Overlays []overlay.Overlay
	Viewport models.Viewport
	Rejected []syncer.Rejection

	// Covering lists the hotspots whose circle contains the viewport center
	Covering []overlay.Overlay
}

// Options configures a Model
type Options struct {
	// Path defaults to DefaultPath
	Path string

	// Confirm guards row deletes. Defaults to editor.NeverConfirm.
	Confirm editor.Confirmer

	// Overlay options, such as radius, style and starting viewport
	Overlay []overlay.Option
}

// Model is the view model. All state changes go through its mutex so a
// Snapshot never mixes two refreshes.
type Model struct {
	ctrl    *syncer.Controller
	editor  *editor.Editor
	overlay *overlay.State
	confirm editor.Confirmer
	draft   *editor.Draft

	mu       sync.RWMutex
	snap     Snapshot
	watchers map[*latest.Mailbox[Snapshot]]struct{}
	stopped  bool
}

// New creates a model backed by st
func New(st store.RemoteStore, opts Options) *Model {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Confirm == nil {
		opts.Confirm = editor.NeverConfirm
	}

	m := &Model{
		editor:   editor.New(st, opts.Path),
		overlay:  overlay.New(opts.Overlay...),
		confirm:  opts.Confirm,
		draft:    editor.NewDraft(),
		watchers: make(map[*latest.Mailbox[Snapshot]]struct{}),
	}
	m.snap = Snapshot{Rows: []Row{}, Overlays: []overlay.Overlay{}, Viewport: m.overlay.Viewport()}
	m.ctrl = syncer.New(st, opts.Path, m)
	return m
}

// Start subscribes to the collection
func (m *Model) Start(ctx context.Context) error {
	return m.ctrl.Start(ctx)
}

// Stop tears the subscription down and closes every watcher
func (m *Model) Stop() {
	m.ctrl.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for box := range m.watchers {
		box.Close()
		delete(m.watchers, box)
	}
}

// State returns the controller lifecycle stage
func (m *Model) State() syncer.State {
	return m.ctrl.State()
}

// Replace implements syncer.Consumer
func (m *Model) Replace(r syncer.Refresh) {
	rows := make([]Row, len(r.Records))
	for i, rec := range r.Records {
		id := rec.ID
		rows[i] = Row{
			IncidentRecord: rec,
			Key:            id,
			Delete: func(ctx context.Context) (bool, error) {
				return m.editor.Delete(ctx, id, m.confirm)
			},
		}
	}

	m.mu.Lock()
	m.overlay.Replace(r.Records)
	m.snap.Seq = r.Seq
	m.snap.Rows = rows
	m.snap.Overlays = m.overlay.Overlays()
	m.snap.Rejected = r.Rejected
	m.notifyLocked()
	m.mu.Unlock()
}

// BoundsChanged updates the viewport from the map's current center
func (m *Model) BoundsChanged(b overlay.BoundsReader) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.overlay.BoundsChanged(b) {
		return false
	}
	m.snap.Viewport = m.overlay.Viewport()
	m.notifyLocked()
	return true
}

// Snapshot returns the current view state
func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyLocked()
}

// Overlay exposes the overlay state for spatial queries
func (m *Model) Overlay() *overlay.State {
	return m.overlay
}

// Draft returns the pending form input
func (m *Model) Draft() *editor.Draft {
	return m.draft
}

// Submit stores fields as the pending input and creates the incident.
// A *validate.Error comes back for bad input; the draft is reset only on
// success.
func (m *Model) Submit(ctx context.Context, fields models.Fields) (string, error) {
	m.draft.Set(fields)
	return m.editor.Create(ctx, m.draft)
}

// Delete removes id after confirmation, like a row's Delete hook
func (m *Model) Delete(ctx context.Context, id string) (bool, error) {
	return m.editor.Delete(ctx, id, m.confirm)
}

// Watch returns a channel of snapshots, starting with the current one.
// Slow readers only see the latest snapshot. Call cancel when done.
// After Stop the channel yields the final snapshot and is closed.
func (m *Model) Watch() (<-chan Snapshot, func()) {
	box := latest.New[Snapshot]()

	m.mu.Lock()
	box.Offer(m.copyLocked())
	if m.stopped {
		box.Close()
	} else {
		m.watchers[box] = struct{}{}
	}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, box)
		box.Close()
	}
	return box.C(), cancel
}

func (m *Model) notifyLocked() {
	if len(m.watchers) == 0 {
		return
	}
	snap := m.copyLocked()
	for box := range m.watchers {
		box.Offer(snap)
	}
}

func (m *Model) copyLocked() Snapshot {
	return Snapshot{
		Seq:      m.snap.Seq,
		Rows:     append([]Row{}, m.snap.Rows...),
		Overlays: append([]overlay.Overlay{}, m.snap.Overlays...),
		Viewport: m.snap.Viewport,
		Rejected: append([]syncer.Rejection(nil), m.snap.Rejected...),
		Covering: m.overlay.Covering(models.Location{Lat: m.snap.Viewport.Lat, Lon: m.snap.Viewport.Lng}),
	}
}

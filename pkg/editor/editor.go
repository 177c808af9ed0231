// Package editor validates incident input and turns it into store writes.
// The editor never touches the local record sequence; changes show up once
// the store delivers the next snapshot.
package editor

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/kass/go-geo-incidents/pkg/models"
	"github.com/kass/go-geo-incidents/pkg/store"
	"github.com/kass/go-geo-incidents/pkg/validate"
)

// DeletePrompt is the question asked before an incident is removed
const DeletePrompt = "Are you sure to delete?"

// ErrEmptyID is returned by Delete when no id is given
var ErrEmptyID = errors.New("incident id is required")

// Draft is pending form input. The zero value is not ready for use, create
// it with NewDraft.
type Draft struct {
	mu     sync.Mutex
	fields models.Fields
}

// NewDraft returns a draft holding the form defaults
func NewDraft() *Draft {
	d := &Draft{}
	d.Reset()
	return d
}

// Fields returns a copy of the pending input
func (d *Draft) Fields() models.Fields {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fields
}

// Set replaces the pending input
func (d *Draft) Set(f models.Fields) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fields = f
}

// Reset restores the defaults: degree 1, everything else empty
func (d *Draft) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fields = models.Fields{Degree: models.DefaultDegree}
}

// Confirmer asks the user to approve a destructive action
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Confirm calls f
func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

var (
	// AlwaysConfirm approves every prompt
	AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })

	// NeverConfirm declines every prompt
	NeverConfirm Confirmer = ConfirmFunc(func(context.Context, string) (bool, error) { return false, nil })
)

// Editor issues create and delete requests for one collection
type Editor struct {
	store store.RemoteStore
	path  string
}

// New creates an editor writing to path
func New(st store.RemoteStore, path string) *Editor {
	return &Editor{store: st, path: path}
}

// Create validates the draft and pushes it as a new incident. On success
// the draft is reset and the store-assigned id returned. A validation
// failure returns a *validate.Error and writes nothing; store errors are
// returned unchanged and leave the draft as it was.
func (e *Editor) Create(ctx context.Context, d *Draft) (string, error) {
	fields := d.Fields()
	if err := validate.Fields(fields); err != nil {
		return "", err
	}

	id, err := e.store.Push(ctx, e.path, fields)
	if err != nil {
		return "", err
	}
	d.Reset()
	log.Printf("editor: created %s/%s", e.path, id)
	return id, nil
}

// Delete removes the incident id once confirm approves. It reports whether
// a delete was issued; declining is not an error.
func (e *Editor) Delete(ctx context.Context, id string, confirm Confirmer) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	ok, err := confirm.Confirm(ctx, DeletePrompt)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := e.store.Write(ctx, e.path, id, nil); err != nil {
		return false, err
	}
	log.Printf("editor: deleted %s/%s", e.path, id)
	return true, nil
}

// Package syncer keeps an ordered, fully replaced copy of the remote
// incident collection.
//
// A Controller owns exactly one subscription. Every snapshot the store
// delivers is decoded into a fresh record sequence and handed to the
// consumers as a whole; nothing is patched in place, so every published
// sequence corresponds to some state the store actually held.
package syncer

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/kass/go-geo-incidents/pkg/models"
	"github.com/kass/go-geo-incidents/pkg/store"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start
	ErrAlreadyStarted = errors.New("controller already started")

	// ErrStopped is returned by Start after Stop
	ErrStopped = errors.New("controller stopped")
)

// State is the subscription lifecycle stage
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateLive
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	}
	return "unknown"
}

// Refresh is one published record sequence
type Refresh struct {
	Seq      uint64
	Records  []models.IncidentRecord
	Rejected []Rejection
}

// Consumer receives every published sequence. Replace runs on the
// controller's delivery goroutine, one call at a time, and must not call
// Stop.
type Consumer interface {
	Replace(Refresh)
}

// ConsumerFunc adapts a function to Consumer
type ConsumerFunc func(Refresh)

// Replace calls f(r)
func (f ConsumerFunc) Replace(r Refresh) {
	f(r)
}

// Controller converts store snapshots into published record sequences
type Controller struct {
	store     store.RemoteStore
	path      string
	consumers []Consumer

	mu       sync.RWMutex
	state    State
	stopped  bool
	current  Refresh
	sub      store.Subscription
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a controller for the collection at path
func New(st store.RemoteStore, path string, consumers ...Consumer) *Controller {
	return &Controller{
		store:     st,
		path:      path,
		consumers: consumers,
	}
}

// Start subscribes to the collection. Errors from the store are returned
// as they are.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.state != StateUnsubscribed {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateSubscribing
	c.mu.Unlock()

	sub, err := c.store.Subscribe(ctx, c.path)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if !c.stopped {
			c.state = StateUnsubscribed
		}
		return err
	}
	if c.stopped {
		// Stop ran while we were subscribing
		_ = sub.Close()
		return ErrStopped
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.sub = sub
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx, sub, c.done)

	log.Printf("syncer: subscribed to %s", c.path)
	return nil
}

func (c *Controller) run(ctx context.Context, sub store.Subscription, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.Snapshots():
			if !ok {
				c.mu.Lock()
				c.state = StateUnsubscribed
				c.mu.Unlock()
				if ctx.Err() == nil {
					log.Printf("syncer: %s: subscription closed by store", c.path)
				}
				return
			}
			c.apply(ctx, snap)
		}
	}
}

func (c *Controller) apply(ctx context.Context, snap store.Snapshot) {
	records, rejected := Decode(snap)
	for _, r := range rejected {
		log.Printf("syncer: %s: excluded %v", c.path, r.Err)
	}

	c.mu.Lock()
	if c.stopped || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.current = Refresh{Seq: snap.Seq, Records: records, Rejected: rejected}
	c.state = StateLive
	refresh := c.current
	c.mu.Unlock()

	for _, consumer := range c.consumers {
		consumer.Replace(Refresh{
			Seq:      refresh.Seq,
			Records:  cloneRecords(refresh.Records),
			Rejected: refresh.Rejected,
		})
	}
}

// Stop releases the subscription. It is terminal, idempotent and safe to
// call before Start. No consumer is called once Stop has returned.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.state = StateUnsubscribed
		sub, cancel, done := c.sub, c.cancel, c.done
		c.sub, c.cancel = nil, nil
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if sub != nil {
			if err := sub.Close(); err != nil {
				log.Printf("syncer: close subscription %s: %v", c.path, err)
			}
		}
		if done != nil {
			<-done
			log.Printf("syncer: unsubscribed from %s", c.path)
		}
	})
}

// State returns the current lifecycle stage
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Records returns a copy of the last published sequence
func (c *Controller) Records() []models.IncidentRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneRecords(c.current.Records)
}

// Rejected returns the entries excluded from the last published sequence
func (c *Controller) Rejected() []Rejection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Rejection(nil), c.current.Rejected...)
}

// Seq returns the store sequence of the last published snapshot
func (c *Controller) Seq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Seq
}

func cloneRecords(records []models.IncidentRecord) []models.IncidentRecord {
	out := make([]models.IncidentRecord, len(records))
	copy(out, records)
	return out
}

// Package postgres provides a PostgreSQL-backed store.RemoteStore.
//
// Every write issues pg_notify on NotifyChannel inside its transaction. A
// pq.Listener turns those notifications, including ones from other
// processes, into fresh snapshots for local subscribers.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kass/go-geo-incidents/pkg/store"
	"github.com/lib/pq"
)

// NotifyChannel carries the path of every changed collection
const NotifyChannel = "incident_entries_changed"

const schema = `
CREATE TABLE IF NOT EXISTS incident_entries (
	pos   BIGSERIAL PRIMARY KEY,
	path  TEXT NOT NULL,
	id    TEXT NOT NULL,
	value JSONB NOT NULL,
	UNIQUE (path, id)
);`

// Options tunes a Store
type Options struct {
	MaxConnections int

	// OnError receives listener and reload failures. Defaults to log.
	OnError func(error)
}

// Store keeps collections in a PostgreSQL table
type Store struct {
	db       *sql.DB
	listener *pq.Listener
	hub      *store.Hub
	onError  func(error)

	// mu orders reloads so subscribers see snapshots in commit order
	mu sync.Mutex

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open connects, creates the table and starts listening for changes
func Open(dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{
		db:      db,
		hub:     store.NewHub(),
		onError: opts.OnError,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if s.onError == nil {
		s.onError = func(err error) { log.Printf("postgres store: %v", err) }
	}

	s.listener = pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.onError(fmt.Errorf("listener: %w", err))
		}
	})
	if err := s.listener.Listen(NotifyChannel); err != nil {
		s.listener.Close()
		db.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}

	go s.listen()
	return s, nil
}

// Close stops listening, ends all subscriptions and closes the database
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		if lerr := s.listener.Close(); lerr != nil {
			s.onError(fmt.Errorf("close listener: %w", lerr))
		}
		s.mu.Lock()
		s.hub.CloseAll()
		s.mu.Unlock()
		err = s.db.Close()
	})
	return err
}

// Subscribe delivers the current content of path, then every change
func (s *Store) Subscribe(ctx context.Context, path string) (store.Subscription, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(p, entries), nil
}

// Push stores fields under a fresh id
func (s *Store) Push(ctx context.Context, path string, fields any) (string, error) {
	raw, deleted, err := store.Encode(fields)
	if err != nil {
		return "", err
	}
	if deleted {
		return "", fmt.Errorf("push: value is required")
	}
	id, err := store.NewID()
	if err != nil {
		return "", err
	}
	if err := s.write(ctx, path, id, raw); err != nil {
		return "", err
	}
	return id, nil
}

// Write overwrites or deletes one entry
func (s *Store) Write(ctx context.Context, path, id string, value any) error {
	if id == "" {
		return store.ErrEmptyID
	}
	raw, deleted, err := store.Encode(value)
	if err != nil {
		return err
	}
	if deleted {
		raw = nil
	}
	return s.write(ctx, path, id, raw)
}

func (s *Store) write(ctx context.Context, path, id string, raw json.RawMessage) error {
	p, err := store.CleanPath(path)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if raw == nil {
		res, err = tx.ExecContext(ctx, `DELETE FROM incident_entries WHERE path = $1 AND id = $2`, p, id)
	} else {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO incident_entries (path, id, value) VALUES ($1, $2, $3)
			ON CONFLICT (path, id) DO UPDATE SET value = EXCLUDED.value
		`, p, id, string(raw))
	}
	if err != nil {
		return fmt.Errorf("failed to write entry %s/%s: %w", p, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, p); err != nil {
		return fmt.Errorf("failed to notify: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	// local subscribers need not wait for the round trip
	s.reload(ctx, p)
	return nil
}

func (s *Store) load(ctx context.Context, path string) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, value FROM incident_entries WHERE path = $1 ORDER BY pos`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var id string
		var value []byte
		if err := rows.Scan(&id, &value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		entries = append(entries, store.Entry{Key: id, Value: json.RawMessage(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return entries, nil
}

// reload republishes path if anyone is watching it
func (s *Store) reload(ctx context.Context, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hub.Watching(path) {
		return
	}
	entries, err := s.load(ctx, path)
	if err != nil {
		s.onError(fmt.Errorf("reload %s: %w", path, err))
		return
	}
	s.hub.Publish(path, entries)
}

func (s *Store) listen() {
	defer close(s.done)
	ctx := context.Background()

	for {
		select {
		case <-s.stop:
			return
		case n := <-s.listener.Notify:
			if n == nil {
				// reconnected; notifications may have been missed
				for _, path := range s.hub.Paths() {
					s.reload(ctx, path)
				}
				continue
			}
			s.reload(ctx, n.Extra)
		case <-time.After(90 * time.Second):
			go func() {
				if err := s.listener.Ping(); err != nil {
					s.onError(fmt.Errorf("listener ping: %w", err))
				}
			}()
		}
	}
}

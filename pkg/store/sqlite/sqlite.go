// Package sqlite provides a SQLite-backed store.RemoteStore.
//
// Entries are enumerated in insertion order. Every write bumps a per-path
// revision, and a poller republishes a path whenever its revision moves, so
// writers in other processes sharing the file are picked up as well.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kass/go-geo-incidents/pkg/store"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	pos   INTEGER PRIMARY KEY AUTOINCREMENT,
	path  TEXT NOT NULL,
	id    TEXT NOT NULL,
	value TEXT NOT NULL,
	UNIQUE(path, id)
);
CREATE TABLE IF NOT EXISTS revisions (
	path TEXT PRIMARY KEY,
	rev  INTEGER NOT NULL
);`

// DefaultPollInterval is how often revisions are checked for outside writes
const DefaultPollInterval = time.Second

// Options tunes a Store
type Options struct {
	// PollInterval for outside changes. Zero means DefaultPollInterval,
	// negative disables polling.
	PollInterval time.Duration

	// OnError receives failures from the background poller. Defaults to log.
	OnError func(error)
}

// Store persists collections in a SQLite file
type Store struct {
	sqlDB   *sql.DB
	hub     *store.Hub
	onError func(error)

	// mu orders writes with the snapshots they publish
	mu   sync.Mutex
	revs map[string]int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open opens (creating if needed) the SQLite file at path
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		sqlDB:   sqlDB,
		hub:     store.NewHub(),
		onError: opts.OnError,
		revs:    make(map[string]int64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if s.onError == nil {
		s.onError = func(err error) { log.Printf("sqlite store: %v", err) }
	}

	interval := opts.PollInterval
	if interval == 0 {
		interval = DefaultPollInterval
	}
	if interval > 0 {
		go s.poll(interval)
	} else {
		close(s.done)
	}
	return s, nil
}

// Close stops polling, ends all subscriptions and closes the database
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.mu.Lock()
		s.hub.CloseAll()
		s.mu.Unlock()
		err = s.sqlDB.Close()
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

	entries, rev, err := s.load(ctx, p)
	if err != nil {
		return nil, err
	}
	s.revs[p] = rev
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

// write upserts raw, or deletes when raw is nil
func (s *Store) write(ctx context.Context, path, id string, raw json.RawMessage) error {
	p, err := store.CleanPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if raw == nil {
		res, err = tx.ExecContext(ctx, `DELETE FROM entries WHERE path = ? AND id = ?`, p, id)
	} else {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO entries (path, id, value) VALUES (?, ?, ?)
			 ON CONFLICT(path, id) DO UPDATE SET value = excluded.value`,
			p, id, string(raw))
	}
	if err != nil {
		return fmt.Errorf("write entry %s/%s: %w", p, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// deleting a missing entry changes nothing
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO revisions (path, rev) VALUES (?, 1)
		 ON CONFLICT(path) DO UPDATE SET rev = rev + 1`, p); err != nil {
		return fmt.Errorf("bump revision %s: %w", p, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write: %w", err)
	}

	if s.hub.Watching(p) {
		s.publishLocked(ctx, p)
	}
	return nil
}

// publishLocked reloads path and fans it out; callers hold mu
func (s *Store) publishLocked(ctx context.Context, path string) {
	entries, rev, err := s.load(ctx, path)
	if err != nil {
		s.onError(fmt.Errorf("reload %s: %w", path, err))
		return
	}
	s.revs[path] = rev
	s.hub.Publish(path, entries)
}

// load reads every entry of path and its revision in one transaction
func (s *Store) load(ctx context.Context, path string) ([]store.Entry, int64, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()

	rev, err := revision(ctx, tx, path)
	if err != nil {
		return nil, 0, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, value FROM entries WHERE path = ? ORDER BY pos`, path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, 0, fmt.Errorf("failed to scan row: %w", err)
		}
		entries = append(entries, store.Entry{Key: id, Value: json.RawMessage(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	return entries, rev, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func revision(ctx context.Context, q querier, path string) (int64, error) {
	var rev int64
	err := q.QueryRowContext(ctx, `SELECT rev FROM revisions WHERE path = ?`, path).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read revision %s: %w", path, err)
	}
	return rev, nil
}

func (s *Store) poll(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.checkRevisions()
		}
	}
}

func (s *Store) checkRevisions() {
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range s.hub.Paths() {
		rev, err := revision(ctx, s.sqlDB, path)
		if err != nil {
			s.onError(err)
			continue
		}
		if rev != s.revs[path] {
			s.publishLocked(ctx, path)
		}
	}
}

// Package store is a small document store over SQLite. Records live as JSON
// documents grouped into named collections. It offers the four primitives the
// rest of the app is written against: plain writes, ordered reads, snapshot
// subscriptions, and atomic read-modify-write transactions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound reports that a document id does not resolve in its collection.
	ErrNotFound = errors.New("document not found")
	// ErrPermission reports that the storage layer rejected a write for
	// access reasons rather than a transient fault.
	ErrPermission = errors.New("storage permission denied")
)

// Document is a stored record. Data holds the JSON body without id or
// creation time; those travel in their own columns.
type Document struct {
	ID        string
	CreatedAt int64 // unix milliseconds
	Data      json.RawMessage
}

// Decode unmarshals the document body into out.
func (d Document) Decode(out any) error {
	return json.Unmarshal(d.Data, out)
}

// Ref addresses one document.
type Ref struct {
	Collection string
	ID         string
}

// NewID returns a fresh document identifier.
func NewID() string {
	return uuid.NewString()
}

// Store wraps the documents table and the subscriber registry.
type Store struct {
	db    *sqlx.DB
	log   *logrus.Logger
	nowFn func() time.Time

	mu      sync.Mutex
	subs    map[string]map[int]func([]Document)
	nextSub int
}

// New constructs a Store over an already migrated database.
func New(db *sqlx.DB, log *logrus.Logger) *Store {
	return &Store{
		db:    db,
		log:   log,
		nowFn: func() time.Time { return time.Now().UTC() },
		subs:  make(map[string]map[int]func([]Document)),
	}
}

// Create inserts data as a new document and returns the stored record.
func (s *Store) Create(ctx context.Context, collection string, data any) (Document, error) {
	ref := Ref{Collection: collection, ID: NewID()}
	err := s.RunTransaction(ctx, func(tx *Tx) error {
		return tx.Set(ref, data)
	})
	if err != nil {
		return Document{}, err
	}
	return s.Get(ctx, collection, ref.ID)
}

// Update merges partial into an existing document. Missing ids are ErrNotFound.
func (s *Store) Update(ctx context.Context, collection, id string, partial map[string]any) error {
	return s.RunTransaction(ctx, func(tx *Tx) error {
		return tx.Update(Ref{Collection: collection, ID: id}, partial)
	})
}

// Delete removes a document. Missing ids are ErrNotFound.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.RunTransaction(ctx, func(tx *Tx) error {
		return tx.Delete(Ref{Collection: collection, ID: id})
	})
}

// Get fetches one document.
func (s *Store) Get(ctx context.Context, collection, id string) (Document, error) {
	var row struct {
		ID        string `db:"id"`
		CreatedAt int64  `db:"created_at"`
		Data      string `db:"data"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT id, created_at, data FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return Document{ID: row.ID, CreatedAt: row.CreatedAt, Data: json.RawMessage(row.Data)}, nil
}

// List returns the full collection ordered by creation time, newest first.
func (s *Store) List(ctx context.Context, collection string) ([]Document, error) {
	var rows []struct {
		ID        string `db:"id"`
		CreatedAt int64  `db:"created_at"`
		Data      string `db:"data"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, created_at, data FROM documents WHERE collection = ? ORDER BY created_at DESC, rowid DESC`, collection)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(rows))
	for i, r := range rows {
		docs[i] = Document{ID: r.ID, CreatedAt: r.CreatedAt, Data: json.RawMessage(r.Data)}
	}
	return docs, nil
}

// Subscribe registers onChange for a collection. The current snapshot is
// delivered immediately, then again after every committed change touching the
// collection. The returned function removes the subscription.
func (s *Store) Subscribe(collection string, onChange func([]Document)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs[collection] == nil {
		s.subs[collection] = make(map[int]func([]Document))
	}
	s.subs[collection][id] = onChange
	s.mu.Unlock()

	if docs, err := s.List(context.Background(), collection); err == nil {
		onChange(docs)
	} else {
		s.log.WithError(err).WithField("collection", collection).Warn("initial snapshot failed")
	}

	return func() {
		s.mu.Lock()
		delete(s.subs[collection], id)
		s.mu.Unlock()
	}
}

const txAttempts = 5

// RunTransaction executes fn against a transaction and commits atomically.
// Transient contention errors are retried up to an internal limit; errors
// returned by fn abort the transaction and are passed through unchanged.
// Subscribers of every touched collection are notified after commit.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		var touched map[string]struct{}
		touched, err = s.attempt(ctx, fn)
		if err == nil {
			s.notify(touched)
			return nil
		}
		if !isBusy(err) {
			break
		}
		s.log.WithField("attempt", attempt).Warn("transaction contention, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	if isPermission(err) {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return err
}

func (s *Store) attempt(ctx context.Context, fn func(tx *Tx) error) (map[string]struct{}, error) {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	tx := &Tx{tx: sqlTx, now: s.nowFn(), touched: make(map[string]struct{})}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, err
	}
	return tx.touched, nil
}

func (s *Store) notify(collections map[string]struct{}) {
	for collection := range collections {
		docs, err := s.List(context.Background(), collection)
		if err != nil {
			s.log.WithError(err).WithField("collection", collection).Warn("snapshot after commit failed")
			continue
		}
		s.mu.Lock()
		callbacks := make([]func([]Document), 0, len(s.subs[collection]))
		for _, cb := range s.subs[collection] {
			callbacks = append(callbacks, cb)
		}
		s.mu.Unlock()
		for _, cb := range callbacks {
			cb(docs)
		}
	}
}

// Tx is the handle passed to RunTransaction callbacks.
type Tx struct {
	tx      *sqlx.Tx
	now     time.Time
	touched map[string]struct{}
}

// Now is the transaction timestamp. Every write in the transaction shares it.
func (t *Tx) Now() time.Time {
	return t.now
}

// Get reads one document inside the transaction.
func (t *Tx) Get(ref Ref) (Document, error) {
	var row struct {
		ID        string `db:"id"`
		CreatedAt int64  `db:"created_at"`
		Data      string `db:"data"`
	}
	err := t.tx.Get(&row,
		`SELECT id, created_at, data FROM documents WHERE collection = ? AND id = ?`, ref.Collection, ref.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return Document{ID: row.ID, CreatedAt: row.CreatedAt, Data: json.RawMessage(row.Data)}, nil
}

// Set writes data to ref, creating the document if needed. The creation time
// of an existing document is preserved.
func (t *Tx) Set(ref Ref, data any) error {
	if ref.ID == "" {
		return fmt.Errorf("set %s: empty document id", ref.Collection)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", ref.Collection, ref.ID, err)
	}
	_, err = t.tx.Exec(
		`INSERT INTO documents (collection, id, created_at, data) VALUES (?, ?, ?, ?)
         ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data`,
		ref.Collection, ref.ID, t.now.UnixMilli(), string(payload))
	if err != nil {
		return err
	}
	t.touched[ref.Collection] = struct{}{}
	return nil
}

// Update merges partial into the existing document body.
func (t *Tx) Update(ref Ref, partial map[string]any) error {
	doc, err := t.Get(ref)
	if err != nil {
		return err
	}
	body := make(map[string]any)
	if err := json.Unmarshal(doc.Data, &body); err != nil {
		return fmt.Errorf("update %s/%s: %w", ref.Collection, ref.ID, err)
	}
	for k, v := range partial {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", ref.Collection, ref.ID, err)
	}
	if _, err := t.tx.Exec(
		`UPDATE documents SET data = ? WHERE collection = ? AND id = ?`,
		string(payload), ref.Collection, ref.ID); err != nil {
		return err
	}
	t.touched[ref.Collection] = struct{}{}
	return nil
}

// Delete removes the document at ref.
func (t *Tx) Delete(ref Ref) error {
	res, err := t.tx.Exec(`DELETE FROM documents WHERE collection = ? AND id = ?`, ref.Collection, ref.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	t.touched[ref.Collection] = struct{}{}
	return nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}

func isPermission(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_READONLY") ||
		strings.Contains(msg, "readonly database") ||
		strings.Contains(msg, "permission denied")
}

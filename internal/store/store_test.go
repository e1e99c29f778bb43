package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"medibill/m/internal/database"
	"medibill/m/internal/migrations"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Connect(":memory:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(db, log)
}

func TestCreateGetAndListOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, "clients", map[string]any{"patientName": "first"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := s.Create(ctx, "clients", map[string]any{"patientName": "second"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	third, err := s.Create(ctx, "clients", map[string]any{"patientName": "third"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, "clients", second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body map[string]any
	if err := got.Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["patientName"] != "second" {
		t.Fatalf("got %v, want second", body["patientName"])
	}

	docs, err := s.List(ctx, "clients")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}
	// Newest first, insertion order breaking timestamp ties.
	wantOrder := []string{third.ID, second.ID, first.ID}
	for i, want := range wantOrder {
		if docs[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, docs[i].ID, want)
		}
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "clients", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUpdateMergesPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.Create(ctx, "clients", map[string]any{"patientName": "a", "address": "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Update(ctx, "clients", doc.ID, map[string]any{"patientName": "b"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get(ctx, "clients", doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body map[string]any
	if err := got.Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["patientName"] != "b" || body["address"] != "x" {
		t.Fatalf("merge produced %v", body)
	}

	if err := s.Update(ctx, "clients", "nope", map[string]any{"patientName": "c"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.Create(ctx, "doctors", map[string]any{"name": "dr"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(ctx, "doctors", doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "doctors", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "doctors", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestSubscribeDeliversOrderedSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var snapshots [][]Document
	unsub := s.Subscribe("medicines", func(docs []Document) {
		snapshots = append(snapshots, docs)
	})

	if len(snapshots) != 1 || len(snapshots[0]) != 0 {
		t.Fatalf("expected one empty initial snapshot, got %d", len(snapshots))
	}

	if _, err := s.Create(ctx, "medicines", map[string]any{"name": "one"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, "medicines", map[string]any{"name": "two"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(snapshots))
	}
	last := snapshots[len(snapshots)-1]
	if len(last) != 2 {
		t.Fatalf("last snapshot has %d documents, want 2", len(last))
	}
	var body map[string]any
	if err := last[0].Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["name"] != "two" {
		t.Fatalf("newest-first violated: %v", body)
	}

	// Writes to other collections do not notify this subscriber.
	if _, err := s.Create(ctx, "clients", map[string]any{"patientName": "p"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("cross-collection notification leaked")
	}

	unsub()
	if _, err := s.Create(ctx, "medicines", map[string]any{"name": "three"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("subscriber notified after unsubscribe")
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunTransaction(ctx, func(tx *Tx) error {
		if err := tx.Set(Ref{Collection: "counters", ID: "invoices"}, map[string]any{"lastNumber": 9}); err != nil {
			return err
		}
		if err := tx.Set(Ref{Collection: "invoices", ID: NewID()}, map[string]any{"invoiceNumber": "BAF-000009"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	if _, err := s.Get(ctx, "counters", "invoices"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("counter leaked out of aborted transaction: %v", err)
	}
	docs, err := s.List(ctx, "invoices")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("invoice leaked out of aborted transaction")
	}
}

func TestTransactionSetPreservesCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.Create(ctx, "manufacturers", map[string]any{"name": "Acme"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	err = s.RunTransaction(ctx, func(tx *Tx) error {
		return tx.Set(Ref{Collection: "manufacturers", ID: doc.ID}, map[string]any{"name": "Acme Pharma"})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	got, err := s.Get(ctx, "manufacturers", doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CreatedAt != doc.CreatedAt {
		t.Fatalf("created_at changed from %d to %d", doc.CreatedAt, got.CreatedAt)
	}
}

func TestConcurrentTransactionsSerialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref := Ref{Collection: "counters", ID: "invoices"}

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.RunTransaction(ctx, func(tx *Tx) error {
				last := int64(0)
				doc, err := tx.Get(ref)
				switch {
				case err == nil:
					var body struct {
						LastNumber int64 `json:"lastNumber"`
					}
					if err := json.Unmarshal(doc.Data, &body); err != nil {
						return err
					}
					last = body.LastNumber
				case errors.Is(err, ErrNotFound):
				default:
					return err
				}
				return tx.Set(ref, map[string]any{"lastNumber": last + 1})
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}
	doc, err := s.Get(ctx, "counters", "invoices")
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	var body struct {
		LastNumber int64 `json:"lastNumber"`
	}
	if err := json.Unmarshal(doc.Data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.LastNumber != writers {
		t.Fatalf("lost increment: got %d, want %d", body.LastNumber, writers)
	}
}

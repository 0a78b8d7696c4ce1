package datastore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/flow-hydraulics/credential-vault/datastore"
	"github.com/flow-hydraulics/credential-vault/internal/test"
	"github.com/google/go-cmp/cmp"
)

type record struct {
	UserID string   `json:"userId"`
	Items  []string `json:"items"`
}

func newStore(t *testing.T) *datastore.GormStore {
	cfg := test.LoadConfig(t)
	return datastore.NewGormStore(test.GetDatabase(t, cfg))
}

func TestGormStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if _, err := s.Get(ctx, "things", "missing", &record{}); !errors.Is(err, datastore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "things", "u1", record{UserID: "u1", Items: []string{"a"}}); err != nil {
		t.Fatal(err)
	}

	got := record{}
	v1, err := s.Get(ctx, "things", "u1", &got)
	if err != nil {
		t.Fatal(err)
	}
	if v1 != 1 {
		t.Errorf("expected version 1, got %d", v1)
	}
	if diff := cmp.Diff([]string{"a"}, got.Items); diff != "" {
		t.Errorf("unexpected items (-want +got):\n%s", diff)
	}

	if err := s.Set(ctx, "things", "u1", record{UserID: "u1", Items: []string{"a", "b"}}); err != nil {
		t.Fatal(err)
	}

	v2, err := s.Get(ctx, "things", "u1", &got)
	if err != nil {
		t.Fatal(err)
	}
	if v2 != 2 {
		t.Errorf("expected version 2, got %d", v2)
	}
	if diff := cmp.Diff([]string{"a", "b"}, got.Items); diff != "" {
		t.Errorf("unexpected items (-want +got):\n%s", diff)
	}

	// Same id in another collection is a different document
	if _, err := s.Get(ctx, "other", "u1", nil); !errors.Is(err, datastore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGormStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if err := s.Update(ctx, "things", "u1", 0, record{UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(ctx, "things", "u1", 0, record{UserID: "u1"}); !errors.Is(err, datastore.ErrConflict) {
		t.Fatalf("expected create-only update to conflict, got %v", err)
	}

	v, err := s.Get(ctx, "things", "u1", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Two writers read the same version, only the first one wins
	if err := s.Update(ctx, "things", "u1", v, record{UserID: "u1", Items: []string{"first"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(ctx, "things", "u1", v, record{UserID: "u1", Items: []string{"second"}}); !errors.Is(err, datastore.ErrConflict) {
		t.Fatalf("expected stale update to conflict, got %v", err)
	}

	got := record{}
	if _, err := s.Get(ctx, "things", "u1", &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"first"}, got.Items); diff != "" {
		t.Errorf("unexpected items (-want +got):\n%s", diff)
	}
}

func TestGormStoreDeleteAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for id, userID := range map[string]string{"a": "u1", "b": "u1", "c": "u2"} {
		if err := s.Set(ctx, "things", id, record{UserID: userID}); err != nil {
			t.Fatal(err)
		}
	}

	dd, err := s.QueryWhere(ctx, "things", "userId", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(dd) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(dd))
	}

	existed, err := s.Delete(ctx, "things", "a")
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Error("expected the first delete to find the document")
	}

	existed, err = s.Delete(ctx, "things", "a")
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Error("expected the second delete to find nothing")
	}

	dd, err = s.QueryWhere(ctx, "things", "userId", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(dd) != 1 {
		t.Fatalf("expected 1 document, got %d", len(dd))
	}

	got := record{}
	if err := dd[0].Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.UserID != "u1" {
		t.Errorf(`expected "userId" to equal "u1", got "%s"`, got.UserID)
	}
}

func TestGormStoreList(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if err := s.Set(ctx, "things", "a", record{UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "things", "b", record{UserID: "u2"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "other", "c", record{UserID: "u3"}); err != nil {
		t.Fatal(err)
	}

	dd, err := s.List(ctx, "things")
	if err != nil {
		t.Fatal(err)
	}
	if len(dd) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(dd))
	}

	dd, err = s.List(ctx, "empty")
	if err != nil {
		t.Fatal(err)
	}
	if len(dd) != 0 {
		t.Fatalf("expected no documents, got %d", len(dd))
	}
}

// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/nhle/mailsort/internal/ledger"
	"github.com/nhle/mailsort/internal/store"
	"github.com/nhle/mailsort/internal/taxonomy"
)

// NewTestStore opens an in-memory SQLiteStore with the schema applied and
// closes it when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewTestLedger returns a fresh store and a ledger persisting into it.
func NewTestLedger(t *testing.T) (*store.SQLiteStore, *ledger.Ledger) {
	t.Helper()
	s := NewTestStore(t)
	return s, ledger.New(s)
}

// SaveTaxonomyYAML parses doc and saves it as the current taxonomy.
func SaveTaxonomyYAML(t *testing.T, s store.Store, doc string) {
	t.Helper()

	root, err := taxonomy.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parsing taxonomy: %v", err)
	}
	if err := s.SaveTaxonomy(context.Background(), root); err != nil {
		t.Fatalf("saving taxonomy: %v", err)
	}
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsort/internal/model"
)

// TaxonomyKey is the kv key the taxonomy tree is stored under.
const TaxonomyKey = "taxonomy"

// SaveTaxonomy stores root as JSON under TaxonomyKey.
func (s *SQLiteStore) SaveTaxonomy(ctx context.Context, root *model.TaxonomyNode) error {
	data, err := json.Marshal(root)
	if err != nil {
		return fmt.Errorf("marshaling taxonomy: %w", err)
	}
	return s.Set(ctx, TaxonomyKey, data)
}

// LoadTaxonomy returns the stored taxonomy or nil when none is saved.
func (s *SQLiteStore) LoadTaxonomy(ctx context.Context) (*model.TaxonomyNode, error) {
	data, err := s.Get(ctx, TaxonomyKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var root model.TaxonomyNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("unmarshaling taxonomy: %w", err)
	}
	return &root, nil
}

// SeenMessageIDs returns the ids shown in the last Unclassified listing.
func (s *SQLiteStore) SeenMessageIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, "SELECT message_id FROM seen_messages"); err != nil {
		return nil, fmt.Errorf("querying seen messages: %w", err)
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return seen, nil
}

// ReplaceSeenMessageIDs replaces the seen set with ids.
func (s *SQLiteStore) ReplaceSeenMessageIDs(ctx context.Context, ids []string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM seen_messages"); err != nil {
			return fmt.Errorf("clearing seen messages: %w", err)
		}

		stmt, err := tx.PreparexContext(ctx,
			"INSERT OR IGNORE INTO seen_messages (message_id, seen_at) VALUES (?, ?)",
		)
		if err != nil {
			return fmt.Errorf("preparing seen insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id, now); err != nil {
				return fmt.Errorf("recording seen message %s: %w", id, err)
			}
		}
		return nil
	})
}

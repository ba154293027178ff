package store

import (
	"context"
	"errors"

	"github.com/nhle/mailsort/internal/model"
)

// ErrNotFound is returned when a key or record does not exist.
var ErrNotFound = errors.New("not found")

// KV is the persistent key-value surface the ledger and tag snapshot are
// kept in. Writes are committed before the call returns.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists every key starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// NotificationLog records messages placed in the Unclassified folder.
type NotificationLog interface {
	AppendNotification(ctx context.Context, n model.Notification) error
	ListNotifications(ctx context.Context, unreadOnly bool) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	ClearNotifications(ctx context.Context) error
}

// Store defines the full persistence interface.
type Store interface {
	KV
	NotificationLog

	// === Taxonomy ===

	// SaveTaxonomy persists the taxonomy tree that drives classification.
	SaveTaxonomy(ctx context.Context, root *model.TaxonomyNode) error
	// LoadTaxonomy returns the saved taxonomy, or nil if none was saved.
	LoadTaxonomy(ctx context.Context) (*model.TaxonomyNode, error)

	// === Seen messages (Unclassified view) ===

	SeenMessageIDs(ctx context.Context) (map[string]struct{}, error)
	ReplaceSeenMessageIDs(ctx context.Context, ids []string) error

	Close() error
}

var _ Store = (*SQLiteStore)(nil)

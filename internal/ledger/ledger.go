// Package ledger records which messages have already been copied into
// which taxonomy folder, so repeated runs never copy a message into the
// same folder twice.
//
// Every path owns a persisted id list under KeyPrefix+escaped path. The
// global set is the in-memory union of those lists for the current run.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/nhle/mailsort/internal/store"
	"github.com/nhle/mailsort/internal/taxonomy"
)

// KeyPrefix prefixes every per-path key in the key-value store.
const KeyPrefix = "copied_"

// SnapshotKey is the key the last applied tag snapshot is stored under.
const SnapshotKey = "tags_hierarchy"

// Key returns the key-value store key of path.
func Key(path string) string {
	return KeyPrefix + url.PathEscape(path)
}

// Ledger is safe for concurrent use, though a run drives it sequentially.
type Ledger struct {
	kv store.KV

	mu     sync.Mutex
	paths  map[string]*pathSet
	global map[string]struct{}
}

// pathSet keeps the persisted order alongside a lookup set.
type pathSet struct {
	ids  []string
	have map[string]struct{}
}

func newPathSet(ids []string) *pathSet {
	ps := &pathSet{have: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		ps.add(id)
	}
	return ps
}

func (ps *pathSet) add(id string) bool {
	if _, ok := ps.have[id]; ok {
		return false
	}
	ps.have[id] = struct{}{}
	ps.ids = append(ps.ids, id)
	return true
}

func (ps *pathSet) remove(id string) bool {
	if _, ok := ps.have[id]; !ok {
		return false
	}
	delete(ps.have, id)
	for i, v := range ps.ids {
		if v == id {
			ps.ids = append(ps.ids[:i:i], ps.ids[i+1:]...)
			break
		}
	}
	return true
}

// New returns a ledger with an empty global set over kv.
func New(kv store.KV) *Ledger {
	return &Ledger{
		kv:     kv,
		paths:  make(map[string]*pathSet),
		global: make(map[string]struct{}),
	}
}

// LoadAll reads every per-path list and rebuilds the global set as their
// union. It returns the size of the global set.
func (l *Ledger) LoadAll(ctx context.Context) (int, error) {
	keys, err := l.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("listing ledger keys: %w", err)
	}

	paths := make(map[string]*pathSet, len(keys))
	global := make(map[string]struct{})
	for _, key := range keys {
		path, err := url.PathUnescape(key[len(KeyPrefix):])
		if err != nil {
			return 0, fmt.Errorf("decoding ledger key %q: %w", key, err)
		}
		ids, err := l.read(ctx, key)
		if err != nil {
			return 0, err
		}
		paths[path] = newPathSet(ids)
		for _, id := range ids {
			global[id] = struct{}{}
		}
	}

	l.mu.Lock()
	l.paths = paths
	l.global = global
	l.mu.Unlock()

	return len(global), nil
}

func (l *Ledger) read(ctx context.Context, key string) ([]string, error) {
	data, err := l.kv.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return ids, nil
}

// set returns the cached list of path, loading it on first use. Callers
// hold l.mu.
func (l *Ledger) set(ctx context.Context, path string) (*pathSet, error) {
	if ps, ok := l.paths[path]; ok {
		return ps, nil
	}
	ids, err := l.read(ctx, Key(path))
	if err != nil {
		return nil, err
	}
	ps := newPathSet(ids)
	l.paths[path] = ps
	return ps, nil
}

func (l *Ledger) persist(ctx context.Context, path string, ps *pathSet) error {
	if len(ps.ids) == 0 {
		if err := l.kv.Remove(ctx, Key(path)); err != nil {
			return fmt.Errorf("removing ledger entry for %s: %w", path, err)
		}
		return nil
	}

	data, err := json.Marshal(ps.ids)
	if err != nil {
		return fmt.Errorf("encoding ledger entry for %s: %w", path, err)
	}
	if err := l.kv.Set(ctx, Key(path), data); err != nil {
		return fmt.Errorf("saving ledger entry for %s: %w", path, err)
	}
	return nil
}

// Has reports whether id was recorded under path.
func (l *Ledger) Has(ctx context.Context, path, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ps, err := l.set(ctx, path)
	if err != nil {
		return false, err
	}
	_, ok := ps.have[id]
	return ok, nil
}

// HasGlobal reports whether id is in the global set.
func (l *Ledger) HasGlobal(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.global[id]
	return ok
}

// Record adds id to the list of path and to the global set. The list is
// persisted before Record returns; if that fails the in-memory state is
// left unchanged.
func (l *Ledger) Record(ctx context.Context, path, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ps, err := l.set(ctx, path)
	if err != nil {
		return err
	}

	if ps.add(id) {
		if err := l.persist(ctx, path, ps); err != nil {
			ps.remove(id)
			return err
		}
	}
	l.global[id] = struct{}{}
	return nil
}

// Forget removes id from the list of path and persists the result. The
// global set is left alone.
func (l *Ledger) Forget(ctx context.Context, path, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ps, err := l.set(ctx, path)
	if err != nil {
		return err
	}

	if ps.remove(id) {
		if err := l.persist(ctx, path, ps); err != nil {
			ps.add(id)
			return err
		}
	}
	return nil
}

// DropGlobal removes id from the global set only.
func (l *Ledger) DropGlobal(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.global, id)
}

// ResetGlobal empties the global set.
func (l *Ledger) ResetGlobal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.global = make(map[string]struct{})
}

// ClearAll deletes every per-path list and the tag snapshot, and resets
// the in-memory state.
func (l *Ledger) ClearAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, err := l.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		return fmt.Errorf("listing ledger keys: %w", err)
	}
	for _, key := range append(keys, SnapshotKey) {
		if err := l.kv.Remove(ctx, key); err != nil {
			return fmt.Errorf("clearing %s: %w", key, err)
		}
	}

	l.paths = make(map[string]*pathSet)
	l.global = make(map[string]struct{})
	return nil
}

// IDs returns the recorded ids of path in recording order.
func (l *Ledger) IDs(ctx context.Context, path string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ps, err := l.set(ctx, path)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), ps.ids...), nil
}

// GlobalSize returns the number of ids in the global set.
func (l *Ledger) GlobalSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.global)
}

// LoadSnapshot returns the persisted tag snapshot, empty when none exists.
func (l *Ledger) LoadSnapshot(ctx context.Context) (taxonomy.TagSnapshot, error) {
	data, err := l.kv.Get(ctx, SnapshotKey)
	if errors.Is(err, store.ErrNotFound) {
		return taxonomy.TagSnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading tag snapshot: %w", err)
	}
	return taxonomy.UnmarshalSnapshot(data)
}

// SaveSnapshot persists snap as the last applied tag snapshot.
func (l *Ledger) SaveSnapshot(ctx context.Context, snap taxonomy.TagSnapshot) error {
	data, err := snap.Marshal()
	if err != nil {
		return err
	}
	if err := l.kv.Set(ctx, SnapshotKey, data); err != nil {
		return fmt.Errorf("saving tag snapshot: %w", err)
	}
	return nil
}

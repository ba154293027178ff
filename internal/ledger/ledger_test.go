package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsort/internal/ledger"
	"github.com/nhle/mailsort/internal/store"
	"github.com/nhle/mailsort/internal/taxonomy"
	"github.com/nhle/mailsort/tests/testutil"
)

func TestKey_EscapesPath(t *testing.T) {
	assert.Equal(t, "copied_Taxonomy%2FFinance%20Stuff", ledger.Key("Taxonomy/Finance Stuff"))
}

func TestRecord_NoDuplicatesAndPersisted(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	l := ledger.New(s)

	require.NoError(t, l.Record(ctx, "T/A", "m1"))
	require.NoError(t, l.Record(ctx, "T/A", "m1"))
	require.NoError(t, l.Record(ctx, "T/A", "m2"))

	ids, err := l.IDs(ctx, "T/A")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids)

	raw, err := s.Get(ctx, ledger.Key("T/A"))
	require.NoError(t, err)
	assert.JSONEq(t, `["m1","m2"]`, string(raw))

	has, err := l.Has(ctx, "T/A", "m1")
	require.NoError(t, err)
	assert.True(t, has)
	assert.True(t, l.HasGlobal("m2"))

	has, err = l.Has(ctx, "T/B", "m1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestLoadAll_UnionsEveryPath(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	first := ledger.New(s)
	require.NoError(t, first.Record(ctx, "T/A", "m1"))
	require.NoError(t, first.Record(ctx, "T/B", "m1"))
	require.NoError(t, first.Record(ctx, "T/B", "m2"))
	require.NoError(t, s.Set(ctx, "unrelated", []byte("x")))

	second := ledger.New(s)
	assert.False(t, second.HasGlobal("m1"))

	n, err := second.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, second.HasGlobal("m1"))
	assert.True(t, second.HasGlobal("m2"))

	has, err := second.Has(ctx, "T/B", "m2")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestForget_KeepsGlobalAndRemovesEmptyKey(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	l := ledger.New(s)

	require.NoError(t, l.Record(ctx, "T/U", "m1"))
	require.NoError(t, l.Forget(ctx, "T/U", "m1"))
	require.NoError(t, l.Forget(ctx, "T/U", "missing"))

	has, err := l.Has(ctx, "T/U", "m1")
	require.NoError(t, err)
	assert.False(t, has)
	assert.True(t, l.HasGlobal("m1"))

	_, err = s.Get(ctx, ledger.Key("T/U"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	l.DropGlobal("m1")
	assert.False(t, l.HasGlobal("m1"))
}

func TestClearAll(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	l := ledger.New(s)

	require.NoError(t, l.Record(ctx, "T/A", "m1"))
	require.NoError(t, l.SaveSnapshot(ctx, taxonomy.TagSnapshot{{Node: "T/A", Tags: []string{"x"}}}))
	require.NoError(t, s.Set(ctx, "notifications-unrelated", []byte("keep")))

	require.NoError(t, l.ClearAll(ctx))

	assert.Equal(t, 0, l.GlobalSize())
	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"notifications-unrelated"}, keys)

	snap, err := l.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestSnapshot_SaveLoad(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	l := ledger.New(s)

	want := taxonomy.TagSnapshot{{Node: "T/A/B", Tags: []string{"x", "y"}}}
	require.NoError(t, l.SaveSnapshot(ctx, want))

	got, err := l.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

type failingKV struct {
	store.KV
	failSet bool
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.KV.Set(ctx, key, value)
}

func TestRecord_PersistFailureLeavesStateUnchanged(t *testing.T) {
	kv := &failingKV{KV: testutil.NewTestStore(t), failSet: true}
	ctx := context.Background()
	l := ledger.New(kv)

	err := l.Record(ctx, "T/A", "m1")
	require.Error(t, err)

	has, err := l.Has(ctx, "T/A", "m1")
	require.NoError(t, err)
	assert.False(t, has)
	assert.False(t, l.HasGlobal("m1"))
}

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/store"
	"github.com/nhle/mailsort/tests/testutil"
)

func TestKV_SetGetRemove(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Set(ctx, "a", []byte(`["x"]`)))
	require.NoError(t, s.Set(ctx, "a", []byte(`["x","y"]`)))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, `["x","y"]`, string(got))

	require.NoError(t, s.Remove(ctx, "a"))
	require.NoError(t, s.Remove(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestKV_KeysByPrefix(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"copied:b", "copied:a", "copied_x", "taxonomy", "copied:%"} {
		require.NoError(t, s.Set(ctx, k, []byte("1")))
	}

	keys, err := s.Keys(ctx, "copied:")
	require.NoError(t, err)
	assert.Equal(t, []string{"copied:%", "copied:a", "copied:b"}, keys)

	all, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestNotifications(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendNotification(ctx, model.Notification{
		ID: "n1", MessageID: "m1", Subject: "hello", Author: "a@example.com",
		Date: base, CreatedAt: base,
	}))
	require.NoError(t, s.AppendNotification(ctx, model.Notification{
		ID: "n2", MessageID: "m2", Subject: "later", Date: base, CreatedAt: base.Add(time.Hour),
	}))

	all, err := s.ListNotifications(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "n2", all[0].ID)
	assert.Equal(t, "hello", all[1].Subject)
	assert.True(t, base.Equal(all[1].Date))

	require.NoError(t, s.MarkNotificationRead(ctx, "n1"))
	assert.ErrorIs(t, s.MarkNotificationRead(ctx, "nope"), store.ErrNotFound)

	unread, err := s.ListNotifications(ctx, true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "n2", unread[0].ID)

	require.NoError(t, s.ClearNotifications(ctx))
	all, err = s.ListNotifications(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTaxonomy_SaveLoad(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	root, err := s.LoadTaxonomy(ctx)
	require.NoError(t, err)
	assert.Nil(t, root)

	want := &model.TaxonomyNode{
		Topic: "root",
		Children: []*model.TaxonomyNode{
			{Topic: "Finance", Tags: []string{"invoice"}},
			{Topic: "Empty", Tags: []string{}},
		},
	}
	require.NoError(t, s.SaveTaxonomy(ctx, want))

	got, err := s.LoadTaxonomy(ctx)
	require.NoError(t, err)
	require.Len(t, got.Children, 2)
	assert.Equal(t, []string{"invoice"}, got.Children[0].Tags)
	assert.True(t, got.Children[1].HasTags())
	assert.False(t, got.HasTags())
}

func TestSeenMessageIDs(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seen, err := s.SeenMessageIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, seen)

	require.NoError(t, s.ReplaceSeenMessageIDs(ctx, []string{"a", "b", "a"}))
	require.NoError(t, s.ReplaceSeenMessageIDs(ctx, []string{"b", "c"}))

	seen, err = s.SeenMessageIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"b": {}, "c": {}}, seen)
}

func TestMigrations_Reopen(t *testing.T) {
	path := t.TempDir() + "/mailsort.db"

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

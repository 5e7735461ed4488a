package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "pw.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type entry struct {
	ServiceID string `json:"service_id"`
	DocType   string `json:"doc_type"`
}

func TestArea_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	a := newTestDB(t).Area(AreaSync)

	var got []entry
	ok, err := a.Get(ctx, "watchlist", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Set(ctx, "watchlist", []entry{{ServiceID: "fb", DocType: "privacy_policy"}}))
	ok, err = a.Get(ctx, "watchlist", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []entry{{ServiceID: "fb", DocType: "privacy_policy"}}, got)

	require.NoError(t, a.Set(ctx, "watchlist", []entry{}))
	ok, err = a.Get(ctx, "watchlist", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)

	require.NoError(t, a.Remove(ctx, "watchlist"))
	ok, err = a.Get(ctx, "watchlist", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArea_TiersAreIsolated(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.Area(AreaSync).Set(ctx, "k", "sync"))
	require.NoError(t, db.Area(AreaLocal).Set(ctx, "k", "local"))

	var v string
	_, err := db.Area(AreaSync).Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.Equal(t, "sync", v)

	_, err = db.Area(AreaLocal).Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.Equal(t, "local", v)
}

func TestClearArea(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.Area(AreaSession).Set(ctx, "tab_result:1", map[string]any{"ok": true}))
	require.NoError(t, db.Area(AreaSession).Set(ctx, "tab_result:2", map[string]any{"ok": false}))
	require.NoError(t, db.Area(AreaLocal).Set(ctx, "seen_map", map[string]string{}))

	keys, err := db.ListKeys(ctx, AreaSession)
	require.NoError(t, err)
	assert.Equal(t, []string{"tab_result:1", "tab_result:2"}, keys)

	require.NoError(t, db.ClearArea(ctx, AreaSession))

	keys, err = db.ListKeys(ctx, AreaSession)
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = db.ListKeys(ctx, AreaLocal)
	require.NoError(t, err)
	assert.Equal(t, []string{"seen_map"}, keys)

	assert.Error(t, db.ClearArea(ctx, "cloud"))
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "a", map[string]string{"x": "1"}))
	var got map[string]string
	ok, err := m.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	got["x"] = "mutated"

	var again map[string]string
	_, _ = m.Get(ctx, "a", &again)
	assert.Equal(t, "1", again["x"])

	require.NoError(t, m.Remove(ctx, "a"))
	assert.Equal(t, 0, m.Len())
}

package statestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s, path
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "default", "view_queue")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "default", "view_queue", `["Title","Artist"]`))
	require.NoError(t, s.Put(ctx, "default", "view_queue", `["Title"]`))
	require.NoError(t, s.Put(ctx, "kitchen", "view_queue", `["Album"]`))

	v, ok, err := s.Get(ctx, "default", "view_queue")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["Title"]`, v)

	require.NoError(t, s.PutAll(ctx, "default", map[string]string{"jukebox_mode": "song", "jukebox_queue": "[]"}))
	all, err := s.List(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"view_queue":    `["Title"]`,
		"jukebox_mode":  "song",
		"jukebox_queue": "[]",
	}, all)

	require.NoError(t, s.DeletePartition(ctx, "default"))
	all, err = s.List(ctx, "default")
	require.NoError(t, err)
	assert.Empty(t, all)

	v, ok, err = s.Get(ctx, "kitchen", "view_queue")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["Album"]`, v)
}

func TestReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "default", "k", "v"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Get(context.Background(), "default", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

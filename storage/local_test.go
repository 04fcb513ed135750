package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutOverwrites(t *testing.T) {
	s := NewLocalStore(t.TempDir(), "https://cdn.example.com")
	ctx := context.Background()

	key := "models/demo/1.0.1/Cube_high.stl"
	require.NoError(t, s.Put(ctx, key, "model/stl", []byte("first")))
	require.NoError(t, s.Put(ctx, key, "model/stl", []byte("second")))

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	assert.Equal(t, "https://cdn.example.com/"+key, s.URL(key))
}

func TestLocalStore_GetMissing(t *testing.T) {
	s := NewLocalStore(t.TempDir(), "")
	_, err := s.Get(context.Background(), "models/demo/9.9.9/assembly.json")
	assert.Equal(t, ErrNotFound, err)
}

func TestLocalStore_ListPrefix(t *testing.T) {
	s := NewLocalStore(t.TempDir(), "")
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "models/demo/1.0.1/Cube_high.stl", "model/stl", []byte("a")))
	require.NoError(t, s.Put(ctx, "models/demo/1.0.1/assembly.json", "application/json", []byte("b")))
	require.NoError(t, s.Put(ctx, "models/demo/1.0.2/Cube_high.stl", "model/stl", []byte("c")))

	keys, err := s.List(ctx, "models/demo/1.0.1")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = s.List(ctx, "models/other")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

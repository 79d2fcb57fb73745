package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestFileStore_RoundTripAndLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	var got sample
	assert.ErrorIs(t, LoadJSON(ctx, s, "ns:key", &got), ErrNotFound)

	require.NoError(t, SaveJSON(ctx, s, "ns:key", sample{Name: "a", Value: 1}))
	require.NoError(t, SaveJSON(ctx, s, "ns:key", sample{Name: "b", Value: 2}))

	require.NoError(t, LoadJSON(ctx, s, "ns:key", &got))
	assert.Equal(t, sample{Name: "b", Value: 2}, got)
}

func TestFileStore_CorruptBlob(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ns_broken.json"), []byte("{not json"), 0o600))

	var got sample
	err = LoadJSON(ctx, s, "ns:broken", &got)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CopiesData(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	buf := []byte(`{"name":"x"}`)
	require.NoError(t, s.Save(ctx, "k", buf))
	buf[2] = 'X'

	raw, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"x"}`, string(raw))
	assert.Equal(t, 1, s.Writes())
}

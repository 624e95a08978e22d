package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8080/")
	require.NoError(t, err)
	return s
}

func TestLocalStorage_PutAndURL(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "uploads/a.png", strings.NewReader("png"), PutOptions{}))

	got, err := os.ReadFile(filepath.Join(s.Root(), "uploads", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(got))

	url, err := s.URL(ctx, "uploads/a.png", 0)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/uploads/a.png", url)

	ok, err := s.Exists(ctx, "uploads/a.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalStorage_PutRefusesOverwrite(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", strings.NewReader("one"), PutOptions{}))
	err := s.Put(ctx, "k", strings.NewReader("two"), PutOptions{})
	assert.ErrorIs(t, err, ErrKeyExists)

	require.NoError(t, s.Put(ctx, "k", strings.NewReader("two"), PutOptions{Overwrite: true}))
	got, _ := os.ReadFile(filepath.Join(s.Root(), "k"))
	assert.Equal(t, "two", string(got))
}

func TestLocalStorage_MaxSize(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	err := s.Put(ctx, "big", strings.NewReader("0123456789"), PutOptions{MaxSize: 4})
	assert.ErrorIs(t, err, ErrTooLarge)

	ok, err := s.Exists(ctx, "big")
	require.NoError(t, err)
	assert.False(t, ok, "oversized writes leave nothing behind")
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	for _, key := range []string{"", "../etc/passwd", "/abs", "a/../../b"} {
		err := s.Put(ctx, key, strings.NewReader("x"), PutOptions{})
		assert.True(t, IsInvalidKey(err), key)
	}
}

func TestLocalStorage_Delete(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "gone", strings.NewReader("x"), PutOptions{}))
	require.NoError(t, s.Delete(ctx, "gone"))
	require.NoError(t, s.Delete(ctx, "gone"), "deleting a missing key is not an error")

	ok, err := s.Exists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

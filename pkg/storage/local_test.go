package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir(), URLPrefix: "/uploads/"})
	require.NoError(t, err)
	return s
}

func TestLocalStorage_WriteReadDelete(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, Object{Key: "chat/a/b.png", Body: strings.NewReader("hello")}))

	ok, err := s.Exists(ctx, "chat/a/b.png")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Read(ctx, "chat/a/b.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	url, err := s.GetURL(ctx, "chat/a/b.png", 0)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/chat/a/b.png", url)

	require.NoError(t, s.Delete(ctx, "chat/a/b.png"))
	ok, err = s.Exists(ctx, "chat/a/b.png")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting twice is fine.
	assert.NoError(t, s.Delete(ctx, "chat/a/b.png"))
}

func TestLocalStorage_Missing(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	_, err := s.Read(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetURL(ctx, "nope", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorage_KeysStayBelowBase(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, Object{Key: "../../escape.txt", Body: strings.NewReader("x")}))

	_, err := os.Stat(filepath.Join(s.BasePath(), "escape.txt"))
	assert.NoError(t, err)

	assert.Error(t, s.Write(ctx, Object{Key: "/", Body: strings.NewReader("x")}))
}

func TestLocalStorage_NoTempFilesLeft(t *testing.T) {
	s := newTestLocal(t)
	require.NoError(t, s.Write(context.Background(), Object{Key: "dir/file.bin", Body: strings.NewReader("data")}))

	entries, err := os.ReadDir(filepath.Join(s.BasePath(), "dir"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file.bin", entries[0].Name())
}

package uploader

import (
	"context"
	"encoding/base64"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/blog-chat/internal/config"
	"github.com/weiawesome/blog-chat/pkg/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

func newTestUploader(t *testing.T, cfg config.UploadConfig) (*Uploader, *storage.LocalStorage) {
	t.Helper()
	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir(), URLPrefix: "/uploads"})
	require.NoError(t, err)
	u := New(local, cfg)
	u.now = func() time.Time { return time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC) }
	return u, local
}

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func TestUploader_StoreDataURL(t *testing.T) {
	u, local := newTestUploader(t, config.UploadConfig{MaxBytes: 1 << 20})
	ctx := context.Background()

	url, err := u.Store(ctx, dataURL("image/png", pngBytes), Metadata{UserID: "u1", Username: "alice", Room: "go"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(url, "/uploads/chat/20240602/go/"), url)
	assert.True(t, strings.HasSuffix(url, ".png"), url)
	assert.Contains(t, url, "-u1-go-")

	key := strings.TrimPrefix(url, "/uploads/")
	rc, err := local.Read(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}

func TestUploader_StoreKeysAreUnique(t *testing.T) {
	u, _ := newTestUploader(t, config.UploadConfig{})
	ctx := context.Background()
	meta := Metadata{UserID: "u1", Room: "go"}

	a, err := u.Store(ctx, dataURL("image/png", pngBytes), meta)
	require.NoError(t, err)
	b, err := u.Store(ctx, dataURL("image/png", pngBytes), meta)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestUploader_BareBase64IsSniffed(t *testing.T) {
	u, _ := newTestUploader(t, config.UploadConfig{})
	ctx := context.Background()

	url, err := u.Store(ctx, base64.StdEncoding.EncodeToString([]byte("GIF89a\x01\x00\x01\x00")), Metadata{Room: "go"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".gif"), url)

	url, err = u.Store(ctx, base64.StdEncoding.EncodeToString([]byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`)), Metadata{Room: "go"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".svg"), url)

	// Unrecognised bytes default to png.
	url, err = u.Store(ctx, base64.RawStdEncoding.EncodeToString([]byte("opaque")), Metadata{Room: "go"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".png"), url)
}

func TestUploader_PublicBaseURL(t *testing.T) {
	u, _ := newTestUploader(t, config.UploadConfig{PublicBaseURL: "https://cdn.example.com/"})

	url, err := u.Store(context.Background(), dataURL("image/jpeg", []byte{0xff, 0xd8, 0xff}), Metadata{Room: "go"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://cdn.example.com/chat/"), url)
	assert.True(t, strings.HasSuffix(url, ".jpeg"), url)
}

func TestUploader_Rejections(t *testing.T) {
	u, _ := newTestUploader(t, config.UploadConfig{MaxBytes: 16})
	ctx := context.Background()

	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"empty", "   ", ErrEmptyPayload},
		{"empty data", "data:image/png;base64,", ErrEmptyPayload},
		{"no comma", "data:image/png;base64", ErrMalformedPayload},
		{"not base64 encoded", "data:image/png,rawbytes", ErrMalformedPayload},
		{"bad base64", "data:image/png;base64,!!!!", ErrMalformedPayload},
		{"not an image", dataURL("text/plain", []byte("hi")), ErrUnsupportedType},
		{"too large", dataURL("image/png", make([]byte, 64)), ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := u.Store(ctx, tt.payload, Metadata{Room: "go"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUploader_Remove(t *testing.T) {
	u, local := newTestUploader(t, config.UploadConfig{})
	ctx := context.Background()

	url, err := u.Store(ctx, dataURL("image/png", pngBytes), Metadata{Room: "go"})
	require.NoError(t, err)
	key := strings.TrimPrefix(url, "/uploads/")

	require.NoError(t, u.Remove(ctx, url))
	ok, err := local.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, u.Remove(ctx, "https://elsewhere.example.com/cat.png"), ErrForeignURL)
}

func TestUploader_RemoveRejectsKeyOnOtherHost(t *testing.T) {
	u, local := newTestUploader(t, config.UploadConfig{})
	ctx := context.Background()

	url, err := u.Store(ctx, dataURL("image/png", pngBytes), Metadata{UserID: "alice", Room: "go"})
	require.NoError(t, err)
	key := strings.TrimPrefix(url, "/uploads/")

	for _, foreign := range []string{
		"https://evil.example/" + key,
		"https://evil.example/uploads/" + key,
		"/elsewhere/" + key,
	} {
		assert.ErrorIs(t, u.Remove(ctx, foreign), ErrForeignURL, foreign)
	}

	ok, err := local.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "object must survive removal attempts through foreign urls")
}

func TestUploader_RemoveWithPublicBaseURL(t *testing.T) {
	u, local := newTestUploader(t, config.UploadConfig{PublicBaseURL: "https://cdn.example.com"})
	ctx := context.Background()

	url, err := u.Store(ctx, dataURL("image/png", pngBytes), Metadata{Room: "go"})
	require.NoError(t, err)
	key := strings.TrimPrefix(url, "https://cdn.example.com/")

	assert.ErrorIs(t, u.Remove(ctx, "https://evil.example/"+key), ErrForeignURL)
	assert.ErrorIs(t, u.Remove(ctx, "https://cdn.example.com/chat/../secret"), ErrForeignURL)
	ok, err := local.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, u.Remove(ctx, url))
	ok, err = local.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUploader_JPGHintIsNormalised(t *testing.T) {
	u, local := newTestUploader(t, config.UploadConfig{})
	ctx := context.Background()

	url, err := u.Store(ctx, dataURL("image/jpg", []byte{0xff, 0xd8, 0xff}), Metadata{Room: "go"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".jpeg"), url)

	img, err := u.decode(dataURL("image/JPG", []byte{0xff, 0xd8, 0xff}))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.contentType)

	ok, err := local.Exists(ctx, strings.TrimPrefix(url, "/uploads/"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSafeSegment(t *testing.T) {
	assert.Equal(t, "general", safeSegment("", "general"))
	assert.Equal(t, "general", safeSegment("../..", "general"))
	assert.Equal(t, "go-lang_1", safeSegment("go-lang_1", "x"))
	assert.Equal(t, "部落格", safeSegment("部落格!", "x"))
	assert.Len(t, []rune(safeSegment(strings.Repeat("a", 100), "x")), 64)
}

func TestIsInline(t *testing.T) {
	assert.True(t, IsInline("data:image/png;base64,AA"))
	assert.False(t, IsInline("https://example.com/a.png"))
}

// Package uploader turns inline image payloads into stored objects.
package uploader

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/weiawesome/blog-chat/internal/config"
	"github.com/weiawesome/blog-chat/pkg/storage"
)

var (
	ErrEmptyPayload     = errors.New("image payload is empty")
	ErrMalformedPayload = errors.New("image payload is not valid base64")
	ErrUnsupportedType  = errors.New("payload is not an image")
	ErrTooLarge         = errors.New("image exceeds the upload limit")
	ErrForeignURL       = errors.New("url was not produced by this uploader")
)

const (
	defaultContentType = "image/png"
	presignExpiry      = 7 * 24 * time.Hour
)

// Metadata identifies who sent an image and where.
type Metadata struct {
	UserID   string
	Username string
	Room     string
}

type Uploader struct {
	store   storage.Storage
	baseURL string
	prefix  string
	max     int64
	now     func() time.Time
}

func New(store storage.Storage, cfg config.UploadConfig) *Uploader {
	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix == "" {
		prefix = "chat"
	}
	return &Uploader{
		store:   store,
		baseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		prefix:  prefix,
		max:     cfg.MaxBytes,
		now:     time.Now,
	}
}

// IsInline reports whether s is a data URL rather than a reference to an
// already hosted image.
func IsInline(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// Store decodes payload, a data URL or bare base64, writes it under a fresh
// key and returns the URL clients should use.
func (u *Uploader) Store(ctx context.Context, payload string, meta Metadata) (string, error) {
	img, err := u.decode(payload)
	if err != nil {
		return "", err
	}

	key := u.buildKey(meta, img.ext)
	err = u.store.Write(ctx, storage.Object{
		Key:         key,
		Body:        bytes.NewReader(img.data),
		Size:        int64(len(img.data)),
		ContentType: img.contentType,
		Metadata: map[string]string{
			"userid":   encodeMeta(meta.UserID),
			"username": encodeMeta(meta.Username),
			"room":     encodeMeta(meta.Room),
			"filetype": img.ext,
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	if u.baseURL != "" {
		return u.baseURL + "/" + key, nil
	}
	return u.store.GetURL(ctx, key, presignExpiry)
}

// Remove deletes the object behind a URL returned by Store. Any other URL,
// including one on a different host that happens to embed a valid key, is
// rejected with ErrForeignURL.
func (u *Uploader) Remove(ctx context.Context, rawURL string) error {
	key, err := u.keyFor(ctx, rawURL)
	if err != nil {
		return err
	}
	return u.store.Delete(ctx, key)
}

func (u *Uploader) keyFor(ctx context.Context, rawURL string) (string, error) {
	if u.baseURL != "" {
		rest, ok := strings.CutPrefix(rawURL, u.baseURL+"/")
		if !ok || !strings.HasPrefix(rest, u.prefix+"/") || strings.ContainsAny(rest, "?#") || strings.Contains(rest, "..") {
			return "", ErrForeignURL
		}
		return rest, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrForeignURL, err)
	}
	idx := strings.Index(parsed.Path, "/"+u.prefix+"/")
	if idx < 0 {
		return "", ErrForeignURL
	}
	key := parsed.Path[idx+1:]

	// The backend must hand out the same location for key.
	own, err := u.store.GetURL(ctx, key, presignExpiry)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrForeignURL
	}
	if err != nil {
		return "", err
	}
	expected, err := url.Parse(own)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != expected.Scheme || parsed.Host != expected.Host || parsed.Path != expected.Path {
		return "", ErrForeignURL
	}
	return key, nil
}

type image struct {
	data        []byte
	contentType string
	ext         string
}

func (u *Uploader) decode(payload string) (*image, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrEmptyPayload
	}

	mime, encoded := "", payload
	if IsInline(payload) {
		header, data, ok := strings.Cut(payload[len("data:"):], ",")
		if !ok {
			return nil, ErrMalformedPayload
		}
		var params string
		mime, params, _ = strings.Cut(header, ";")
		if !strings.Contains(params, "base64") {
			return nil, ErrMalformedPayload
		}
		mime = strings.ToLower(strings.TrimSpace(mime))
		if mime == "image/jpg" {
			mime = "image/jpeg"
		}
		encoded = data
	}
	if mime != "" && !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mime)
	}

	encoded = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, encoded)
	if encoded == "" {
		return nil, ErrEmptyPayload
	}
	if u.max > 0 && int64(base64.StdEncoding.DecodedLen(len(encoded))) > u.max+2 {
		return nil, ErrTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, ErrMalformedPayload
		}
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	if u.max > 0 && int64(len(data)) > u.max {
		return nil, ErrTooLarge
	}

	if mime == "" {
		mime = sniff(data)
	}
	return &image{data: data, contentType: mime, ext: extension(mime)}, nil
}

func sniff(data []byte) string {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if bytes.Contains(bytes.ToLower(head), []byte("<svg")) {
		return "image/svg+xml"
	}
	if detected := http.DetectContentType(data); strings.HasPrefix(detected, "image/") {
		return detected
	}
	return defaultContentType
}

func extension(mime string) string {
	if mime == "image/svg+xml" {
		return "svg"
	}
	ext := strings.Map(func(r rune) rune {
		if r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, strings.TrimPrefix(mime, "image/"))
	if ext == "" {
		return "png"
	}
	return ext
}

// buildKey groups objects by day and room:
// <prefix>/<yyyymmdd>/<room>/<unix ms>-<user>-<room>-<random>.<ext>
func (u *Uploader) buildKey(meta Metadata, ext string) string {
	now := u.now().UTC()
	room := safeSegment(meta.Room, "general")
	user := safeSegment(meta.UserID, "anonymous")
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return fmt.Sprintf("%s/%s/%s/%d-%s-%s-%s.%s",
		u.prefix, now.Format("20060102"), room, now.UnixMilli(), user, room, random, ext)
}

func safeSegment(s, fallback string) string {
	out := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return -1
	}, s)
	if r := []rune(out); len(r) > 64 {
		out = string(r[:64])
	}
	if out == "" {
		return fallback
	}
	return out
}

// encodeMeta keeps object metadata header safe for non-ASCII names.
func encodeMeta(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

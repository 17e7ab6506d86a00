// Package media persists images captured by devices so the agent backend can
// read them by path.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultMaxBytes caps a single stored file.
const DefaultMaxBytes = 10 << 20

var (
	// ErrEmpty is returned for zero-length data.
	ErrEmpty = errors.New("media: empty payload")

	// ErrTooLarge is returned when data exceeds the store's size cap.
	ErrTooLarge = errors.New("media: payload too large")
)

// Saver persists media and returns where it was stored.
type Saver interface {
	Save(ctx context.Context, data []byte, mimeType, source string) (string, error)
}

// FileStore writes media below a root directory, one subdirectory per source
// tag. Safe for concurrent use.
type FileStore struct {
	dir      string
	maxBytes int
}

var _ Saver = (*FileStore)(nil)

// Option configures a [FileStore].
type Option func(*FileStore)

// WithMaxBytes overrides [DefaultMaxBytes].
func WithMaxBytes(n int) Option {
	return func(s *FileStore) { s.maxBytes = n }
}

// NewFileStore returns a store rooted at dir. The directory is created on
// first save.
func NewFileStore(dir string, opts ...Option) *FileStore {
	s := &FileStore{dir: dir, maxBytes: DefaultMaxBytes}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Save writes data under <dir>/<source>/<uuid><ext> and returns the absolute
// path. The file appears atomically: it is written to a temporary name and
// renamed.
func (s *FileStore) Save(ctx context.Context, data []byte, mimeType, source string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("media: save: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if s.maxBytes > 0 && len(data) > s.maxBytes {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), s.maxBytes)
	}

	dir := filepath.Join(s.dir, sanitize(source))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("media: create dir: %w", err)
	}

	name := uuid.NewString() + Extension(mimeType)
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("media: create temp: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("media: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("media: close: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("media: rename: %w", err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}

// extensions maps the image types devices send to file extensions.
var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/heic": ".heic",
}

// Extension returns the file extension for mimeType, ".bin" when unknown.
// Parameters such as "; charset=" are ignored.
func Extension(mimeType string) string {
	mt, _, _ := strings.Cut(mimeType, ";")
	if ext, ok := extensions[strings.ToLower(strings.TrimSpace(mt))]; ok {
		return ext
	}
	return ".bin"
}

// sanitize reduces a source tag to a safe single path element.
func sanitize(source string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(source) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

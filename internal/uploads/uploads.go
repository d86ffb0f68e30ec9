// Package uploads keeps submission attachments on the local disk and serves
// them under /uploads/.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// URLPrefix is where attachments are served; stored paths start with it.
const URLPrefix = "/uploads/"

const maxNameLen = 140

// ErrTooLarge is returned by Save when the content exceeds the size limit.
var ErrTooLarge = errors.New("attachment exceeds size limit")

type Store struct {
	dir      string
	maxBytes int64
	now      func() time.Time
}

func New(dir string, maxBytes int64) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("uploads dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes, now: time.Now}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) MaxBytes() int64 { return s.maxBytes }

// SanitizeName keeps ASCII letters, digits, dot, underscore and dash,
// replaces every other character with an underscore and truncates the
// result to 140 characters.
func SanitizeName(name string) string {
	if name == "" {
		name = "file"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxNameLen {
			break
		}
	}
	out := b.String()
	if len(out) > maxNameLen {
		out = out[:maxNameLen]
	}
	return out
}

// Save writes r as "<unix-ms>-<sanitized name>" and returns its public path.
// Nothing is left on disk when the content is larger than the limit.
func (s *Store) Save(originalName string, r io.Reader) (string, error) {
	filename := fmt.Sprintf("%d-%s", s.now().UnixMilli(), SanitizeName(originalName))
	full := filepath.Join(s.dir, filename)
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create attachment: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(full)
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return URLPrefix + filename, nil
}

// Remove deletes the file behind a stored public path. A file that is
// already gone is not an error.
func (s *Store) Remove(publicPath string) error {
	full, err := s.resolve(publicPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove attachment: %w", err)
	}
	return nil
}

func (s *Store) resolve(publicPath string) (string, error) {
	name := strings.TrimPrefix(publicPath, URLPrefix)
	name = path.Base(path.Clean("/" + name))
	if name == "/" || name == "." || name == "" {
		return "", fmt.Errorf("invalid attachment path %q", publicPath)
	}
	return filepath.Join(s.dir, name), nil
}

package media

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrFileNotFound is returned when a media object's file is missing from
// storage.
var ErrFileNotFound = errors.New("media file not found")

// Storage stores and retrieves media file content for trees.
type Storage interface {
	// Open returns the file content and its modification time.
	Open(tree, path string) (io.ReadSeekCloser, time.Time, error)
	// Save writes content to the given relative path, replacing any
	// existing file.
	Save(tree, path string, r io.Reader) error
	// Exists reports whether a file is present.
	Exists(tree, path string) bool
}

// LocalStorage keeps media files on the local filesystem, one directory
// per tree under the root.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a storage rooted at dir.
func NewLocalStorage(dir string) *LocalStorage {
	return &LocalStorage{root: dir}
}

func (s *LocalStorage) resolve(tree, path string) (string, error) {
	full := filepath.Join(s.root, tree, filepath.FromSlash(path))
	// Reject anything escaping the tree's media directory.
	base := filepath.Join(s.root, tree)
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes media directory", path)
	}
	return full, nil
}

func (s *LocalStorage) Open(tree, path string) (io.ReadSeekCloser, time.Time, error) {
	full, err := s.resolve(tree, path)
	if err != nil {
		return nil, time.Time{}, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, time.Time{}, ErrFileNotFound
		}
		return nil, time.Time{}, fmt.Errorf("open media file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, time.Time{}, fmt.Errorf("stat media file: %w", err)
	}
	return f, info.ModTime(), nil
}

func (s *LocalStorage) Save(tree, path string, r io.Reader) error {
	full, err := s.resolve(tree, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("create media file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write media file: %w", err)
	}
	return f.Close()
}

func (s *LocalStorage) Exists(tree, path string) bool {
	full, err := s.resolve(tree, path)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// Checksum returns the hex MD5 digest of content read from r, along with
// the buffered content. Uploads are size-limited by the HTTP layer before
// they reach this point.
func Checksum(r io.Reader) (string, []byte, error) {
	h := md5.New()
	data, err := io.ReadAll(io.TeeReader(r, h))
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), data, nil
}

// DefaultFilename derives a storage path for new content from its checksum
// and MIME type, e.g. "ab/abcdef...jpg".
func DefaultFilename(checksum, mimeType string) string {
	ext := ""
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return checksum[:2] + "/" + checksum + ext
}

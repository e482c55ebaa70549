package mirror

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Storage abstracts the mirror's output tree.
// Logical paths are forward-slash paths relative to the mirror root
// (e.g. "css/site.css"). Implementations map them to wherever files
// actually live.
type Storage interface {
	// Exists reports whether the logical path already has content.
	Exists(path string) bool
	// Put writes the content of r to path. The write is atomic:
	// no partial file is visible to concurrent readers.
	Put(path string, r io.Reader) error
	// Get returns the full content of path.
	Get(path string) ([]byte, error)
	// PutBytes writes data to path (convenience wrapper around Put).
	PutBytes(path string, data []byte) error
	// Adopt moves the file at the OS path src to path, taking ownership of it.
	Adopt(path, src string) error
	// List returns the logical paths of the regular files directly inside dir.
	List(dir string) ([]string, error)
}

// LocalStorage is the default Storage implementation rooted at a directory
// on the OS filesystem.
type LocalStorage struct {
	rootDir string
}

// NewLocalStorage returns a LocalStorage rooted at dir.
// The root directory is created lazily by Put/PutBytes/Adopt.
func NewLocalStorage(dir string) *LocalStorage {
	return &LocalStorage{rootDir: dir}
}

// abs converts a logical forward-slash path to an OS path.
func (s *LocalStorage) abs(path string) string {
	return filepath.Join(s.rootDir, filepath.FromSlash(path))
}

// Exists reports whether path already exists in storage.
func (s *LocalStorage) Exists(path string) bool {
	_, err := os.Stat(s.abs(path))
	return err == nil
}

// Put streams r into path atomically via a temp file + rename.
func (s *LocalStorage) Put(path string, r io.Reader) error {
	fullPath := s.abs(path)
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(dir, ".pgmr-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpName) // no-op if already renamed
	}()
	if _, err := io.Copy(tmpFile, r); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, fullPath) //nolint:gosec // G703: fullPath is built from sanitized names
}

// Get returns the full content of path.
func (s *LocalStorage) Get(path string) ([]byte, error) {
	return os.ReadFile(s.abs(path)) //nolint:gosec // G304: path is written by this program
}

// PutBytes writes data to path through Put.
func (s *LocalStorage) PutBytes(path string, data []byte) error {
	return s.Put(path, bytes.NewReader(data))
}

// Adopt renames src into path. src must live on the same filesystem.
func (s *LocalStorage) Adopt(path, src string) error {
	fullPath := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return err
	}
	return os.Rename(src, fullPath)
}

// List returns the files directly inside dir, sorted by name.
func (s *LocalStorage) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(s.abs(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		out = append(out, filepath.ToSlash(filepath.Join(dir, e.Name())))
	}
	sort.Strings(out)
	return out, nil
}

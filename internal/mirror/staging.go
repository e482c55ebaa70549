package mirror

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// StagedFile is a file sitting in the flat staging directory.
type StagedFile struct {
	Name string // flat name, also the lookup key
	Path string // OS path
}

// Staging indexes the flat directory the bulk fetch wrote into. A file is
// handed out at most once: Release drops it from the index.
type Staging struct {
	dir   string
	files map[string]string
}

// OpenStaging scans dir. Subdirectories are ignored; the bulk fetch is
// expected to run with directory creation disabled.
func OpenStaging(dir string) (*Staging, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan staging: %w", err)
	}
	s := &Staging{dir: dir, files: make(map[string]string, len(entries))}
	for _, e := range entries {
		if e.Type().IsRegular() {
			s.files[e.Name()] = filepath.Join(dir, e.Name())
		}
	}
	return s, nil
}

// Dir returns the staging directory.
func (s *Staging) Dir() string { return s.dir }

// Lookup returns the first of keys that names a staged file.
func (s *Staging) Lookup(keys ...string) (string, bool) {
	for _, k := range keys {
		if _, ok := s.files[k]; ok {
			return k, true
		}
	}
	return "", false
}

// Has reports whether name is still staged.
func (s *Staging) Has(name string) bool {
	_, ok := s.files[name]
	return ok
}

// Release removes name from the index and transfers it to the caller.
func (s *Staging) Release(name string) (StagedFile, bool) {
	p, ok := s.files[name]
	if !ok {
		return StagedFile{}, false
	}
	delete(s.files, name)
	return StagedFile{Name: name, Path: p}, true
}

// Put stages data under name, replacing any previous file of that name.
func (s *Staging) Put(name string, data []byte) error {
	p := filepath.Join(s.dir, name)
	if err := os.WriteFile(p, data, 0600); err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	s.files[name] = p
	return nil
}

// Remaining lists the names never released, sorted.
func (s *Staging) Remaining() []string {
	out := make([]string, 0, len(s.files))
	for name := range s.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Finish removes the staging directory when nothing is left in it and
// returns the leftover names otherwise.
func (s *Staging) Finish() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan staging: %w", err)
	}
	if len(entries) > 0 {
		left := make([]string, 0, len(entries))
		for _, e := range entries {
			left = append(left, e.Name())
		}
		sort.Strings(left)
		return left, nil
	}
	return nil, os.Remove(s.dir)
}

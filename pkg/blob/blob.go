// Package blob stores whole files for the server under a single root
// directory. Client-supplied paths are validated so they cannot escape the
// root, and writes are atomic so a concurrent reader never sees a partially
// written file.
package blob

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/awalker/dfs/pkg/wire"
)

// Store is the server-side file storage. Safe for concurrent use; the lock
// table serializes conflicting access at the protocol level, and writes are
// atomic underneath it.
type Store struct {
	root string
}

// NewStore roots a store at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving storage root %q", dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating storage root %q", abs)
	}
	return &Store{root: abs}, nil
}

// LastModified returns the file's modification time in Unix milliseconds,
// or wire.AbsentTimestamp when the file does not exist. Absence is expected
// data, not an error; only an invalid path or a failing disk is an error.
func (s *Store) LastModified(path string) (int64, error) {
	p, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return wire.AbsentTimestamp, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "stat %q", path)
	}
	return info.ModTime().UnixMilli(), nil
}

// ReadAll returns the file's entire content.
func (s *Store) ReadAll(path string) ([]byte, error) {
	p, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", path)
	}
	return data, nil
}

// WriteAtomic replaces the file's content with data. The bytes go to a
// temporary file in the destination directory first and are renamed into
// place, so readers observe either the old content or the new, never a
// partial write. Missing parent directories are created.
func (s *Store) WriteAtomic(path string, data []byte) error {
	p, err := s.resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating parent directories for %q", path)
	}
	tmp, err := os.CreateTemp(dir, ".store-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp file for %q", path)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %q", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing temp file for %q", path)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return errors.Wrapf(err, "renaming temp file into %q", path)
	}
	return nil
}

// resolve maps a client-supplied path to an absolute path under the root,
// rejecting any resolution that escapes it ("../" traversal and friends).
func (s *Store) resolve(path string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(path))
	if p != s.root && !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", errors.Errorf("path %q escapes the storage root", path)
	}
	return p, nil
}

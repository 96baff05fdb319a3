// Package cache keeps the client's local copies of server files. A cached
// copy is created or replaced only by an explicit fetch; it is stamped with
// the server's modification time so the open protocol can tell exactly
// which version it holds.
package cache

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/awalker/dfs/pkg/wire"
)

// Cache stores fetched copies under a local directory, keyed by the same
// relative path the server uses.
type Cache struct {
	dir string
}

// New roots a cache at dir, creating it if needed.
func New(dir string) (*Cache, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving cache directory %q", dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating cache directory %q", abs)
	}
	return &Cache{dir: abs}, nil
}

// LastModified returns the cached copy's timestamp in Unix milliseconds, or
// wire.AbsentTimestamp when there is no cached copy.
func (c *Cache) LastModified(path string) int64 {
	p, err := c.resolve(path)
	if err != nil {
		return wire.AbsentTimestamp
	}
	info, err := os.Stat(p)
	if err != nil {
		return wire.AbsentTimestamp
	}
	return info.ModTime().UnixMilli()
}

// Update overwrites the cached copy with content fetched from the server
// and stamps it with the server's modification time, so a later comparison
// sees the cache as exactly that version.
func (c *Cache) Update(path string, data []byte, serverMtime int64) error {
	p, err := c.resolve(path)
	if err != nil {
		return err
	}
	if parent := filepath.Dir(p); parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return errors.Wrapf(err, "creating cache parent directories for %q", path)
		}
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing cache copy of %q", path)
	}
	if serverMtime != wire.AbsentTimestamp {
		t := time.UnixMilli(serverMtime)
		if err := os.Chtimes(p, t, t); err != nil {
			return errors.Wrapf(err, "stamping cache copy of %q", path)
		}
	}
	return nil
}

// ReadAll returns the cached copy's entire content. Used for the write-back
// at close time.
func (c *Cache) ReadAll(path string) ([]byte, error) {
	p, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, "reading cache copy of %q", path)
	}
	return data, nil
}

// Open opens the cached copy for local random access, positioned at the
// start. Writable modes create an empty copy when none exists (a file that
// does not exist on the server yet); read-only requires the copy to be
// there already.
func (c *Cache) Open(path, mode string) (*os.File, error) {
	p, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	if mode == wire.ModeReadOnly {
		f, err := os.Open(p)
		if err != nil {
			return nil, errors.Wrapf(err, "opening cache copy of %q read-only", path)
		}
		return f, nil
	}
	if parent := filepath.Dir(p); parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating cache parent directories for %q", path)
		}
	}
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening cache copy of %q", path)
	}
	return f, nil
}

// Remove deletes the cached copy if present.
func (c *Cache) Remove(path string) error {
	p, err := c.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing cache copy of %q", path)
	}
	return nil
}

func (c *Cache) resolve(path string) (string, error) {
	p := filepath.Join(c.dir, filepath.FromSlash(path))
	if p != c.dir && !strings.HasPrefix(p, c.dir+string(filepath.Separator)) {
		return "", errors.Errorf("path %q escapes the cache directory", path)
	}
	return p, nil
}

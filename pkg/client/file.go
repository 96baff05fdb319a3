package client

import (
	"os"

	"github.com/pkg/errors"

	"github.com/awalker/dfs/pkg/wire"
)

var (
	// ErrClosed is returned for any operation on a handle after Close.
	ErrClosed = errors.New("file handle is closed")
	// ErrReadOnly rejects writes on a handle opened in "ro" mode.
	ErrReadOnly = errors.New("file is open read-only")
	// ErrWriteOnly rejects reads on a handle opened in "wo" mode.
	ErrWriteOnly = errors.New("file is open write-only")
)

// File is an open session on one server file. Read, Write and Seek operate
// on the cached local copy only; the server sees the result when the handle
// is closed. A File is not safe for concurrent use.
type File struct {
	client *Client
	path   string
	mode   string
	local  *os.File
	dirty  bool
	closed bool
}

// Path returns the server path this handle is open on.
func (f *File) Path() string { return f.path }

// Mode returns the mode the handle was opened with.
func (f *File) Mode() string { return f.mode }

// Read reads from the cached copy at the current position. Rejected in
// write-only mode; no network traffic is involved.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.mode == wire.ModeWriteOnly {
		return 0, ErrWriteOnly
	}
	return f.local.Read(p)
}

// Write writes to the cached copy at the current position and marks the
// handle dirty. Rejected in read-only mode; no network traffic is involved.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.mode == wire.ModeReadOnly {
		return 0, ErrReadOnly
	}
	n, err := f.local.Write(p)
	if n > 0 {
		f.dirty = true
	}
	return n, err
}

// Seek moves the file pointer of the cached copy.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, ErrClosed
	}
	return f.local.Seek(offset, whence)
}

// Close finishes the session: it closes the local copy, writes it back to
// the server if the handle is dirty and the mode permits writing, and
// releases the lock.
//
// The unlock is sent even when the write-back fails; holding the lock buys
// nothing once the store has been refused, so the failure is surfaced after
// the release. If the unlock fails too, both errors are reported.
func (f *File) Close() error {
	if f.closed {
		return ErrClosed
	}
	f.closed = true

	err := errors.Wrapf(f.local.Close(), "closing cache copy of %q", f.path)

	if err == nil && f.dirty && f.mode != wire.ModeReadOnly {
		data, readErr := f.client.cache.ReadAll(f.path)
		if readErr != nil {
			err = readErr
		} else {
			err = f.client.store(f.path, data)
		}
	}

	if uerr := f.client.unlock(f.path, f.mode); uerr != nil {
		if err != nil {
			return errors.Wrapf(err, "and releasing the lock failed too (%v)", uerr)
		}
		return uerr
	}
	return err
}

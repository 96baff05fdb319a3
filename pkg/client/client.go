// Package client implements the file service client: the open/close
// protocol that gives close-to-open consistency, and the local file handle
// that reads and writes the cached copy in between.
package client

import (
	"net"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/awalker/dfs/pkg/cache"
	"github.com/awalker/dfs/pkg/wire"
)

// Client is one connection to the file server plus the local cache its
// fetched copies live in. It issues one request at a time; the server
// treats the connection as the lock owner, so concurrent sessions in one
// process each need their own Client.
type Client struct {
	id    string
	conn  *wire.Conn
	cache *cache.Cache
}

// Dial connects to the server at addr and roots the local cache at
// cacheDir.
func Dial(addr, cacheDir string) (*Client, error) {
	localCache, err := cache.New(cacheDir)
	if err != nil {
		return nil, err
	}
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", addr)
	}
	id := uuid.New().String()
	glog.Infof("[%s] connected to %s (cache %s)", id, addr, cacheDir)
	return &Client{id: id, conn: wire.NewConn(c), cache: localCache}, nil
}

// Close drops the connection. Locks still held by open handles are leaked
// on the server until its disconnect cleanup runs; close every File first.
func (c *Client) Close() error {
	glog.Infof("[%s] disconnecting", c.id)
	return c.conn.Close()
}

// Open acquires the server-side lock for path, brings the cached copy up to
// date, and returns a handle over it.
//
// The call blocks until the server grants the lock. If any later step
// fails, the lock is released before the error is returned so that a
// failed open never leaves the path locked.
func (c *Client) Open(path, mode string) (*File, error) {
	if !wire.ValidMode(mode) {
		return nil, errors.Errorf("unknown open mode %q", mode)
	}
	if err := c.lock(path, mode); err != nil {
		return nil, err
	}
	f, err := c.openLocked(path, mode)
	if err != nil {
		if uerr := c.unlock(path, mode); uerr != nil {
			return nil, errors.Wrapf(err, "open failed and releasing the lock failed too (%v)", uerr)
		}
		return nil, err
	}
	return f, nil
}

func (c *Client) openLocked(path, mode string) (*File, error) {
	serverMtime, err := c.stat(path)
	if err != nil {
		return nil, err
	}
	localMtime := c.cache.LastModified(path)
	glog.V(1).Infof("[%s] open %q: server mtime %d, cache mtime %d", c.id, path, serverMtime, localMtime)

	switch {
	case serverMtime == wire.AbsentTimestamp:
		// The file does not exist on the server yet; the local copy
		// starts from whatever is (or is not) cached.
		glog.V(1).Infof("[%s] %q is new on the server, nothing to fetch", c.id, path)
	case localMtime == wire.AbsentTimestamp, serverMtime > localMtime:
		data, err := c.fetch(path)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Update(path, data, serverMtime); err != nil {
			return nil, err
		}
		glog.V(1).Infof("[%s] refreshed cache copy of %q (%d bytes)", c.id, path, len(data))
	default:
		// Cached copy is the server's version or newer; skip the
		// transfer. This is the payoff of close-to-open consistency.
		glog.V(1).Infof("[%s] cache copy of %q is current", c.id, path)
	}

	local, err := c.cache.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return &File{client: c, path: path, mode: mode, local: local}, nil
}

// lock asks the server for the lock and blocks until it is granted. The
// blocking happens on the server side; this call simply waits for the
// response message.
func (c *Client) lock(path, mode string) error {
	if err := c.conn.Send(&wire.Message{Command: wire.CmdLockRequest, Payload: wire.LockPayload(path, mode)}); err != nil {
		return errors.Wrapf(err, "requesting %s lock on %q", mode, path)
	}
	resp, err := c.conn.Receive()
	if err != nil {
		return errors.Wrapf(err, "waiting for %s lock on %q", mode, path)
	}
	if resp.Command != wire.CmdOK {
		return errors.Errorf("%s lock on %q refused: %s", mode, path, resp.Command)
	}
	return nil
}

func (c *Client) unlock(path, mode string) error {
	if err := c.conn.Send(&wire.Message{Command: wire.CmdUnlock, Payload: wire.LockPayload(path, mode)}); err != nil {
		return errors.Wrapf(err, "releasing %s lock on %q", mode, path)
	}
	resp, err := c.conn.Receive()
	if err != nil {
		return errors.Wrapf(err, "releasing %s lock on %q", mode, path)
	}
	if resp.Command != wire.CmdOK {
		return errors.Errorf("unlock of %q failed: %s", path, resp.Command)
	}
	return nil
}

// stat returns the server's modification time for path, or
// wire.AbsentTimestamp when the server has no such file.
func (c *Client) stat(path string) (int64, error) {
	if err := c.conn.Send(&wire.Message{Command: wire.CmdStat, Payload: wire.PathPayload(path)}); err != nil {
		return 0, errors.Wrapf(err, "requesting metadata for %q", path)
	}
	resp, err := c.conn.Receive()
	if err != nil {
		return 0, errors.Wrapf(err, "requesting metadata for %q", path)
	}
	switch resp.Command {
	case wire.CmdStatResult:
		ts, err := wire.ParseTimestampPayload(resp.Payload)
		if err != nil {
			return 0, errors.Wrapf(err, "metadata for %q", path)
		}
		return ts, nil
	case wire.CmdFail:
		return wire.AbsentTimestamp, nil
	default:
		return 0, errors.Errorf("unexpected response to STAT of %q: %s", path, resp.Command)
	}
}

func (c *Client) fetch(path string) ([]byte, error) {
	if err := c.conn.Send(&wire.Message{Command: wire.CmdFetch, Payload: wire.PathPayload(path)}); err != nil {
		return nil, errors.Wrapf(err, "fetching %q", path)
	}
	resp, err := c.conn.Receive()
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %q", path)
	}
	switch resp.Command {
	case wire.CmdFetchResult:
		return resp.Payload, nil
	case wire.CmdFail:
		return nil, errors.Errorf("%q not found on the server", path)
	default:
		return nil, errors.Errorf("unexpected response to FETCH of %q: %s", path, resp.Command)
	}
}

func (c *Client) store(path string, data []byte) error {
	if err := c.conn.Send(&wire.Message{Command: wire.CmdStore, Payload: wire.StorePayload(path, data)}); err != nil {
		return errors.Wrapf(err, "storing %q", path)
	}
	resp, err := c.conn.Receive()
	if err != nil {
		return errors.Wrapf(err, "storing %q", path)
	}
	if resp.Command != wire.CmdOK {
		return errors.Errorf("server refused the write-back of %q: %s", path, resp.Command)
	}
	glog.V(1).Infof("[%s] wrote back %q (%d bytes)", c.id, path, len(data))
	return nil
}

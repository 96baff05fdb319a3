package server

import (
	"context"
	"io"
	"net"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/awalker/dfs/pkg/lock"
	"github.com/awalker/dfs/pkg/wire"
)

// handler processes every message for one client connection. It runs on its
// own goroutine for the life of the connection and performs no other work
// while a lock acquisition blocks.
type handler struct {
	id     string
	remote string
	conn   *wire.Conn
	table  *lock.Table
	store  BlobStore

	// Paths this connection currently holds locks on, by mode. Their only
	// purpose is releasing everything when the client disconnects without
	// unlocking; that cleanup is the sole automatic release path.
	readLocks  map[string]bool
	writeLocks map[string]bool
}

func newHandler(c net.Conn, table *lock.Table, store BlobStore) *handler {
	return &handler{
		id:         uuid.New().String(),
		remote:     c.RemoteAddr().String(),
		conn:       wire.NewConn(c),
		table:      table,
		store:      store,
		readLocks:  make(map[string]bool),
		writeLocks: make(map[string]bool),
	}
}

// run dispatches messages until the client disconnects or the stream turns
// malformed, then releases whatever locks the connection still holds.
//
// A separate goroutine feeds received messages through a channel so the
// handler context is cancelled the moment the connection drops. That aborts
// a lock acquisition still waiting inside dispatch; locks that were already
// granted are untouched and only released by the final cleanup.
func (h *handler) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer h.releaseAll()
	defer h.conn.Close()

	glog.Infof("[%s] client connected from %s", h.id, h.remote)

	msgs := make(chan *wire.Message)
	go h.receiveLoop(msgs, cancel)

	for m := range msgs {
		if err := h.dispatch(ctx, m); err != nil {
			glog.Errorf("[%s] closing connection: %v", h.id, err)
			h.conn.Close()
			for range msgs {
				// Drain until the receive goroutine notices the close.
			}
			break
		}
	}
	glog.Infof("[%s] client disconnected", h.id)
}

func (h *handler) receiveLoop(msgs chan<- *wire.Message, cancel context.CancelFunc) {
	defer close(msgs)
	defer cancel()
	for {
		m, err := h.conn.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				glog.Errorf("[%s] receive: %v", h.id, err)
			}
			return
		}
		msgs <- m
	}
}

// dispatch handles one message and sends its response. A returned error
// means the connection can no longer be used and must be torn down; per
// message failures are answered with FAIL instead.
func (h *handler) dispatch(ctx context.Context, m *wire.Message) error {
	glog.V(1).Infof("[%s] received %s (%d byte payload)", h.id, m.Command, len(m.Payload))
	switch m.Command {
	case wire.CmdLockRequest:
		return h.handleLockRequest(ctx, m)
	case wire.CmdStat:
		return h.handleStat(m)
	case wire.CmdFetch:
		return h.handleFetch(m)
	case wire.CmdStore:
		return h.handleStore(m)
	case wire.CmdUnlock:
		return h.handleUnlock(m)
	default:
		glog.Errorf("[%s] unexpected command %s", h.id, m.Command)
		return h.fail()
	}
}

func (h *handler) handleLockRequest(ctx context.Context, m *wire.Message) error {
	path, mode, err := wire.ParseLockPayload(m.Payload)
	if err != nil {
		return errors.Wrap(err, "LOCK_REQUEST")
	}
	switch mode {
	case wire.ModeReadOnly:
		if err := h.table.AcquireRead(ctx, path); err != nil {
			return errors.Wrapf(err, "waiting for read lock on %q", path)
		}
		h.readLocks[path] = true
	case wire.ModeWriteOnly, wire.ModeReadWrite:
		if err := h.table.AcquireWrite(ctx, path); err != nil {
			return errors.Wrapf(err, "waiting for write lock on %q", path)
		}
		h.writeLocks[path] = true
	default:
		glog.Errorf("[%s] unknown lock mode %q for %q", h.id, mode, path)
		return h.fail()
	}
	glog.V(1).Infof("[%s] granted %s lock on %q", h.id, mode, path)
	return h.ok()
}

func (h *handler) handleStat(m *wire.Message) error {
	path, err := wire.ParsePathPayload(m.Payload)
	if err != nil {
		return errors.Wrap(err, "STAT")
	}
	ts, err := h.store.LastModified(path)
	if err != nil {
		glog.Errorf("[%s] stat %q: %v", h.id, path, err)
		return h.fail()
	}
	// A missing file reports the absent sentinel; that is a valid STAT
	// outcome, not a failure.
	return h.conn.Send(&wire.Message{Command: wire.CmdStatResult, Payload: wire.TimestampPayload(ts)})
}

func (h *handler) handleFetch(m *wire.Message) error {
	path, err := wire.ParsePathPayload(m.Payload)
	if err != nil {
		return errors.Wrap(err, "FETCH")
	}
	data, err := h.store.ReadAll(path)
	if err != nil {
		glog.Errorf("[%s] fetch %q: %v", h.id, path, err)
		return h.fail()
	}
	glog.V(1).Infof("[%s] sending %q (%d bytes)", h.id, path, len(data))
	return h.conn.Send(&wire.Message{Command: wire.CmdFetchResult, Payload: data})
}

func (h *handler) handleStore(m *wire.Message) error {
	path, content, err := wire.ParseStorePayload(m.Payload)
	if err != nil {
		return errors.Wrap(err, "STORE")
	}
	if !h.writeLocks[path] {
		// A client must not write a file it holds no write lock on, e.g.
		// after a bug in its open/close sequencing.
		glog.Errorf("[%s] STORE for %q without a write lock", h.id, path)
		return h.fail()
	}
	if err := h.store.WriteAtomic(path, content); err != nil {
		glog.Errorf("[%s] store %q: %v", h.id, path, err)
		return h.fail()
	}
	glog.Infof("[%s] stored %q (%d bytes)", h.id, path, len(content))
	return h.ok()
}

func (h *handler) handleUnlock(m *wire.Message) error {
	path, mode, err := wire.ParseLockPayload(m.Payload)
	if err != nil {
		return errors.Wrap(err, "UNLOCK")
	}
	switch mode {
	case wire.ModeReadOnly:
		if h.readLocks[path] {
			h.table.ReleaseRead(path)
			delete(h.readLocks, path)
		}
	case wire.ModeWriteOnly, wire.ModeReadWrite:
		if h.writeLocks[path] {
			h.table.ReleaseWrite(path)
			delete(h.writeLocks, path)
		}
	}
	// Unlocking a path that is not held is a no-op, not an error.
	glog.V(1).Infof("[%s] released %s lock on %q", h.id, mode, path)
	return h.ok()
}

// releaseAll frees every lock still recorded for this connection. Called
// once, when the connection goes away.
func (h *handler) releaseAll() {
	for path := range h.readLocks {
		h.table.ReleaseRead(path)
		delete(h.readLocks, path)
	}
	for path := range h.writeLocks {
		h.table.ReleaseWrite(path)
		delete(h.writeLocks, path)
	}
}

func (h *handler) ok() error {
	return h.conn.Send(&wire.Message{Command: wire.CmdOK})
}

func (h *handler) fail() error {
	return h.conn.Send(&wire.Message{Command: wire.CmdFail})
}

// Package server implements the file service: a TCP listener that runs one
// connection handler per client, all sharing a single lock table and blob
// store.
package server

import (
	"context"
	"net"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/awalker/dfs/pkg/lock"
)

// BlobStore is the server-side file storage consumed by connection
// handlers. *blob.Store implements it.
type BlobStore interface {
	// LastModified reports the file's mtime in Unix milliseconds, or
	// wire.AbsentTimestamp when the file does not exist.
	LastModified(path string) (int64, error)
	ReadAll(path string) ([]byte, error)
	WriteAtomic(path string, data []byte) error
}

// Server owns the process-wide lock table and blob store and hands both to
// every connection handler. The dependencies are injected so tests can run
// with a fresh table and a fake store.
type Server struct {
	addr  string
	table *lock.Table
	store BlobStore
}

func NewServer(addr string, store BlobStore) *Server {
	return &Server{
		addr:  addr,
		table: lock.NewTable(),
		store: store,
	}
}

// ListenAndServe binds the configured address and serves until the listener
// fails.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.addr)
	}
	return s.Serve(lis)
}

// Serve accepts connections forever, one handler goroutine per connection.
// There is no connection limit or backpressure; a connection's goroutine
// lives until the client goes away.
func (s *Server) Serve(lis net.Listener) error {
	glog.Infof("file server listening on %s", lis.Addr())
	for {
		conn, err := lis.Accept()
		if err != nil {
			return errors.Wrap(err, "accepting connection")
		}
		h := newHandler(conn, s.table, s.store)
		go h.run(context.Background())
	}
}

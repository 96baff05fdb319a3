package client

import (
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awalker/dfs/pkg/blob"
	"github.com/awalker/dfs/pkg/server"
	"github.com/awalker/dfs/pkg/wire"
)

// countingStore wraps the real blob store and counts full-content reads, so
// tests can tell whether an open actually transferred the file or served it
// from the cache.
type countingStore struct {
	*blob.Store
	fetches atomic.Int64
}

func (s *countingStore) ReadAll(path string) ([]byte, error) {
	s.fetches.Add(1)
	return s.Store.ReadAll(path)
}

// startTestServer runs a real server on a loopback port and returns its
// address plus the instrumented store behind it.
func startTestServer(t *testing.T) (string, *countingStore) {
	t.Helper()
	blobStore, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)
	store := &countingStore{Store: blobStore}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { lis.Close() })

	srv := server.NewServer(lis.Addr().String(), store)
	go srv.Serve(lis)
	return lis.Addr().String(), store
}

func dialTestClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(addr, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_WriteThenReadBack(t *testing.T) {
	addr, _ := startTestServer(t)

	writer := dialTestClient(t, addr)
	f, err := writer.Open("notes/hello.txt", "rw")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello over the wire"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// A different client with its own cache must observe the write.
	reader := dialTestClient(t, addr)
	f, err = reader.Open("notes/hello.txt", "ro")
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello over the wire", string(content))
	require.NoError(t, f.Close())
}

func TestClient_SecondOpenServedFromCache(t *testing.T) {
	addr, store := startTestServer(t)

	writer := dialTestClient(t, addr)
	f, err := writer.Open("cached.txt", "rw")
	require.NoError(t, err)
	_, err = f.Write([]byte("stable content"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reader := dialTestClient(t, addr)
	f, err = reader.Open("cached.txt", "ro")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	fetchesAfterFirst := store.fetches.Load()

	// Nothing changed on the server, so reopening must not transfer the
	// content again.
	f, err = reader.Open("cached.txt", "ro")
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "stable content", string(content))
	require.NoError(t, f.Close())
	assert.Equal(t, fetchesAfterFirst, store.fetches.Load())
}

func TestClient_StaleCacheRefetched(t *testing.T) {
	addr, store := startTestServer(t)

	reader := dialTestClient(t, addr)
	writer := dialTestClient(t, addr)

	f, err := writer.Open("shared.txt", "rw")
	require.NoError(t, err)
	_, err = f.Write([]byte("version one"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = reader.Open("shared.txt", "ro")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Step the clock so the second write lands on a strictly newer mtime.
	time.Sleep(10 * time.Millisecond)

	f, err = writer.Open("shared.txt", "rw")
	require.NoError(t, err)
	_, err = f.Write([]byte("version two!"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	fetchesBefore := store.fetches.Load()
	f, err = reader.Open("shared.txt", "ro")
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "version two!", string(content))
	require.NoError(t, f.Close())
	assert.Greater(t, store.fetches.Load(), fetchesBefore)
}

func TestClient_ModeEnforcement(t *testing.T) {
	addr, _ := startTestServer(t)
	c := dialTestClient(t, addr)

	t.Run("read-only rejects writes", func(t *testing.T) {
		seed, err := c.Open("modes.txt", "rw")
		require.NoError(t, err)
		_, err = seed.Write([]byte("seed"))
		require.NoError(t, err)
		require.NoError(t, seed.Close())

		f, err := c.Open("modes.txt", "ro")
		require.NoError(t, err)
		_, err = f.Write([]byte("nope"))
		assert.ErrorIs(t, err, ErrReadOnly)
		require.NoError(t, f.Close())
	})

	t.Run("write-only rejects reads", func(t *testing.T) {
		f, err := c.Open("modes.txt", "wo")
		require.NoError(t, err)
		_, err = f.Read(make([]byte, 4))
		assert.ErrorIs(t, err, ErrWriteOnly)
		require.NoError(t, f.Close())
	})

	t.Run("closed handle rejects everything", func(t *testing.T) {
		f, err := c.Open("modes.txt", "rw")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = f.Read(make([]byte, 4))
		assert.ErrorIs(t, err, ErrClosed)
		_, err = f.Write([]byte("x"))
		assert.ErrorIs(t, err, ErrClosed)
		_, err = f.Seek(0, io.SeekStart)
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, f.Close(), ErrClosed)
	})

	t.Run("unknown mode rejected before any network traffic", func(t *testing.T) {
		_, err := c.Open("modes.txt", "rx")
		assert.Error(t, err)
	})
}

func TestClient_FailedReadOnlyOpenReleasesLock(t *testing.T) {
	addr, _ := startTestServer(t)

	first := dialTestClient(t, addr)
	_, err := first.Open("nonexistent.txt", "ro")
	require.Error(t, err)

	// If the failed open leaked its read lock, this write-lock request
	// would block forever. Guard with a deadline.
	second := dialTestClient(t, addr)
	opened := make(chan error, 1)
	go func() {
		f, err := second.Open("nonexistent.txt", "rw")
		if err == nil {
			err = f.Close()
		}
		opened <- err
	}()
	select {
	case err := <-opened:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("write lock never granted after a failed read-only open")
	}
}

func TestClient_CloseWithoutWritesSkipsStore(t *testing.T) {
	addr, store := startTestServer(t)
	c := dialTestClient(t, addr)

	f, err := c.Open("untouched.txt", "rw")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// The handle was never written, so nothing is pushed to the server.
	ts, err := store.LastModified("untouched.txt")
	require.NoError(t, err)
	assert.Equal(t, wire.AbsentTimestamp, ts)
}

func TestClient_SeekAndPartialRead(t *testing.T) {
	addr, _ := startTestServer(t)
	c := dialTestClient(t, addr)

	f, err := c.Open("seek.txt", "rw")
	require.NoError(t, err)
	_, err = f.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = c.Open("seek.txt", "ro")
	require.NoError(t, err)
	pos, err := f.Seek(4, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(4), pos)
	buf := make([]byte, 3)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "456", string(buf[:n]))
	require.NoError(t, f.Close())
}

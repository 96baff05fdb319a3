// Package wire implements the binary protocol spoken between the file
// service client and server.
//
// Every message is framed as
//
//	[command id: 4 bytes][payload length: 4 bytes][payload]
//
// with all integers big-endian. Variable-length fields inside a payload use
// the same length-prefix convention, concatenated in command order.
package wire

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Caps on variable-length payload fields. A frame or field declaring more
// than this is a protocol violation and fails the exchange.
const (
	MaxStringLen  = 10_000
	MaxContentLen = 100_000_000
)

// AbsentTimestamp is the modification-time sentinel meaning "no such file".
// A STAT of a missing path reports it; it is valid data, not an error.
const AbsentTimestamp int64 = -1

var (
	// ErrBadFrame marks a malformed frame or payload: a negative or
	// over-cap length, or a truncated field. The connection can no longer
	// be trusted and should be closed by the caller.
	ErrBadFrame = errors.New("wire: malformed frame")

	// ErrUnknownCommand marks a frame whose command id is not part of the
	// protocol vocabulary.
	ErrUnknownCommand = errors.New("wire: unknown command")
)

// A Message is one request or response. The payload is opaque bytes
// interpreted according to the command; see the payload codecs in this
// package.
type Message struct {
	Command Command
	Payload []byte
}

// Conn frames messages over a duplex byte stream. It is not safe for
// concurrent use; both sides of the protocol issue one exchange at a time
// per connection.
type Conn struct {
	rwc io.ReadWriteCloser
	br  *bufio.Reader
	bw  *bufio.Writer
}

func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc: rwc,
		br:  bufio.NewReader(rwc),
		bw:  bufio.NewWriter(rwc),
	}
}

// Send writes the message and flushes it, so the peer can block on the
// reply immediately after Send returns.
func (c *Conn) Send(m *Message) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(m.Command))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(m.Payload)))
	if _, err := c.bw.Write(hdr[:]); err != nil {
		return errors.Wrapf(err, "sending %s header", m.Command)
	}
	if _, err := c.bw.Write(m.Payload); err != nil {
		return errors.Wrapf(err, "sending %s payload", m.Command)
	}
	if err := c.bw.Flush(); err != nil {
		return errors.Wrapf(err, "flushing %s", m.Command)
	}
	return nil
}

// Receive blocks until a full message has been read and returns it.
//
// io.EOF is returned only when the peer closed the connection cleanly,
// between messages. Any other failure, including a declared payload length
// outside the command's [0, cap] range, returns a wrapped error; the stream
// position is then unreliable and the caller should close the connection.
func (c *Conn) Receive() (*Message, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "reading frame header")
	}

	cmd := Command(binary.BigEndian.Uint32(hdr[0:4]))
	max, known := cmd.maxPayload()
	if !known {
		return nil, errors.Wrapf(ErrUnknownCommand, "id %d", uint32(cmd))
	}
	length := int32(binary.BigEndian.Uint32(hdr[4:8]))
	if length < 0 || int(length) > max {
		return nil, errors.Wrapf(ErrBadFrame, "%s declares a %d byte payload (max %d)", cmd, length, max)
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(c.br, payload); err != nil {
		return nil, errors.Wrapf(err, "reading %s payload", cmd)
	}
	return &Message{Command: cmd, Payload: payload}, nil
}

func (c *Conn) Close() error {
	return c.rwc.Close()
}

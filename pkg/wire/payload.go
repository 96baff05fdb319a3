package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Payload builders. Each variable-length field is written as
// [length: 4 bytes][bytes], in the order the command defines.

// LockPayload builds the payload for LOCK_REQUEST and UNLOCK: path, mode.
func LockPayload(path, mode string) []byte {
	b := make([]byte, 0, 8+len(path)+len(mode))
	b = appendField(b, []byte(path))
	b = appendField(b, []byte(mode))
	return b
}

// PathPayload builds the single-string payload used by STAT and FETCH.
func PathPayload(path string) []byte {
	return appendField(make([]byte, 0, 4+len(path)), []byte(path))
}

// StorePayload builds the payload for STORE: path, content.
func StorePayload(path string, content []byte) []byte {
	b := make([]byte, 0, 8+len(path)+len(content))
	b = appendField(b, []byte(path))
	b = appendField(b, content)
	return b
}

// TimestampPayload builds the 8-byte STAT_RESULT payload.
func TimestampPayload(ts int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(ts))
	return b
}

func appendField(b, field []byte) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(field)))
	b = append(b, n[:]...)
	return append(b, field...)
}

// ParseLockPayload extracts path and mode from a LOCK_REQUEST or UNLOCK
// payload.
func ParseLockPayload(p []byte) (path, mode string, err error) {
	r := fieldReader{rest: p}
	pathBytes, err := r.next(MaxStringLen)
	if err != nil {
		return "", "", errors.Wrap(err, "path")
	}
	modeBytes, err := r.next(MaxStringLen)
	if err != nil {
		return "", "", errors.Wrap(err, "mode")
	}
	return string(pathBytes), string(modeBytes), nil
}

// ParsePathPayload extracts the path from a STAT or FETCH payload.
func ParsePathPayload(p []byte) (string, error) {
	r := fieldReader{rest: p}
	pathBytes, err := r.next(MaxStringLen)
	if err != nil {
		return "", errors.Wrap(err, "path")
	}
	return string(pathBytes), nil
}

// ParseStorePayload extracts path and content from a STORE payload.
func ParseStorePayload(p []byte) (string, []byte, error) {
	r := fieldReader{rest: p}
	pathBytes, err := r.next(MaxStringLen)
	if err != nil {
		return "", nil, errors.Wrap(err, "path")
	}
	content, err := r.next(MaxContentLen)
	if err != nil {
		return "", nil, errors.Wrap(err, "content")
	}
	return string(pathBytes), content, nil
}

// ParseTimestampPayload extracts the timestamp from a STAT_RESULT payload.
func ParseTimestampPayload(p []byte) (int64, error) {
	if len(p) != 8 {
		return 0, errors.Wrapf(ErrBadFrame, "timestamp payload is %d bytes, want 8", len(p))
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

// fieldReader walks length-prefixed fields inside a payload.
type fieldReader struct {
	rest []byte
}

func (r *fieldReader) next(limit int) ([]byte, error) {
	if len(r.rest) < 4 {
		return nil, errors.Wrap(ErrBadFrame, "truncated field length")
	}
	n := int32(binary.BigEndian.Uint32(r.rest[:4]))
	if n < 0 || int(n) > limit {
		return nil, errors.Wrapf(ErrBadFrame, "field declares %d bytes (max %d)", n, limit)
	}
	r.rest = r.rest[4:]
	if len(r.rest) < int(n) {
		return nil, errors.Wrap(ErrBadFrame, "truncated field")
	}
	field := r.rest[:n]
	r.rest = r.rest[n:]
	return field, nil
}

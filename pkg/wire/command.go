package wire

import "fmt"

// Command identifies the type of a message on the wire. The numeric ids are
// part of the protocol and must never change.
type Command uint32

const (
	// Client to server.
	CmdLockRequest Command = 1
	CmdStat        Command = 2
	CmdFetch       Command = 3
	CmdStore       Command = 4
	CmdUnlock      Command = 5

	// Server to client.
	CmdOK          Command = 10
	CmdFail        Command = 11
	CmdStatResult  Command = 12
	CmdFetchResult Command = 13
)

// Lock mode strings as they appear in LOCK_REQUEST and UNLOCK payloads.
// ModeReadOnly requests a shared lock. ModeWriteOnly and ModeReadWrite both
// request the exclusive lock; they differ only in what the client is allowed
// to do with its local copy afterwards.
const (
	ModeReadOnly  = "ro"
	ModeWriteOnly = "wo"
	ModeReadWrite = "rw"
)

// ValidMode reports whether mode is one of the three lock mode strings.
func ValidMode(mode string) bool {
	switch mode {
	case ModeReadOnly, ModeWriteOnly, ModeReadWrite:
		return true
	}
	return false
}

func (c Command) String() string {
	switch c {
	case CmdLockRequest:
		return "LOCK_REQUEST"
	case CmdStat:
		return "STAT"
	case CmdFetch:
		return "FETCH"
	case CmdStore:
		return "STORE"
	case CmdUnlock:
		return "UNLOCK"
	case CmdOK:
		return "OK"
	case CmdFail:
		return "FAIL"
	case CmdStatResult:
		return "STAT_RESULT"
	case CmdFetchResult:
		return "FETCH_RESULT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(c))
	}
}

// maxPayload returns the largest payload a well-formed message with this
// command may carry. Receive rejects frames declaring more than that before
// reading them. The second result is false for unknown command ids.
func (c Command) maxPayload() (int, bool) {
	switch c {
	case CmdLockRequest, CmdUnlock:
		// [len][path][len][mode]
		return 2 * (4 + MaxStringLen), true
	case CmdStat, CmdFetch:
		// [len][path]
		return 4 + MaxStringLen, true
	case CmdStore:
		// [len][path][len][content]
		return (4 + MaxStringLen) + (4 + MaxContentLen), true
	case CmdOK, CmdFail:
		return 0, true
	case CmdStatResult:
		return 8, true
	case CmdFetchResult:
		return MaxContentLen, true
	default:
		return 0, false
	}
}

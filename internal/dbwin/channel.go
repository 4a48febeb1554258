package dbwin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// BufferSize is the size of the shared DBWIN_BUFFER region.
	BufferSize = 4096
	// MaxMessageSize is the largest payload a record can carry, excluding the
	// NUL terminator.
	MaxMessageSize = BufferSize - 4 - 1

	bufferName      = "DBWIN_BUFFER"
	bufferReadyName = "DBWIN_BUFFER_READY"
	dataReadyName   = "DBWIN_DATA_READY"
	mutexName       = "DBWinMutex"
)

var (
	// ErrChannelAlreadyActive is returned by Open when another reader is bound
	// to the channel.
	ErrChannelAlreadyActive = errors.New("dbwin channel already active")
	// ErrAborted is returned by Channel.Wait after Abort.
	ErrAborted = errors.New("dbwin channel aborted")
	// ErrNoReader is returned by producers when no reader is bound.
	ErrNoReader = errors.New("no dbwin reader")
	// ErrClosed is returned when using a closed reader or writer.
	ErrClosed = errors.New("dbwin channel closed")
)

// Scope selects the namespace of the channel objects.
type Scope int

const (
	// ScopeLocal binds to the session-local channel.
	ScopeLocal Scope = iota
	// ScopeGlobal binds to the host-wide channel.
	ScopeGlobal
)

func (s Scope) String() string {
	if s == ScopeGlobal {
		return "global"
	}
	return "local"
}

// ParseScope parses "local" or "global".
func ParseScope(s string) (Scope, error) {
	switch s {
	case "", "local":
		return ScopeLocal, nil
	case "global":
		return ScopeGlobal, nil
	}
	return ScopeLocal, fmt.Errorf("invalid scope %q: want local or global", s)
}

// objectName returns the name of a channel object in the given scope.
func objectName(scope Scope, name string) string {
	if scope == ScopeGlobal {
		return `Global\` + name
	}
	return name
}

// ChannelDir returns the directory of the Unix channel for scope. A non-empty dir
// overrides the default.
func ChannelDir(scope Scope, dir string) string {
	if dir != "" {
		return dir
	}
	if scope == ScopeGlobal {
		if st, err := os.Stat("/dev/shm"); err == nil && st.IsDir() {
			return "/dev/shm/dbwin"
		}
		return filepath.Join(os.TempDir(), "dbwin")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("dbwin-%d", os.Getuid()))
}

// Channel is the single-slot rendezvous between producers and one reader.
//
// The reader calls Wait, copies the record with Record, then calls Ready so
// the next producer may write. Only one record is ever in flight.
type Channel interface {
	// Wait blocks until a producer signals that a record is available or
	// timeout passes, and reports which one happened. A timeout <= 0 waits
	// forever. It returns ErrAborted once Abort has been called.
	Wait(timeout time.Duration) (bool, error)
	// Record copies the current record out of the shared buffer.
	Record() (pid uint32, data []byte)
	// Ready signals producers that the buffer may be written.
	Ready() error
	// Abort makes a pending or future Wait return ErrAborted. Safe to call
	// concurrently with Wait.
	Abort() error
	// Close releases the shared buffer and signals.
	Close() error
}

// decodeRecord splits a raw DBWIN_BUFFER image into pid and message bytes.
// The message ends at the first NUL.
func decodeRecord(buf []byte) (uint32, []byte) {
	if len(buf) < 4 {
		return 0, nil
	}
	pid := binary.LittleEndian.Uint32(buf[:4])
	data := buf[4:]
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	out := make([]byte, len(data))
	copy(out, data)
	return pid, out
}

// encodeRecord writes pid and message into buf, truncating the message so
// the NUL terminator fits.
func encodeRecord(buf []byte, pid uint32, msg []byte) {
	binary.LittleEndian.PutUint32(buf[:4], pid)
	n := copy(buf[4:len(buf)-1], msg)
	if i := bytes.IndexByte(buf[4:4+n], 0); i >= 0 {
		n = i
	}
	buf[4+n] = 0
}

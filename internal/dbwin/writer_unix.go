//go:build unix

package dbwin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultWriteTimeout is how long a producer waits for the reader to free
// the buffer before dropping a message.
const DefaultWriteTimeout = 10 * time.Second

// Writer is the producer side of a Unix channel. Each Write is one record.
type Writer struct {
	mu      sync.Mutex
	dir     string
	pid     uint32
	timeout time.Duration
	mutex   *os.File
	lock    *os.File
	mem     []byte
	ready   int
	data    int
}

// NewWriter opens the channel of scope for writing. It fails with
// ErrNoReader if no reader has ever created the channel.
func NewWriter(scope Scope, dir string) (*Writer, error) {
	dir = ChannelDir(scope, dir)
	if _, err := os.Stat(filepath.Join(dir, bufferName)); errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoReader
	}

	w := &Writer{
		dir:     dir,
		pid:     uint32(os.Getpid()),
		timeout: DefaultWriteTimeout,
		ready:   -1,
		data:    -1,
	}

	var err error
	if w.mutex, err = os.OpenFile(filepath.Join(dir, mutexName), os.O_CREATE|os.O_RDWR, 0o666); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", mutexName, err)
	}
	if w.lock, err = os.Open(filepath.Join(dir, readerLockName)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to open reader lock: %w", err)
	}
	if w.ready, err = openFifo(filepath.Join(dir, bufferReadyName)); err != nil {
		_ = w.Close()
		return nil, err
	}
	if w.data, err = openFifo(filepath.Join(dir, dataReadyName)); err != nil {
		_ = w.Close()
		return nil, err
	}
	if w.mem, err = mapBuffer(filepath.Join(dir, bufferName), unix.PROT_READ|unix.PROT_WRITE, false); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// SetTimeout changes how long Write waits for the buffer.
func (w *Writer) SetTimeout(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = d
}

// readerActive reports whether a reader holds the reader lock.
func (w *Writer) readerActive() (bool, error) {
	err := unix.Flock(int(w.lock.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, unix.Flock(int(w.lock.Fd()), unix.LOCK_UN)
}

// Write sends p as one record. Messages longer than MaxMessageSize are
// truncated; a NUL ends the message early.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mem == nil {
		return 0, ErrClosed
	}

	if err := unix.Flock(int(w.mutex.Fd()), unix.LOCK_EX); err != nil {
		return 0, fmt.Errorf("failed to lock %s: %w", mutexName, err)
	}
	defer func() { _ = unix.Flock(int(w.mutex.Fd()), unix.LOCK_UN) }()

	active, err := w.readerActive()
	if err != nil {
		return 0, fmt.Errorf("failed to check reader: %w", err)
	}
	if !active {
		return 0, ErrNoReader
	}

	ok, err := waitByte(w.ready, int(w.timeout/time.Millisecond))
	if err != nil {
		return 0, fmt.Errorf("failed to wait for %s: %w", bufferReadyName, err)
	}
	if !ok {
		return 0, fmt.Errorf("timed out after %v waiting for %s", w.timeout, bufferReadyName)
	}

	encodeRecord(w.mem, w.pid, p)
	if err := signal(w.data); err != nil {
		return 0, fmt.Errorf("failed to signal %s: %w", dataReadyName, err)
	}
	return len(p), nil
}

// Close releases the writer. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if w.mem != nil {
		errs = append(errs, unix.Munmap(w.mem))
		w.mem = nil
	}
	for _, fd := range []int{w.ready, w.data} {
		if fd >= 0 {
			errs = append(errs, unix.Close(fd))
		}
	}
	w.ready, w.data = -1, -1
	for _, f := range []*os.File{w.lock, w.mutex} {
		if f != nil {
			errs = append(errs, f.Close())
		}
	}
	w.lock, w.mutex = nil, nil
	return errors.Join(errs...)
}

// Send writes msg as one record to the channel of scope.
func Send(scope Scope, dir string, msg string) error {
	w, err := NewWriter(scope, dir)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte(msg))
	return errors.Join(err, w.Close())
}

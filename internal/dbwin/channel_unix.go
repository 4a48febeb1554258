//go:build unix

package dbwin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// On Unix hosts the channel lives in a directory:
//
//	DBWIN_BUFFER        4096 byte file, mapped shared by reader and producers
//	DBWIN_BUFFER.lock   flock'd exclusively by the bound reader
//	DBWIN_BUFFER_READY  FIFO, one byte per "buffer may be written"
//	DBWIN_DATA_READY    FIFO, one byte per "record available"
//	DBWinMutex          flock'd by producers to serialise writes
//
// The FIFOs are opened O_RDWR so that neither side blocks in open or sees
// EOF when the other side is absent.

const readerLockName = bufferName + ".lock"

type unixChannel struct {
	mu      sync.Mutex
	closed  bool
	aborted atomic.Bool
	lock    *os.File
	mem     []byte
	ready   int // DBWIN_BUFFER_READY
	data    int // DBWIN_DATA_READY
}

func openChannel(scope Scope, dir string) (Channel, error) {
	dir = ChannelDir(scope, dir)
	perm := os.FileMode(0o700)
	if scope == ScopeGlobal {
		perm = 0o777
	}
	if err := os.MkdirAll(dir, perm); err != nil {
		return nil, fmt.Errorf("failed to create channel directory: %w", err)
	}

	lock, err := os.OpenFile(filepath.Join(dir, readerLockName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open reader lock: %w", err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = lock.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrChannelAlreadyActive
		}
		return nil, fmt.Errorf("failed to lock channel: %w", err)
	}

	c := &unixChannel{lock: lock, ready: -1, data: -1}

	// Fresh FIFOs so that bytes left over by a previous reader are dropped.
	for _, name := range []string{bufferReadyName, dataReadyName} {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			_ = c.Close()
			return nil, fmt.Errorf("failed to remove stale %s: %w", name, err)
		}
		if err := unix.Mkfifo(path, uint32(perm&0o666)); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to create %s: %w", name, err)
		}
	}

	if c.ready, err = openFifo(filepath.Join(dir, bufferReadyName)); err != nil {
		_ = c.Close()
		return nil, err
	}
	if c.data, err = openFifo(filepath.Join(dir, dataReadyName)); err != nil {
		_ = c.Close()
		return nil, err
	}

	if c.mem, err = mapBuffer(filepath.Join(dir, bufferName), unix.PROT_READ, true); err != nil {
		_ = c.Close()
		return nil, err
	}

	mutex, err := os.OpenFile(filepath.Join(dir, mutexName), os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to create %s: %w", mutexName, err)
	}
	_ = mutex.Close()

	if scope == ScopeGlobal {
		if err := shareChannel(dir); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	return c, nil
}

// shareChannel opens the channel objects in dir to producers of every user,
// which the process umask usually prevents at creation.
func shareChannel(dir string) error {
	if err := ensureMode(dir, 0o777); err != nil {
		return err
	}
	for _, name := range []string{readerLockName, bufferName, bufferReadyName, dataReadyName, mutexName} {
		if err := ensureMode(filepath.Join(dir, name), 0o666); err != nil {
			return err
		}
	}
	return nil
}

// ensureMode sets the permission bits of path unless they already match, so
// objects owned by another user are left alone when they are shared.
func ensureMode(path string, perm os.FileMode) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", filepath.Base(path), err)
	}
	if st.Mode().Perm() == perm {
		return nil
	}
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to share %s: %w", filepath.Base(path), err)
	}
	return nil
}

func openFifo(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	return fd, nil
}

// mapBuffer maps the DBWIN_BUFFER file, creating it when create is set.
func mapBuffer(path string, prot int, create bool) ([]byte, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o666)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", bufferName, err)
	}
	defer func() { _ = f.Close() }()

	if create {
		if err := f.Truncate(BufferSize); err != nil {
			return nil, fmt.Errorf("failed to size %s: %w", bufferName, err)
		}
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, BufferSize, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", bufferName, err)
	}
	return mem, nil
}

// waitByte blocks until fd has a byte to read and consumes it. timeoutMs
// follows poll(2): negative waits forever.
func waitByte(fd int, timeoutMs int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}

		var b [1]byte
		_, err = unix.Read(fd, b[:])
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			// Another waiter took the byte.
			continue
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
}

// signal writes one byte to fd. A full FIFO already holds pending signals.
func signal(fd int) error {
	_, err := unix.Write(fd, []byte{1})
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

func (c *unixChannel) Wait(timeout time.Duration) (bool, error) {
	if c.aborted.Load() {
		return false, ErrAborted
	}
	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
	}
	ok, err := waitByte(c.data, ms)
	if err != nil {
		return false, fmt.Errorf("failed to wait for %s: %w", dataReadyName, err)
	}
	if c.aborted.Load() {
		return false, ErrAborted
	}
	return ok, nil
}

func (c *unixChannel) Record() (uint32, []byte) {
	return decodeRecord(c.mem)
}

func (c *unixChannel) Ready() error {
	return signal(c.ready)
}

func (c *unixChannel) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted.Store(true)
	if c.closed || c.data < 0 {
		return nil
	}
	// Wake the reader parked in Wait.
	return signal(c.data)
}

func (c *unixChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.mem != nil {
		errs = append(errs, unix.Munmap(c.mem))
		c.mem = nil
	}
	for _, fd := range []int{c.ready, c.data} {
		if fd >= 0 {
			errs = append(errs, unix.Close(fd))
		}
	}
	c.ready, c.data = -1, -1
	if c.lock != nil {
		errs = append(errs, unix.Flock(int(c.lock.Fd()), unix.LOCK_UN), c.lock.Close())
	}
	return errors.Join(errs...)
}

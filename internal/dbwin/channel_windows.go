//go:build windows

package dbwin

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// winChannel is the native DBWIN channel: the DBWIN_BUFFER file mapping and
// the DBWIN_BUFFER_READY / DBWIN_DATA_READY auto-reset events.
type winChannel struct {
	mu          sync.Mutex
	closed      bool
	mapping     windows.Handle
	view        uintptr
	bufferReady windows.Handle
	dataReady   windows.Handle
	stop        windows.Handle
}

func openChannel(scope Scope, _ string) (Channel, error) {
	c := &winChannel{}

	name, err := windows.UTF16PtrFromString(objectName(scope, bufferName))
	if err != nil {
		return nil, err
	}

	// Producers only open the events, so an existing DBWIN_BUFFER_READY
	// belongs to another reader.
	var existed bool
	if c.bufferReady, existed, err = createEvent(objectName(scope, bufferReadyName)); err != nil {
		return nil, err
	}
	if existed {
		_ = c.Close()
		return nil, ErrChannelAlreadyActive
	}
	if c.dataReady, _, err = createEvent(objectName(scope, dataReadyName)); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.mapping, err = windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, 0, BufferSize, name)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to create %s: %w", bufferName, err)
	}
	if c.stop, err = windows.CreateEvent(nil, 1, 0, nil); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to create stop event: %w", err)
	}

	c.view, err = windows.MapViewOfFile(c.mapping, windows.FILE_MAP_READ, 0, 0, BufferSize)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to map %s: %w", bufferName, err)
	}

	return c, nil
}

// createEvent creates or opens a named auto-reset event in the unsignalled
// state and reports whether it existed before.
func createEvent(name string) (windows.Handle, bool, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, false, err
	}
	h, err := windows.CreateEvent(nil, 0, 0, p)
	if h != 0 && errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		return h, true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to create %s: %w", name, err)
	}
	return h, false, nil
}

func (c *winChannel) Wait(timeout time.Duration) (bool, error) {
	ms := uint32(windows.INFINITE)
	if timeout > 0 {
		ms = uint32(timeout / time.Millisecond)
	}
	event, err := windows.WaitForMultipleObjects([]windows.Handle{c.dataReady, c.stop}, false, ms)
	if err != nil {
		return false, fmt.Errorf("failed to wait for %s: %w", dataReadyName, err)
	}
	switch event {
	case windows.WAIT_OBJECT_0:
		return true, nil
	case uint32(windows.WAIT_TIMEOUT):
		return false, nil
	}
	return false, ErrAborted
}

func (c *winChannel) Record() (uint32, []byte) {
	mem := unsafe.Slice((*byte)(unsafe.Pointer(c.view)), BufferSize)
	return decodeRecord(mem)
}

func (c *winChannel) Ready() error {
	return windows.SetEvent(c.bufferReady)
}

func (c *winChannel) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.stop == 0 {
		return nil
	}
	return windows.SetEvent(c.stop)
}

func (c *winChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.view != 0 {
		errs = append(errs, windows.UnmapViewOfFile(c.view))
	}
	for _, h := range []windows.Handle{c.stop, c.dataReady, c.bufferReady, c.mapping} {
		if h != 0 {
			errs = append(errs, windows.CloseHandle(h))
		}
	}
	return errors.Join(errs...)
}

// Send writes msg to the debug output of the current process, where every
// bound reader receives it.
func Send(_ Scope, _ string, msg string) error {
	p, err := windows.UTF16PtrFromString(msg)
	if err != nil {
		return fmt.Errorf("invalid debug message: %w", err)
	}
	windows.OutputDebugString(p)
	return nil
}

// Package procinfo resolves the display name of the process that wrote a
// debug message.
package procinfo

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrInvalidPID is returned for pid 0, which never identifies a producer.
var ErrInvalidPID = errors.New("invalid pid")

// Handle is a lightweight reference to a running process, taken while the
// process is known to be alive so its name can be looked up later.
type Handle struct {
	pid  uint32
	proc *process.Process
	os   osHandle
}

// Open acquires a reference to pid. It fails if the process has already
// exited or cannot be queried.
func Open(pid uint32) (*Handle, error) {
	if pid == 0 {
		return nil, ErrInvalidPID
	}

	h := &Handle{pid: pid}

	oh, err := openOSHandle(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	h.os = oh

	p, err := process.NewProcess(int32(pid))
	if err == nil {
		h.proc = p
	} else if !oh.valid() {
		return nil, fmt.Errorf("process not found: %w", err)
	}

	return h, nil
}

// PID returns the process id the handle was opened for.
func (h *Handle) PID() uint32 {
	return h.pid
}

// Name returns the executable name of the process, e.g. "notepad.exe".
func (h *Handle) Name() (string, error) {
	if name, err := h.os.imageName(); err == nil && name != "" {
		return filepath.Base(name), nil
	}

	if h.proc == nil {
		return "", fmt.Errorf("process %d: no name available", h.pid)
	}

	// Get name (may fail for short-lived processes)
	name, err := h.proc.Name()
	if err != nil {
		return "", fmt.Errorf("failed to get name of process %d: %w", h.pid, err)
	}
	return name, nil
}

// Close releases the OS handle, if any. It is safe to call more than once.
func (h *Handle) Close() error {
	return h.os.close()
}

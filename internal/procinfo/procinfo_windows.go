//go:build windows

package procinfo

import (
	"golang.org/x/sys/windows"
)

// osHandle holds a PROCESS_QUERY_LIMITED_INFORMATION handle. Holding it keeps
// the pid from being reused while the handle cache owns it.
type osHandle struct {
	h windows.Handle
}

func openOSHandle(pid uint32) (osHandle, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return osHandle{}, err
	}
	return osHandle{h: h}, nil
}

func (o osHandle) valid() bool {
	return o.h != 0
}

func (o osHandle) imageName() (string, error) {
	if o.h == 0 {
		return "", windows.ERROR_INVALID_HANDLE
	}
	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(o.h, 0, &buf[0], &size); err != nil {
		return "", err
	}
	return windows.UTF16ToString(buf[:size]), nil
}

func (o *osHandle) close() error {
	if o.h == 0 {
		return nil
	}
	err := windows.CloseHandle(o.h)
	o.h = 0
	return err
}

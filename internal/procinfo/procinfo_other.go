//go:build !windows

package procinfo

import (
	"errors"
)

// osHandle is empty outside Windows; gopsutil looks the process up by pid.
type osHandle struct{}

func openOSHandle(uint32) (osHandle, error) {
	return osHandle{}, nil
}

func (osHandle) valid() bool {
	return false
}

func (osHandle) imageName() (string, error) {
	return "", errors.ErrUnsupported
}

func (*osHandle) close() error {
	return nil
}

//go:build !windows && !unix

package dbwin

import (
	"errors"
)

func openChannel(Scope, string) (Channel, error) {
	return nil, errors.ErrUnsupported
}

// Send is not supported on this platform.
func Send(Scope, string, string) error {
	return errors.ErrUnsupported
}

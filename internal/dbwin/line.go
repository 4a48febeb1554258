package dbwin

import (
	"time"
)

// Line is one finished debug output line attributed to the process that wrote it.
type Line struct {
	Time       time.Duration // Elapsed since the reader started
	SystemTime time.Time     // Wall clock time at capture
	PID        uint32
	Process    string // Resolved process name, empty if unresolved
	Text       string // Never contains '\r' or '\n'
}

// Fragment is one raw record copied out of the shared buffer. It is not
// guaranteed to hold a complete line.
type Fragment struct {
	Time       time.Duration
	SystemTime time.Time
	PID        uint32
	Handle     OriginHandle // nil when the process could not be opened
	Data       []byte
}

// Sink receives finished lines.
type Sink interface {
	Accept(lines []Line) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(lines []Line) error

func (f SinkFunc) Accept(lines []Line) error {
	return f(lines)
}

package linelog

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned when writing to a closed Writer.
var ErrClosed = errors.New("linelog writer closed")

// Writer appends records to an io.Writer from a single goroutine.
type Writer struct {
	records chan Record
	done    chan struct{}

	mu     sync.Mutex
	closed bool

	errMu sync.Mutex
	err   error // First write error, reported by Close
}

// NewWriter creates a Writer that writes to w.
// The internal goroutine will run until Close() is called.
func NewWriter(w io.Writer) *Writer {
	lw := &Writer{
		records: make(chan Record, 100),
		done:    make(chan struct{}),
	}

	// Single goroutine that owns the io.Writer
	go func() {
		defer close(lw.done)
		for rec := range lw.records {
			if _, err := w.Write(FormatRecord(rec)); err != nil {
				lw.errMu.Lock()
				if lw.err == nil {
					lw.err = err
				}
				lw.errMu.Unlock()
			}
		}
	}()

	return lw
}

// Write queues records for writing. It returns the first error the
// underlying writer reported so far.
func (lw *Writer) Write(records ...Record) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.closed {
		return ErrClosed
	}
	if err := lw.writeErr(); err != nil {
		return err
	}
	for _, rec := range records {
		lw.records <- rec
	}
	return nil
}

// Close waits for all pending writes to complete and returns the first
// write error.
func (lw *Writer) Close() error {
	lw.mu.Lock()
	if !lw.closed {
		lw.closed = true
		close(lw.records)
	}
	lw.mu.Unlock()

	<-lw.done
	return lw.writeErr()
}

func (lw *Writer) writeErr() error {
	lw.errMu.Lock()
	defer lw.errMu.Unlock()
	return lw.err
}

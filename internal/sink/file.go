package sink

import (
	"errors"
	"fmt"
	"os"

	"dbwinlog/internal/dbwin"
	"dbwinlog/pkg/linelog"
)

// File appends lines to a line log file.
type File struct {
	f      *os.File
	writer *linelog.Writer
}

// OpenFile opens path for appending, creating it if needed.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open line log: %w", err)
	}
	return &File{f: f, writer: linelog.NewWriter(f)}, nil
}

func (s *File) Accept(lines []dbwin.Line) error {
	records := make([]linelog.Record, len(lines))
	for i, l := range lines {
		records[i] = ToRecord(l)
	}
	return s.writer.Write(records...)
}

// Close flushes pending lines and closes the file.
func (s *File) Close() error {
	return errors.Join(s.writer.Close(), s.f.Close())
}

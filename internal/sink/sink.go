// Package sink delivers captured lines to the console, line log files and
// SQLite databases.
package sink

import (
	"errors"

	"dbwinlog/internal/dbwin"
	"dbwinlog/pkg/linelog"
)

// Multi fans lines out to several sinks. Every sink sees every batch, even
// if an earlier one failed.
type Multi []dbwin.Sink

var _ dbwin.Sink = Multi(nil)

func (m Multi) Accept(lines []dbwin.Line) error {
	var errs []error
	for _, s := range m {
		if err := s.Accept(lines); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ToRecord converts a captured line to its stored form.
func ToRecord(l dbwin.Line) linelog.Record {
	return linelog.Record{
		PID:       l.PID,
		Process:   l.Process,
		Timestamp: l.SystemTime.UTC(),
		Elapsed:   l.Time,
		Text:      l.Text,
	}
}

// FromRecord converts a stored record back to a line.
func FromRecord(r linelog.Record) dbwin.Line {
	return dbwin.Line{
		Time:       r.Elapsed,
		SystemTime: r.Timestamp,
		PID:        r.PID,
		Process:    r.Process,
		Text:       r.Text,
	}
}

package dbwin

import (
	"sort"
	"time"
)

// DefaultMaxLineLength bounds a partial line. A process that never writes a
// newline gets its output cut into lines of this size once a line would
// exceed it.
const DefaultMaxLineLength = 8192

// Reassembler turns raw fragments into lines, keeping one partial line per
// process. Not safe for concurrent use.
type Reassembler struct {
	maxLineLength int
	autoNewline   bool
	buffers       map[uint32][]byte // PID -> pending bytes, never empty
}

// NewReassembler creates a reassembler. With autoNewline set every fragment
// ends a line, terminated or not.
func NewReassembler(maxLineLength int, autoNewline bool) *Reassembler {
	if maxLineLength <= 0 {
		maxLineLength = DefaultMaxLineLength
	}
	return &Reassembler{
		maxLineLength: maxLineLength,
		autoNewline:   autoNewline,
		buffers:       make(map[uint32][]byte),
	}
}

// SetAutoNewline changes the auto-newline policy for subsequent fragments.
func (r *Reassembler) SetAutoNewline(v bool) {
	r.autoNewline = v
}

// Process appends data to the partial line of pid and returns the lines it
// completed, in input order.
func (r *Reassembler) Process(t time.Duration, systemTime time.Time, pid uint32, process string, data []byte) []Line {
	var lines []Line
	emit := func(buf []byte) {
		lines = append(lines, Line{
			Time:       t,
			SystemTime: systemTime,
			PID:        pid,
			Process:    process,
			Text:       string(buf),
		})
	}

	buf := r.buffers[pid]
	for _, b := range data {
		switch b {
		case '\r':
			continue
		case '\n':
			emit(buf)
			buf = buf[:0]
		default:
			// A full buffer is only cut once another byte arrives for it.
			if len(buf) >= r.maxLineLength {
				emit(buf)
				buf = buf[:0]
			}
			buf = append(buf, b)
		}
	}

	if len(buf) > 0 && r.autoNewline {
		emit(buf)
		buf = buf[:0]
	}

	if len(buf) == 0 {
		delete(r.buffers, pid)
	} else {
		r.buffers[pid] = buf
	}
	return lines
}

// Flush removes the partial line of pid and returns its text.
func (r *Reassembler) Flush(pid uint32) (string, bool) {
	buf, ok := r.buffers[pid]
	if !ok {
		return "", false
	}
	delete(r.buffers, pid)
	return string(buf), true
}

// Pending returns the number of buffered bytes for pid.
func (r *Reassembler) Pending(pid uint32) int {
	return len(r.buffers[pid])
}

// PIDs returns the processes with a partial line, in ascending order.
func (r *Reassembler) PIDs() []uint32 {
	pids := make([]uint32, 0, len(r.buffers))
	for pid := range r.buffers {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// Len returns the number of processes with a partial line.
func (r *Reassembler) Len() int {
	return len(r.buffers)
}

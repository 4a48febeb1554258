package linelog

import (
	"fmt"
	"strconv"
	"time"
)

const timestampFormat = "2006-01-02T15:04:05.000000000Z"

// Record is one stored line.
type Record struct {
	PID       uint32
	Process   string
	Timestamp time.Time     // UTC wall clock time of capture
	Elapsed   time.Duration // Time since capture started
	Text      string
	Error     error // Set by readers when the record could not be parsed
}

// FormatRecord formats a Record into the line log format.
// Format: `pid "process" timestamp elapsed length: text`
func FormatRecord(rec Record) []byte {
	timestamp := rec.Timestamp.UTC().Format(timestampFormat)
	out := fmt.Appendf(nil, "%d %s %s %s %d: ", rec.PID, strconv.Quote(rec.Process), timestamp, rec.Elapsed, len(rec.Text))
	out = append(out, rec.Text...)
	out = append(out, '\n')
	return out
}

package linelog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Reader parses a line log.
type Reader struct {
	reader *bufio.Reader
}

// NewReader creates a Reader for r.
func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReader(r)}
}

// Channel returns a channel which emits Records. It is closed at end of
// input or after the first record with an Error.
func (r *Reader) Channel() <-chan Record {
	channel := make(chan Record)
	go func() {
		defer close(channel)
		for {
			rec, eof := readToRecord(r.reader)
			if rec.Error != nil {
				channel <- rec
				return
			}
			if eof {
				return
			}
			channel <- rec
		}
	}()
	return channel
}

// All reads every record. It stops at the first malformed record.
func (r *Reader) All() ([]Record, error) {
	var records []Record
	for rec := range r.Channel() {
		if rec.Error != nil {
			return records, rec.Error
		}
		records = append(records, rec)
	}
	return records, nil
}

// readToRecord reads one record. It reports eof at clean end of input or
// when the record is malformed, in which case Record.Error is set.
func readToRecord(reader *bufio.Reader) (Record, bool) {
	var rec Record

	pidStr, err := reader.ReadString(' ')
	if err != nil {
		if errors.Is(err, io.EOF) && pidStr == "" {
			return rec, true
		}
		rec.Error = fmt.Errorf("reading pid: %w", err)
		return rec, true
	}
	pid, err := strconv.ParseUint(pidStr[:len(pidStr)-1], 10, 32)
	if err != nil {
		rec.Error = fmt.Errorf("parsing pid: %w", err)
		return rec, true
	}
	rec.PID = uint32(pid)

	process, err := readQuoted(reader)
	if err != nil {
		rec.Error = fmt.Errorf("reading process: %w", err)
		return rec, true
	}
	rec.Process = process

	if b, err := reader.ReadByte(); err != nil || b != ' ' {
		rec.Error = fmt.Errorf("expected space after process, got %q (%v)", b, err)
		return rec, true
	}

	timestampStr, err := reader.ReadString(' ')
	if err != nil {
		rec.Error = fmt.Errorf("reading timestamp: %w", err)
		return rec, true
	}
	rec.Timestamp, err = time.Parse(timestampFormat, timestampStr[:len(timestampStr)-1])
	if err != nil {
		rec.Error = fmt.Errorf("parsing timestamp: %w", err)
		return rec, true
	}

	elapsedStr, err := reader.ReadString(' ')
	if err != nil {
		rec.Error = fmt.Errorf("reading elapsed: %w", err)
		return rec, true
	}
	rec.Elapsed, err = time.ParseDuration(elapsedStr[:len(elapsedStr)-1])
	if err != nil {
		rec.Error = fmt.Errorf("parsing elapsed: %w", err)
		return rec, true
	}

	lengthStr, err := reader.ReadString(':')
	if err != nil {
		rec.Error = fmt.Errorf("reading length: %w", err)
		return rec, true
	}
	length, err := strconv.Atoi(lengthStr[:len(lengthStr)-1])
	if err != nil {
		rec.Error = fmt.Errorf("parsing length: %w", err)
		return rec, true
	}
	if length < 0 {
		rec.Error = fmt.Errorf("negative length %d", length)
		return rec, true
	}

	// Skip the space after colon
	if b, err := reader.ReadByte(); err != nil || b != ' ' {
		rec.Error = fmt.Errorf("expected space after colon, got %q (%v)", b, err)
		return rec, true
	}

	text := make([]byte, length)
	if _, err := io.ReadFull(reader, text); err != nil {
		rec.Error = fmt.Errorf("reading text (%d bytes): %w", length, err)
		return rec, true
	}
	rec.Text = string(text)

	if b, err := reader.ReadByte(); err != nil || b != '\n' {
		rec.Error = fmt.Errorf("expected newline separator, got %q (%v)", b, err)
		return rec, true
	}

	return rec, false
}

// readQuoted reads one Go-quoted string.
func readQuoted(reader *bufio.Reader) (string, error) {
	b, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	if b != '"' {
		return "", fmt.Errorf("expected opening quote, got %q", b)
	}

	raw := []byte{'"'}
	escaped := false
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return "", err
		}
		raw = append(raw, b)
		switch {
		case escaped:
			escaped = false
		case b == '\\':
			escaped = true
		case b == '"':
			return strconv.Unquote(string(raw))
		}
	}
}

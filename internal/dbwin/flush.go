package dbwin

import (
	"time"
)

// DefaultFlushSentinel is the process name of lines that were flushed
// because their process went quiet, not because they were terminated.
const DefaultFlushSentinel = "<flush>"

// FlushCoordinator emits the partial lines of processes whose handles were
// evicted from the cache.
type FlushCoordinator struct {
	cache       *HandleCache
	reassembler *Reassembler
	interval    time.Duration
	sentinel    string
	lastCheck   time.Duration
}

// NewFlushCoordinator creates a coordinator that runs cache cleanup at most
// once per interval.
func NewFlushCoordinator(cache *HandleCache, reassembler *Reassembler, interval time.Duration, sentinel string) *FlushCoordinator {
	if interval <= 0 {
		interval = DefaultHandleTimeout
	}
	if sentinel == "" {
		sentinel = DefaultFlushSentinel
	}
	return &FlushCoordinator{
		cache:       cache,
		reassembler: reassembler,
		interval:    interval,
		sentinel:    sentinel,
	}
}

// Check runs cache cleanup if interval has passed since the last check and
// returns one forced line per evicted process that had a partial line.
func (f *FlushCoordinator) Check(now time.Duration, systemTime time.Time) []Line {
	if now-f.lastCheck < f.interval {
		return nil
	}
	f.lastCheck = now

	var lines []Line
	for _, pid := range f.cache.Cleanup(now) {
		if text, ok := f.reassembler.Flush(pid); ok && text != "" {
			lines = append(lines, f.forced(now, systemTime, pid, text))
		}
	}
	return lines
}

// FlushAll emits every partial line regardless of cache state.
func (f *FlushCoordinator) FlushAll(now time.Duration, systemTime time.Time) []Line {
	var lines []Line
	for _, pid := range f.reassembler.PIDs() {
		if text, ok := f.reassembler.Flush(pid); ok && text != "" {
			lines = append(lines, f.forced(now, systemTime, pid, text))
		}
	}
	return lines
}

func (f *FlushCoordinator) forced(now time.Duration, systemTime time.Time, pid uint32, text string) Line {
	return Line{
		Time:       now,
		SystemTime: systemTime,
		PID:        pid,
		Process:    f.sentinel,
		Text:       text,
	}
}

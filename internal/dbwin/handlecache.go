package dbwin

import (
	"log/slog"
	"sort"
	"time"
)

// DefaultHandleTimeout is how long a process handle stays cached after the
// last message from that process.
const DefaultHandleTimeout = 15 * time.Second

// OriginHandle is an owned reference to the process that produced a
// fragment. The cache closes it on overwrite, eviction or Close.
type OriginHandle interface {
	Close() error
}

// handleSlot owns at most one handle and closes it when replaced or reset.
type handleSlot struct {
	handle   OriginHandle
	lastSeen time.Duration
}

func (s *handleSlot) reset(h OriginHandle) {
	if s.handle != nil && s.handle != h {
		if err := s.handle.Close(); err != nil {
			slog.Debug("Failed to close process handle", "error", err)
		}
	}
	s.handle = h
}

// HandleCache keeps process handles open while their process is active so
// that the number of open handles stays bounded. Not safe for concurrent use;
// it is owned by the reader goroutine.
type HandleCache struct {
	timeout time.Duration
	slots   map[uint32]*handleSlot
}

// NewHandleCache creates a cache that evicts entries idle for longer than timeout.
func NewHandleCache(timeout time.Duration) *HandleCache {
	if timeout <= 0 {
		timeout = DefaultHandleTimeout
	}
	return &HandleCache{
		timeout: timeout,
		slots:   make(map[uint32]*handleSlot),
	}
}

// Add takes ownership of handle and refreshes the last-seen time of pid.
// A nil handle only refreshes the entry and keeps any handle already cached.
func (c *HandleCache) Add(pid uint32, handle OriginHandle, now time.Duration) {
	slot, ok := c.slots[pid]
	if !ok {
		slot = &handleSlot{lastSeen: now}
		c.slots[pid] = slot
	}
	if handle != nil {
		slot.reset(handle)
	}
	if now > slot.lastSeen {
		slot.lastSeen = now
	}
}

// Cleanup evicts every entry idle for longer than the timeout and returns
// the evicted pids in ascending order.
func (c *HandleCache) Cleanup(now time.Duration) []uint32 {
	var removed []uint32
	for pid, slot := range c.slots {
		if now-slot.lastSeen > c.timeout {
			slot.reset(nil)
			delete(c.slots, pid)
			removed = append(removed, pid)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

// Contains reports whether pid has a cached handle.
func (c *HandleCache) Contains(pid uint32) bool {
	_, ok := c.slots[pid]
	return ok
}

// Len returns the number of cached handles.
func (c *HandleCache) Len() int {
	return len(c.slots)
}

// OpenHandles returns the number of entries holding a handle.
func (c *HandleCache) OpenHandles() int {
	n := 0
	for _, slot := range c.slots {
		if slot.handle != nil {
			n++
		}
	}
	return n
}

// Close releases all cached handles.
func (c *HandleCache) Close() {
	for pid, slot := range c.slots {
		slot.reset(nil)
		delete(c.slots, pid)
	}
}

package dbwin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbwinlog/internal/metric"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type record struct {
	pid  uint32
	data string
	at   time.Time
}

// fakeChannel hands records to the reader one at a time. Sending on records
// blocks until the reader is back in Wait, so once send returns every
// earlier record has been processed. A value on timeouts makes Wait time out
// with the clock set to it.
type fakeChannel struct {
	records   chan record
	timeouts  chan time.Time
	abort     chan struct{}
	abortOnce sync.Once

	mu       sync.Mutex
	cur      record
	now      time.Time
	readies  int
	readyErr error
	closed   int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		records:  make(chan record),
		timeouts: make(chan time.Time),
		abort:    make(chan struct{}),
		now:      base,
	}
}

func (c *fakeChannel) Wait(time.Duration) (bool, error) {
	select {
	case rec := <-c.records:
		c.mu.Lock()
		c.cur = rec
		c.now = rec.at
		c.mu.Unlock()
		return true, nil
	case at := <-c.timeouts:
		c.mu.Lock()
		c.now = at
		c.mu.Unlock()
		return false, nil
	case <-c.abort:
		return false, ErrAborted
	}
}

func (c *fakeChannel) Record() (uint32, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.pid, []byte(c.cur.data)
}

func (c *fakeChannel) Ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readies++
	return c.readyErr
}

func (c *fakeChannel) Abort() error {
	c.abortOnce.Do(func() { close(c.abort) })
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeChannel) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeChannel) readyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readies
}

func (c *fakeChannel) send(t *testing.T, pid uint32, data string, at time.Duration) {
	t.Helper()
	select {
	case c.records <- record{pid: pid, data: data, at: base.Add(at)}:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not take the record")
	}
}

// idle lets Wait time out once with the clock moved to at.
func (c *fakeChannel) idle(t *testing.T, at time.Duration) {
	t.Helper()
	select {
	case c.timeouts <- base.Add(at):
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not wait")
	}
}

// opener hands out named fake handles and remembers them.
type opener struct {
	mu      sync.Mutex
	name    string
	err     error
	handles []*fakeHandle
}

func (o *opener) open(uint32) (OriginHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	h := &fakeHandle{name: o.name}
	o.handles = append(o.handles, h)
	return h, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestReader(t *testing.T, opts Options) (*Reader, *fakeChannel, *opener) {
	t.Helper()
	ch := newFakeChannel()
	o := &opener{name: "app.exe"}
	if opts.Opener == nil {
		opts.Opener = o.open
	}
	opts.Logger = discardLogger()
	opts.Clock = ch.clock

	r, err := NewReader(ch, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, ch, o
}

// closeAndDrain stops r and returns every line it produced.
func closeAndDrain(t *testing.T, r *Reader) []Line {
	t.Helper()
	require.NoError(t, r.Close())
	return r.Lines()
}

func TestReader_ReassemblesAcrossRecords(t *testing.T) {
	r, ch, _ := newTestReader(t, Options{})

	ch.send(t, 42, "hel", time.Second)
	ch.send(t, 42, "lo\n", 2*time.Second)

	lines := closeAndDrain(t, r)
	require.Len(t, lines, 1)
	assert.Equal(t, "hello", lines[0].Text)
	assert.Equal(t, uint32(42), lines[0].PID)
	assert.Equal(t, "app.exe", lines[0].Process)
	assert.Equal(t, 2*time.Second, lines[0].Time)
	assert.Equal(t, base.Add(2*time.Second), lines[0].SystemTime)
}

func TestReader_ReArmsBeforeProcessing(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	blocking := func(uint32) (OriginHandle, error) {
		close(entered)
		<-release
		return nil, errors.New("gone")
	}
	r, ch, _ := newTestReader(t, Options{Opener: blocking})

	ch.send(t, 1, "x\n", 0)
	<-entered

	// Initial ready plus the re-arm for the record being processed.
	assert.Equal(t, 2, ch.readyCount())
	assert.Equal(t, StateReadyToReceive, r.State())

	close(release)
	lines := closeAndDrain(t, r)
	assert.Equal(t, []string{"x"}, texts(lines))
}

func TestReader_ForcedFlushAfterHandleTimeout(t *testing.T) {
	r, ch, o := newTestReader(t, Options{})

	ch.send(t, 1, "partial", time.Second)
	ch.send(t, 2, "x\n", 17*time.Second)

	lines := closeAndDrain(t, r)
	require.Len(t, lines, 2)

	assert.Equal(t, uint32(1), lines[0].PID)
	assert.Equal(t, DefaultFlushSentinel, lines[0].Process)
	assert.Equal(t, "partial", lines[0].Text)
	assert.Equal(t, 17*time.Second, lines[0].Time)

	assert.Equal(t, uint32(2), lines[1].PID)
	assert.Equal(t, "x", lines[1].Text)

	// Evicted during the run, the other released on shutdown.
	require.Len(t, o.handles, 2)
	assert.Equal(t, 1, o.handles[0].closed)
	assert.Equal(t, 1, o.handles[1].closed)
}

func TestReader_FlushesWhileChannelIsQuiet(t *testing.T) {
	r, ch, o := newTestReader(t, Options{})

	ch.send(t, 1, "partial", time.Second)

	// Still within the handle timeout.
	ch.idle(t, 15*time.Second)
	ch.idle(t, 10*time.Minute)

	var lines []Line
	require.Eventually(t, func() bool {
		lines = append(lines, r.Lines()...)
		return len(lines) > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.Len(t, lines, 1)
	assert.Equal(t, uint32(1), lines[0].PID)
	assert.Equal(t, DefaultFlushSentinel, lines[0].Process)
	assert.Equal(t, "partial", lines[0].Text)
	assert.Equal(t, 10*time.Minute, lines[0].Time)
	require.Len(t, o.handles, 1)
	assert.Equal(t, 1, o.handles[0].closed)
}

func TestReader_CustomSentinelAndTimeout(t *testing.T) {
	r, ch, _ := newTestReader(t, Options{HandleTimeout: time.Second, FlushSentinel: "<idle>"})

	ch.send(t, 1, "a", 0)
	ch.send(t, 2, "b\n", 3*time.Second)

	lines := closeAndDrain(t, r)
	require.Len(t, lines, 2)
	assert.Equal(t, "<idle>", lines[0].Process)
	assert.Equal(t, "a", lines[0].Text)
}

func TestReader_ShutdownFlushesPartialLines(t *testing.T) {
	r, ch, o := newTestReader(t, Options{})

	ch.send(t, 3, "tail", time.Second)
	ch.send(t, 4, "done\n", 2*time.Second)

	lines := closeAndDrain(t, r)
	require.Len(t, lines, 2)
	assert.Equal(t, "done", lines[0].Text)
	assert.Equal(t, "tail", lines[1].Text)
	assert.Equal(t, DefaultFlushSentinel, lines[1].Process)

	for _, h := range o.handles {
		assert.Equal(t, 1, h.closed)
	}
}

func TestReader_AutoNewline(t *testing.T) {
	r, ch, _ := newTestReader(t, Options{AutoNewline: true})

	ch.send(t, 1, "one", 0)
	ch.send(t, 1, "two", 0)

	lines := closeAndDrain(t, r)
	assert.Equal(t, []string{"one", "two"}, texts(lines))
}

func TestReader_UnresolvedProcess(t *testing.T) {
	m := metric.NewMetrics()
	o := &opener{err: errors.New("access denied")}
	r, ch, _ := newTestReader(t, Options{Opener: o.open, Metrics: m})

	ch.send(t, 5, "anon\n", 0)

	lines := closeAndDrain(t, r)
	require.Len(t, lines, 1)
	assert.Equal(t, "", lines[0].Process)
	assert.Equal(t, uint32(5), lines[0].PID)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolveFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fragments))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lines))
}

func TestReader_CloseIsIdempotent(t *testing.T) {
	r, ch, _ := newTestReader(t, Options{})

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.Equal(t, StateAborted, r.State())
	assert.Equal(t, 1, ch.closed)
	select {
	case <-r.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestReader_Description(t *testing.T) {
	local, _, _ := newTestReader(t, Options{})
	global, _, _ := newTestReader(t, Options{Scope: ScopeGlobal})

	assert.Equal(t, "Win32 Messages", local.Description())
	assert.Equal(t, "Global Win32 Messages", global.Description())
	assert.False(t, local.AtEnd())
}

func TestNewReader_ReadyFailureClosesChannel(t *testing.T) {
	ch := newFakeChannel()
	ch.readyErr = errors.New("boom")

	_, err := NewReader(ch, Options{Logger: discardLogger()})
	require.Error(t, err)
	assert.Equal(t, 1, ch.closed)
}

func TestReader_PumpDeliversUntilDone(t *testing.T) {
	r, ch, _ := newTestReader(t, Options{})

	var mu sync.Mutex
	var got []string
	sink := SinkFunc(func(lines []Line) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, texts(lines)...)
		return nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- r.Pump(context.Background(), sink, 10*time.Millisecond) }()

	ch.send(t, 1, "a\n", 0)
	ch.send(t, 1, "b\nrest", 0)
	require.NoError(t, r.Close())

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "rest"}, got)
}

func TestReader_PumpStopsOnContext(t *testing.T) {
	r, _, _ := newTestReader(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Pump(ctx, SinkFunc(func([]Line) error { return nil }), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReader_PumpCountsSinkErrors(t *testing.T) {
	m := metric.NewMetrics()
	r, ch, _ := newTestReader(t, Options{Metrics: m})

	ch.send(t, 1, "a\n", 0)
	require.NoError(t, r.Close())

	err := r.Pump(context.Background(), SinkFunc(func([]Line) error { return errors.New("disk full") }), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkErrors))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "ready-to-receive", StateReadyToReceive.String())
	assert.Equal(t, "data-available", StateDataAvailable.String())
	assert.Equal(t, "aborted", StateAborted.String())
	assert.Equal(t, "State(9)", State(9).String())
}

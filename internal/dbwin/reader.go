package dbwin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dbwinlog/internal/metric"
	"dbwinlog/internal/procinfo"
)

// State is the position of the reader in the rendezvous protocol.
type State int32

const (
	StateReadyToReceive State = iota
	StateDataAvailable
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateReadyToReceive:
		return "ready-to-receive"
	case StateDataAvailable:
		return "data-available"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Opener acquires a reference to the process that wrote a record.
type Opener func(pid uint32) (OriginHandle, error)

// Resolver turns an origin handle into a display name.
type Resolver interface {
	ResolveName(h OriginHandle) (string, error)
}

// HandleResolver names handles that know their own name, such as
// *procinfo.Handle.
type HandleResolver struct{}

func (HandleResolver) ResolveName(h OriginHandle) (string, error) {
	n, ok := h.(interface{ Name() (string, error) })
	if !ok {
		return "", fmt.Errorf("handle %T has no name", h)
	}
	return n.Name()
}

// OpenProcess is the default Opener.
func OpenProcess(pid uint32) (OriginHandle, error) {
	h, err := procinfo.Open(pid)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Options configures a Reader. The zero value is usable.
type Options struct {
	Scope         Scope
	Dir           string // Channel directory on Unix hosts, ignored on Windows
	AutoNewline   bool   // End a line at the end of every record
	MaxLineLength int
	FlushSentinel string
	HandleTimeout time.Duration
	Opener        Opener
	Resolver      Resolver
	Metrics       *metric.Metrics
	Logger        *slog.Logger
	Clock         func() time.Time
}

func (o *Options) setDefaults() {
	if o.MaxLineLength <= 0 {
		o.MaxLineLength = DefaultMaxLineLength
	}
	if o.FlushSentinel == "" {
		o.FlushSentinel = DefaultFlushSentinel
	}
	if o.HandleTimeout <= 0 {
		o.HandleTimeout = DefaultHandleTimeout
	}
	if o.Opener == nil {
		o.Opener = OpenProcess
	}
	if o.Resolver == nil {
		o.Resolver = HandleResolver{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Reader owns one channel and a goroutine that turns every record into
// fragments and lines. Finished lines are collected until drained with
// Lines or Pump.
type Reader struct {
	ch      Channel
	opts    Options
	logger  *slog.Logger
	metrics *metric.Metrics
	start   time.Time

	// Owned by the reader goroutine.
	cache       *HandleCache
	reassembler *Reassembler
	flusher     *FlushCoordinator

	state atomic.Int32

	mu    sync.Mutex
	lines []Line

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Open binds a reader to the DBWIN channel of the given scope. It fails with
// ErrChannelAlreadyActive if another reader is bound.
func Open(opts Options) (*Reader, error) {
	ch, err := openChannel(opts.Scope, opts.Dir)
	if err != nil {
		return nil, err
	}
	return NewReader(ch, opts)
}

// NewReader starts a reader on ch. The reader takes ownership of ch.
func NewReader(ch Channel, opts Options) (*Reader, error) {
	opts.setDefaults()

	cache := NewHandleCache(opts.HandleTimeout)
	reassembler := NewReassembler(opts.MaxLineLength, opts.AutoNewline)
	r := &Reader{
		ch:          ch,
		opts:        opts,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		start:       opts.Clock(),
		cache:       cache,
		reassembler: reassembler,
		flusher:     NewFlushCoordinator(cache, reassembler, opts.HandleTimeout, opts.FlushSentinel),
		lines:       make([]Line, 0, 4000),
		done:        make(chan struct{}),
	}

	if err := ch.Ready(); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to signal buffer ready: %w", err)
	}

	r.logger.Info("DBWIN reader started", "channel", r.Description())
	go r.run()
	return r, nil
}

// Description names the channel the reader is bound to.
func (r *Reader) Description() string {
	if r.opts.Scope == ScopeGlobal {
		return "Global Win32 Messages"
	}
	return "Win32 Messages"
}

// AtEnd always returns false; the channel only ends through Close.
func (r *Reader) AtEnd() bool {
	return false
}

// State returns the current protocol state.
func (r *Reader) State() State {
	return State(r.state.Load())
}

// Done is closed once the reader goroutine has stopped and published its
// last lines.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// setState moves to s unless the reader has been aborted.
func (r *Reader) setState(s State) {
	for {
		cur := r.state.Load()
		if State(cur) == StateAborted {
			return
		}
		if r.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (r *Reader) run() {
	defer close(r.done)

	for {
		// Wake up at least once per handle timeout so that partial lines of
		// processes that went quiet are flushed without further records.
		ok, err := r.ch.Wait(r.opts.HandleTimeout)
		if err != nil {
			if !errors.Is(err, ErrAborted) {
				r.logger.Error("Waiting for debug output failed", "error", err)
			}
			break
		}
		if !ok {
			r.idle()
			continue
		}

		r.setState(StateDataAvailable)
		pid, data := r.ch.Record()
		if err := r.ch.Ready(); err != nil {
			r.logger.Error("Failed to signal buffer ready", "error", err)
		}
		r.setState(StateReadyToReceive)

		r.notify(pid, data)
	}

	r.state.Store(int32(StateAborted))
	r.shutdown()
}

// idle runs the flush check while no records arrive.
func (r *Reader) idle() {
	now := r.opts.Clock()
	lines := r.flusher.Check(now.Sub(r.start), now)
	r.metrics.AddForcedFlushes(len(lines))
	r.metrics.SetState(r.cache.OpenHandles(), r.reassembler.Len())
	r.publish(lines)
}

// notify handles one record copied out of the shared buffer.
func (r *Reader) notify(pid uint32, data []byte) {
	r.metrics.IncFragments()

	now := r.opts.Clock()
	f := Fragment{
		Time:       now.Sub(r.start),
		SystemTime: now,
		PID:        pid,
		Data:       data,
	}

	h, err := r.opts.Opener(pid)
	if err != nil {
		r.logger.Debug("Failed to open process", "pid", pid, "error", err)
		r.metrics.IncResolveFailures()
	} else {
		f.Handle = h
	}

	r.publish(r.process(f))
}

// process runs the flush check, resolves the process name and reassembles f.
func (r *Reader) process(f Fragment) []Line {
	lines := r.flusher.Check(f.Time, f.SystemTime)
	r.metrics.AddForcedFlushes(len(lines))

	var name string
	if f.Handle != nil {
		n, err := r.opts.Resolver.ResolveName(f.Handle)
		if err != nil {
			r.logger.Debug("Failed to resolve process name", "pid", f.PID, "error", err)
			r.metrics.IncResolveFailures()
		} else {
			name = n
		}
	}
	r.cache.Add(f.PID, f.Handle, f.Time)

	lines = append(lines, r.reassembler.Process(f.Time, f.SystemTime, f.PID, name, f.Data)...)
	r.metrics.SetState(r.cache.OpenHandles(), r.reassembler.Len())
	return lines
}

func (r *Reader) publish(lines []Line) {
	if len(lines) == 0 {
		return
	}
	r.metrics.AddLines(len(lines))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, lines...)
}

// shutdown flushes every partial line and releases cached handles.
func (r *Reader) shutdown() {
	now := r.opts.Clock()
	lines := r.flusher.FlushAll(now.Sub(r.start), now)
	r.metrics.AddForcedFlushes(len(lines))
	r.publish(lines)

	r.cache.Close()
	r.metrics.SetState(0, 0)
}

// Lines returns and clears the lines finished since the last call.
func (r *Reader) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.lines) == 0 {
		return nil
	}
	lines := r.lines
	r.lines = make([]Line, 0, cap(lines))
	return lines
}

// Pump delivers finished lines to sink every interval. It returns once the
// reader has stopped and its last lines were delivered, or when ctx is done.
func (r *Reader) Pump(ctx context.Context, sink Sink, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deliver := func() {
		lines := r.Lines()
		if len(lines) == 0 {
			return
		}
		if err := sink.Accept(lines); err != nil {
			r.logger.Error("Sink failed to accept lines", "error", err, "lines", len(lines))
			r.metrics.IncSinkErrors()
		}
	}

	for {
		select {
		case <-ticker.C:
			deliver()
		case <-r.done:
			deliver()
			return nil
		case <-ctx.Done():
			deliver()
			return ctx.Err()
		}
	}
}

// Close stops the reader, waits for it to publish its last lines and
// releases the channel. It is safe to call more than once.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.state.Store(int32(StateAborted))
		abortErr := r.ch.Abort()
		<-r.done
		r.closeErr = errors.Join(abortErr, r.ch.Close())
		r.logger.Info("DBWIN reader stopped", "channel", r.Description())
	})
	return r.closeErr
}

package channel

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Callbacks groups the creation-time callbacks a Channel fires exactly
// once each over its lifetime: every channel receives exactly one
// OnSetupCompleted call and, if setup succeeded, exactly one
// OnShutdownCompleted call.
type Callbacks struct {
	// OnSetupCompleted fires once setup finishes, successfully or not.
	// err is non-nil on setup failure; if Shutdown was called before setup
	// finished, err is that shutdown's error.
	OnSetupCompleted func(ch *Channel, err error, userData any)
	// OnShutdownCompleted fires once, after both shutdown directions have
	// completed for every slot. err is the first error recorded: the error
	// passed to Shutdown or, if that was nil, the first error a handler's
	// Shutdown returned; nil if none.
	OnShutdownCompleted func(ch *Channel, err error, userData any)
	// UserData is opaque data threaded through to both callbacks.
	UserData any
}

// Options configures a new Channel. Allocation is implicit in Go via the
// garbage collector and the EventLoop's MessagePool.
type Options struct {
	Callbacks Callbacks
	// Logger receives structured shutdown/setup/panic events. Nil is
	// treated as zerolog.Nop(), mirroring bgpfix.Pipe.apply's fallback.
	Logger *zerolog.Logger
}

// Channel owns a chain of Slots, the per-channel shutdown state machine,
// a reference count distinct from that state machine, and the
// pending-task queue used before the event loop is ready.
type Channel struct {
	eventLoop EventLoop
	opts      Options
	log       zerolog.Logger

	state atomic.Int32 // State

	first *Slot

	pendingMu sync.Mutex
	pending   taskQueue

	refCount         atomic.Int64
	destroyRequested atomic.Bool
	freed            atomic.Bool

	shutdownMu         sync.Mutex
	shutdownRequested  bool
	shutdownErr        error
	shutdownFreeScarce bool

	shutdownCompletedOnce sync.Once
	setupCompletedOnce    sync.Once
}

// New allocates a Channel in state Initializing and schedules a task on
// el that (a) marks the channel Active, (b) drains any pending tasks
// enqueued before readiness, (c) fires OnSetupCompleted.
func New(el EventLoop, opts Options) *Channel {
	latchMaxFragmentSize()
	ch := &Channel{eventLoop: el, opts: opts}
	if opts.Logger != nil {
		ch.log = *opts.Logger
	} else {
		ch.log = zerolog.Nop()
	}
	ch.state.Store(int32(StateInitializing))

	readyTask := &Task{
		Type: "channel.setup",
		Arg:  ch,
		Fn: func(_ *Task, arg any, status RunStatus) {
			c := arg.(*Channel)
			if status == Canceled {
				return
			}
			c.onReady()
		},
	}
	el.ScheduleTaskNow(readyTask)
	return ch
}

func (ch *Channel) onReady() {
	ch.setState(StateActive)

	// Setup completion happens-before any message delivery, including any
	// shutdown that was requested before setup finished — so report setup
	// completion first, using the
	// already-requested shutdown's error code if there is one, and only
	// then drain pending tasks (which include any queued shutdown task,
	// letting it actually begin teardown).
	ch.shutdownMu.Lock()
	requested, shutdownErr := ch.shutdownRequested, ch.shutdownErr
	ch.shutdownMu.Unlock()

	ch.fireSetupCompleted(shutdownErrOrNil(requested, shutdownErr))

	ch.pendingMu.Lock()
	head := ch.pending.popAll()
	ch.pendingMu.Unlock()
	for t := head; t != nil; {
		next := t.next
		t.next = nil
		t.Run(RunReady)
		t = next
	}
}

func shutdownErrOrNil(requested bool, err error) error {
	if requested {
		return err
	}
	return nil
}

func (ch *Channel) fireSetupCompleted(err error) {
	ch.setupCompletedOnce.Do(func() {
		ch.log.Debug().Err(err).Msg("channel setup completed")
		if ch.opts.Callbacks.OnSetupCompleted != nil {
			ch.opts.Callbacks.OnSetupCompleted(ch, err, ch.opts.Callbacks.UserData)
		}
	})
}

// State returns the channel's current lifecycle state. Safe from any
// thread (loaded atomically).
func (ch *Channel) State() State { return State(ch.state.Load()) }

func (ch *Channel) setState(s State) {
	ch.state.Store(int32(s))
	ch.log.Debug().Stringer("state", s).Msg("channel state transition")
}

// ThreadIsCallersThread reports whether the calling goroutine is the
// channel's event-loop thread.
func (ch *Channel) ThreadIsCallersThread() bool { return ch.eventLoop.IsOnThisThread() }

func (ch *Channel) assertOnChannelThread() {
	// Contract check, active in every build; panics rather than silently corrupting
	// chain state, matching the pack's preference for failing loudly on
	// a misused single-threaded contract (e.g. smux's "both channel are
	// nil" panic in shaperLoop for an unreachable invariant violation).
	if ch.eventLoop != nil && !ch.eventLoop.IsOnThisThread() {
		panic(ErrNotOnChannelThread)
	}
}

// GetFirstSlot returns the head of the slot chain, or nil if empty.
func (ch *Channel) GetFirstSlot() *Slot {
	ch.assertOnChannelThread()
	return ch.first
}

// CurrentClockTime is a pass-through to the event loop's monotonic clock.
func (ch *Channel) CurrentClockTime() int64 { return ch.eventLoop.CurrentClockNanos() }

// FetchLocalObject, PutLocalObject, RemoveLocalObject pass through to the
// event loop's local storage.
func (ch *Channel) FetchLocalObject(key string) (any, bool) { return ch.eventLoop.FetchLocalObject(key) }
func (ch *Channel) PutLocalObject(key string, value any)    { ch.eventLoop.PutLocalObject(key, value) }
func (ch *Channel) RemoveLocalObject(key string)            { ch.eventLoop.RemoveLocalObject(key) }

// AcquireMessageFromPool passes through to the event loop's message
// pool, clamping the requested capacity to
// min(sizeHint, MaxFragmentSize()-first.upstreamOverhead) so the message
// fits through the pipeline without fragmentation under typical handler
// overhead.
func (ch *Channel) AcquireMessageFromPool(kind MessageKind, sizeHint int) (*Message, error) {
	overhead := uint64(0)
	if ch.first != nil {
		overhead = ch.first.upstreamOverhead
	}
	max := MaxFragmentSize()
	clamp := max
	if overhead < max {
		clamp = max - overhead
	} else {
		clamp = 0
	}
	if uint64(sizeHint) > clamp {
		sizeHint = int(clamp)
	}
	pool := ch.eventLoop.MessagePool()
	if pool == nil {
		return nil, wrapError(ErrorKindResource, "no message pool configured", nil)
	}
	msg, err := pool.Get(kind, sizeHint)
	if err != nil {
		return nil, wrapError(ErrorKindResource, "acquire message from pool", err)
	}
	return msg, nil
}

// ScheduleTaskNow forwards t to the event loop if Active or mid-shutdown;
// queues it internally if Initializing, flushing on transition to
// Active; runs it with Canceled if the channel has reached ShutDown
// (inline when called on the event-loop thread, otherwise via a task
// posted to that thread).
func (ch *Channel) ScheduleTaskNow(t *Task) {
	switch ch.State() {
	case StateInitializing:
		ch.pendingMu.Lock()
		if ch.State() == StateInitializing {
			ch.pending.push(t)
			ch.pendingMu.Unlock()
			return
		}
		ch.pendingMu.Unlock()
		ch.eventLoop.ScheduleTaskNow(t)
	case StateShutDown:
		ch.runCanceled(t)
	default:
		ch.eventLoop.ScheduleTaskNow(t)
	}
}

// ScheduleTaskFuture behaves like ScheduleTaskNow but for a task meant to
// run at runAtNanos (per the event loop's clock).
func (ch *Channel) ScheduleTaskFuture(t *Task, runAtNanos int64) {
	t.runAtNanos = runAtNanos
	switch ch.State() {
	case StateInitializing:
		ch.pendingMu.Lock()
		if ch.State() == StateInitializing {
			ch.pending.push(t)
			ch.pendingMu.Unlock()
			return
		}
		ch.pendingMu.Unlock()
		ch.eventLoop.ScheduleTaskFuture(t, runAtNanos)
	case StateShutDown:
		ch.runCanceled(t)
	default:
		ch.eventLoop.ScheduleTaskFuture(t, runAtNanos)
	}
}

func (ch *Channel) runCanceled(t *Task) {
	if ch.eventLoop.IsOnThisThread() {
		t.Run(Canceled)
		return
	}
	orig := t
	wrapper := &Task{
		Type: orig.Type,
		Arg:  orig.Arg,
		Fn: func(_ *Task, arg any, _ RunStatus) {
			orig.Fn(orig, arg, Canceled)
		},
	}
	ch.eventLoop.ScheduleTaskNow(wrapper)
}

// AcquireHold increments the reference count. Safe from any thread.
func (ch *Channel) AcquireHold() { ch.refCount.Add(1) }

// ReleaseHold decrements the reference count; if it reaches zero and
// Destroy has already been requested, the channel is freed. Safe from
// any thread.
func (ch *Channel) ReleaseHold() {
	if ch.refCount.Add(-1) == 0 && ch.destroyRequested.Load() {
		ch.free()
	}
}

// Destroy marks the channel destroyed; if the reference count is
// already zero, frees everything immediately. Safe from any thread, but
// should only be called after OnShutdownCompleted has fired (even for an
// empty channel, shutdown completes in the task Shutdown posts, not
// within the Shutdown call itself unless the event loop runs that task
// inline).
func (ch *Channel) Destroy() {
	if !ch.destroyRequested.CompareAndSwap(false, true) {
		return
	}
	if ch.refCount.Load() == 0 {
		ch.free()
	}
}

func (ch *Channel) free() {
	if !ch.freed.CompareAndSwap(false, true) {
		return
	}
	ch.log.Debug().Msg("channel freed")
}

// IsFreed reports whether the channel's memory has been reclaimed. Not
// part of the normal public surface; exposed for tests.
func (ch *Channel) IsFreed() bool { return ch.freed.Load() }

// Shutdown initiates teardown with the given reason code (nil means no
// error). Safe from any thread; the work is always posted as a task via
// ScheduleTaskNow, on or off the channel thread. Idempotent: subsequent
// calls are no-ops, and the first error code wins.
func (ch *Channel) Shutdown(err error) { ch.shutdown(err, false) }

// ShutdownImmediate is Shutdown with the scarce-resource flag set, for
// adversarial conditions that require handlers to release OS handles
// before returning from Shutdown even if broader cleanup is deferred.
func (ch *Channel) ShutdownImmediate(err error) { ch.shutdown(err, true) }

func (ch *Channel) shutdown(err error, freeScarce bool) {
	ch.shutdownMu.Lock()
	if ch.shutdownRequested {
		ch.shutdownMu.Unlock()
		return
	}
	ch.shutdownRequested = true
	ch.shutdownErr = err
	ch.shutdownFreeScarce = freeScarce
	ch.shutdownMu.Unlock()

	task := &Task{
		Type: "channel.shutdown",
		Arg:  ch,
		Fn: func(_ *Task, arg any, status RunStatus) {
			c := arg.(*Channel)
			if status == Canceled {
				return
			}
			// A task scheduled while Initializing is held in the
			// pending queue, which onReady() drains only after marking
			// the channel Active and firing setup completion, so this
			// task begins teardown only once the channel is past setup.
			if c.State() == StateInitializing {
				return
			}
			c.beginShutdownOnThread(err, freeScarce)
		},
	}
	ch.ScheduleTaskNow(task)
}

func (ch *Channel) recordShutdownError(err error) {
	if err == nil {
		return
	}
	ch.shutdownMu.Lock()
	if ch.shutdownErr == nil {
		ch.shutdownErr = err
	}
	ch.shutdownMu.Unlock()
}

func (ch *Channel) firstShutdownError() error {
	ch.shutdownMu.Lock()
	defer ch.shutdownMu.Unlock()
	return ch.shutdownErr
}

func (ch *Channel) beginShutdownOnThread(err error, freeScarce bool) {
	if ch.State() == StateShutDown || ch.State() == StateShuttingDownRead || ch.State() == StateShuttingDownWrite {
		return
	}
	ch.recordShutdownError(err)
	effectiveErr := ch.firstShutdownError()

	if ch.first == nil {
		// An empty channel transitions straight to SHUT_DOWN and fires
		// the completion callback.
		ch.setState(StateShutDown)
		ch.fireShutdownCompleted(effectiveErr)
		return
	}

	ch.setState(StateShuttingDownRead)
	_ = ch.first.Shutdown(DirRead, effectiveErr, freeScarce)
}

// advanceShutdown drives the shutdown state machine forward after slot s
// completes shutdown in dir.
func (ch *Channel) advanceShutdown(s *Slot, dir Direction, shutdownErr error, freeScarce bool) error {
	switch dir {
	case DirRead:
		if s.right != nil {
			return s.right.Shutdown(DirRead, shutdownErr, freeScarce)
		}
		ch.setState(StateShuttingDownWrite)
		return s.Shutdown(DirWrite, shutdownErr, freeScarce)
	default:
		if s.left != nil {
			return s.left.Shutdown(DirWrite, shutdownErr, freeScarce)
		}
		ch.setState(StateShutDown)
		effectiveErr := ch.firstShutdownError()
		ch.fireShutdownCompleted(effectiveErr)
		return nil
	}
}

func (ch *Channel) fireShutdownCompleted(err error) {
	ch.shutdownCompletedOnce.Do(func() {
		ch.log.Debug().Err(err).Msg("channel shutdown completed")
		if ch.opts.Callbacks.OnShutdownCompleted != nil {
			ch.opts.Callbacks.OnShutdownCompleted(ch, err, ch.opts.Callbacks.UserData)
		}
		ch.destroyAllHandlers()
	})
}

// destroyAllHandlers calls Destroy on every slot's handler, rightmost
// first (the order between handlers is unspecified, but it must happen
// before the channel frees), then clears the chain.
func (ch *Channel) destroyAllHandlers() {
	last := ch.first
	for last != nil && last.right != nil {
		last = last.right
	}
	for s := last; s != nil; {
		prev := s.left
		if s.handler != nil {
			s.handler.Destroy()
			s.handler = nil
		}
		s.left = nil
		s.right = nil
		s.removed = true
		s = prev
	}
	ch.first = nil
}

package channel

import "math"

// Slot is one node in a Channel's handler chain. It owns exactly one
// Handler, tracks its own read window, and caches the sum of its left
// neighbors' message overheads.
//
// All Slot methods must run on the owning Channel's event-loop thread;
// the mutating ones check this in every build and panic with
// ErrNotOnChannelThread when called off it.
type Slot struct {
	ch    *Channel
	left  *Slot
	right *Slot

	handler Handler

	// windowSize is the remaining read credit this slot advertises to its
	// left neighbor.
	windowSize uint64

	// upstreamOverhead is the sum of MessageOverhead() of every handler
	// to this slot's left; recomputed whenever the chain is mutated.
	upstreamOverhead uint64

	readPhase  shutdownPhase
	writePhase shutdownPhase
	removed    bool
}

// newSlot allocates a bare Slot owned by ch, with no handler and no
// neighbors.
func newSlot(ch *Channel) *Slot {
	return &Slot{ch: ch}
}

// Channel returns the owning channel.
func (s *Slot) Channel() *Channel { return s.ch }

// Left returns the left neighbor, or nil.
func (s *Slot) Left() *Slot { return s.left }

// Right returns the right neighbor, or nil.
func (s *Slot) Right() *Slot { return s.right }

// Handler returns the attached handler, or nil if none has been set.
func (s *Slot) Handler() Handler { return s.handler }

// WindowSize returns the slot's current read-window credit.
func (s *Slot) WindowSize() uint64 { return s.windowSize }

// UpstreamMessageOverhead returns the cached sum of overheads of every
// handler strictly to this slot's left.
func (s *Slot) UpstreamMessageOverhead() uint64 { return s.upstreamOverhead }

// SetHandler attaches handler to a previously empty slot: it initializes
// windowSize from handler.InitialWindowSize(), recomputes the overhead
// chain, and propagates a window increment leftward so the upstream
// neighbor observes the new credit. Propagation when there is no left
// neighbor is a documented no-op, not an error.
func (s *Slot) SetHandler(handler Handler) error {
	s.assertOnChannelThread()
	if s.handler != nil {
		return ErrHandlerAlreadySet
	}
	s.handler = handler
	s.windowSize = handler.InitialWindowSize()
	s.ch.recomputeOverheadFrom(s.ch.first)
	if s.left != nil && s.left.handler != nil {
		if err := s.left.handler.IncrementReadWindow(s.left, s.windowSize); err != nil {
			return wrapError(ErrorKindHandler, "IncrementReadWindow during SetHandler", err)
		}
	}
	return nil
}

// IncrementReadWindow adds n to this slot's window, saturating at the
// unsigned maximum, then forwards the delta to the left neighbor's
// handler (if any) by calling its IncrementReadWindow. The handler
// decides, and is responsible for calling slot.IncrementReadWindow
// again with whatever delta it wants propagated further upstream — this
// method itself only advances one hop.
func (s *Slot) IncrementReadWindow(n uint64) error {
	s.assertOnChannelThread()
	s.windowSize = saturatingAdd(s.windowSize, n)
	if s.left != nil && s.left.handler != nil {
		return s.left.handler.IncrementReadWindow(s.left, n)
	}
	return nil
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// DownstreamReadWindow returns the right neighbor's current window, or 0
// if there is none.
func (s *Slot) DownstreamReadWindow() uint64 {
	if s.right == nil {
		return 0
	}
	return s.right.windowSize
}

// SendMessage routes msg to the adjacent slot in direction dir. For
// DirRead: rejected if msg.Len() exceeds the right neighbor's window; on
// acceptance the right neighbor's window is decremented before its
// handler is invoked. For DirWrite: no window check is performed —
// write-direction flow control is a handler-level concern. If the chosen
// neighbor does not exist the
// message is undeliverable: the caller keeps ownership and an error is
// returned. On success, ownership transfers to the neighbor's handler
// even if that handler immediately drops the message.
func (s *Slot) SendMessage(msg *Message, dir Direction) error {
	s.assertOnChannelThread()
	switch dir {
	case DirRead:
		return s.sendRead(msg)
	default:
		return s.sendWrite(msg)
	}
}

func (s *Slot) sendRead(msg *Message) error {
	if s.right == nil {
		return ErrNoNeighbor
	}
	n := uint64(msg.Len())
	if n > s.right.windowSize {
		return ErrWindowFull
	}
	s.right.windowSize -= n
	if s.right.handler == nil {
		// No handler attached yet: message is accepted (ownership
		// transfers) but cannot be processed; release it immediately so
		// it is not leaked. Every accepted message is released exactly
		// once. This is not a pipeline failure.
		msg.Release(nil)
		return nil
	}
	return s.right.handler.ProcessReadMessage(s.right, msg)
}

func (s *Slot) sendWrite(msg *Message) error {
	if s.left == nil {
		return ErrNoNeighbor
	}
	if s.left.handler == nil {
		msg.Release(nil)
		return nil
	}
	return s.left.handler.ProcessWriteMessage(s.left, msg)
}

// Shutdown asks this slot's handler to begin shutting down in dir. Used
// internally by the channel's shutdown state machine, and exposed so a
// handler in the middle of the chain may trigger shutdown directly.
func (s *Slot) Shutdown(dir Direction, shutdownErr error, freeScarce bool) error {
	s.assertOnChannelThread()
	if s.handler == nil {
		// No handler to shut down: immediately report completion so the
		// chain keeps advancing.
		return s.OnHandlerShutdownComplete(dir, shutdownErr, freeScarce)
	}
	if dir == DirRead {
		s.readPhase = shutdownPending
	} else {
		s.writePhase = shutdownPending
	}
	if err := s.handler.Shutdown(s, dir, shutdownErr, freeScarce); err != nil {
		// The channel records the first error and continues; it never
		// stalls because of a returned error, only if
		// OnHandlerShutdownComplete is never called.
		s.ch.recordShutdownError(err)
	}
	return nil
}

// OnHandlerShutdownComplete is called by this slot's handler when it has
// finished shutting down in dir. It advances this slot's shutdown
// automaton and drives the next step of the channel-wide shutdown state
// machine.
func (s *Slot) OnHandlerShutdownComplete(dir Direction, shutdownErr error, freeScarce bool) error {
	if dir == DirRead {
		s.readPhase = shutdownDone
	} else {
		s.writePhase = shutdownDone
	}
	return s.ch.advanceShutdown(s, dir, shutdownErr, freeScarce)
}

func (s *Slot) assertOnChannelThread() {
	if s.ch != nil {
		s.ch.assertOnChannelThread()
	}
}

package channel

// NewSlot allocates a new, unattached Slot owned by ch. It is not part of
// the chain until passed to InsertRight, InsertLeft, or InsertEnd; NewSlot
// does not make the first slot the head of an empty channel — InsertEnd
// does that.
func NewSlot(ch *Channel) *Slot {
	ch.assertOnChannelThread()
	return newSlot(ch)
}

// InsertRight links newSlot immediately to the right of existing. If the
// channel is empty (existing is the implicit head of a nil chain), use
// InsertEnd instead.
func InsertRight(existing, newSlot *Slot) error {
	existing.assertOnChannelThread()
	if existing.ch != newSlot.ch {
		return newError(ErrorKindState, "slots belong to different channels")
	}
	right := existing.right
	existing.right = newSlot
	newSlot.left = existing
	newSlot.right = right
	if right != nil {
		right.left = newSlot
	}
	existing.ch.recomputeOverheadFrom(existing)
	return nil
}

// InsertLeft links newSlot immediately to the left of existing.
func InsertLeft(existing, newSlot *Slot) error {
	existing.assertOnChannelThread()
	if existing.ch != newSlot.ch {
		return newError(ErrorKindState, "slots belong to different channels")
	}
	left := existing.left
	existing.left = newSlot
	newSlot.right = existing
	newSlot.left = left
	if left != nil {
		left.right = newSlot
	} else {
		existing.ch.first = newSlot
	}
	existing.ch.recomputeOverheadFrom(newSlot)
	return nil
}

// InsertEnd appends newSlot to the right of the channel's current
// rightmost slot, or makes it the head if the channel is empty.
func InsertEnd(ch *Channel, newSlot *Slot) error {
	ch.assertOnChannelThread()
	if ch.first == nil {
		ch.first = newSlot
		return nil
	}
	last := ch.first
	for last.right != nil {
		last = last.right
	}
	return InsertRight(last, newSlot)
}

// Remove unlinks s, destroys its handler, and frees the slot. Remove is
// rejected while the channel is not Active, as a safe default policy
// for the otherwise-unspecified interaction with an in-flight shutdown.
func Remove(s *Slot) error {
	s.assertOnChannelThread()
	if s.ch.State() != StateActive {
		return ErrChannelNotActive
	}
	unlink(s)
	if s.handler != nil {
		s.handler.Destroy()
		s.handler = nil
	}
	s.removed = true
	s.ch.recomputeOverheadFrom(s.ch.first)
	return nil
}

// Replace atomically swaps old's link position for newSlot, then destroys
// old and its handler.
func Replace(old, newSlot *Slot) error {
	old.assertOnChannelThread()
	left, right := old.left, old.right
	newSlot.left = left
	newSlot.right = right
	if left != nil {
		left.right = newSlot
	} else {
		old.ch.first = newSlot
	}
	if right != nil {
		right.left = newSlot
	}
	old.left = nil
	old.right = nil
	if old.handler != nil {
		old.handler.Destroy()
		old.handler = nil
	}
	old.removed = true
	old.ch.recomputeOverheadFrom(old.ch.first)
	return nil
}

func unlink(s *Slot) {
	if s.left != nil {
		s.left.right = s.right
	} else {
		s.ch.first = s.right
	}
	if s.right != nil {
		s.right.left = s.left
	}
	s.left = nil
	s.right = nil
}

// recomputeOverheadFrom recomputes upstreamOverhead for start and every
// slot to its right, conservatively covering the whole chain right of any
// edit rather than trying to prove a tighter bound is safe.
func (ch *Channel) recomputeOverheadFrom(start *Slot) {
	if start == nil {
		return
	}
	var running uint64
	if start.left != nil {
		running = start.left.upstreamOverhead
		if start.left.handler != nil {
			running += start.left.handler.MessageOverhead()
		}
	}
	for s := start; s != nil; s = s.right {
		s.upstreamOverhead = running
		if s.handler != nil {
			running += s.handler.MessageOverhead()
		}
	}
}

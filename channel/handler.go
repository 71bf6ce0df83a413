package channel

// Handler is the capability interface implemented by every protocol stage
// plugged into a Slot. All methods run on the owning Channel's
// event-loop thread.
type Handler interface {
	// ProcessReadMessage takes ownership of a READ message arriving from
	// the left neighbor. The slot's window has already been decremented
	// by msg.Len() before this call. The handler must eventually call
	// msg.Release, typically after forwarding a (possibly transformed)
	// message rightward via Slot.SendMessage(DirRead, ...).
	ProcessReadMessage(slot *Slot, msg *Message) error

	// ProcessWriteMessage takes ownership of a WRITE message arriving
	// from the right neighbor. The handler must eventually call
	// msg.Release, typically after forwarding leftward.
	ProcessWriteMessage(slot *Slot, msg *Message) error

	// IncrementReadWindow receives a credit delta reported by the
	// downstream (right) neighbor. A handler that wants to pass a
	// different delta upstream calls slot.IncrementReadWindow(n') itself;
	// the core never does this automatically.
	IncrementReadWindow(slot *Slot, n uint64) error

	// Shutdown asks the handler to begin shutting down in dir. It may
	// complete synchronously (by calling slot.OnHandlerShutdownComplete
	// before returning) or asynchronously via a later scheduled Task. If
	// freeScarce is true, scarce OS resources (file descriptors, sockets)
	// must be released before Shutdown returns, even if broader cleanup
	// is deferred.
	Shutdown(slot *Slot, dir Direction, shutdownErr error, freeScarce bool) error

	// InitialWindowSize returns the read credit this handler wants
	// upstream to observe the moment it is attached to a slot.
	InitialWindowSize() uint64

	// MessageOverhead returns the number of bytes this handler adds to
	// each message it forwards, used to size pool messages so they fit
	// through the pipeline without fragmentation.
	MessageOverhead() uint64

	// Destroy releases the handler's own memory/resources. During channel
	// shutdown the core calls Destroy only after shutdown has completed in
	// both directions for the handler's slot; Remove and Replace call it
	// directly, without running a shutdown phase first.
	Destroy()
}

package channel

// fakeLoop is a deterministic, single-goroutine-only EventLoop stand-in for
// tests: by default every scheduled task runs synchronously and
// immediately, and otherwise tasks wait in a queue the test drains itself,
// so tests never need time.Sleep or a real background goroutine to observe
// a channel's effects.
type fakeLoop struct {
	clock int64
	kv    map[string]any
	pool  MessagePool

	// immediate, when true (the default), runs every scheduled task
	// synchronously at the call site. Set to false to model a handler
	// suspending and resuming later via a manually drained task queue
	// instead of running inline.
	immediate bool
	queued    []*Task
}

func newFakeLoop() *fakeLoop {
	return &fakeLoop{kv: make(map[string]any), pool: newFakePool(), immediate: true}
}

func (f *fakeLoop) ScheduleTaskNow(t *Task) {
	if f.immediate {
		t.Run(RunReady)
		return
	}
	f.queued = append(f.queued, t)
}

func (f *fakeLoop) ScheduleTaskFuture(t *Task, runAtNanos int64) { f.ScheduleTaskNow(t) }

// drain runs every task queued while immediate was false, in FIFO order.
func (f *fakeLoop) drain() {
	for len(f.queued) > 0 {
		t := f.queued[0]
		f.queued = f.queued[1:]
		t.Run(RunReady)
	}
}

func (f *fakeLoop) CurrentClockNanos() int64 { f.clock++; return f.clock }

func (f *fakeLoop) IsOnThisThread() bool { return true }

func (f *fakeLoop) FetchLocalObject(key string) (any, bool) {
	v, ok := f.kv[key]
	return v, ok
}

func (f *fakeLoop) PutLocalObject(key string, value any) { f.kv[key] = value }

func (f *fakeLoop) RemoveLocalObject(key string) { delete(f.kv, key) }

func (f *fakeLoop) MessagePool() MessagePool { return f.pool }

// fakePool is a bare allocator with no recycling, sufficient for tests
// that only care about message contents and release bookkeeping.
type fakePool struct {
	puts int
}

func newFakePool() *fakePool { return &fakePool{} }

func (p *fakePool) Get(kind MessageKind, sizeHint int) (*Message, error) {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return NewPooledMessage(kind, make([]byte, sizeHint), p), nil
}

func (p *fakePool) Put(msg *Message) { p.puts++ }

// recordingHandler is a Handler test double that records every call it
// receives and lets a test script its return values and forwarding
// behavior.
type recordingHandler struct {
	name string

	initialWindow uint64
	overhead      uint64

	reads    []*Message
	writes   []*Message
	incrs    []uint64
	shutdown []Direction

	onRead       func(slot *Slot, msg *Message) error
	onWrite      func(slot *Slot, msg *Message) error
	onIncrement  func(slot *Slot, n uint64) error
	onShutdown   func(slot *Slot, dir Direction, err error, freeScarce bool) error
	destroyed    bool
}

func newRecordingHandler(name string, initialWindow, overhead uint64) *recordingHandler {
	return &recordingHandler{name: name, initialWindow: initialWindow, overhead: overhead}
}

func (h *recordingHandler) ProcessReadMessage(slot *Slot, msg *Message) error {
	h.reads = append(h.reads, msg)
	if h.onRead != nil {
		return h.onRead(slot, msg)
	}
	msg.Release(nil)
	return nil
}

func (h *recordingHandler) ProcessWriteMessage(slot *Slot, msg *Message) error {
	h.writes = append(h.writes, msg)
	if h.onWrite != nil {
		return h.onWrite(slot, msg)
	}
	msg.Release(nil)
	return nil
}

func (h *recordingHandler) IncrementReadWindow(slot *Slot, n uint64) error {
	h.incrs = append(h.incrs, n)
	if h.onIncrement != nil {
		return h.onIncrement(slot, n)
	}
	return nil
}

func (h *recordingHandler) Shutdown(slot *Slot, dir Direction, shutdownErr error, freeScarce bool) error {
	h.shutdown = append(h.shutdown, dir)
	if h.onShutdown != nil {
		return h.onShutdown(slot, dir, shutdownErr, freeScarce)
	}
	return slot.OnHandlerShutdownComplete(dir, shutdownErr, freeScarce)
}

func (h *recordingHandler) InitialWindowSize() uint64 { return h.initialWindow }

func (h *recordingHandler) MessageOverhead() uint64 { return h.overhead }

func (h *recordingHandler) Destroy() { h.destroyed = true }

package channel

// EventLoop is the external single-threaded task executor a Channel is
// bound to for its lifetime. Implementations must guarantee
// single-threaded execution of scheduled tasks and of poller-driven I/O
// callbacks on that same thread. The bundled eventloop package provides a
// concrete implementation; the core never assumes a specific one.
type EventLoop interface {
	// ScheduleTaskNow enqueues t to run as soon as possible on the loop's
	// thread. Safe to call from any thread.
	ScheduleTaskNow(t *Task)
	// ScheduleTaskFuture enqueues t to run at runAtNanos (per
	// CurrentClockNanos), or immediately if that time has passed. Safe to
	// call from any thread.
	ScheduleTaskFuture(t *Task, runAtNanos int64)
	// CurrentClockNanos returns the loop's monotonic clock, in nanoseconds.
	CurrentClockNanos() int64
	// IsOnThisThread reports whether the calling goroutine is the loop's
	// designated execution thread.
	IsOnThisThread() bool
	// FetchLocalObject returns the value previously stored under key and
	// whether it was present.
	FetchLocalObject(key string) (value any, ok bool)
	// PutLocalObject stores value under key, replacing any prior value.
	PutLocalObject(key string, value any)
	// RemoveLocalObject deletes the value stored under key, if any.
	RemoveLocalObject(key string)
	// MessagePool returns the pool this loop sources pooled messages from.
	MessagePool() MessagePool
}

// MessagePool is the external message allocator: it returns
// variable-capacity messages, and is responsible for their eventual
// release via Message.Release (Put).
type MessagePool interface {
	// Get returns a Message of kind with capacity at least sizeHint bytes
	// (the caller, typically Channel.AcquireMessageFromPool, is
	// responsible for clamping sizeHint before calling Get).
	Get(kind MessageKind, sizeHint int) (*Message, error)
	// Put releases a Message previously returned by Get back to the pool.
	Put(msg *Message)
}

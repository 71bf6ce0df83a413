package channel

import "sync/atomic"

// defaultMaxFragmentSize is the default value of the process-wide
// max fragment size tunable, 16 KiB.
const defaultMaxFragmentSize = 16 * 1024

var (
	maxFragmentSize = func() *atomic.Uint64 {
		v := &atomic.Uint64{}
		v.Store(defaultMaxFragmentSize)
		return v
	}()
	maxFragmentSizeLatched atomic.Bool
)

// MaxFragmentSize returns the process-wide tunable consulted when sizing
// pool messages.
func MaxFragmentSize() uint64 {
	return maxFragmentSize.Load()
}

// SetMaxFragmentSize sets the process-wide max fragment size tunable. It
// is read-only after process initialization: once any Channel has been
// created, further calls are no-ops, avoiding the need to thread a
// config struct through every call site for what is meant to be one
// process-wide tunable rather than a per-channel option.
func SetMaxFragmentSize(n uint64) {
	if maxFragmentSizeLatched.Load() {
		return
	}
	maxFragmentSize.Store(n)
}

func latchMaxFragmentSize() {
	maxFragmentSizeLatched.Store(true)
}

package eventloop

import "runtime"

// currentGoroutineID returns the calling goroutine's runtime-assigned ID,
// parsed out of the "goroutine N [...]" header runtime.Stack prints for
// the current goroutine. Used only to answer IsOnThisThread precisely;
// never exposed, never used for scheduling decisions beyond that check.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

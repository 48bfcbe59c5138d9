//go:build !linux || !(amd64 || arm64)

package shmwriter

import (
	"sync/atomic"
	"time"
)

// futexWait emulates the Linux futex wait on platforms (or architectures)
// without a native futex syscall available through golang.org/x/sys/unix,
// by polling addr on a 1ms ticker until it changes or timeout elapses. This
// is the "single worker emulation" the wait/notify contract explicitly
// allows implementations without a native async wait to fall back to.
func futexWait(addr *uint32, expected uint32, timeout time.Duration) error {
	if atomic.LoadUint32(addr) != expected {
		return nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if atomic.LoadUint32(addr) != expected {
			return nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return ErrFutexTimeout
		}
	}
	return nil
}

// futexWake is a no-op on this platform: pollers in futexWait observe the
// new value on their next tick without needing an explicit wake signal.
func futexWake(addr *uint32, n int) (int, error) {
	return 0, nil
}

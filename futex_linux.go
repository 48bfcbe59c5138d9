//go:build linux && (amd64 || arm64)

package shmwriter

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex(2) operation constants. These are not exposed by
// golang.org/x/sys/unix, so they are defined here to match the kernel ABI.
// futexPrivateFlag is not passed: the watched words live in memory shared
// with another process, and a private futex only pairs waiters and wakers
// within one process.
const (
	futexWaitOp      = 0
	futexWakeOp      = 1
	futexPrivateFlag = 128
)

// futexWait blocks until *addr no longer equals expected, the kernel wakes
// it via FUTEX_WAKE, or timeout elapses. The value is re-checked atomically
// immediately before the syscall to avoid racing a writer that changed it
// between the caller's own check and this call.
func futexWait(addr *uint32, expected uint32, timeout time.Duration) error {
	if atomic.LoadUint32(addr) != expected {
		return nil
	}

	var tsPtr unsafe.Pointer
	if timeout > 0 {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		tsPtr = unsafe.Pointer(&ts)
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWaitOp),
		uintptr(expected),
		uintptr(tsPtr),
		0, 0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	case unix.ETIMEDOUT:
		return ErrFutexTimeout
	default:
		return fmt.Errorf("shmwriter: futex wait: %w", errno)
	}
}

// futexWake wakes up to n goroutines blocked in futexWait on addr.
func futexWake(addr *uint32, n int) (int, error) {
	r, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWakeOp),
		uintptr(n),
		0, 0, 0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("shmwriter: futex wake: %w", errno)
	}
	return int(r), nil
}

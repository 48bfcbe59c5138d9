package shmwriter

import "errors"

// ErrFutexTimeout is returned by futexWait when the wait's timeout elapses
// before the watched word changes.
var ErrFutexTimeout = errors.New("shmwriter: futex wait timed out")

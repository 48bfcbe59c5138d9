package shmwriter

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the fatal conditions a Writer can report. Every kind
// is terminal: once observed, the Writer tears itself down via destroy and
// will not accept further writes.
type ErrorKind int

const (
	// ErrCorrupted means the shared state region held a value the Writer
	// never wrote and cannot reconcile against its own local state.
	ErrCorrupted ErrorKind = iota
	// ErrReadTooLong means WriteSync waited ReadSpins times, each bounded
	// by SpinTimeout, without the Reader advancing READ_INDEX.
	ErrReadTooLong
	// ErrReaderStartTimeout means the Reader never reached READY within
	// START_TIMEOUT during synchronize.
	ErrReaderStartTimeout
	// ErrReaderExitedBeforeSync means the Reader's process sign was
	// already FINISHED or FAILED when Synchronize began.
	ErrReaderExitedBeforeSync
	// ErrReaderExitedAtSync means the Reader's process sign changed to
	// FINISHED or FAILED while Synchronize was waiting, without ever
	// reaching READY.
	ErrReaderExitedAtSync
	// ErrReaderExitedWhileWatch means the Reader's process sign moved to
	// FINISHED or FAILED while the Writer's liveness watch was active.
	ErrReaderExitedWhileWatch
	// ErrFinishTimeout means the Writer's own orderly end exceeded its
	// bounded spin waiting for the Reader to acknowledge FINISHING.
	ErrFinishTimeout
	// ErrFinishReaderFailed means the Reader reported FAILED in response
	// to the Writer's FINISHING sign.
	ErrFinishReaderFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrCorrupted:
		return "corrupted"
	case ErrReadTooLong:
		return "read too long"
	case ErrReaderStartTimeout:
		return "reader start timeout"
	case ErrReaderExitedBeforeSync:
		return "reader exited before sync"
	case ErrReaderExitedAtSync:
		return "reader exited at sync"
	case ErrReaderExitedWhileWatch:
		return "reader exited while watched"
	case ErrFinishTimeout:
		return "finish timeout"
	case ErrFinishReaderFailed:
		return "finish: reader failed"
	default:
		return "unknown"
	}
}

// WriterError wraps a terminal ErrorKind with an optional underlying cause.
type WriterError struct {
	Kind  ErrorKind
	Cause error
}

func (e *WriterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("shmwriter: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("shmwriter: %s", e.Kind)
}

func (e *WriterError) Unwrap() error { return e.Cause }

// Is reports whether target is a *WriterError of the same ErrorKind, so
// callers can write errors.Is(err, &shmwriter.WriterError{Kind:
// shmwriter.ErrFinishTimeout}) style checks.
func (e *WriterError) Is(target error) bool {
	var other *WriterError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newWriterError(kind ErrorKind, cause error) *WriterError {
	return &WriterError{Kind: kind, Cause: cause}
}

// ErrClosed is returned by any public entry point called after destroy or
// a completed end.
var ErrClosed = errors.New("shmwriter: writer closed")

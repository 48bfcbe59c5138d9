package shmwriter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fail records a fatal error, emits EventError followed by EventClose, and
// tears the Writer down. It is idempotent: only the first call has any
// effect. Must be called with mu held.
func (w *Writer) fail(err *WriterError) {
	if w.closed.Load() {
		return
	}
	if w.lastErr == nil {
		w.lastErr = err
	}
	if w.metrics != nil {
		w.metrics.LifecycleErrors.WithLabelValues(w.name, err.Kind.String()).Inc()
	}
	w.log.Error("writer failed", "writer", w.name, "error", err.Error())
	w.events.emit(Event{Type: EventError, Err: err})
	w.teardownLocked()
}

// teardownLocked stops the watch loop, emits EventClose, and closes the
// event channel. Idempotent via the closed CAS. Must be called with mu
// held.
func (w *Writer) teardownLocked() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	if w.watchStop != nil {
		close(w.watchStop)
	}
	w.events.emit(Event{Type: EventClose})
	w.events.close()
}

// waitReadIndexChange blocks until READ_INDEX differs from expected, ctx is
// canceled, or timeout elapses (zero means wait indefinitely). A timeout
// simply returns nil so the caller can re-check and retry; only ctx
// cancellation is propagated as an error.
func (w *Writer) waitReadIndexChange(ctx context.Context, expected int32, timeout time.Duration) error {
	_, settled, ch := w.state.WaitAsync(SlotReadIndex, expected, timeout)
	if settled {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) waitReadProcessChange(ctx context.Context, expected int32, timeout time.Duration) error {
	_, settled, ch := w.state.WaitAsync(SlotReadProcess, expected, timeout)
	if settled {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spinForSpaceLocked performs one bounded spin of cfg.ReadSpins iterations,
// each releasing mu for the duration of a single cfg.SpinTimeout-bounded
// wait on READ_INDEX so Destroy can still run concurrently. It returns nil
// as soon as READ_INDEX has moved at least once; the caller is responsible
// for re-deriving leftover afterward. Exhausting the spin without the
// reader ever advancing is spec.md §7's ReadTooLong: fatal, no local
// recovery. Must be called with mu held; mu is held again on return.
func (w *Writer) spinForSpaceLocked(ctx context.Context) error {
	expected := w.state.Load(SlotReadIndex)
	for i := 0; i < w.cfg.ReadSpins; i++ {
		w.mu.Unlock()
		err := w.waitReadIndexChange(ctx, expected, w.cfg.SpinTimeout)
		w.mu.Lock()
		if err != nil {
			return err
		}
		if w.closed.Load() {
			return ErrClosed
		}
		if cur := w.state.Load(SlotReadIndex); cur != expected {
			return nil
		}
	}
	err := newWriterError(ErrReadTooLong, fmt.Errorf(
		"write_sync spun %d times without the reader advancing", w.cfg.ReadSpins))
	w.fail(err)
	return err
}

// drainSyncLocked blocks until w.partial and the overflow queue are both
// empty, preserving FIFO order against any prior asynchronous Write calls.
// Must be called with mu held.
func (w *Writer) drainSyncLocked(ctx context.Context) error {
	for len(w.partial) > 0 || w.queue.Length() > 0 {
		if len(w.partial) == 0 {
			w.partial = w.queue.Peek().([]byte)
			w.queue.Remove()
		}
		out := w.step(w.partial)
		if w.lastErr != nil {
			return w.lastErr
		}
		w.partial = w.partial[out.consumed:]
		if len(w.partial) > 0 {
			if err := w.spinForSpaceLocked(ctx); err != nil {
				return err
			}
		}
	}
	if w.mode == modeBuffering {
		w.mode = modeDirect
		w.statDrains++
		if w.metrics != nil {
			w.metrics.Drains.WithLabelValues(w.name).Inc()
			w.metrics.BufferUsage.WithLabelValues(w.name).Set(0)
		}
		w.events.emit(Event{Type: EventDrain})
	}
	return nil
}

// WriteSync stores payload into the ring, blocking the caller (but never
// the Writer's other scheduling — Destroy can still run concurrently)
// until space is available or the bounded spin budget is exhausted. It
// first drains anything already buffered by a prior Write call, so a
// WriteSync never reorders ahead of earlier asynchronous writes. The
// returned bool is true if the writer is still buffering once WriteSync
// returns successfully (it never is: WriteSync only returns nil once its
// own payload, and everything queued ahead of it, is in the ring).
func (w *Writer) WriteSync(ctx context.Context, payload []byte) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Load() {
		return false, ErrClosed
	}
	if w.lastErr != nil {
		return false, w.lastErr
	}

	if err := w.drainSyncLocked(ctx); err != nil {
		return false, err
	}

	remaining := payload
	for len(remaining) > 0 {
		out := w.step(remaining)
		if w.lastErr != nil {
			return false, w.lastErr
		}
		remaining = remaining[out.consumed:]
		if len(remaining) == 0 {
			break
		}
		if err := w.spinForSpaceLocked(ctx); err != nil {
			return false, err
		}
	}
	return w.mode == modeBuffering, nil
}

// Synchronize performs the startup handshake: it announces READY on
// WRITE_PROCESS and waits for the Reader to do the same on READ_PROCESS,
// bounded by cfg.StartTimeout. Spec.md §4.4 distinguishes two different
// ways the Reader can fail to reach READY: one already sitting at a
// terminal sign the instant synchronize begins (ErrReaderExitedBeforeSync
// — the Reader never even reached EMPTY-then-waiting under us) and one
// that leaves EMPTY for a terminal sign sometime during the wait without
// ever landing on READY (ErrReaderExitedAtSync). A Reader that simply
// never reaches READY within the deadline fails with
// ErrReaderStartTimeout.
func (w *Writer) Synchronize(ctx context.Context) error {
	w.mu.Lock()
	if w.closed.Load() {
		w.mu.Unlock()
		return ErrClosed
	}
	w.state.Store(SlotWriteProcess, int32(SignReady))
	w.state.Notify(SlotWriteProcess)
	w.mu.Unlock()

	sign := ProcessSign(w.state.Load(SlotReadProcess))
	if sign == SignFinished || sign == SignFailed {
		err := newWriterError(ErrReaderExitedBeforeSync,
			fmt.Errorf("reader already signaled %s before synchronize began", sign))
		w.mu.Lock()
		w.fail(err)
		w.mu.Unlock()
		return err
	}

	deadline := time.Now().Add(w.cfg.StartTimeout)
	for {
		switch sign {
		case SignReady:
			w.mu.Lock()
			w.ready = true
			w.mu.Unlock()
			w.events.emit(Event{Type: EventReady})
			return nil
		case SignFinished, SignFailed:
			err := newWriterError(ErrReaderExitedAtSync,
				fmt.Errorf("reader left empty for %s without reaching ready", sign))
			w.mu.Lock()
			w.fail(err)
			w.mu.Unlock()
			return err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			err := newWriterError(ErrReaderStartTimeout,
				fmt.Errorf("reader did not reach ready within %s", w.cfg.StartTimeout))
			w.mu.Lock()
			w.fail(err)
			w.mu.Unlock()
			return err
		}

		if waitErr := w.waitReadProcessChange(ctx, int32(sign), remaining); waitErr != nil {
			return waitErr
		}
		if w.closed.Load() {
			return ErrClosed
		}
		sign = ProcessSign(w.state.Load(SlotReadProcess))
	}
}

// Watch starts the liveness watch loop: a background goroutine that fails
// the Writer with ErrReaderExitedWhileWatch if the Reader reaches a
// terminal sign while the Writer believes it is still live. It is a no-op
// if already watching. Synchronize should be called, and succeed, first.
func (w *Writer) Watch(ctx context.Context) {
	w.mu.Lock()
	if w.watching || w.closed.Load() {
		w.mu.Unlock()
		return
	}
	w.watching = true
	w.watchStop = make(chan struct{})
	stop := w.watchStop
	w.mu.Unlock()

	go w.watchLoop(ctx, stop)
}

func (w *Writer) watchLoop(ctx context.Context, stop chan struct{}) {
	sign := ProcessSign(w.state.Load(SlotReadProcess))
	if sign == SignFinished || sign == SignFailed {
		w.mu.Lock()
		w.fail(newWriterError(ErrReaderExitedWhileWatch,
			fmt.Errorf("reader already %s when watch began", sign)))
		w.mu.Unlock()
		return
	}
	if sign == SignFinishing {
		w.handleWatchFinishing(ctx)
	}

	for {
		_, settled, ch := w.state.WaitAsync(SlotReadProcess, int32(sign), 0)
		if !settled {
			select {
			case <-ch:
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}

		newSign := ProcessSign(w.state.Load(SlotReadProcess))
		if newSign == sign {
			continue
		}
		sign = newSign

		if sign == SignFinishing {
			w.handleWatchFinishing(ctx)
			continue
		}

		if sign == SignFinished || sign == SignFailed {
			w.mu.Lock()
			if !w.ending && !w.ended {
				w.fail(newWriterError(ErrReaderExitedWhileWatch,
					fmt.Errorf("reader signaled %s", sign)))
			}
			w.mu.Unlock()
			return
		}
	}
}

// handleWatchFinishing reacts to the Reader announcing FINISHING while the
// liveness watch is active (scenario S5): if nothing is currently buffered
// it calls End itself right away, otherwise it arms a one-shot listener
// that calls End the next time the overflow queue fully drains. The
// listener runs inside eventEmitter.emit, which this package calls with mu
// held for EventDrain, so it spawns End on its own goroutine rather than
// calling it inline.
func (w *Writer) handleWatchFinishing(ctx context.Context) {
	w.mu.Lock()
	empty := len(w.partial) == 0 && w.queue.Length() == 0
	w.mu.Unlock()
	if empty {
		w.End(ctx)
		return
	}

	var once sync.Once
	w.On(EventDrain, func(Event) {
		once.Do(func() { go w.End(ctx) })
	})
}

// waitForReaderFinish blocks until the Reader's process sign reaches
// FINISHED (success), FAILED (ErrFinishReaderFailed), or the bounded spin
// of cfg.FinishSpins iterations is exhausted (ErrFinishTimeout). ctx
// cancellation returns ctx.Err() directly.
func (w *Writer) waitForReaderFinish(ctx context.Context) error {
	sign := ProcessSign(w.state.Load(SlotReadProcess))
	switch sign {
	case SignFinished:
		return nil
	case SignFailed:
		return newWriterError(ErrFinishReaderFailed, nil)
	}

	for i := 0; i < w.cfg.FinishSpins; i++ {
		if err := w.waitReadProcessChange(ctx, int32(sign), w.cfg.SpinTimeout); err != nil {
			return err
		}
		if w.closed.Load() {
			return ErrClosed
		}
		sign = ProcessSign(w.state.Load(SlotReadProcess))
		switch sign {
		case SignFinished:
			return nil
		case SignFailed:
			return newWriterError(ErrFinishReaderFailed, nil)
		}
	}
	return newWriterError(ErrFinishTimeout, nil)
}

// End performs the orderly end handshake: it announces FINISHING, waits
// for the Reader to acknowledge with FINISHED (or report FAILED), then
// announces its own FINISHED and tears down emitting EventFinish then
// EventClose. A context cancellation during the wait aborts End without
// tearing the Writer down, leaving it usable (or a candidate for Destroy).
func (w *Writer) End(ctx context.Context) error {
	w.mu.Lock()
	if w.closed.Load() {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.ending {
		w.mu.Unlock()
		return nil
	}
	w.ending = true
	w.state.Store(SlotWriteProcess, int32(SignFinishing))
	w.state.Notify(SlotWriteProcess)
	w.mu.Unlock()

	outcome := w.waitForReaderFinish(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if outcome != nil {
		var we *WriterError
		if errors.As(outcome, &we) {
			w.fail(we)
		} else if outcome != ErrClosed {
			// ctx cancellation: leave the Writer usable for a retry or Destroy.
			w.ending = false
		}
		return outcome
	}

	w.ended = true
	w.state.Store(SlotWriteProcess, int32(SignFinished))
	w.state.Notify(SlotWriteProcess)
	w.events.emit(Event{Type: EventFinish})
	w.teardownLocked()
	return nil
}

// Destroy unconditionally and immediately tears the Writer down, marking
// WRITE_PROCESS as FAILED so the Reader observes an abrupt cancel rather
// than a timeout. It is safe to call at any point in the Writer's
// lifetime, including concurrently with a blocked WriteSync, Synchronize,
// or End, and is idempotent.
func (w *Writer) Destroy() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Load() {
		return
	}
	w.state.Store(SlotWriteProcess, int32(SignFailed))
	w.state.Notify(SlotWriteProcess)
	w.state.Notify(SlotReadIndex)
	w.state.Notify(SlotReadProcess)
	w.teardownLocked()
}

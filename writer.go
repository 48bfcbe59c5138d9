package shmwriter

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// writeMode selects which of the two public-entry behaviors Write
// currently dispatches to: modeDirect stores straight into the ring,
// modeBuffering instead appends to the overflow queue. Write itself is a
// single method that switches on this field, the Go re-expression of the
// rebinding idiom spec.md §9 describes.
type writeMode int

const (
	modeDirect writeMode = iota
	modeBuffering
)

// Stats is a point-in-time snapshot of a Writer's counters, independent of
// whether Prometheus metrics are wired in — the same split goflow's
// AsyncWriter keeps between its Stats() getter and its optional Registry.
type Stats struct {
	BytesWritten uint64
	FramesWritten uint64
	FramesSplit  uint64
	Wraps        uint64
	Backpressure uint64
	Drains       uint64
	QueueLength  int
}

// Writer is C3+C4: the write engine and lifecycle controller for one
// Writer-Reader pair. All of its exported methods are safe to call from
// multiple goroutines; mu serializes every mutation of writer-local state,
// the "mutex guarding all public entry points" shape spec.md §5 allows.
type Writer struct {
	mu sync.Mutex

	cfg   Config
	state *SharedState
	ring  *ringBuffer
	geo   FrameGeometry
	name  string

	writeCursor int
	cycle       int32

	mode    writeMode
	queue   *queue.Queue
	partial []byte

	ready    bool
	ending   bool
	ended    bool
	watching bool
	watchStop chan struct{}

	closed  atomic.Bool
	lastErr error

	events  *eventEmitter
	metrics *Metrics
	log     Logger

	statBytes        uint64
	statFrames       uint64
	statSplits       uint64
	statWraps        uint64
	statBackpressure uint64
	statDrains       uint64
}

// New constructs a Writer over the shared byte region buf and shared state
// view state. name is used only as a metrics/log label and may be empty.
func New(buf []byte, state *SharedState, name string, opts ...Option) (*Writer, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("shmwriter: byte region B must be non-empty")
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.Logger
	if log == nil {
		log = NoOpLogger{}
	}

	return &Writer{
		cfg:     cfg,
		state:   state,
		ring:    newRingBuffer(buf, cfg.geometry()),
		geo:     cfg.geometry(),
		name:    name,
		queue:   queue.New(),
		events:  newEventEmitter(),
		metrics: cfg.Metrics,
		log:     log,
	}, nil
}

// Events returns the fan-out channel of lifecycle events. It is closed
// exactly once, after EventClose has been delivered.
func (w *Writer) Events() <-chan Event { return w.events.events() }

// On registers fn to run synchronously whenever an event of type t fires.
func (w *Writer) On(t EventType, fn func(Event)) { w.events.on(t, fn) }

// Stats returns a snapshot of the Writer's counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		BytesWritten:  w.statBytes,
		FramesWritten: w.statFrames,
		FramesSplit:   w.statSplits,
		Wraps:         w.statWraps,
		Backpressure:  w.statBackpressure,
		Drains:        w.statDrains,
		QueueLength:   w.queue.Length() + boolToInt(len(w.partial) > 0),
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// leftoverLocked computes spec.md §4.3's `leftover` — the number of bytes
// of contiguous room ahead of write_cursor before the next collision
// boundary — and whether the reader currently sits "behind" (rc < cycle,
// or the same cycle with r ahead of write_cursor), the case where that
// boundary is the reader's own read_index rather than the physical end of
// B. It also runs the two corruption checks §4.3 defines against the
// boundary and the read cycle, failing the writer and returning ok=false
// if either trips.
func (w *Writer) leftoverLocked() (leftover int, behind bool, ok bool) {
	r := int(w.state.Load(SlotReadIndex))
	rc := w.state.Load(SlotReadCycle)

	if rc > w.cycle {
		w.fail(newWriterError(ErrCorrupted, fmt.Errorf(
			"read_cycle=%d ahead of write_cycle=%d", rc, w.cycle)))
		return 0, false, false
	}

	behind = r > w.writeCursor || rc < w.cycle
	boundary := w.ring.size()
	if behind {
		boundary = r
	}
	if boundary < w.writeCursor {
		w.fail(newWriterError(ErrCorrupted, fmt.Errorf(
			"reader overwritten: boundary=%d write_cursor=%d", boundary, w.writeCursor)))
		return 0, false, false
	}

	leftover = boundary - w.writeCursor - w.geo.extraSpace() - 1
	return leftover, behind, true
}

// wrapLocked performs Case B's unconditional wrap: the write cursor is
// reset to the physical start of B, then WRITE_CYCLE is incremented and
// stored, then WRITE_INDEX's waiters are notified — the ordering §4.3
// gives for the wrap step.
func (w *Writer) wrapLocked() {
	w.writeCursor = 0
	w.state.Store(SlotWriteIndex, 0)
	w.cycle++
	w.state.Store(SlotWriteCycle, w.cycle)
	w.state.Notify(SlotWriteIndex)

	w.statWraps++
	if w.metrics != nil {
		w.metrics.Wraps.WithLabelValues(w.name).Inc()
	}
	w.log.Debug("ring wrapped", "writer", w.name, "cycle", w.cycle)
}

// storeChunkLocked stores a chunk already known to fit within the
// current leftover (Case C or D), advances write_cursor, and notifies
// WRITE_INDEX. notFinal marks a Case C split.
func (w *Writer) storeChunkLocked(payload []byte, notFinal bool) {
	w.writeCursor = w.ring.storeFrame(w.writeCursor, payload, notFinal)

	// WRITE_CYCLE is stored before WRITE_INDEX so the Reader never
	// observes an advanced index paired with a stale cycle.
	w.state.Store(SlotWriteCycle, w.cycle)
	w.state.Store(SlotWriteIndex, int32(w.writeCursor))
	w.state.Notify(SlotWriteIndex)

	w.statBytes += uint64(len(payload))
	w.statFrames++
	if w.metrics != nil {
		w.metrics.BytesWritten.WithLabelValues(w.name).Add(float64(len(payload)))
		w.metrics.FramesWritten.WithLabelValues(w.name).Inc()
	}
	if notFinal {
		w.statSplits++
		if w.metrics != nil {
			w.metrics.FramesSplit.WithLabelValues(w.name).Inc()
		}
		w.log.Debug("frame split at leftover boundary", "writer", w.name, "chunk_len", len(payload))
	}
}

// stepOutcome reports what one call to step accomplished: how many bytes
// of the caller's payload it consumed, and whether it stopped short
// because the reader is currently blocking further progress (Case A)
// rather than because the payload ran out.
type stepOutcome struct {
	consumed int
	blocked  bool
}

// step advances the write cursor through as much of payload as spec.md
// §4.3's Case A-D algorithm allows in one pass, recursing internally
// through Case B's wrap and Case C's split. It returns once the whole
// payload is consumed (Case D) or the reader is blocking further
// progress (Case A); Case B and C always re-derive leftover against the
// updated write_cursor before deciding what to do next.
func (w *Writer) step(payload []byte) stepOutcome {
	consumed := 0
	for len(payload) > 0 {
		leftover, behind, ok := w.leftoverLocked()
		if !ok {
			return stepOutcome{consumed: consumed}
		}

		if leftover <= 0 {
			if behind {
				return stepOutcome{consumed: consumed, blocked: true}
			}
			w.wrapLocked()
			continue
		}

		if len(payload) > leftover {
			w.storeChunkLocked(payload[:leftover], true)
			consumed += leftover
			payload = payload[leftover:]
			continue
		}

		w.storeChunkLocked(payload, false)
		consumed += len(payload)
		payload = nil
	}
	return stepOutcome{consumed: consumed}
}

// Write never blocks. It stores directly into the ring when there is
// room, and otherwise appends to the overflow queue and returns
// immediately; buffered payloads are drained automatically once the
// reader frees space. The returned bool is true when the writer is now
// buffering — the caller should pause further writes until EventDrain.
func (w *Writer) Write(payload []byte) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Load() {
		return false, ErrClosed
	}
	if w.lastErr != nil {
		return false, w.lastErr
	}

	if w.mode == modeBuffering {
		w.enqueue(payload)
		return true, nil
	}

	out := w.step(payload)
	if w.lastErr != nil {
		return false, w.lastErr
	}
	if out.blocked {
		w.partial = append([]byte(nil), payload[out.consumed:]...)
		w.switchToBuffering()
		return true, nil
	}
	return false, nil
}

func (w *Writer) enqueue(payload []byte) {
	w.queue.Add(append([]byte(nil), payload...))
	if w.metrics != nil {
		w.metrics.BufferUsage.WithLabelValues(w.name).Set(float64(w.queue.Length()))
	}
}

func (w *Writer) switchToBuffering() {
	if w.mode == modeBuffering {
		return
	}
	w.mode = modeBuffering
	w.statBackpressure++
	if w.metrics != nil {
		w.metrics.BackpressureTotal.WithLabelValues(w.name).Inc()
	}
	w.log.Warn("backpressure engaged, buffering writes", "writer", w.name)
	w.scheduleDrainWait()
}

// scheduleDrainWait arranges for drainLocked to run again once READ_INDEX
// changes, without blocking the calling goroutine.
func (w *Writer) scheduleDrainWait() {
	expected := w.state.Load(SlotReadIndex)
	_, settled, ch := w.state.WaitAsync(SlotReadIndex, expected, 0)
	if settled {
		go w.onSpaceAvailable()
		return
	}
	go func() {
		<-ch
		w.onSpaceAvailable()
	}()
}

func (w *Writer) onSpaceAvailable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Load() {
		return
	}
	w.drainLocked()
}

// drainLocked empties w.partial and then the overflow queue into the ring
// for as long as space allows, rescheduling itself when it runs out again.
// Must be called with mu held.
func (w *Writer) drainLocked() {
	for {
		if len(w.partial) == 0 {
			if w.queue.Length() == 0 {
				break
			}
			w.partial = w.queue.Peek().([]byte)
			w.queue.Remove()
		}
		out := w.step(w.partial)
		if w.lastErr != nil {
			return
		}
		w.partial = w.partial[out.consumed:]
		if out.blocked {
			w.scheduleDrainWait()
			return
		}
	}

	w.mode = modeDirect
	w.statDrains++
	if w.metrics != nil {
		w.metrics.Drains.WithLabelValues(w.name).Inc()
		w.metrics.BufferUsage.WithLabelValues(w.name).Set(0)
	}
	w.events.emit(Event{Type: EventDrain})
}

// Flush attempts to drain the overflow queue and any partially written
// payload into the ring right now, and reports whether the writer ended
// up fully drained — i.e. whether Write is now storing directly into the
// ring rather than buffering.
func (w *Writer) Flush() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode == modeDirect && len(w.partial) == 0 && w.queue.Length() == 0 {
		return true
	}
	if w.closed.Load() || w.lastErr != nil {
		return false
	}
	w.drainLocked()
	return w.mode == modeDirect && len(w.partial) == 0 && w.queue.Length() == 0
}

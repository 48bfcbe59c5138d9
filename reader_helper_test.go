package shmwriter

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// fakeReader is a minimal in-process stand-in for the external Reader this
// package's own contract never implements (see doc.go); it drives the
// READ_* slots and consumes B well enough to exercise a Writer end to end.
type fakeReader struct {
	state *SharedState
	buf   []byte
	geo   FrameGeometry

	readCursor int
	readCycle  int32
}

func newFakeReader(buf []byte, state *SharedState, geo FrameGeometry) *fakeReader {
	return &fakeReader{state: state, buf: buf, geo: geo}
}

// take copies exactly n contiguous bytes starting at readCursor. It never
// crosses the physical end of the buffer — the writer's Case A-D algorithm
// guarantees every frame fits entirely before whichever boundary applies,
// so a frame's own fields never need to straddle it. A cursor left with
// less room than the smallest frame (overhead plus one payload byte),
// including one sitting exactly at size(), stays there; only the explicit
// wrap check at the top of readOneFrame resets it to 0.
func (r *fakeReader) take(n int) []byte {
	out := make([]byte, n)
	copy(out, r.buf[r.readCursor:r.readCursor+n])
	r.readCursor += n
	return out
}

// readOneFrame consumes exactly one physical frame and publishes
// READ_INDEX/READ_CYCLE immediately afterward. It returns the frame's
// payload and whether NOT_FINAL was set, i.e. whether a continuation frame
// still needs to be read to complete the logical message.
func (r *fakeReader) readOneFrame() (payload []byte, notFinal bool) {
	if len(r.buf)-r.readCursor < r.geo.overhead()+1 {
		r.readCursor = 0
		r.readCycle++
	}

	lenHdr := r.take(4)
	n := int(binary.LittleEndian.Uint32(lenHdr))
	payload = r.take(n)
	if r.geo.PostfixSize > 0 {
		r.take(r.geo.PostfixSize)
	}
	final := r.take(1)[0]

	r.state.Store(SlotReadCycle, r.readCycle)
	r.state.Store(SlotReadIndex, int32(r.readCursor))
	r.state.Notify(SlotReadIndex)

	return payload, final != 0
}

// readFrame reassembles one full logical message, waiting for each
// NOT_FINAL continuation frame to become available in turn.
func (r *fakeReader) readFrame() []byte {
	var out []byte
	for {
		payload, notFinal := r.readOneFrame()
		out = append(out, payload...)
		if !notFinal {
			return out
		}
		r.waitForData(5 * time.Second)
	}
}

func (r *fakeReader) hasData() bool {
	wi := r.state.Load(SlotWriteIndex)
	wc := r.state.Load(SlotWriteCycle)
	if len(r.buf)-r.readCursor < r.geo.overhead()+1 {
		// The writer wraps here rather than writing, so the next frame
		// exists only once it has published a non-zero index in the
		// next cycle.
		return wc == r.readCycle+1 && wi != 0
	}
	return wi != int32(r.readCursor) || wc != r.readCycle
}

func (r *fakeReader) waitForData(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.hasData() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

func (r *fakeReader) readAllAvailable() [][]byte {
	var frames [][]byte
	for r.hasData() {
		frames = append(frames, r.readFrame())
	}
	return frames
}

func (r *fakeReader) signalReady() {
	r.state.Store(SlotReadProcess, int32(SignReady))
	r.state.Notify(SlotReadProcess)
}

func (r *fakeReader) signalFinished() {
	r.state.Store(SlotReadProcess, int32(SignFinished))
	r.state.Notify(SlotReadProcess)
}

func (r *fakeReader) signalFailed() {
	r.state.Store(SlotReadProcess, int32(SignFailed))
	r.state.Notify(SlotReadProcess)
}

func (r *fakeReader) signalFinishing() {
	r.state.Store(SlotReadProcess, int32(SignFinishing))
	r.state.Notify(SlotReadProcess)
}

var testSegmentSeq atomic.Int64

// createTestSegment allocates a uniquely named Segment sized to hold
// bufSize bytes of B, and registers its cleanup with t.
func createTestSegment(t *testing.T, bufSize int) *Segment {
	t.Helper()
	name := fmt.Sprintf("shmwriter-test-%d-%d", time.Now().UnixNano(), testSegmentSeq.Add(1))
	seg, err := CreateSegment(name, bufSize)
	if err != nil {
		t.Fatalf("create segment: %v", err)
	}
	t.Cleanup(func() {
		if err := seg.Close(); err != nil {
			t.Logf("segment close: %v", err)
		}
	})
	return seg
}

package shmwriter

import "encoding/binary"

// ringBuffer is C2: the only component that touches bytes inside B. It
// knows nothing about readiness, cursors in S, or backpressure — it is a
// pure wrap-aware memcpy plus the LEN/NOT_FINAL frame envelope, the same
// division of labor the teacher's ShmRing keeps between its header
// bookkeeping and its raw buffer copies.
type ringBuffer struct {
	buf []byte
	geo FrameGeometry
}

func newRingBuffer(buf []byte, geo FrameGeometry) *ringBuffer {
	return &ringBuffer{buf: buf, geo: geo}
}

func (r *ringBuffer) size() int { return len(r.buf) }

// put copies src into buf starting at offset (which must already be in
// [0, size()]), wrapping around the end of the buffer when src does not
// fit in the remaining contiguous span, and returns the offset immediately
// past the last byte written. It does not treat landing exactly on
// size() as a wrap — offset == size() is a valid return value meaning
// the buffer is now full up to its physical end; only the write engine's
// explicit wrap step (Case B) resets a cursor sitting at size() back to
// 0. The write engine never calls put in a way that crosses the physical
// end mid-frame (see storeFrame's callers), so the crossing branch below
// exists for put's own unit tests and any future caller, not the normal
// write path.
func (r *ringBuffer) put(offset int, src []byte) int {
	n := len(src)
	if n == 0 {
		return offset
	}
	tail := r.size() - offset
	if tail >= n {
		copy(r.buf[offset:offset+n], src)
		return offset + n
	}
	copy(r.buf[offset:], src[:tail])
	copy(r.buf[0:], src[tail:])
	return n - tail
}

// storeFrame writes one complete frame — LEN header, payload, postfix
// padding, and the NOT_FINAL byte — starting at offset, and returns the
// offset just past it. notFinal marks this frame as a non-terminal chunk
// of a larger logical message that continues in a later frame.
func (r *ringBuffer) storeFrame(offset int, payload []byte, notFinal bool) int {
	var lenHdr [4]byte
	binary.LittleEndian.PutUint32(lenHdr[:], uint32(len(payload)))
	offset = r.put(offset, lenHdr[:])
	offset = r.put(offset, payload)
	if r.geo.PostfixSize > 0 {
		offset = r.put(offset, make([]byte, r.geo.PostfixSize))
	}
	final := byte(0)
	if notFinal {
		final = 1
	}
	return r.put(offset, []byte{final})
}

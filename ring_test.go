package shmwriter

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestRingBufferPutSimple(t *testing.T) {
	buf := make([]byte, 16)
	r := newRingBuffer(buf, FrameGeometry{PrefixSize: 4, PostfixSize: 0})

	offset := r.put(0, []byte("hello"))
	if offset != 5 {
		t.Fatalf("expected offset 5, got %d", offset)
	}
	if !bytes.Equal(buf[:5], []byte("hello")) {
		t.Fatalf("unexpected buffer contents: %q", buf[:5])
	}
}

func TestRingBufferPutWraps(t *testing.T) {
	buf := make([]byte, 8)
	r := newRingBuffer(buf, FrameGeometry{PrefixSize: 4, PostfixSize: 0})

	// Start near the end so this write must wrap.
	offset := r.put(6, []byte("abcd"))
	if offset != 2 {
		t.Fatalf("expected wrapped offset 2, got %d", offset)
	}
	if !bytes.Equal(buf[6:8], []byte("ab")) {
		t.Fatalf("tail bytes wrong: %q", buf[6:8])
	}
	if !bytes.Equal(buf[0:2], []byte("cd")) {
		t.Fatalf("head bytes wrong: %q", buf[0:2])
	}
}

func TestRingBufferStoreFrameRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	geo := FrameGeometry{PrefixSize: 4, PostfixSize: 2}
	r := newRingBuffer(buf, geo)

	payload := []byte("payload")
	offset := r.storeFrame(0, payload, false)

	wantLen := geo.frameSize(len(payload))
	if offset != wantLen {
		t.Fatalf("expected final offset %d, got %d", wantLen, offset)
	}

	gotLen := binary.LittleEndian.Uint32(buf[0:4])
	if int(gotLen) != len(payload) {
		t.Fatalf("LEN field mismatch: got %d want %d", gotLen, len(payload))
	}
	if !bytes.Equal(buf[4:4+len(payload)], payload) {
		t.Fatalf("payload mismatch: %q", buf[4:4+len(payload)])
	}
	notFinalByte := buf[4+len(payload)+geo.PostfixSize]
	if notFinalByte != 0 {
		t.Fatalf("expected NOT_FINAL=0, got %d", notFinalByte)
	}
}

func TestRingBufferStoreFrameNotFinal(t *testing.T) {
	buf := make([]byte, 32)
	geo := FrameGeometry{PrefixSize: 4, PostfixSize: 0}
	r := newRingBuffer(buf, geo)

	offset := r.storeFrame(0, []byte("ab"), true)
	notFinalByte := buf[offset-1]
	if notFinalByte != 1 {
		t.Fatalf("expected NOT_FINAL=1, got %d", notFinalByte)
	}
}

package shmwriter

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func newTestWriter(t *testing.T, bufSize int, opts ...Option) (*Writer, *Segment) {
	t.Helper()
	seg := createTestSegment(t, bufSize)
	w, err := New(seg.Buf(), seg.State(), t.Name(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w, seg
}

func TestWriteDirectRoundTrip(t *testing.T) {
	w, seg := newTestWriter(t, 4096)
	reader := newFakeReader(seg.Buf(), seg.State(), w.geo)

	payload := []byte("hello, reader")
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !reader.waitForData(time.Second) {
		t.Fatal("reader never observed the write")
	}
	got := reader.readFrame()
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}

	stats := w.Stats()
	if stats.BytesWritten != uint64(len(payload)) {
		t.Fatalf("unexpected BytesWritten: %d", stats.BytesWritten)
	}
	if stats.FramesWritten != 1 {
		t.Fatalf("unexpected FramesWritten: %d", stats.FramesWritten)
	}
}

func TestWriteBuffersUnderBackpressure(t *testing.T) {
	// A ring just large enough for one small frame and no more.
	w, seg := newTestWriter(t, frameGeometryForTest().frameSize(4))
	reader := newFakeReader(seg.Buf(), seg.State(), w.geo)

	drained := make(chan Event, 4)
	w.On(EventDrain, func(ev Event) { drained <- ev })
	w.On(EventError, func(ev Event) { t.Errorf("unexpected error event: %v", ev.Err) })

	first := []byte("abcd")
	second := []byte("efgh")

	if _, err := w.Write(first); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if _, err := w.Write(second); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	if w.Flush() {
		t.Fatal("expected the writer to be buffering the second payload")
	}
	if got := w.Stats().Backpressure; got != 1 {
		t.Fatalf("expected one backpressure event, got %d", got)
	}

	if !reader.waitForData(time.Second) {
		t.Fatal("reader never observed the first write")
	}
	if got := reader.readFrame(); !bytes.Equal(got, first) {
		t.Fatalf("got %q, want %q", got, first)
	}

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("drain never fired after reader freed space")
	}

	if !reader.waitForData(time.Second) {
		t.Fatal("reader never observed the drained second write")
	}
	if got := reader.readFrame(); !bytes.Equal(got, second) {
		t.Fatalf("got %q, want %q", got, second)
	}
}

func TestWriteSplitsAcrossWrap(t *testing.T) {
	w, seg := newTestWriter(t, 20)
	reader := newFakeReader(seg.Buf(), seg.State(), w.geo)

	// frameSize(6) == 11, leaving 9 of the 20 bytes free.
	first := []byte("abcdef")
	if _, err := w.Write(first); err != nil {
		t.Fatalf("first Write: %v", err)
	}

	// frameSize(10) == 15 > 9 free bytes, so this must split: a 4-byte
	// NOT_FINAL chunk now (wrapping the ring), the remaining 6 bytes
	// buffered until the reader frees space.
	second := bytes.Repeat([]byte{0xAB}, 10)
	if _, err := w.Write(second); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if w.Flush() {
		t.Fatal("expected the remainder of the split payload to be buffered")
	}

	if !reader.waitForData(time.Second) {
		t.Fatal("reader never observed the first write")
	}
	if got := reader.readFrame(); !bytes.Equal(got, first) {
		t.Fatalf("got %q, want %q", got, first)
	}

	if !reader.waitForData(time.Second) {
		t.Fatal("reader never observed the split second write")
	}
	if got := reader.readFrame(); !bytes.Equal(got, second) {
		t.Fatalf("got %q, want %q", got, second)
	}

	if got := w.Stats().FramesSplit; got != 1 {
		t.Fatalf("expected one split, got %d", got)
	}
}

func TestWriteSyncBlocksUntilSpace(t *testing.T) {
	w, seg := newTestWriter(t, 64, WithReadSpins(50, 10*time.Millisecond))
	reader := newFakeReader(seg.Buf(), seg.State(), w.geo)

	big := bytes.Repeat([]byte{1}, 40)
	if _, err := w.WriteSync(context.Background(), big); err != nil {
		t.Fatalf("first WriteSync: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := w.WriteSync(context.Background(), bytes.Repeat([]byte{2}, 40))
		errCh <- err
	}()

	// Give the second WriteSync a moment to block on space, then free it.
	time.Sleep(30 * time.Millisecond)
	if !reader.waitForData(time.Second) {
		t.Fatal("reader never saw the first payload")
	}
	reader.readFrame()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("second WriteSync: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("second WriteSync never unblocked")
	}
}

func TestWriteSyncContextCancellation(t *testing.T) {
	w, _ := newTestWriter(t, 8, WithReadSpins(1000, 50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := w.WriteSync(ctx, bytes.Repeat([]byte{1}, 100))
	if err == nil {
		t.Fatal("expected an error from a canceled WriteSync")
	}
}

func frameGeometryForTest() FrameGeometry {
	return FrameGeometry{PrefixSize: frameHeaderSize, PostfixSize: 0}
}

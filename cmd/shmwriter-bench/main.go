// Command shmwriter-bench creates a shared-memory segment, runs a Writer
// against an in-process reader loop, and prints throughput and
// backpressure diagnostics. It is a benchmarking analogue of the teacher
// debug-capacity tool, not a production Reader implementation.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"time"

	shmwriter "github.com/astrohelm/shared-stream"
)

func main() {
	bufSize := flag.Int("buf", 65536, "size in bytes of the shared byte region")
	msgSize := flag.Int("msg", 256, "payload size in bytes of each write")
	count := flag.Int("count", 20000, "number of payloads to write")
	flag.Parse()

	seg, err := shmwriter.CreateSegment(fmt.Sprintf("bench-%d", time.Now().UnixNano()), *bufSize)
	if err != nil {
		log.Fatalf("create segment: %v", err)
	}
	defer seg.Close()

	w, err := shmwriter.New(seg.Buf(), seg.State(), "bench",
		shmwriter.WithLogger(shmwriter.NoOpLogger{}),
	)
	if err != nil {
		log.Fatalf("new writer: %v", err)
	}

	readerDone := make(chan struct{})
	go runReaderLoop(seg, *count, readerDone)

	if err := w.Synchronize(context.Background()); err != nil {
		log.Fatalf("synchronize: %v", err)
	}
	w.Watch(context.Background())

	payload := make([]byte, *msgSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	start := time.Now()
	for i := 0; i < *count; i++ {
		binary.LittleEndian.PutUint32(payload, uint32(i))
		if _, err := w.Write(payload); err != nil {
			log.Fatalf("write %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	<-readerDone

	if err := w.End(context.Background()); err != nil {
		log.Fatalf("end: %v", err)
	}

	stats := w.Stats()
	fmt.Printf("=== shmwriter-bench ===\n")
	fmt.Printf("buffer size:     %d bytes\n", *bufSize)
	fmt.Printf("payload size:    %d bytes\n", *msgSize)
	fmt.Printf("messages:        %d\n", *count)
	fmt.Printf("elapsed:         %s\n", elapsed)
	fmt.Printf("throughput:      %.2f MB/s\n", float64(stats.BytesWritten)/elapsed.Seconds()/(1<<20))
	fmt.Printf("frames written:  %d\n", stats.FramesWritten)
	fmt.Printf("frames split:    %d\n", stats.FramesSplit)
	fmt.Printf("ring wraps:      %d\n", stats.Wraps)
	fmt.Printf("backpressure:    %d\n", stats.Backpressure)
	fmt.Printf("drains:          %d\n", stats.Drains)
}

// runReaderLoop is a minimal stand-in for an external Reader: it consumes
// exactly count frames from the segment's ring and signals readerDone.
// A real Reader is always a separate process; see doc.go.
func runReaderLoop(seg *shmwriter.Segment, count int, done chan<- struct{}) {
	state := seg.State()
	buf := seg.Buf()

	readCursor := 0
	var readCycle int32

	// take copies exactly n contiguous bytes starting at readCursor. It
	// never crosses the physical end of buf — the writer's Case A-D
	// algorithm guarantees every frame fits entirely before whichever
	// boundary applies. Only the wrap check below readCursor resets the
	// cursor to 0, between frames rather than inside one.
	take := func(n int) []byte {
		out := make([]byte, n)
		copy(out, buf[readCursor:readCursor+n])
		readCursor += n
		return out
	}

	state.Store(shmwriter.SlotReadProcess, int32(shmwriter.SignReady))
	state.Notify(shmwriter.SlotReadProcess)

	read := 0
	for read < count {
		wi := state.Load(shmwriter.SlotWriteIndex)
		wc := state.Load(shmwriter.SlotWriteCycle)
		// With less room left than LEN + one payload byte + NOT_FINAL
		// (PostfixSize is 0 here) the writer wraps instead of writing, so
		// the next frame starts at 0 once the next cycle has data.
		atWrap := len(buf)-readCursor < 4+1+1
		if (atWrap && (wc != readCycle+1 || wi == 0)) ||
			(!atWrap && wi == int32(readCursor) && wc == readCycle) {
			time.Sleep(100 * time.Microsecond)
			continue
		}

		if atWrap {
			readCursor = 0
			readCycle++
		}

		lenHdr := take(4)
		n := int(binary.LittleEndian.Uint32(lenHdr))
		take(n)
		final := take(1)[0]
		state.Store(shmwriter.SlotReadCycle, readCycle)
		state.Store(shmwriter.SlotReadIndex, int32(readCursor))
		state.Notify(shmwriter.SlotReadIndex)
		if final == 0 {
			read++
		}
	}

	state.Store(shmwriter.SlotReadProcess, int32(shmwriter.SignFinished))
	state.Notify(shmwriter.SlotReadProcess)
	close(done)
}

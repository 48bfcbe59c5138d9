//go:build unix

package shmwriter

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Segment is a reference allocator: it mmaps a single file holding the
// shared state region S immediately followed by the shared byte region B,
// and hands out typed views over each half. It is out of scope for the
// Writer's own contract (an allocator is always somebody else's job in a
// real deployment) but this repo's tests, benchmarks, and demo binary all
// need something concrete to allocate against.
type Segment struct {
	path  string
	mem   []byte
	state *SharedState
	buf   []byte
	owner bool
}

func segmentDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func generateSegmentPath(name string) string {
	return filepath.Join(segmentDir(), "shmwriter-"+name)
}

// CreateSegment allocates a new segment of bufSize bytes of B backed by a
// freshly created file at name's conventional path, and returns a Segment
// that owns (and will unlink) that file on Close.
func CreateSegment(name string, bufSize int) (*Segment, error) {
	if bufSize <= 0 {
		return nil, fmt.Errorf("shmwriter: buffer size must be positive, got %d", bufSize)
	}
	path := generateSegmentPath(name)
	total := MinSharedStateBytes + bufSize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmwriter: create segment %q: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(total)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("shmwriter: truncate segment %q: %w", path, err)
	}

	mem, err := mmapFile(f, total)
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	state, err := NewSharedState(mem[:MinSharedStateBytes])
	if err != nil {
		unix.Munmap(mem)
		os.Remove(path)
		return nil, err
	}

	return &Segment{path: path, mem: mem, state: state, buf: mem[MinSharedStateBytes:], owner: true}, nil
}

// OpenSegment maps an existing segment previously created by CreateSegment
// under the same name and bufSize. The returned Segment does not unlink the
// file on Close.
func OpenSegment(name string, bufSize int) (*Segment, error) {
	if bufSize <= 0 {
		return nil, fmt.Errorf("shmwriter: buffer size must be positive, got %d", bufSize)
	}
	path := generateSegmentPath(name)
	total := MinSharedStateBytes + bufSize

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmwriter: open segment %q: %w", path, err)
	}
	defer f.Close()

	mem, err := mmapFile(f, total)
	if err != nil {
		return nil, err
	}

	state, err := NewSharedState(mem[:MinSharedStateBytes])
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}

	return &Segment{path: path, mem: mem, state: state, buf: mem[MinSharedStateBytes:], owner: false}, nil
}

func mmapFile(f *os.File, size int) ([]byte, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shmwriter: mmap: %w", err)
	}
	return mem, nil
}

// State returns the shared state view backed by this segment.
func (s *Segment) State() *SharedState { return s.state }

// Buf returns the shared byte region B backed by this segment.
func (s *Segment) Buf() []byte { return s.buf }

// Close unmaps the segment and, if this Segment created the backing file,
// unlinks it.
func (s *Segment) Close() error {
	err := unix.Munmap(s.mem)
	if s.owner {
		if rmErr := os.Remove(s.path); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

// RemoveSegment unlinks the backing file for name without mapping it,
// useful for cleaning up after a crashed owner.
func RemoveSegment(name string, bufSize int) error {
	return os.Remove(generateSegmentPath(name))
}

// SegmentExists reports whether a segment with this name currently exists
// on disk.
func SegmentExists(name string) bool {
	_, err := os.Stat(generateSegmentPath(name))
	return err == nil
}

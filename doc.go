// Package shmwriter implements the writer side of a shared-memory byte
// stream between exactly one Writer and one external Reader process,
// coordinated through a fixed-size shared byte region and a fixed-size
// shared region of atomic words supporting futex-like wait/notify.
//
// A Writer is constructed over a byte region and a *SharedState (see
// NewSharedState, or Segment for a ready-made mmap-backed pair), then
// driven through its lifecycle: Synchronize to perform the startup
// handshake, Watch to start the liveness watch, Write or WriteSync to
// move bytes, and End or Destroy to tear down.
package shmwriter

package platform

import (
	"errors"
)

// ErrUnsupported is returned when the kernel transport is not available on
// this platform.
var ErrUnsupported = errors.New("kernel trace transport is not supported on this platform")

// ErrClosed is returned by Read once the reader has been closed.
var ErrClosed = errors.New("reader closed")

// Reader defines a platform-agnostic interface for reading raw trace records.
// On Linux this is backed by a pinned BPF ring buffer or perf event array.
type Reader interface {
	// Read blocks until the next record is available
	Read() (Record, error)
	// Close releases the underlying resources and unblocks Read
	Close() error
}

// Record is one chunk of the packet stream as handed over by the transport.
// A record holds one or more back-to-back packet frames.
type Record struct {
	// RawSample contains the raw frame bytes
	RawSample []byte
	// LostSamples indicates how many samples were dropped by the kernel
	LostSamples uint64
}

// ReaderConfig holds configuration for opening a kernel reader
type ReaderConfig struct {
	// PinPath is the bpffs path of a pinned ring buffer or perf event
	// array map.
	PinPath string
	// PerCPUBuffer is the perf buffer size per CPU in bytes. Zero uses
	// eight pages.
	PerCPUBuffer int
}

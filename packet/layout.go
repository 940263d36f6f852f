// Package packet encodes and decodes fixed-size trace packets.
//
// A packet is a small header followed by a 32 byte payload union. The
// payload carries either a short text message, a scheduler switch record, or
// nothing meaningful at all when the unique-code flag is set. Only this
// package touches raw packet bytes; everything else works with Decoded.
//
// Wire layout (little endian):
//
//	offset  size  field
//	0       4     timestamp seconds (int32)
//	4       4     timestamp microseconds (int32)
//	8       2     pid (int16)
//	10      1     event type
//	11      1     code/length: bit 7 unique-code flag, bits 0..6 length or code
//	12      4     reserved padding, LayoutAligned only (zero on encode)
//	12|16   32    payload
package packet

import (
	"errors"
	"fmt"
	"strings"
)

// Sizes shared by both layouts.
const (
	PayloadSize   = 32
	MaxMessageLen = PayloadSize - 1
	CommLen       = 12
	MaxCode       = 0x7f

	codeUnique = 0x80
	lengthMask = 0x7f
)

// Field offsets. The payload offset depends on the layout.
const (
	offSec     = 0
	offUsec    = 4
	offPID     = 8
	offEvent   = 10
	offCodeLen = 11
	offPad     = 12
)

// Layout selects between the packed 44 byte record and the 48 byte record
// that keeps the reserved padding word.
type Layout int

const (
	// LayoutPacked is the 44 byte reference record without padding.
	LayoutPacked Layout = iota
	// LayoutAligned carries a reserved 4 byte word before the payload.
	LayoutAligned
)

// Fixed packet sizes for each layout.
const (
	PackedSize  = 12 + PayloadSize
	AlignedSize = 16 + PayloadSize
)

// HeaderSize is the number of bytes before the payload.
func (l Layout) HeaderSize() int {
	if l == LayoutAligned {
		return 16
	}
	return 12
}

// Size is the fixed size of a full packet.
func (l Layout) Size() int {
	return l.HeaderSize() + PayloadSize
}

func (l Layout) String() string {
	if l == LayoutAligned {
		return "aligned"
	}
	return "packed"
}

// ParseLayout converts "packed" or "aligned" to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "packed":
		return LayoutPacked, nil
	case "aligned":
		return LayoutAligned, nil
	default:
		return LayoutPacked, fmt.Errorf("unknown packet layout %q", s)
	}
}

var (
	// ErrTooShort is returned when fewer bytes are available than the
	// packet (or its header) needs.
	ErrTooShort = errors.New("packet too short")
	// ErrOutOfRange is returned when a unique code does not fit in 7 bits.
	ErrOutOfRange = errors.New("code out of range")
	// ErrTruncated is returned when text does not fit its fixed field.
	ErrTruncated = errors.New("text exceeds field capacity")
	// ErrInvalidEventType is returned when an event type does not match the
	// payload being encoded.
	ErrInvalidEventType = errors.New("invalid event type for payload")
)

// Codec encodes and decodes packets in one layout. The zero value uses
// LayoutPacked. A Codec holds no state and is safe for concurrent use.
type Codec struct {
	Layout Layout
}

// Default is the codec used by the package level functions.
var Default = Codec{Layout: LayoutPacked}

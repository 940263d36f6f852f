package packet

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/jnesss/ttrace/types"
)

// Timestamp is the 8 byte seconds/microseconds pair at the start of a packet.
type Timestamp struct {
	Sec  int32 `json:"sec"`
	Usec int32 `json:"usec"`
}

// TimestampOf converts t to a packet timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{
		Sec:  int32(t.Unix()),
		Usec: int32(t.Nanosecond() / 1000),
	}
}

// Time converts the timestamp back to a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(int64(ts.Sec), int64(ts.Usec)*1000)
}

// PrevTask is the outgoing task of a scheduler switch record.
type PrevTask struct {
	PID      int16  `json:"pid"`
	Priority uint8  `json:"priority"`
	State    uint8  `json:"state"`
	Name     string `json:"name"`
}

// NextTask is the incoming task of a scheduler switch record.
type NextTask struct {
	PID      int16  `json:"pid"`
	Priority uint8  `json:"priority"`
	Name     string `json:"name"`
}

// Packet is an encoded trace packet. It is immutable once built.
type Packet struct {
	layout Layout
	raw    [AlignedSize]byte
}

// Layout returns the layout the packet was encoded with.
func (p Packet) Layout() Layout {
	return p.layout
}

// Bytes returns the full fixed size image of the packet.
func (p Packet) Bytes() []byte {
	out := make([]byte, p.layout.Size())
	copy(out, p.raw[:])
	return out
}

// Frame returns the bytes a packed stream holds for this packet: the header
// only for unique-code packets, the full image otherwise.
func (p Packet) Frame() []byte {
	out := make([]byte, p.ConsumedLength())
	copy(out, p.raw[:])
	return out
}

// ConsumedLength is the number of stream bytes this packet occupies.
func (p Packet) ConsumedLength() int {
	return consumedLength(p.layout, types.EventType(p.raw[offEvent]), p.raw[offCodeLen])
}

// Unique reports whether the unique-code flag is set.
func (p Packet) Unique() bool {
	return !types.EventType(p.raw[offEvent]).IsScheduler() && p.raw[offCodeLen]&codeUnique != 0
}

func consumedLength(l Layout, ev types.EventType, codeLen byte) int {
	if !ev.IsScheduler() && codeLen&codeUnique != 0 {
		return l.Size() - PayloadSize
	}
	return l.Size()
}

func (c Codec) header(ts Timestamp, pid int16, ev types.EventType, codeLen byte) Packet {
	p := Packet{layout: c.Layout}
	binary.LittleEndian.PutUint32(p.raw[offSec:], uint32(ts.Sec))
	binary.LittleEndian.PutUint32(p.raw[offUsec:], uint32(ts.Usec))
	binary.LittleEndian.PutUint16(p.raw[offPID:], uint16(pid))
	p.raw[offEvent] = byte(ev)
	p.raw[offCodeLen] = codeLen
	// raw is zeroed, so the aligned layout's padding word already reads 0.
	return p
}

func checkPayloadEvent(ev types.EventType) error {
	if ev.IsScheduler() || !ev.Known() {
		return fmt.Errorf("%w: %s", ErrInvalidEventType, ev.Name())
	}
	return nil
}

// EncodeMessage builds a text packet. Text longer than MaxMessageLen bytes
// fails with ErrTruncated; use TruncateMessage first to get the historical
// silent truncation.
func (c Codec) EncodeMessage(ts Timestamp, pid int16, ev types.EventType, text string) (Packet, error) {
	if err := checkPayloadEvent(ev); err != nil {
		return Packet{}, err
	}
	if len(text) > MaxMessageLen {
		return Packet{}, fmt.Errorf("%w: message is %d bytes, limit %d", ErrTruncated, len(text), MaxMessageLen)
	}

	p := c.header(ts, pid, ev, byte(len(text)))
	copy(p.raw[c.Layout.HeaderSize():], text)
	return p, nil
}

// EncodeCode builds a unique-code packet. The payload region is left zero
// and is not part of the packet's stream frame.
func (c Codec) EncodeCode(ts Timestamp, pid int16, ev types.EventType, code int) (Packet, error) {
	if err := checkPayloadEvent(ev); err != nil {
		return Packet{}, err
	}
	if code < 0 || code > MaxCode {
		return Packet{}, fmt.Errorf("%w: %d not in 0..%d", ErrOutOfRange, code, MaxCode)
	}

	return c.header(ts, pid, ev, codeUnique|byte(code)), nil
}

// EncodeSchedulerSwitch builds a context switch packet. The event type must
// be EventSchedBegin or EventSchedEnd; that marker, not the code/length byte,
// is what identifies the payload as a scheduler record.
func (c Codec) EncodeSchedulerSwitch(ts Timestamp, pid int16, ev types.EventType, prev PrevTask, next NextTask) (Packet, error) {
	if !ev.IsScheduler() {
		return Packet{}, fmt.Errorf("%w: %s is not a scheduler marker", ErrInvalidEventType, ev.Name())
	}
	if len(prev.Name) > CommLen || len(next.Name) > CommLen {
		return Packet{}, fmt.Errorf("%w: task names are limited to %d bytes", ErrTruncated, CommLen)
	}

	p := c.header(ts, pid, ev, 0)
	rec := p.raw[c.Layout.HeaderSize():]

	binary.LittleEndian.PutUint16(rec[0:], uint16(prev.PID))
	rec[2] = prev.Priority
	rec[3] = prev.State
	copy(rec[4:4+CommLen], prev.Name)

	binary.LittleEndian.PutUint16(rec[16:], uint16(next.PID))
	rec[18] = next.Priority
	// rec[19] is the record's own pad byte and stays zero.
	copy(rec[20:20+CommLen], next.Name)
	return p, nil
}

// TruncateMessage shortens text to the longest prefix EncodeMessage accepts.
func TruncateMessage(text string) string {
	if len(text) > MaxMessageLen {
		return text[:MaxMessageLen]
	}
	return text
}

// EncodeMessage encodes with the default codec.
func EncodeMessage(ts Timestamp, pid int16, ev types.EventType, text string) (Packet, error) {
	return Default.EncodeMessage(ts, pid, ev, text)
}

// EncodeCode encodes with the default codec.
func EncodeCode(ts Timestamp, pid int16, ev types.EventType, code int) (Packet, error) {
	return Default.EncodeCode(ts, pid, ev, code)
}

// EncodeSchedulerSwitch encodes with the default codec.
func EncodeSchedulerSwitch(ts Timestamp, pid int16, ev types.EventType, prev PrevTask, next NextTask) (Packet, error) {
	return Default.EncodeSchedulerSwitch(ts, pid, ev, prev, next)
}

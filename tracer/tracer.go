// Package tracer turns trace calls into packets, filtered by the enabled tag
// mask, and hands them to a sink.
package tracer

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jnesss/ttrace/packet"
	"github.com/jnesss/ttrace/tags"
	"github.com/jnesss/ttrace/types"
)

// Sink receives every packet the tracer emits.
type Sink interface {
	Emit(p packet.Packet) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(p packet.Packet) error

func (f SinkFunc) Emit(p packet.Packet) error { return f(p) }

// Tracer builds packets for one producer pid.
type Tracer struct {
	mask     atomic.Uint32
	sink     Sink
	codec    packet.Codec
	pid      int16
	clock    func() time.Time
	truncate bool
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithCodec selects the packet layout.
func WithCodec(c packet.Codec) Option {
	return func(t *Tracer) { t.codec = c }
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracer) { t.clock = clock }
}

// WithTruncation makes message calls cut overlong text to fit instead of
// failing with packet.ErrTruncated.
func WithTruncation(enabled bool) Option {
	return func(t *Tracer) { t.truncate = enabled }
}

// New returns a tracer emitting packets for pid into sink, with mask enabled.
func New(sink Sink, pid int16, mask tags.Mask, opts ...Option) *Tracer {
	t := &Tracer{
		sink:  sink,
		codec: packet.Default,
		pid:   pid,
		clock: time.Now,
	}
	t.mask.Store(uint32(mask))
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tags returns the currently enabled mask.
func (t *Tracer) Tags() tags.Mask {
	return tags.Mask(t.mask.Load())
}

// Enabled reports whether any bit of tag is enabled.
func (t *Tracer) Enabled(tag tags.Mask) bool {
	return tag != tags.TagOff && t.Tags()&tag != 0
}

// SetTags replaces the enabled mask and records the change with a
// selected-tag packet carrying the new mask's names.
func (t *Tracer) SetTags(mask tags.Mask) error {
	old := tags.Mask(t.mask.Swap(uint32(mask)))
	log.Debug().Str("old", old.String()).Str("new", mask.String()).Msg("Trace tags changed")

	p, err := t.codec.EncodeMessage(t.now(), t.pid, types.EventSelectedTag, packet.TruncateMessage(mask.String()))
	if err != nil {
		return err
	}
	return t.emit(p)
}

// Start records the beginning of a traced section.
func (t *Tracer) Start(tag tags.Mask, text string) error {
	return t.message(tag, types.EventStart, text)
}

// Finish records the end of a traced section.
func (t *Tracer) Finish(tag tags.Mask, text string) error {
	return t.message(tag, types.EventFinish, text)
}

// Info records free-form information.
func (t *Tracer) Info(tag tags.Mask, text string) error {
	return t.message(tag, types.EventInfo, text)
}

// Print records a print marker.
func (t *Tracer) Print(tag tags.Mask, text string) error {
	return t.message(tag, types.EventPrint, text)
}

// Message records text under any non-scheduler marker.
func (t *Tracer) Message(tag tags.Mask, ev types.EventType, text string) error {
	return t.message(tag, ev, text)
}

// Code records a unique code.
func (t *Tracer) Code(tag tags.Mask, ev types.EventType, code int) error {
	if !t.Enabled(tag) {
		return nil
	}
	p, err := t.codec.EncodeCode(t.now(), t.pid, ev, code)
	if err != nil {
		return err
	}
	return t.emit(p)
}

// Switch records a context switch. Switches belong to the task tag.
func (t *Tracer) Switch(ev types.EventType, prev packet.PrevTask, next packet.NextTask) error {
	if !t.Enabled(tags.TagTask) {
		return nil
	}
	p, err := t.codec.EncodeSchedulerSwitch(t.now(), prev.PID, ev, prev, next)
	if err != nil {
		return err
	}
	return t.emit(p)
}

func (t *Tracer) message(tag tags.Mask, ev types.EventType, text string) error {
	if !t.Enabled(tag) {
		return nil
	}
	if t.truncate {
		text = packet.TruncateMessage(text)
	}
	p, err := t.codec.EncodeMessage(t.now(), t.pid, ev, text)
	if err != nil {
		return err
	}
	return t.emit(p)
}

func (t *Tracer) now() packet.Timestamp {
	return packet.TimestampOf(t.clock())
}

func (t *Tracer) emit(p packet.Packet) error {
	if err := t.sink.Emit(p); err != nil {
		return fmt.Errorf("emitting packet: %w", err)
	}
	return nil
}

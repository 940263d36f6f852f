package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jnesss/ttrace/types"
)

// Kind identifies which arm of the payload union a packet carries.
type Kind int

const (
	KindMessage Kind = iota
	KindCode
	KindScheduler
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindCode:
		return "code"
	case KindScheduler:
		return "scheduler"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Payload is one of Message, Code or SchedulerSwitch.
type Payload interface {
	Kind() Kind
	isPayload()
}

// Message is a short text payload.
type Message struct {
	Text string `json:"text"`
}

// Code is a unique-code payload. The value lives in the header; the payload
// bytes are not part of the packet.
type Code struct {
	Value uint8 `json:"value"`
}

// SchedulerSwitch is a context switch record.
type SchedulerSwitch struct {
	Prev PrevTask `json:"prev"`
	Next NextTask `json:"next"`
}

func (Message) Kind() Kind { return KindMessage }
func (Code) Kind() Kind { return KindCode }
func (SchedulerSwitch) Kind() Kind { return KindScheduler }

func (Message) isPayload() {}
func (Code) isPayload() {}
func (SchedulerSwitch) isPayload() {}

// Decoded is the structured form of a packet.
type Decoded struct {
	Timestamp Timestamp       `json:"timestamp"`
	PID       int16           `json:"pid"`
	EventType types.EventType `json:"eventType"`
	Payload   Payload         `json:"payload"`
}

// wireHeader mirrors the first 12 bytes of every packet.
type wireHeader struct {
	Sec       int32
	Usec      int32
	PID       int16
	EventType byte
	CodeLen   uint8
}

// wireSched mirrors the 32 byte scheduler record.
type wireSched struct {
	PrevPID   int16
	PrevPrio  uint8
	PrevState uint8
	PrevComm  [CommLen]byte
	NextPID   int16
	NextPrio  uint8
	Pad       int8
	NextComm  [CommLen]byte
}

// cString returns b up to its first NUL byte.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// ConsumedLength reports how many stream bytes the packet at the start of
// raw occupies. Only the header needs to be present.
func (c Codec) ConsumedLength(raw []byte) (int, error) {
	if len(raw) < c.Layout.HeaderSize() {
		return 0, fmt.Errorf("%w: have %d bytes, header needs %d", ErrTooShort, len(raw), c.Layout.HeaderSize())
	}
	return consumedLength(c.Layout, types.EventType(raw[offEvent]), raw[offCodeLen]), nil
}

// Decode parses a full fixed size packet. Scheduler markers are checked
// before the unique-code flag.
func (c Codec) Decode(raw []byte) (*Decoded, error) {
	if len(raw) < c.Layout.Size() {
		return nil, fmt.Errorf("%w: have %d bytes, packet needs %d", ErrTooShort, len(raw), c.Layout.Size())
	}

	var hdr wireHeader
	if err := binary.Read(bytes.NewReader(raw[:offPad]), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("reading packet header: %w", err)
	}

	d := &Decoded{
		Timestamp: Timestamp{Sec: hdr.Sec, Usec: hdr.Usec},
		PID:       hdr.PID,
		EventType: types.EventType(hdr.EventType),
	}
	payload := raw[c.Layout.HeaderSize():c.Layout.Size()]

	switch {
	case d.EventType.IsScheduler():
		var rec wireSched
		if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("reading scheduler record: %w", err)
		}
		d.Payload = SchedulerSwitch{
			Prev: PrevTask{
				PID:      rec.PrevPID,
				Priority: rec.PrevPrio,
				State:    rec.PrevState,
				Name:     cString(rec.PrevComm[:]),
			},
			Next: NextTask{
				PID:      rec.NextPID,
				Priority: rec.NextPrio,
				Name:     cString(rec.NextComm[:]),
			},
		}
	case hdr.CodeLen&codeUnique != 0:
		d.Payload = Code{Value: hdr.CodeLen & lengthMask}
	default:
		n := int(hdr.CodeLen & lengthMask)
		if n > PayloadSize {
			n = PayloadSize
		}
		// The length byte is authoritative; text may carry NUL bytes.
		d.Payload = Message{Text: string(payload[:n])}
	}
	return d, nil
}

// Decode parses a packed layout packet.
func Decode(raw []byte) (*Decoded, error) {
	return Default.Decode(raw)
}

// ConsumedLength uses the packed layout.
func ConsumedLength(raw []byte) (int, error) {
	return Default.ConsumedLength(raw)
}

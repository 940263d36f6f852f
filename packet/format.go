package packet

import (
	"fmt"
	"io"
)

// String renders the packet on one line. Scheduler packets list both tasks
// under a [sec:usec] stamp; other packets show their text or unique code
// under [sec.usec].
func (d *Decoded) String() string {
	prefix := fmt.Sprintf("[%06d.%06d] %03d: %c|", d.Timestamp.Sec, d.Timestamp.Usec, d.PID, byte(d.EventType))

	switch p := d.Payload.(type) {
	case SchedulerSwitch:
		// Scheduler lines separate seconds and microseconds with a colon.
		prefix = fmt.Sprintf("[%06d:%06d] %03d: %c|", d.Timestamp.Sec, d.Timestamp.Usec, d.PID, byte(d.EventType))
		return prefix + fmt.Sprintf("prev_comm=%s prev_pid=%d prev_prio=%d prev_state=%d ==> next_comm=%s next_pid=%d next_prio=%d",
			p.Prev.Name, p.Prev.PID, p.Prev.Priority, p.Prev.State,
			p.Next.Name, p.Next.PID, p.Next.Priority)
	case Code:
		return prefix + fmt.Sprintf("uid=%d", p.Value)
	case Message:
		return prefix + p.Text
	default:
		return prefix
	}
}

// WriteDetail prints every header field on its own line, the way a debug
// dump of a single packet reads.
func (d *Decoded) WriteDetail(w io.Writer, codec Codec) error {
	var codeLen byte
	unique := 0
	switch p := d.Payload.(type) {
	case Code:
		codeLen = codeUnique | p.Value
		unique = 1
	case Message:
		codeLen = byte(len(p.Text))
	}

	lines := []string{
		fmt.Sprintf("time: %06d.%06d", d.Timestamp.Sec, d.Timestamp.Usec),
		fmt.Sprintf("event_type: %c, %d (%s)", byte(d.EventType), byte(d.EventType), d.EventType.Name()),
		fmt.Sprintf("pid: %d", d.PID),
		fmt.Sprintf("codelen: %d", codeLen),
		fmt.Sprintf("unique code? %d", unique),
	}

	switch p := d.Payload.(type) {
	case Code:
		lines = append(lines, fmt.Sprintf("uid: %d", p.Value))
	case Message:
		lines = append(lines, fmt.Sprintf("message: %s", p.Text))
	case SchedulerSwitch:
		lines = append(lines,
			fmt.Sprintf("prev: comm=%s pid=%d prio=%d state=%d", p.Prev.Name, p.Prev.PID, p.Prev.Priority, p.Prev.State),
			fmt.Sprintf("next: comm=%s pid=%d prio=%d", p.Next.Name, p.Next.PID, p.Next.Priority))
	}
	lines = append(lines, fmt.Sprintf("consumed: %d", d.consumed(codec)))

	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoded) consumed(codec Codec) int {
	if d.Payload != nil && d.Payload.Kind() == KindCode {
		return codec.Layout.Size() - PayloadSize
	}
	return codec.Layout.Size()
}

// Encode rebuilds the packet d was decoded from.
func (c Codec) Encode(d *Decoded) (Packet, error) {
	switch p := d.Payload.(type) {
	case Message:
		return c.EncodeMessage(d.Timestamp, d.PID, d.EventType, p.Text)
	case Code:
		return c.EncodeCode(d.Timestamp, d.PID, d.EventType, int(p.Value))
	case SchedulerSwitch:
		return c.EncodeSchedulerSwitch(d.Timestamp, d.PID, d.EventType, p.Prev, p.Next)
	default:
		return Packet{}, fmt.Errorf("%w: no payload", ErrInvalidEventType)
	}
}

package types

import "fmt"

// EventType is the one-byte marker stored in every trace packet.
type EventType byte

// Event type constants
const (
	EventStart       EventType = 's' // Start of a traced section
	EventFinish      EventType = 'f' // Finish of a traced section
	EventInfo        EventType = 'i' // Free-form information
	EventSelectedTag EventType = 't' // Enabled tag mask changed
	EventFuncTag     EventType = 'g' // Function tag marker
	EventUsedBufSize EventType = 'u' // Used buffer size report
	EventBuffer      EventType = 'b' // Buffer marker (same byte as EventSchedBegin)
	EventDump        EventType = 'd' // Dump marker
	EventPrint       EventType = 'p' // Print marker

	EventSchedBegin EventType = 'b' // Context switch, next task begins
	EventSchedEnd   EventType = 'e' // Context switch, previous task ends
)

// IsScheduler reports whether packets carrying this marker hold a scheduler
// switch record instead of a message or code.
func (e EventType) IsScheduler() bool {
	return e == EventSchedBegin || e == EventSchedEnd
}

// Name returns a short human readable name for the marker.
func (e EventType) Name() string {
	switch e {
	case EventStart:
		return "start"
	case EventFinish:
		return "finish"
	case EventInfo:
		return "info"
	case EventSelectedTag:
		return "selected-tag"
	case EventFuncTag:
		return "func-tag"
	case EventUsedBufSize:
		return "used-bufsize"
	case EventSchedBegin:
		return "sched-begin"
	case EventSchedEnd:
		return "sched-end"
	case EventDump:
		return "dump"
	case EventPrint:
		return "print"
	default:
		return fmt.Sprintf("unknown(%d)", byte(e))
	}
}

func (e EventType) String() string {
	return string(rune(e))
}

// ParseEventType accepts either the single marker character or its name.
func ParseEventType(s string) (EventType, error) {
	if len(s) == 1 {
		e := EventType(s[0])
		if e.Known() {
			return e, nil
		}
	}
	for _, e := range []EventType{
		EventStart, EventFinish, EventInfo, EventSelectedTag, EventFuncTag,
		EventUsedBufSize, EventSchedBegin, EventSchedEnd, EventDump, EventPrint,
	} {
		if e.Name() == s {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// Known reports whether e is one of the defined markers.
func (e EventType) Known() bool {
	switch e {
	case EventStart, EventFinish, EventInfo, EventSelectedTag, EventFuncTag,
		EventUsedBufSize, EventSchedBegin, EventSchedEnd, EventDump, EventPrint:
		return true
	}
	return false
}

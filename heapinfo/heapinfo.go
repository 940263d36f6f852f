// Package heapinfo reports per-task heap usage from a live task table.
//
// The reporter walks the table without any isolation: tasks created or
// destroyed during a walk may or may not appear, and counters may change
// between rows. A report is a best-effort view, not an atomic snapshot.
package heapinfo

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrInvalidArgument is returned for a malformed mode argument, such as
	// a pid that is not a non-negative number.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownMode is returned when a Mode has an unrecognized kind.
	ErrUnknownMode = errors.New("unknown heapinfo mode")
)

// Task is the per-task state the reporter reads. ClearPeak writes PeakHeap.
type Task struct {
	PID       int    `json:"pid"`
	PPID      int    `json:"ppid"`
	StackSize int    `json:"stackSize"`
	CurrHeap  int64  `json:"currHeap"`
	PeakHeap  int64  `json:"peakHeap"`
	Name      string `json:"name"`
}

// TaskTable walks the live tasks. The visitor may modify the task's peak
// counter.
type TaskTable interface {
	ForEachTask(visit func(*Task))
}

// Stats is the heap summary gathered for a report.
type Stats struct {
	TotalSize   int64 `json:"totalSize"`
	AllocSize   int64 `json:"allocSize"`
	PeakAlloc   int64 `json:"peakAlloc"`
	FreeSize    int64 `json:"freeSize"`
	LargestFree int64 `json:"largestFree"`
	FreeNodes   int   `json:"freeNodes"`
	AllocNodes  int   `json:"allocNodes"`
}

// HeapAccessor gathers allocator statistics at the granularity a mode asks
// for.
type HeapAccessor interface {
	CurrentHeapInfo(mode Mode) (Stats, error)
}

// ModeKind selects what a report shows.
type ModeKind int

const (
	// ModeSimple lists every task without detail; it is what the command
	// does when no option is given.
	ModeSimple ModeKind = iota
	ModeClearPeak
	ModeShowAll
	ModeShowPID
	ModeShowFreeList
)

func (k ModeKind) String() string {
	switch k {
	case ModeSimple:
		return "simple"
	case ModeClearPeak:
		return "clear"
	case ModeShowAll:
		return "all"
	case ModeShowPID:
		return "pid"
	case ModeShowFreeList:
		return "free"
	default:
		return fmt.Sprintf("mode(%d)", int(k))
	}
}

// Mode is a report selector. PID is only meaningful for ModeShowPID.
type Mode struct {
	Kind ModeKind `json:"kind"`
	PID  int      `json:"pid,omitempty"`
}

func Simple() Mode { return Mode{Kind: ModeSimple} }
func ClearPeak() Mode { return Mode{Kind: ModeClearPeak} }
func ShowAll() Mode { return Mode{Kind: ModeShowAll} }
func ShowOnePid(pid int) Mode { return Mode{Kind: ModeShowPID, PID: pid} }
func ShowFreeList() Mode { return Mode{Kind: ModeShowFreeList} }

// Validate checks the mode kind and its pid argument.
func (m Mode) Validate() error {
	switch m.Kind {
	case ModeSimple, ModeClearPeak, ModeShowAll, ModeShowFreeList:
		return nil
	case ModeShowPID:
		if m.PID < 0 {
			return fmt.Errorf("%w: pid %d", ErrInvalidArgument, m.PID)
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMode, int(m.Kind))
	}
}

// ParsePID parses a pid argument.
func ParsePID(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil || pid < 0 {
		return 0, fmt.Errorf("%w: pid %q", ErrInvalidArgument, s)
	}
	return pid, nil
}

// ParseMode converts a mode name ("all", "pid", "free", "clear", "simple")
// and an optional pid string into a Mode.
func ParseMode(name, pid string) (Mode, error) {
	switch name {
	case "", "simple":
		return Simple(), nil
	case "clear":
		return ClearPeak(), nil
	case "all":
		return ShowAll(), nil
	case "free":
		return ShowFreeList(), nil
	case "pid":
		n, err := ParsePID(pid)
		if err != nil {
			return Mode{}, err
		}
		return ShowOnePid(n), nil
	default:
		return Mode{}, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

// Config holds the reporter's policies.
type Config struct {
	// IdleStackSize replaces the stack size reported for pid 0.
	IdleStackSize int
	// ShowParent adds the PPID column.
	ShowParent bool
}

package heapinfo

import (
	"fmt"
)

// Row is one line of a heap report.
type Row struct {
	PID       int    `json:"pid"`
	PPID      int    `json:"ppid"`
	StackSize int    `json:"stackSize"`
	CurrHeap  int64  `json:"currHeap"`
	PeakHeap  int64  `json:"peakHeap"`
	Name      string `json:"name"`
}

// FreeListRow summarizes the allocator's free list.
type FreeListRow struct {
	Nodes   int   `json:"nodes"`
	Size    int64 `json:"size"`
	Largest int64 `json:"largest"`
}

// Report is the result of one Run.
type Report struct {
	Mode     Mode         `json:"mode"`
	Rows     []Row        `json:"rows,omitempty"`
	Cleared  []int        `json:"cleared,omitempty"`
	FreeList *FreeListRow `json:"freeList,omitempty"`
	Stats    *Stats       `json:"stats,omitempty"`
}

// Reporter produces heap reports from a task table and a heap accessor.
type Reporter struct {
	tasks TaskTable
	heap  HeapAccessor
	cfg   Config
}

// NewReporter creates a reporter.
func NewReporter(tasks TaskTable, heap HeapAccessor, cfg Config) *Reporter {
	return &Reporter{tasks: tasks, heap: heap, cfg: cfg}
}

// Config returns the reporter's configuration.
func (r *Reporter) Config() Config {
	return r.cfg
}

// Run executes one report. An empty task table yields an empty report, and
// so does ShowOnePid for a pid that is not running.
func (r *Reporter) Run(mode Mode) (*Report, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}

	report := &Report{Mode: mode}

	if mode.Kind == ModeClearPeak {
		r.tasks.ForEachTask(func(t *Task) {
			t.PeakHeap = 0
			report.Cleared = append(report.Cleared, t.PID)
		})
		return report, nil
	}

	stats, err := r.heap.CurrentHeapInfo(mode)
	if err != nil {
		return nil, fmt.Errorf("reading heap info for %s: %w", mode.Kind, err)
	}
	report.Stats = &stats

	if mode.Kind == ModeShowFreeList {
		report.FreeList = &FreeListRow{
			Nodes:   stats.FreeNodes,
			Size:    stats.FreeSize,
			Largest: stats.LargestFree,
		}
		return report, nil
	}

	r.tasks.ForEachTask(func(t *Task) {
		if mode.Kind == ModeShowPID && t.PID != mode.PID {
			return
		}
		report.Rows = append(report.Rows, r.row(t))
	})
	return report, nil
}

func (r *Reporter) row(t *Task) Row {
	row := Row{
		PID:       t.PID,
		PPID:      t.PPID,
		StackSize: t.StackSize,
		CurrHeap:  t.CurrHeap,
		PeakHeap:  t.PeakHeap,
		Name:      t.Name,
	}
	// The idle task's recorded stack size is not meaningful.
	if t.PID == 0 {
		row.StackSize = r.cfg.IdleStackSize
	}
	return row
}

package process

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jnesss/ttrace/heapinfo"
)

// ErrUnknownTask is returned when an operation names a pid that is not in
// the table.
var ErrUnknownTask = errors.New("unknown task")

// TaskTable is a thread-safe table of tasks and their heap counters. It
// satisfies both collaborator interfaces the heap reporter needs.
type TaskTable struct {
	tasks map[int]*heapinfo.Task
	mu    sync.RWMutex

	heapSize int64
	freeSize int64 // negative means derive from heapSize
}

// NewTaskTable creates a table managing a heap of heapSize bytes.
func NewTaskTable(heapSize int64) *TaskTable {
	return &TaskTable{
		tasks:    make(map[int]*heapinfo.Task),
		heapSize: heapSize,
		freeSize: -1,
	}
}

// Add adds or replaces a task. The table keeps its own copy.
func (tt *TaskTable) Add(t heapinfo.Task) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if t.PeakHeap < t.CurrHeap {
		t.PeakHeap = t.CurrHeap
	}
	tt.tasks[t.PID] = &t
}

// Get returns a copy of the task with the given pid.
func (tt *TaskTable) Get(pid int) (heapinfo.Task, bool) {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	t, exists := tt.tasks[pid]
	if !exists {
		return heapinfo.Task{}, false
	}
	return *t, true
}

// Remove removes a task from the table
func (tt *TaskTable) Remove(pid int) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	delete(tt.tasks, pid)
}

// List returns copies of all tasks in pid order.
func (tt *TaskTable) List() []heapinfo.Task {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	out := make([]heapinfo.Task, 0, len(tt.tasks))
	for _, t := range tt.sortedLocked() {
		out = append(out, *t)
	}
	return out
}

// Len returns the number of tasks.
func (tt *TaskTable) Len() int {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return len(tt.tasks)
}

// Allocate charges n bytes to pid and raises its peak if needed.
func (tt *TaskTable) Allocate(pid int, n int64) error {
	if n < 0 {
		return fmt.Errorf("negative allocation %d", n)
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()
	t, exists := tt.tasks[pid]
	if !exists {
		return fmt.Errorf("%w: %d", ErrUnknownTask, pid)
	}
	t.CurrHeap += n
	if t.CurrHeap > t.PeakHeap {
		t.PeakHeap = t.CurrHeap
	}
	return nil
}

// Free releases n bytes from pid. The current counter never goes negative.
func (tt *TaskTable) Free(pid int, n int64) error {
	if n < 0 {
		return fmt.Errorf("negative free %d", n)
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()
	t, exists := tt.tasks[pid]
	if !exists {
		return fmt.Errorf("%w: %d", ErrUnknownTask, pid)
	}
	t.CurrHeap -= n
	if t.CurrHeap < 0 {
		t.CurrHeap = 0
	}
	return nil
}

// SetHeapLimits records the heap size and, when free is not negative, an
// externally measured free size.
func (tt *TaskTable) SetHeapLimits(total, free int64) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.heapSize = total
	tt.freeSize = free
}

// Peaks returns every task's peak counter.
func (tt *TaskTable) Peaks() map[int]int64 {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	out := make(map[int]int64, len(tt.tasks))
	for pid, t := range tt.tasks {
		out[pid] = t.PeakHeap
	}
	return out
}

// ForEachTask visits tasks in pid order. The table is locked for the whole
// walk so visitors may update counters in place; they must not call back
// into the table.
func (tt *TaskTable) ForEachTask(visit func(*heapinfo.Task)) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	for _, t := range tt.sortedLocked() {
		visit(t)
	}
}

// CurrentHeapInfo summarizes the heap. ShowPID modes count only that task's
// allocation. PeakAlloc is the sum of the counted tasks' peaks.
func (tt *TaskTable) CurrentHeapInfo(mode heapinfo.Mode) (heapinfo.Stats, error) {
	if err := mode.Validate(); err != nil {
		return heapinfo.Stats{}, err
	}

	tt.mu.RLock()
	defer tt.mu.RUnlock()

	var total int64
	stats := heapinfo.Stats{TotalSize: tt.heapSize}
	for _, t := range tt.tasks {
		total += t.CurrHeap
		if mode.Kind == heapinfo.ModeShowPID && t.PID != mode.PID {
			continue
		}
		stats.AllocSize += t.CurrHeap
		stats.PeakAlloc += t.PeakHeap
		if t.CurrHeap > 0 {
			stats.AllocNodes++
		}
	}

	free := tt.freeSize
	if free < 0 {
		free = tt.heapSize - total
		if free < 0 {
			free = 0
		}
	}
	stats.FreeSize = free
	// The table models the free space as one region.
	stats.LargestFree = free
	if free > 0 {
		stats.FreeNodes = 1
	}
	return stats, nil
}

func (tt *TaskTable) sortedLocked() []*heapinfo.Task {
	out := make([]*heapinfo.Task, 0, len(tt.tasks))
	for _, t := range tt.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

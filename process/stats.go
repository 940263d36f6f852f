package process

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/mem"
	ps "github.com/shirou/gopsutil/process"

	"github.com/jnesss/ttrace/heapinfo"
)

// HostSampler periodically refreshes a TaskTable from the host's process
// list. Resident memory stands in for a task's heap and the stack segment
// size for its stack.
type HostSampler struct {
	table    *TaskTable
	storage  PeakStorage
	interval time.Duration

	listTasks  func() ([]heapinfo.Task, error)
	readMemory func() (total, free int64, err error)
	loaded     bool
}

// NewHostSampler creates a sampler. storage may be nil, in which case peaks
// only live as long as the table.
func NewHostSampler(table *TaskTable, storage PeakStorage, interval time.Duration) *HostSampler {
	return &HostSampler{
		table:      table,
		storage:    storage,
		interval:   interval,
		listTasks:  hostTasks,
		readMemory: hostMemory,
	}
}

// Start samples immediately and then on every tick until ctx is done.
func (s *HostSampler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("Starting host task sampling")

	if err := s.Sample(); err != nil {
		log.Error().Err(err).Msg("Error sampling host tasks")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sample(); err != nil {
				log.Error().Err(err).Msg("Error sampling host tasks")
				continue
			}
			if err := s.Persist(); err != nil {
				log.Error().Err(err).Msg("Error saving peak counters")
			}
		}
	}
}

// Sample replaces the table contents with the current host tasks. Peaks
// carry over from the table, and on the first sample from storage.
func (s *HostSampler) Sample() error {
	tasks, err := s.listTasks()
	if err != nil {
		return fmt.Errorf("listing host tasks: %w", err)
	}

	peaks := s.table.Peaks()
	if !s.loaded && s.storage != nil {
		stored, err := s.storage.LoadPeaks()
		if err != nil {
			return fmt.Errorf("loading peak counters: %w", err)
		}
		for pid, peak := range stored {
			if peak > peaks[pid] {
				peaks[pid] = peak
			}
		}
		s.loaded = true
	}

	seen := make(map[int]bool, len(tasks))
	for _, t := range tasks {
		if peak := peaks[t.PID]; peak > t.PeakHeap {
			t.PeakHeap = peak
		}
		s.table.Add(t)
		seen[t.PID] = true
	}
	for _, t := range s.table.List() {
		if !seen[t.PID] {
			s.table.Remove(t.PID)
		}
	}

	total, free, err := s.readMemory()
	if err != nil {
		log.Warn().Err(err).Msg("Could not read host memory")
		return nil
	}
	s.table.SetHeapLimits(total, free)

	log.Debug().Int("tasks", len(tasks)).Msg("Sampled host tasks")
	return nil
}

// Persist saves the table's peak counters.
func (s *HostSampler) Persist() error {
	if s.storage == nil {
		return nil
	}
	return s.storage.SavePeaks(s.table.Peaks())
}

func hostTasks() ([]heapinfo.Task, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, err
	}

	tasks := make([]heapinfo.Task, 0, len(procs))
	for _, p := range procs {
		t := heapinfo.Task{PID: int(p.Pid)}

		// Processes can exit while we walk the list; keep what we got.
		if name, err := p.Name(); err == nil {
			t.Name = name
		}
		if ppid, err := p.Ppid(); err == nil {
			t.PPID = int(ppid)
		}
		if mi, err := p.MemoryInfo(); err == nil && mi != nil {
			t.CurrHeap = int64(mi.RSS)
			t.StackSize = int(mi.Stack)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func hostMemory() (int64, int64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return int64(vm.Total), int64(vm.Available), nil
}

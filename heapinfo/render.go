package heapinfo

import (
	"bufio"
	"fmt"
	"io"
)

// Render writes report as the fixed width table the heapinfo command prints.
func Render(w io.Writer, report *Report, cfg Config) error {
	bw := bufio.NewWriter(w)

	switch report.Mode.Kind {
	case ModeClearPeak:
		for _, pid := range report.Cleared {
			fmt.Fprintf(bw, "PID %d, peak allocated heap information is cleared\n", pid)
		}
		fmt.Fprintln(bw, "Peak allocated memory size is cleared")
		return bw.Flush()

	case ModeShowFreeList:
		fmt.Fprintf(bw, "\n%10s | %9s | %9s\n", "FREE_NODES", "FREE_SIZE", "LARGEST")
		fmt.Fprintln(bw, "-----------|-----------|-----------")
		if fl := report.FreeList; fl != nil {
			fmt.Fprintf(bw, "%10d | %9d | %9d\n", fl.Nodes, fl.Size, fl.Largest)
		}
		return bw.Flush()

	case ModeShowAll, ModeShowPID:
		if s := report.Stats; s != nil {
			fmt.Fprintf(bw, "\n%-12s: %d\n", "Heap size", s.TotalSize)
			fmt.Fprintf(bw, "%-12s: %d (peak %d, %d nodes)\n", "Allocated", s.AllocSize, s.PeakAlloc, s.AllocNodes)
			fmt.Fprintf(bw, "%-12s: %d (largest %d, %d nodes)\n", "Free", s.FreeSize, s.LargestFree, s.FreeNodes)
		}
	}

	fmt.Fprintf(bw, "\n%3s | ", "PID")
	if cfg.ShowParent {
		fmt.Fprintf(bw, "%5s | ", "PPID")
	}
	fmt.Fprintf(bw, "%5s | %9s | %9s | %s\n", "STACK", "CURR_HEAP", "PEAK_HEAP", "NAME")

	fmt.Fprint(bw, "----|")
	if cfg.ShowParent {
		fmt.Fprint(bw, "-------|")
	}
	fmt.Fprintln(bw, "-------|-----------|-----------|----------")

	for _, row := range report.Rows {
		fmt.Fprintf(bw, "%3d | ", row.PID)
		if cfg.ShowParent {
			fmt.Fprintf(bw, "%5d | ", row.PPID)
		}
		name := row.Name
		if name == "" {
			name = "<noname>"
		}
		fmt.Fprintf(bw, "%5d | %9d | %9d | %s\n", row.StackSize, row.CurrHeap, row.PeakHeap, name)
	}
	return bw.Flush()
}

// RenderUsage writes the heapinfo command's usage text.
func RenderUsage(w io.Writer) error {
	_, err := io.WriteString(w, `
Usage: heapinfo [OPTIONS]
Display information of heap memory

Options:
 -i           Initialize the heapinfo
 -a           Show the all allocation details
 -p PID       Show the specific PID allocation details
 -f           Show the free list
`)
	return err
}

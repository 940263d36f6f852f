package heapinfo

import (
	"fmt"
	"io"
	"time"

	"github.com/google/pprof/profile"
)

// BuildProfile converts the rows of a report into a pprof profile with one
// sample per task. Each task becomes a single-frame location named after the
// task so `pprof -top` lists tasks by heap usage.
func BuildProfile(report *Report, now time.Time) (*profile.Profile, error) {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "curr_heap", Unit: "bytes"},
			{Type: "peak_heap", Unit: "bytes"},
		},
		PeriodType:        &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:            1,
		TimeNanos:         now.UnixNano(),
		DefaultSampleType: "curr_heap",
	}

	for i, row := range report.Rows {
		id := uint64(i + 1)
		name := row.Name
		if name == "" {
			name = fmt.Sprintf("pid %d", row.PID)
		}

		fn := &profile.Function{ID: id, Name: name, SystemName: name}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{row.CurrHeap, row.PeakHeap},
			Label:    map[string][]string{"name": {row.Name}},
			NumLabel: map[string][]int64{
				"pid":   {int64(row.PID)},
				"ppid":  {int64(row.PPID)},
				"stack": {int64(row.StackSize)},
			},
		})
	}

	if err := p.CheckValid(); err != nil {
		return nil, fmt.Errorf("building heap profile: %w", err)
	}
	return p, nil
}

// WriteProfile writes report as a gzipped pprof profile.
func WriteProfile(w io.Writer, report *Report) error {
	p, err := BuildProfile(report, time.Now())
	if err != nil {
		return err
	}
	return p.Write(w)
}

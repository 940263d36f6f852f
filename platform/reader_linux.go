//go:build linux

package platform

import (
	"errors"
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/rs/zerolog/log"
)

// ringbufReader adapts ringbuf.Reader to the Reader interface.
type ringbufReader struct {
	m *ebpf.Map
	*ringbuf.Reader
}

func (r *ringbufReader) Read() (Record, error) {
	record, err := r.Reader.Read()
	if err != nil {
		if errors.Is(err, ringbuf.ErrClosed) {
			return Record{}, ErrClosed
		}
		return Record{}, err
	}
	return Record{RawSample: record.RawSample}, nil
}

func (r *ringbufReader) Close() error {
	err := r.Reader.Close()
	r.m.Close()
	return err
}

// perfReader adapts perf.Reader to the Reader interface.
type perfReader struct {
	m *ebpf.Map
	*perf.Reader
}

func (r *perfReader) Read() (Record, error) {
	record, err := r.Reader.Read()
	if err != nil {
		if errors.Is(err, perf.ErrClosed) {
			return Record{}, ErrClosed
		}
		return Record{}, err
	}
	return Record{
		RawSample:   record.RawSample,
		LostSamples: record.LostSamples,
	}, nil
}

func (r *perfReader) Close() error {
	err := r.Reader.Close()
	r.m.Close()
	return err
}

// OpenReader opens the pinned map at cfg.PinPath. The map type decides
// whether it is read as a ring buffer or a perf event array.
func OpenReader(cfg ReaderConfig) (Reader, error) {
	// Remove resource limits
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("failed to remove memlock: %w", err)
	}

	m, err := ebpf.LoadPinnedMap(cfg.PinPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load pinned map %s: %w", cfg.PinPath, err)
	}

	switch m.Type() {
	case ebpf.RingBuf:
		reader, err := ringbuf.NewReader(m)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to create ringbuf reader: %w", err)
		}
		log.Info().Str("map", cfg.PinPath).Msg("Reading packets from ring buffer")
		return &ringbufReader{m: m, Reader: reader}, nil

	case ebpf.PerfEventArray:
		size := cfg.PerCPUBuffer
		if size <= 0 {
			size = os.Getpagesize() * 8
		}
		reader, err := perf.NewReader(m, size)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to create perf reader: %w", err)
		}
		log.Info().Str("map", cfg.PinPath).Int("perCPUBuffer", size).Msg("Reading packets from perf buffer")
		return &perfReader{m: m, Reader: reader}, nil

	default:
		m.Close()
		return nil, fmt.Errorf("map %s has type %s: %w", cfg.PinPath, m.Type(), ErrUnsupported)
	}
}

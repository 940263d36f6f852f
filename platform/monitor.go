package platform

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/jnesss/ttrace/packet"
)

// PacketStore receives every decoded packet together with its stream frame.
// database.PacketBatch implements it.
type PacketStore interface {
	Add(d *packet.Decoded, frame []byte) error
	Flush() error
}

// NameObserver learns task names from decoded packets.
type NameObserver interface {
	Observe(d *packet.Decoded)
}

// MonitorConfig holds configuration for creating a new monitor
type MonitorConfig struct {
	Reader Reader
	Codec  packet.Codec
	Store  PacketStore
	// Names is optional
	Names NameObserver
	// Printer, when set, receives one line per decoded packet
	Printer io.Writer
}

// Monitor pulls records from a Reader, splits them into packets and hands
// them to the store.
type Monitor struct {
	cfg MonitorConfig

	packets atomic.Int64
	lost    atomic.Uint64
	broken  atomic.Int64
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	return &Monitor{cfg: cfg}
}

// Run reads until the reader is exhausted or ctx is cancelled. The store is
// flushed before returning.
func (m *Monitor) Run(ctx context.Context) error {
	records := make(chan Record, 64)
	readErr := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(records)
		for {
			record, err := m.cfg.Reader.Read()
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) {
					readErr <- nil
				} else {
					readErr <- err
				}
				return
			}
			select {
			case records <- record:
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
	}()

	// Closing the reader unblocks a pending Read.
	stop := context.AfterFunc(ctx, func() {
		m.cfg.Reader.Close()
	})
	defer stop()

	log.Info().Str("layout", m.cfg.Codec.Layout.String()).Msg("Starting packet monitoring")

	for record := range records {
		m.handleRecord(record)
	}
	wg.Wait()

	err := <-readErr
	if flushErr := m.cfg.Store.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}

	log.Info().
		Int64("packets", m.packets.Load()).
		Uint64("lost", m.lost.Load()).
		Int64("broken", m.broken.Load()).
		Msg("Packet monitoring stopped")
	return err
}

func (m *Monitor) handleRecord(record Record) {
	if record.LostSamples != 0 {
		m.lost.Add(record.LostSamples)
		log.Warn().Uint64("lost", record.LostSamples).Msg("Lost samples")
		return
	}

	scanner := packet.NewScanner(bytes.NewReader(record.RawSample), m.cfg.Codec)
	for scanner.Scan() {
		d := scanner.Packet()
		m.packets.Add(1)

		if m.cfg.Names != nil {
			m.cfg.Names.Observe(d)
		}

		log.Debug().
			Int16("pid", d.PID).
			Str("event", d.EventType.String()).
			Str("kind", d.Payload.Kind().String()).
			Msg("Packet")

		if m.cfg.Printer != nil {
			io.WriteString(m.cfg.Printer, d.String()+"\n")
		}

		if err := m.cfg.Store.Add(d, scanner.Frame()); err != nil {
			log.Error().Err(err).Int16("pid", d.PID).Msg("Failed to store packet")
		}
	}
	if err := scanner.Err(); err != nil {
		m.broken.Add(1)
		log.Warn().Err(err).Int64("offset", scanner.Offset()).Msg("Dropping rest of record")
	}
}

// Packets returns the number of packets decoded so far.
func (m *Monitor) Packets() int64 {
	return m.packets.Load()
}

// Lost returns the number of samples the kernel reported as dropped.
func (m *Monitor) Lost() uint64 {
	return m.lost.Load()
}

package database

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tebeka/atexit"

	"github.com/jnesss/ttrace/packet"
	"github.com/jnesss/ttrace/tracer"
)

var _ tracer.Sink = (*PacketBatch)(nil)

type pendingPacket struct {
	decoded *packet.Decoded
	frame   []byte
}

// PacketBatch buffers packets of one recording session and writes them in a
// single transaction once the batch is full, on Flush, or at exit.
type PacketBatch struct {
	db        *DB
	codec     packet.Codec
	session   string
	batchSize int

	mu      sync.Mutex
	pending []pendingPacket
	written int64
}

// NewPacketBatch creates a batch for session and registers an exit hook
// that flushes whatever is still buffered.
func NewPacketBatch(db *DB, codec packet.Codec, session string, batchSize int) *PacketBatch {
	if batchSize <= 0 {
		batchSize = 1
	}
	b := &PacketBatch{
		db:        db,
		codec:     codec,
		session:   session,
		batchSize: batchSize,
	}

	atexit.Register(func() {
		if err := b.Flush(); err != nil {
			log.Error().Err(err).Str("session", session).Msg("Failed to flush packets at exit")
		}
	})

	return b
}

// Session returns the session id stamped on every row.
func (b *PacketBatch) Session() string {
	return b.session
}

// Add queues a decoded packet and its stream frame.
func (b *PacketBatch) Add(d *packet.Decoded, frame []byte) error {
	b.mu.Lock()
	b.pending = append(b.pending, pendingPacket{decoded: d, frame: append([]byte(nil), frame...)})
	full := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if full {
		return b.Flush()
	}
	return nil
}

// Emit queues an encoded packet. It lets a tracer write straight into the
// database.
func (b *PacketBatch) Emit(p packet.Packet) error {
	if p.Layout() != b.codec.Layout {
		return fmt.Errorf("packet layout %s does not match batch layout %s", p.Layout(), b.codec.Layout)
	}
	d, err := b.codec.Decode(p.Bytes())
	if err != nil {
		return err
	}
	return b.Add(d, p.Frame())
}

// Flush writes all the buffered packets to the database.
func (b *PacketBatch) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}

	tx, err := b.db.Db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range b.pending {
		if _, err := insertPacket(tx, b.session, p.decoded, p.frame); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit packets: %w", err)
	}

	log.Debug().Str("session", b.session).Int("packets", len(b.pending)).Msg("Flushed packet batch")
	b.written += int64(len(b.pending))
	b.pending = nil
	return nil
}

// Written returns the number of packets committed so far.
func (b *PacketBatch) Written() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

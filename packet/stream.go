package packet

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Writer appends packet frames to an underlying writer.
type Writer struct {
	w     io.Writer
	codec Codec
}

// NewWriter returns a Writer that only accepts packets in the codec's layout.
func NewWriter(w io.Writer, codec Codec) *Writer {
	return &Writer{w: w, codec: codec}
}

// Emit writes the packet's frame. Packets built with another layout are
// rejected, since the reader could not frame them.
func (w *Writer) Emit(p Packet) error {
	if p.Layout() != w.codec.Layout {
		return fmt.Errorf("packet layout %s does not match stream layout %s", p.Layout(), w.codec.Layout)
	}
	if _, err := w.w.Write(p.Frame()); err != nil {
		return fmt.Errorf("writing packet: %w", err)
	}
	return nil
}

// Scanner reads a packed stream one frame at a time. There is no
// resynchronization marker, so the first error ends the scan.
type Scanner struct {
	r      *bufio.Reader
	codec  Codec
	buf    []byte
	frame  []byte
	pkt    *Decoded
	offset int64
	err    error
}

// NewScanner returns a scanner over r.
func NewScanner(r io.Reader, codec Codec) *Scanner {
	return &Scanner{
		r:     bufio.NewReader(r),
		codec: codec,
		buf:   make([]byte, codec.Layout.Size()),
	}
}

// Scan advances to the next packet. It returns false at the end of the
// stream or on error; Err distinguishes the two.
func (s *Scanner) Scan() bool {
	if s.err != nil {
		return false
	}

	hdrSize := s.codec.Layout.HeaderSize()
	clear(s.buf)

	n, err := io.ReadFull(s.r, s.buf[:hdrSize])
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Clean end on a frame boundary.
			return false
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			s.err = fmt.Errorf("%w: partial header of %d bytes at offset %d", ErrTooShort, n, s.offset)
			return false
		}
		s.err = err
		return false
	}

	size, err := s.codec.ConsumedLength(s.buf[:hdrSize])
	if err != nil {
		s.err = err
		return false
	}
	if size > hdrSize {
		m, err := io.ReadFull(s.r, s.buf[hdrSize:size])
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.err = fmt.Errorf("%w: frame at offset %d needs %d bytes, have %d", ErrTooShort, s.offset, size, hdrSize+m)
			} else {
				s.err = err
			}
			return false
		}
	}

	// Unique-code frames omit the payload; buf still holds zeros there.
	d, err := s.codec.Decode(s.buf)
	if err != nil {
		s.err = fmt.Errorf("decoding frame at offset %d: %w", s.offset, err)
		return false
	}

	s.frame = s.buf[:size]
	s.pkt = d
	s.offset += int64(size)
	return true
}

// Packet returns the packet decoded by the last successful Scan.
func (s *Scanner) Packet() *Decoded {
	return s.pkt
}

// Frame returns the raw bytes of the last frame. The slice is reused by the
// next call to Scan.
func (s *Scanner) Frame() []byte {
	return s.frame
}

// Offset is the number of stream bytes consumed so far.
func (s *Scanner) Offset() int64 {
	return s.offset
}

// Err returns the first error that stopped the scan, or nil at a clean end.
func (s *Scanner) Err() error {
	return s.err
}

// Split decodes every frame in buf. Packets decoded before an error are
// returned along with it.
func (c Codec) Split(buf []byte) ([]*Decoded, error) {
	var out []*Decoded
	full := make([]byte, c.Layout.Size())

	for off := 0; off < len(buf); {
		size, err := c.ConsumedLength(buf[off:])
		if err != nil {
			return out, fmt.Errorf("frame at offset %d: %w", off, err)
		}
		if off+size > len(buf) {
			return out, fmt.Errorf("%w: frame at offset %d needs %d bytes, have %d", ErrTooShort, off, size, len(buf)-off)
		}

		clear(full)
		copy(full, buf[off:off+size])
		d, err := c.Decode(full)
		if err != nil {
			return out, fmt.Errorf("frame at offset %d: %w", off, err)
		}
		out = append(out, d)
		off += size
	}
	return out, nil
}

// Split decodes a packed layout stream.
func Split(buf []byte) ([]*Decoded, error) {
	return Default.Split(buf)
}

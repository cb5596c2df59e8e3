// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package miniflate is a from-scratch DEFLATE (RFC 1951) and zlib
// (RFC 1950) codec: an io.Writer/io.Reader facade (this file) over a
// resumable push-style core (internal/deflate,
// internal/inflate) in the spirit of zlib's own C API.
package miniflate

import (
	"errors"
	"fmt"
	"io"

	"github.com/elliotnunn/miniflate/internal/deflate"
	"github.com/elliotnunn/miniflate/internal/inflate"
	"github.com/elliotnunn/miniflate/internal/obuf"
)

// ioBufSize is the scratch buffer Writer and Reader stage compressed
// bytes through on their way to/from the underlying io.Writer/io.Reader.
const ioBufSize = 32 * 1024

// growChunk is how much Reader grows its accumulated-output buffer by
// once the decoder fills it; see Reader's doc comment for why a
// non-wrapping (ever-growing) buffer was chosen over a fixed ring here.
const growChunk = 64 * 1024

var (
	// ErrClosedWriter is returned by Write/Flush after Close.
	ErrClosedWriter = errors.New("miniflate: write to closed Writer")
	// ErrChecksum is returned by Reader.Read when the trailing Adler-32
	// does not match the decompressed data.
	ErrChecksum = errors.New("miniflate: Adler-32 checksum mismatch")
	// ErrCorrupt wraps any other decode-time failure from internal/inflate.
	ErrCorrupt = errors.New("miniflate: corrupt compressed stream")
)

// Writer is an io.WriteCloser that compresses into an underlying writer.
type Writer struct {
	dst    io.Writer
	state  *deflate.State
	buf    [ioBufSize]byte
	err    error
	closed bool
}

// NewWriter returns a Writer at the given 0..10 compression level,
// wrapping its output in a zlib header/trailer and computing the
// Adler-32 checksum.
func NewWriter(w io.Writer, level int) *Writer {
	return NewWriterFlags(w, level, deflate.WriteZlibHeader|deflate.ComputeAdler32)
}

// NewWriterFlags is NewWriter with the full deflate.Flags bitmask
// exposed, for raw (headerless) DEFLATE output or the matching-strategy
// overrides.
func NewWriterFlags(w io.Writer, level int, flags deflate.Flags) *Writer {
	return &Writer{dst: w, state: deflate.New(flags, level)}
}

// Write compresses p, writing the result to the underlying io.Writer
// before returning.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosedWriter
	}
	if w.err != nil {
		return 0, w.err
	}
	if err := w.step(p, deflate.FlushNone); err != nil {
		w.err = err
		return 0, err
	}
	return len(p), nil
}

// Flush forces a byte-aligned resync point (an empty stored block) so
// everything written so far is recoverable by a reader without waiting
// for Close, at the cost of a small compression ratio penalty.
func (w *Writer) Flush() error {
	if w.closed {
		return ErrClosedWriter
	}
	if w.err != nil {
		return w.err
	}
	if err := w.step(nil, deflate.FlushSync); err != nil {
		w.err = err
		return err
	}
	return nil
}

// Close flushes the final block (with the zlib Adler-32 trailer, if
// enabled) and marks the Writer unusable. It does not close the
// underlying io.Writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	return w.step(nil, deflate.FlushFinish)
}

// step drives one logical flush operation to completion: it issues
// flush once, then keeps calling with FlushNone to drain any output the
// scratch buffer couldn't hold in a single pass.
func (w *Writer) step(in []byte, flush deflate.Flush) error {
	status, _, outN := w.state.Deflate(in, w.buf[:], flush)
	if err := w.writeOut(status, outN); err != nil {
		return err
	}
	for w.state.Pending() {
		status, _, outN = w.state.Deflate(nil, w.buf[:], deflate.FlushNone)
		if err := w.writeOut(status, outN); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeOut(status deflate.Status, outN int) error {
	if status == deflate.StatusBadParam {
		return errors.New("miniflate: internal bad parameter")
	}
	if outN == 0 {
		return nil
	}
	_, err := w.dst.Write(w.buf[:outN])
	return err
}

// Reader is an io.ReadCloser that decompresses from an underlying
// reader. Framing (zlib vs raw) is detected from the first two bytes.
//
// It decodes into a single buffer that grows (in growChunk steps) for
// as long as the underlying decoder is still producing output faster
// than the caller drains it, rather than a fixed-size ring: internal/obuf's
// wrapping mode is reserved for streamio's seekable reader, where
// decoding always resumes from a nearby checkpoint and a bounded ring is
// exactly what's wanted. A plain sequential Reader has no such bound to
// exploit, so it favors the simpler non-wrapping accounting instead.
type Reader struct {
	src   io.Reader
	state *inflate.State
	out   *obuf.Buffer
	data  []byte
	delivered int

	inbuf        [ioBufSize]byte
	inLen, inPos int
	pending      []byte
	eof          bool
	done         bool
	err          error
}

// NewReader peeks the first two bytes of r to decide whether the stream
// carries a zlib header, then returns a Reader over the DEFLATE payload.
func NewReader(r io.Reader) (*Reader, error) {
	var probe [2]byte
	n, err := io.ReadFull(r, probe[:])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}

	zlibHeader := n == 2 && isZlibHeader(probe[0], probe[1])
	rd := &Reader{src: r, state: inflate.New(zlibHeader)}
	rd.data = make([]byte, growChunk)
	rd.out = obuf.New(rd.data)
	if n > 0 {
		// These bytes are either the zlib header (which the inflate state
		// parses and validates itself) or raw DEFLATE payload: feed them
		// back in as the first input rather than discarding them.
		rd.pending = append([]byte(nil), probe[:n]...)
	}
	return rd, nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (int(cmf)*256+int(flg))%31 == 0
}

// Read decompresses into p, returning io.EOF once the stream's final
// block (and, for zlib framing, a matching Adler-32 trailer) has been
// consumed and every decoded byte has been delivered.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		if r.delivered < r.out.Pos {
			n := copy(p, r.data[r.delivered:r.out.Pos])
			r.delivered += n
			return n, nil
		}
		if r.done {
			r.err = io.EOF
			return 0, io.EOF
		}

		if len(r.data)-r.out.Pos < 1024 {
			grown := make([]byte, len(r.data)+growChunk)
			copy(grown, r.data)
			r.data = grown
			r.out.Data = r.data
		}

		flush := inflate.HasMoreInput
		if r.eof {
			flush = inflate.NoMoreInput
		}
		status, inN, _ := r.state.Inflate(r.currentInput(), r.out, flush)
		r.advanceInput(inN)

		switch status {
		case inflate.StatusNeedsMoreInput:
			if err := r.fill(); err != nil {
				if err == io.EOF {
					r.eof = true
					continue
				}
				r.err = err
				return 0, err
			}
		case inflate.StatusHasMoreOutput:
			// loop: either deliver what's ready or grow and keep decoding
		case inflate.StatusDone:
			r.done = true
		case inflate.StatusAdler32Mismatch:
			r.err = ErrChecksum
			return 0, r.err
		default:
			r.err = fmt.Errorf("%w", ErrCorrupt)
			return 0, r.err
		}
	}
}

func (r *Reader) currentInput() []byte {
	if r.pending != nil {
		return r.pending[r.inPos:]
	}
	return r.inbuf[r.inPos:r.inLen]
}

func (r *Reader) advanceInput(n int) {
	r.inPos += n
	if r.pending != nil && r.inPos >= len(r.pending) {
		r.pending, r.inPos, r.inLen = nil, 0, 0
	}
}

func (r *Reader) fill() error {
	if r.pending != nil {
		return nil // still unconsumed bytes from the zlib-header probe
	}
	n, err := r.src.Read(r.inbuf[:])
	r.inPos, r.inLen = 0, n
	if n > 0 {
		return nil
	}
	if err == nil {
		err = io.EOF
	}
	return err
}

// Close releases the Reader; it does not close the underlying io.Reader.
func (r *Reader) Close() error {
	if r.err == nil {
		r.err = errors.New("miniflate: read from closed Reader")
	}
	return nil
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package deflate is the compress side's push-style driver: it wires
// internal/lzdict, internal/matchfinder, and internal/blockbuilder
// together behind the same kind of call-with-a-byte-slice,
// get-a-status-back API internal/inflate exposes for decompression.
package deflate

import (
	"encoding/binary"

	"github.com/elliotnunn/miniflate/adler32"
	"github.com/elliotnunn/miniflate/internal/bitio"
	"github.com/elliotnunn/miniflate/internal/blockbuilder"
	"github.com/elliotnunn/miniflate/internal/lzdict"
	"github.com/elliotnunn/miniflate/internal/matchfinder"
)

// Flags configures framing and matching behavior for a State.
type Flags uint32

const (
	WriteZlibHeader Flags = 1 << iota
	ComputeAdler32
	GreedyParsing
	NondeterministicParsing
	RLEMatches
	FilterMatches
	ForceAllStaticBlocks
	ForceAllRawBlocks
)

// Flush selects how aggressively Deflate closes out buffered data.
type Flush int

const (
	FlushNone Flush = iota
	FlushSync
	FlushFull
	FlushFinish
	FlushPartialOpt
	FlushSyncOpt
)

// Status is the portable result code for the compress side, mirroring
// the zlib-style return codes internal/inflate uses on the decode side.
type Status int

const (
	StatusBadParam     Status = -2
	StatusPutBufFailed Status = -1
	StatusOkay         Status = 0
	StatusDone         Status = 1
)

// State is a resumable deflate encoder: successive Deflate calls feed it
// more input and more output room, in any split the caller likes.
type State struct {
	flags Flags
	level int

	dict   *lzdict.Dict
	finder *matchfinder.Finder
	bb     *blockbuilder.Builder
	bw     bitio.Writer

	wroteHeader bool
	done        bool
	finishing   bool // FlushFinish has been applied; further Finish calls only drain

	scanPos    int // how far into dict's live buffer the match finder has scanned
	blockStart int // start of the still-open block's raw byte range

	pending    []byte // staged output awaiting a drain into the caller's out slice
	pendingPos int

	adler uint32
}

// New returns a State ready to compress a fresh stream at the given
// flags and 0..10 compression level.
func New(flags Flags, level int) *State {
	s := &State{flags: flags, level: level, bb: blockbuilder.NewBuilder()}
	s.Reset()
	return s
}

// Reset discards all state and prepares for a new, unrelated stream with
// the same flags and level.
func (s *State) Reset() {
	s.dict = lzdict.New()
	s.finder = newFinder(s.dict, s.level, s.flags)
	s.bb.Reset()
	s.wroteHeader = false
	s.done = false
	s.finishing = false
	s.scanPos, s.blockStart = 0, 0
	s.pending, s.pendingPos = nil, 0
	s.adler = adler32.New(1)
}

func newFinder(d *lzdict.Dict, level int, flags Flags) *matchfinder.Finder {
	f := matchfinder.New(d, level)
	switch {
	case flags&ForceAllRawBlocks != 0:
		f.Strategy = matchfinder.StrategyRawOnly
	case flags&ForceAllStaticBlocks != 0:
		f.Strategy = matchfinder.StrategyStaticOnly
	case flags&RLEMatches != 0:
		f.Strategy = matchfinder.StrategyRLE
	case flags&FilterMatches != 0:
		f.Strategy = matchfinder.StrategyFilter
	case flags&GreedyParsing != 0:
		f.Strategy = matchfinder.StrategyGreedy
	}
	return f
}

// Pending reports whether staged output remains from the last Deflate
// call that the caller's out slice had no room for. Callers that want to
// fully drain a flush (rather than merely make progress) should keep
// calling Deflate with a FlushNone / empty-in request while this is true.
func (s *State) Pending() bool { return s.pendingPos < len(s.pending) }

// Deflate consumes in (appending it to the sliding window) and writes as
// much compressed output as fits in out, returning how many bytes of
// each it used. A zero-length out is a parameter error: the caller must
// always offer somewhere to write. Once flush is FlushFinish and every
// byte has drained, Status is Done and further calls are a no-op.
func (s *State) Deflate(in, out []byte, flush Flush) (status Status, inN, outN int) {
	if len(out) == 0 {
		return StatusBadParam, 0, 0
	}
	if s.done {
		return StatusDone, 0, 0
	}

	outPos := 0
	drain := func() bool {
		n := copy(out[outPos:], s.pending[s.pendingPos:])
		outPos += n
		s.pendingPos += n
		if s.pendingPos >= len(s.pending) {
			s.pending = s.pending[:0]
			s.pendingPos = 0
			return true
		}
		return false
	}

	if !drain() {
		return StatusOkay, 0, outPos
	}

	if !s.wroteHeader {
		if s.flags&WriteZlibHeader != 0 {
			cmf, flg := zlibHeaderBytes(s.level)
			s.pending = append(s.pending, cmf, flg)
		}
		s.wroteHeader = true
		if !drain() {
			return StatusOkay, 0, outPos
		}
	}

	if len(in) > 0 {
		s.dict.Feed(in)
		if s.flags&ComputeAdler32 != 0 {
			s.adler = adler32.Update(s.adler, in)
		}
		inN = len(in)
	}

	s.advance(flush)

	if !drain() {
		return StatusOkay, inN, outPos
	}
	if s.finishing {
		s.done = true
		return StatusDone, inN, outPos
	}
	return StatusOkay, inN, outPos
}

// advance runs the match finder over every position it can safely reach
// given flush (holding back MinMatchLen-1 bytes of lookahead unless flush
// asks for a block boundary), then applies flush's block-boundary policy.
func (s *State) advance(flush Flush) {
	buf := s.dict.Bytes()
	limit := len(buf)
	if flush == FlushNone {
		limit -= lzdict.MinMatchLen - 1
		if limit < 0 {
			limit = 0
		}
	}

	for s.scanPos < limit {
		// Next must see the chain as it stood before scanPos's own run was
		// recorded (see matchfinder.Finder.Next), so every position Next
		// just resolved — scanPos itself plus the rest of a matched span —
		// is inserted only now, after the search.
		m, adv := s.finder.Next(s.scanPos)
		for p := s.scanPos; p < s.scanPos+adv && p+lzdict.MinMatchLen <= len(buf); p++ {
			s.dict.Insert(p)
		}
		if m.Length > 0 {
			s.bb.AddMatch(m.Length, m.Dist)
		} else {
			s.bb.AddLiteral(buf[s.scanPos])
		}
		s.scanPos += adv

		if s.bb.Full() {
			s.closeBlock(false)
		}
		// Compact trims WindowSize bytes from the front, so it must wait
		// until the open block (and the scan cursor) lie past them.
		if s.dict.NeedsCompact() && s.blockStart >= lzdict.WindowSize {
			trim := s.dict.Compact()
			s.scanPos -= trim
			s.blockStart -= trim
			s.finder.Rebase(trim)
			buf = s.dict.Bytes()
			limit -= trim
		}
	}

	switch flush {
	case FlushSync, FlushFull:
		s.syncFlush(flush == FlushFull)
	case FlushSyncOpt:
		if s.bb.Len() > 0 || s.bw.Pending() {
			s.syncFlush(false)
		}
	case FlushPartialOpt:
		if s.bb.Len() > 0 || s.bw.Pending() {
			s.closeBlock(false)
		}
	case FlushFinish:
		if !s.finishing {
			s.finishing = true
			s.closeBlock(true)
			if s.flags&ComputeAdler32 != 0 {
				var trailer [4]byte
				binary.BigEndian.PutUint32(trailer[:], s.adler)
				s.pending = append(s.pending, trailer[:]...)
			}
		}
	}
}

// syncFlush closes whatever is currently buffered (if anything), then
// always appends one explicit empty stored block as a byte-aligned
// resync point. reinit additionally drops all history so later blocks
// cannot back-reference across the flush point.
func (s *State) syncFlush(reinit bool) {
	if s.bb.Len() > 0 {
		s.closeBlock(false)
	}
	// The resync marker: a non-final stored block header, padded to a byte
	// boundary, then LEN=0x0000 and NLEN=0xffff.
	var marker [8]byte
	s.bw.SetOutput(marker[:])
	s.bw.PutBits(0, 3)
	s.bw.PadToByte()
	s.bw.PutBits(0, 16)
	s.bw.PutBits(0xffff, 16)
	s.pending = append(s.pending, marker[:s.bw.OutPos()]...)

	if reinit {
		s.dict = lzdict.New()
		s.finder = newFinder(s.dict, s.level, s.flags)
		s.scanPos, s.blockStart = 0, 0
	}
}

// closeBlock emits the symbols buffered since the last block boundary,
// appending the result to s.pending. The block is built into a scratch
// slice sized generously above the worst case so Emit never runs out of
// room; s.bw's bit accumulator (not its output slice) carries over
// seamlessly from one block to the next, since only stored blocks force
// byte alignment.
func (s *State) closeBlock(final bool) {
	raw := s.dict.Bytes()[s.blockStart:s.scanPos]
	scratch := make([]byte, (len(raw)+1024)*2)
	s.bw.SetOutput(scratch)
	if s.flags&ForceAllRawBlocks != 0 {
		var fbit uint32
		if final {
			fbit = 1
		}
		s.bw.PutBits(fbit, 3) // BTYPE 00: stored
		s.bw.PadToByte()
		s.bw.PutBits(uint32(len(raw)), 16)
		s.bw.PutBits(uint32(uint16(^len(raw))), 16)
		for _, c := range raw {
			s.bw.PutBits(uint32(c), 8)
		}
	} else {
		s.bb.Emit(&s.bw, raw, final)
	}
	if final {
		s.bw.FlushByte() // nothing follows the final block: pad out its last byte
	}
	s.pending = append(s.pending, scratch[:s.bw.OutPos()]...)
	s.bb.Reset()
	s.blockStart = s.scanPos
}

// zlibHeaderBytes computes the 2-byte zlib header: CMF
// fixes method 8 / a 32 KiB window, FLG's top bits hint the compression
// level (the same four-way bucketing zlib's deflate.c itself uses), and
// the low 5 bits are chosen so the big-endian uint16 is a multiple of 31.
func zlibHeaderBytes(level int) (cmf, flg byte) {
	const cmfByte = 0x78
	var flevel byte
	switch {
	case level < 2:
		flevel = 0
	case level < 6:
		flevel = 1
	case level == 6:
		flevel = 2
	default:
		flevel = 3
	}
	flg = flevel << 6
	rem := (int(cmfByte)*256 + int(flg)) % 31
	if rem != 0 {
		flg += byte(31 - rem)
	}
	return cmfByte, flg
}

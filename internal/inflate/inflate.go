// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package inflate is the resumable DEFLATE/zlib decoder state machine:
// a bit-level decoder driven by two Huffman tables (litlen, distance)
// plus a codelen table used only while parsing a dynamic block's
// header, writing bytes into a caller-supplied [obuf.Buffer] and
// copying back-references from its sliding window.
//
// The state machine is expressed as an explicit enumerated micro-state
// with a tight switch, each branch either falling through to the next
// micro-state or returning early when it cannot make progress — the
// usual pattern for a decoder that must resume cleanly mid-symbol
// across arbitrary input chunking, in place of fall-through/goto/
// coroutines. Every micro-state that consumes bits does so through a single
// [bitio.Reader.Take] call that is all-or-nothing, so resumption across
// arbitrary input chunking never needs to remember a partial bit read:
// on failure the micro-state simply runs again, unchanged, on the next
// call. Micro-states that write exactly one byte (mWriteLiteral,
// mRawWriteByte) likewise decode/consume first and only then attempt the
// write, so an output-full return never has to "un-consume" input.
package inflate

import (
	"math/bits"

	"github.com/elliotnunn/miniflate/adler32"
	"github.com/elliotnunn/miniflate/internal/bitio"
	"github.com/elliotnunn/miniflate/internal/huffman"
	"github.com/elliotnunn/miniflate/internal/obuf"
)

// Status is the portable, zlib-style inflate status code.
type Status int

const (
	StatusFailedCannotMakeProgress Status = -4
	StatusBadParam                 Status = -3
	StatusAdler32Mismatch          Status = -2
	StatusFailed                   Status = -1
	StatusDone                     Status = 0
	StatusNeedsMoreInput           Status = 1
	StatusHasMoreOutput            Status = 2
)

// InputFlush tells the core whether the caller has more input ready to
// supply after this call, which decides between NeedsMoreInput (more is
// coming; ask for it) and FailedCannotMakeProgress (none is coming, and
// the stream is not done) when input runs out mid-symbol.
type InputFlush int

const (
	NoMoreInput InputFlush = iota
	HasMoreInput
)

type mstate int

const (
	mZlibCMF mstate = iota
	mZlibFLG
	mBlockHeader
	mRawPad
	mRawHeader
	mRawCopy
	mRawWriteByte
	mDynSizes
	mDynHclenLengths
	mDynCodeLengths
	mLitLenSymbol
	mLenExtra
	mDistSymbol
	mDistExtra
	mCopyMatch
	mWriteLiteral
	mAdlerTrailer
	mDone
	mFailed
)

// State is the persisted, resumable inflate state: everything that must
// survive between calls.
type State struct {
	br bitio.Reader
	st mstate

	zlibHeader bool
	cmf, flg   byte

	final     bool
	blockType int

	// litlen/dist/codelen decode tables, rebuilt per block (dynamic) or
	// once per block (fixed, from the package-level fixed lengths).
	litlen, dist, codelen huffman.Table

	// dynamic-block header scratch
	nlit, ndist, nclen int
	hclenIdx            int
	hclenLens            [numCLCodes]int
	combinedIdx          int
	combinedTotal        int
	combinedLens         [maxNumLit + maxNumDist]int
	prevLen              int

	// stored (raw) block scratch
	rawRemain int

	// in-flight literal/length/distance symbol scratch
	pendingLit    byte
	pendingLen    int
	lenExtraIdx   int
	distExtraIdx  int
	matchDist     int
	matchRemain   int

	// zlib trailer scratch
	adlerBuf  [4]byte
	adlerHave int

	adler         uint32
	declaredAdler uint32

	err        error
	termStatus Status

	adlerScratch [1]byte
}

// New returns a freshly configured inflate state. zlibHeader selects
// whether the stream begins with a 2-byte CMF/FLG header and ends with a
// 4-byte big-endian Adler-32 trailer verified against the decoded bytes.
func New(zlibHeader bool) *State {
	s := &State{}
	s.reset(zlibHeader)
	return s
}

// Reset returns the state to its freshly configured condition, as if New
// had just been called with the same zlibHeader setting.
func (s *State) Reset() { s.reset(s.zlibHeader) }

func (s *State) reset(zlibHeader bool) {
	*s = State{zlibHeader: zlibHeader, adler: 1}
	if zlibHeader {
		s.st = mZlibCMF
	} else {
		s.st = mBlockHeader
	}
}

// Err returns the sticky error recorded when the state entered failure,
// nil otherwise.
func (s *State) Err() error { return s.err }

// Adler32 returns the running checksum over every byte decoded so far.
func (s *State) Adler32() uint32 { return s.adler }

func (s *State) fail(err error) Status {
	return s.failWithStatus(err, StatusFailed)
}

func (s *State) failWithStatus(err error, status Status) Status {
	s.err = err
	s.termStatus = status
	s.st = mFailed
	return status
}

func (s *State) needInput(flush InputFlush) Status {
	if flush == HasMoreInput {
		return StatusNeedsMoreInput
	}
	return s.failWithStatus(errCannotMakeProgress, StatusFailedCannotMakeProgress)
}

// Inflate advances the state machine, consuming from in and writing into
// out, stopping as soon as (a) input runs out and more is expected,
// (b) out runs out of room (non-wrapping mode only — a wrapping buffer
// never reports full), (c) an error is detected (the state becomes
// sticky-failed), or (d) decoding reaches the end of the stream.
func (s *State) Inflate(in []byte, out *obuf.Buffer, flush InputFlush) (status Status, inN, outN int) {
	s.br.SetInput(in)
	startOut := out.Pos

	status = s.run(out, flush)

	return status, s.br.InPos(), out.Pos - startOut
}

type symResult int

const (
	symOK symResult = iota
	symNeedInput
	symInvalid
)

// decodeSymbol reads one Huffman-coded symbol from t. It tops the bit
// accumulator up to the longest possible code (best-effort — input may
// run out first) before asking the table to resolve it, since shorter
// codes can be decoded correctly even with fewer bits buffered, thanks
// to the prefix property canonical Huffman codes guarantee.
func (s *State) decodeSymbol(t *huffman.Table) (int, symResult) {
	full := s.br.Fill(huffman.MaxCodeLen)
	sym, length, found := t.Decode(uint32(s.br.BitBuf))
	if found && uint(length) <= s.br.NumBits {
		s.br.Drop(uint(length))
		return sym, symOK
	}
	if !full {
		return 0, symNeedInput
	}
	return 0, symInvalid
}

// blockDoneState decides what follows the end of a block: another
// block header, or (on the final block) the zlib trailer or outright
// completion — padding to a byte boundary and returning any bytes the
// bit buffer over-read back to the input first.
func (s *State) blockDoneState() mstate {
	if !s.final {
		return mBlockHeader
	}
	s.br.PadToByte()
	s.br.UnreadBytes()
	if s.zlibHeader {
		return mAdlerTrailer
	}
	return mDone
}

// reverse5 bit-reverses the low 5 bits of b, used to decode the fixed
// 5-bit-per-symbol distance code of a fixed-Huffman block (RFC 1951
// §3.2.6).
func reverse5(b uint8) uint8 {
	return bits.Reverse8(b << 3)
}

func (s *State) run(out *obuf.Buffer, flush InputFlush) Status {
	for {
		switch s.st {
		case mFailed:
			return s.termStatus
		case mDone:
			return StatusDone

		case mZlibCMF:
			b, ok := s.br.Take(8)
			if !ok {
				return s.needInput(flush)
			}
			s.cmf = byte(b)
			if s.cmf&0x0f != 8 {
				return s.fail(errCorruptHeader)
			}
			s.st = mZlibFLG

		case mZlibFLG:
			b, ok := s.br.Take(8)
			if !ok {
				return s.needInput(flush)
			}
			s.flg = byte(b)
			if (int(s.cmf)*256+int(s.flg))%31 != 0 {
				return s.fail(errCorruptHeader)
			}
			if s.flg&0x20 != 0 {
				// FDICT: preset dictionaries are not supported.
				return s.failWithStatus(errCorruptHeader, StatusBadParam)
			}
			s.st = mBlockHeader

		case mBlockHeader:
			b, ok := s.br.Take(3)
			if !ok {
				return s.needInput(flush)
			}
			s.final = b&1 == 1
			s.blockType = int(b >> 1)
			switch s.blockType {
			case 0:
				s.st = mRawPad
			case 1:
				s.litlen.BuildFixed(fixedLitLenLengths())
				s.dist.BuildFixed(fixedDistLengths())
				s.st = mLitLenSymbol
			case 2:
				s.st = mDynSizes
			default:
				return s.fail(errBlockTypeUnexpected)
			}

		case mRawPad:
			s.br.PadToByte()
			s.st = mRawHeader

		case mRawHeader:
			raw, ok := s.br.Take(32)
			if !ok {
				return s.needInput(flush)
			}
			n := uint16(raw)
			nn := uint16(raw >> 16)
			if n != ^nn {
				return s.fail(errStoredLenMismatch)
			}
			s.rawRemain = int(n)
			s.st = mRawCopy

		case mRawCopy:
			if s.rawRemain == 0 {
				s.st = s.blockDoneState()
				continue
			}
			b, ok := s.br.Take(8)
			if !ok {
				return s.needInput(flush)
			}
			s.pendingLit = byte(b)
			s.st = mRawWriteByte

		case mRawWriteByte:
			if !out.WriteByte(s.pendingLit) {
				return StatusHasMoreOutput
			}
			s.adler = adler32.Update(s.adler, s.pendingLit1())
			s.rawRemain--
			s.st = mRawCopy

		case mDynSizes:
			b, ok := s.br.Take(14)
			if !ok {
				return s.needInput(flush)
			}
			s.nlit = int(b&0x1f) + 257
			s.ndist = int((b>>5)&0x1f) + 1
			s.nclen = int((b>>10)&0xf) + 4
			if s.nlit > maxNumLit || s.ndist > maxNumDist {
				return s.fail(errBadLitDistLen)
			}
			s.hclenIdx = 0
			for i := range s.hclenLens {
				s.hclenLens[i] = 0
			}
			s.st = mDynHclenLengths

		case mDynHclenLengths:
			for s.hclenIdx < s.nclen {
				b, ok := s.br.Take(3)
				if !ok {
					return s.needInput(flush)
				}
				s.hclenLens[codeLengthOrder[s.hclenIdx]] = int(b)
				s.hclenIdx++
			}
			if err := s.codelen.Build(s.hclenLens[:]); err != nil {
				return s.fail(errBadCodeTree)
			}
			s.combinedIdx = 0
			s.combinedTotal = s.nlit + s.ndist
			s.st = mDynCodeLengths

		case mDynCodeLengths:
			if s.combinedIdx >= s.combinedTotal {
				if s.combinedIdx != s.combinedTotal {
					return s.fail(errBadCodeSizeSum)
				}
				if err := s.litlen.Build(s.combinedLens[:s.nlit]); err != nil {
					return s.fail(errBadCodeTree)
				}
				if err := s.dist.Build(s.combinedLens[s.nlit : s.nlit+s.ndist]); err != nil {
					return s.fail(errBadCodeTree)
				}
				s.st = mLitLenSymbol
				continue
			}

			// A repeat symbol (16/17/18) and its extra bits are consumed
			// together: when the symbol is buffered but its extra bits are
			// not, consume nothing and wait for more input.
			if !s.br.Fill(huffman.MaxCodeLen) {
				if rs, length, found := s.codelen.Decode(uint32(s.br.BitBuf)); found && rs >= 16 && rs <= 18 &&
					uint(length) <= s.br.NumBits && uint(length)+[3]uint{2, 3, 7}[rs-16] > s.br.NumBits {
					return s.needInput(flush)
				}
			}

			sym, res := s.decodeSymbol(&s.codelen)
			switch res {
			case symNeedInput:
				return s.needInput(flush)
			case symInvalid:
				return s.fail(errBadCodeTree)
			}

			switch {
			case sym < 16:
				s.combinedLens[s.combinedIdx] = sym
				s.prevLen = sym
				s.combinedIdx++
			case sym == 16:
				if s.combinedIdx == 0 {
					return s.fail(errCodeLenNoPredecessor)
				}
				extra, ok := s.br.Take(2)
				if !ok {
					return s.needInput(flush)
				}
				if !s.repeatCodeLen(int(extra)+3, s.prevLen) {
					return s.fail(errBadCodeLenRepeat)
				}
			case sym == 17:
				extra, ok := s.br.Take(3)
				if !ok {
					return s.needInput(flush)
				}
				if !s.repeatCodeLen(int(extra)+3, 0) {
					return s.fail(errBadCodeLenRepeat)
				}
				s.prevLen = 0
			case sym == 18:
				extra, ok := s.br.Take(7)
				if !ok {
					return s.needInput(flush)
				}
				if !s.repeatCodeLen(int(extra)+11, 0) {
					return s.fail(errBadCodeLenRepeat)
				}
				s.prevLen = 0
			default:
				return s.fail(errBadCodeTree)
			}

		case mLitLenSymbol:
			sym, res := s.decodeSymbol(&s.litlen)
			switch res {
			case symNeedInput:
				return s.needInput(flush)
			case symInvalid:
				return s.fail(errInvalidLitlen)
			}
			switch {
			case sym < 256:
				s.pendingLit = byte(sym)
				s.st = mWriteLiteral
			case sym == endOfBlock:
				s.st = s.blockDoneState()
			case sym <= 285:
				idx := sym - 257
				s.pendingLen = lengthBase[idx]
				s.lenExtraIdx = idx
				if lengthExtraBits[idx] == 0 {
					s.st = mDistSymbol
				} else {
					s.st = mLenExtra
				}
			default:
				return s.fail(errInvalidLitlen)
			}

		case mWriteLiteral:
			if !out.WriteByte(s.pendingLit) {
				return StatusHasMoreOutput
			}
			s.adler = adler32.Update(s.adler, s.pendingLit1())
			s.st = mLitLenSymbol

		case mLenExtra:
			extra, ok := s.br.Take(lengthExtraBits[s.lenExtraIdx])
			if !ok {
				return s.needInput(flush)
			}
			s.pendingLen += int(extra)
			s.st = mDistSymbol

		case mDistSymbol:
			var distSym int
			if s.blockType == 1 {
				// Fixed blocks: a raw 5-bit, bit-reversed distance code,
				// not a Huffman code (RFC 1951 §3.2.6).
				b, ok := s.br.Take(5)
				if !ok {
					return s.needInput(flush)
				}
				distSym = int(reverse5(uint8(b)))
			} else {
				sym, res := s.decodeSymbol(&s.dist)
				switch res {
				case symNeedInput:
					return s.needInput(flush)
				case symInvalid:
					return s.fail(errInvalidDistance)
				}
				distSym = sym
			}
			if distSym >= maxNumDist {
				return s.fail(errInvalidDistance)
			}
			s.distExtraIdx = distSym
			if distExtraBits[distSym] == 0 {
				s.matchDist = distBase[distSym]
				s.matchRemain = s.pendingLen
				s.st = mCopyMatch
			} else {
				s.st = mDistExtra
			}

		case mDistExtra:
			extra, ok := s.br.Take(distExtraBits[s.distExtraIdx])
			if !ok {
				return s.needInput(flush)
			}
			s.matchDist = distBase[s.distExtraIdx] + int(extra)
			s.matchRemain = s.pendingLen
			s.st = mCopyMatch

		case mCopyMatch:
			if s.matchDist > maxMatchOffset {
				return s.fail(errInvalidDistance)
			}
			if !out.Wrapping() && s.matchDist > out.Pos {
				return s.fail(errDistanceOutOfBounds)
			}
			for s.matchRemain > 0 {
				c := out.ReadAt(out.Pos - s.matchDist)
				if !out.WriteByte(c) {
					return StatusHasMoreOutput
				}
				s.adlerScratch[0] = c
				s.adler = adler32.Update(s.adler, s.adlerScratch[:])
				s.matchRemain--
			}
			s.st = mLitLenSymbol

		case mAdlerTrailer:
			for s.adlerHave < 4 {
				b, ok := s.br.Take(8)
				if !ok {
					return s.needInput(flush)
				}
				s.adlerBuf[s.adlerHave] = byte(b)
				s.adlerHave++
			}
			declared := uint32(s.adlerBuf[0])<<24 | uint32(s.adlerBuf[1])<<16 | uint32(s.adlerBuf[2])<<8 | uint32(s.adlerBuf[3])
			s.declaredAdler = declared
			if declared != s.adler {
				return s.failWithStatus(errAdlerMismatch, StatusAdler32Mismatch)
			}
			s.st = mDone

		default:
			return s.fail(errCorruptHeader)
		}
	}
}

// repeatCodeLen appends n copies of value to the combined code-length
// scratch, failing if that would overrun HLIT+HDIST — the "reject if
// i+rep > n" bounds check RFC 1951 requires for symbols 16/17/18.
func (s *State) repeatCodeLen(n, value int) bool {
	if s.combinedIdx+n > s.combinedTotal {
		return false
	}
	for i := 0; i < n; i++ {
		s.combinedLens[s.combinedIdx] = value
		s.combinedIdx++
	}
	return true
}

// pendingLit1 avoids an extra slice allocation for the common one-byte
// Adler-32 update.
func (s *State) pendingLit1() []byte {
	s.adlerScratch[0] = s.pendingLit
	return s.adlerScratch[:]
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package blockbuilder accumulates the literal/match symbol stream a
// deflate block is made of, then chooses and emits the cheapest of a
// stored, static-Huffman, or dynamic-Huffman encoding.
package blockbuilder

import (
	"github.com/elliotnunn/miniflate/internal/bitio"
	"github.com/elliotnunn/miniflate/internal/huffman"
)

// DefaultCapacity bounds how many symbols accumulate before Full reports
// true, loosely following zlib's lit_bufsize scaling for its default
// memory level.
const DefaultCapacity = 1 << 14

var (
	fixedLitLens   = fixedLitLenLengths()
	fixedDistLens  = fixedDistLengths()
	fixedLitCodes  = huffman.CodesFixed(fixedLitLens)
	fixedDistCodes = huffman.CodesFixed(fixedDistLens)
)

// symbol is one buffered literal or (length,distance) match.
type symbol struct {
	lit  uint16 // literal byte value, or match length (3..258)
	dist uint16 // 0 for a literal
}

// Builder buffers symbols for one block and emits it in whichever of
// stored/static/dynamic form costs fewest bits.
type Builder struct {
	Capacity int

	syms     []symbol
	litFreq  [maxNumLit]uint32
	distFreq [maxNumDist]uint32
	extraBits uint64 // running total of length/distance extra bits, independent of code choice
}

// NewBuilder returns an empty Builder with DefaultCapacity.
func NewBuilder() *Builder {
	return &Builder{Capacity: DefaultCapacity}
}

// Reset discards all buffered symbols.
func (b *Builder) Reset() {
	b.syms = b.syms[:0]
	b.litFreq = [maxNumLit]uint32{}
	b.distFreq = [maxNumDist]uint32{}
	b.extraBits = 0
}

// Len reports the number of buffered symbols.
func (b *Builder) Len() int { return len(b.syms) }

// Full reports whether the symbol buffer has reached its capacity and
// the caller (the deflate driver) should close the block.
func (b *Builder) Full() bool {
	cap := b.Capacity
	if cap <= 0 {
		cap = DefaultCapacity
	}
	return len(b.syms) >= cap
}

// AddLiteral buffers a literal byte.
func (b *Builder) AddLiteral(c byte) {
	b.syms = append(b.syms, symbol{lit: uint16(c)})
	b.litFreq[c]++
}

// AddMatch buffers a (length, distance) back-reference. length must be
// in [3,258], dist in [1,32768].
func (b *Builder) AddMatch(length, dist int) {
	b.syms = append(b.syms, symbol{lit: uint16(length), dist: uint16(dist)})
	lsym, _, lxb := lengthToSymbol(length)
	dsym, _, dxb := distToSymbol(dist)
	b.litFreq[lsym]++
	b.distFreq[dsym]++
	b.extraBits += uint64(lxb) + uint64(dxb)
}

// planDynamic is the material needed to both cost and emit a dynamic
// block, computed once and reused for both.
type planDynamic struct {
	litLens, distLens, clLens   []int
	litCodes, distCodes, clCodes []uint16
	clSyms                       []clSym
	hlit, hdist, hclen           int
	headerBits, bodyBits         uint64
}

func (b *Builder) planDynamicBlock() planDynamic {
	var litFreq [maxNumLit]uint32
	litFreq = b.litFreq
	litFreq[endOfBlock]++

	distFreq := b.distFreq
	anyDist := false
	for _, f := range distFreq {
		if f > 0 {
			anyDist = true
			break
		}
	}
	if !anyDist {
		distFreq[0] = 1 // DEFLATE requires >=1 distance code even when unused
	}

	litLens := limitedLengths(litFreq[:], huffman.MaxCodeLen)
	distLens := limitedLengths(distFreq[:], huffman.MaxCodeLen)
	litCodes, _ := huffman.Codes(litLens)
	distCodes, _ := huffman.Codes(distLens)

	hlit := 0
	for idx := maxNumLit - 1; idx > endOfBlock; idx-- {
		if litLens[idx] != 0 {
			hlit = idx - 256
			break
		}
	}
	hdist := 0
	for idx := maxNumDist - 1; idx > 0; idx-- {
		if distLens[idx] != 0 {
			hdist = idx
			break
		}
	}

	combined := make([]int, 0, 257+hlit+hdist+1)
	combined = append(combined, litLens[:257+hlit]...)
	combined = append(combined, distLens[:hdist+1]...)
	clSyms := encodeCodeLengths(combined)

	var clFreq [numCLCodes]uint32
	for _, s := range clSyms {
		clFreq[s.sym]++
	}
	clLens := limitedLengths(clFreq[:], 7)
	clCodes, _ := huffman.Codes(clLens)

	permLens := make([]int, numCLCodes)
	for i, ord := range codeLengthOrder {
		permLens[i] = clLens[ord]
	}
	last := numCLCodes - 1
	for last > 3 && permLens[last] == 0 {
		last--
	}
	hclen := last - 3

	var headerBits uint64 = 5 + 5 + 4 + uint64(hclen+4)*3
	var clBodyBits uint64
	for _, s := range clSyms {
		clBodyBits += uint64(clLens[s.sym]) + uint64(clExtraBits(s.sym))
	}
	headerBits += clBodyBits

	var bodyBits uint64
	for sym, f := range litFreq {
		bodyBits += uint64(f) * uint64(litLens[sym])
	}
	for sym, f := range distFreq {
		bodyBits += uint64(f) * uint64(distLens[sym])
	}
	bodyBits += b.extraBits

	return planDynamic{
		litLens: litLens, distLens: distLens, clLens: clLens,
		litCodes: litCodes, distCodes: distCodes, clCodes: clCodes,
		clSyms: clSyms, hlit: hlit, hdist: hdist, hclen: hclen,
		headerBits: headerBits, bodyBits: bodyBits,
	}
}

func (b *Builder) staticBits() uint64 {
	var total uint64
	for sym, f := range b.litFreq {
		total += uint64(f) * uint64(fixedLitLens[sym])
	}
	total += uint64(fixedLitLens[endOfBlock])
	for sym, f := range b.distFreq {
		total += uint64(f) * uint64(fixedDistLens[sym])
	}
	total += b.extraBits
	return total
}

// Emit writes the block, choosing stored/static/dynamic by bit cost.
// raw, when non-nil, is the exact input byte range this block's symbols
// were derived from; it is required to consider (and, if cheapest, to
// emit) a stored block, and must be at most 65535 bytes.
func (b *Builder) Emit(bw *bitio.Writer, raw []byte, final bool) bool {
	dyn := b.planDynamicBlock()
	dynTotal := 3 + dyn.headerBits + dyn.bodyBits
	staticTotal := 3 + b.staticBits()

	storedTotal := ^uint64(0)
	if raw != nil && len(raw) <= 65535 {
		padBits := uint64((8 - (bw.NumBits+3)%8) % 8)
		storedTotal = 3 + padBits + 32 + uint64(len(raw))*8
	}

	btype := btypeDynamic
	best := dynTotal
	if staticTotal < best {
		btype, best = btypeStatic, staticTotal
	}
	if storedTotal < best {
		btype, best = btypeStored, storedTotal
	}

	var fbit uint32
	if final {
		fbit = 1
	}
	if !bw.PutBits(fbit|uint32(btype)<<1, 3) {
		return false
	}

	switch btype {
	case btypeStored:
		return b.emitStored(bw, raw)
	case btypeStatic:
		return b.emitSymbols(bw, fixedLitCodes, fixedLitLens, fixedDistCodes, fixedDistLens)
	default:
		return b.emitDynamic(bw, dyn)
	}
}

func (b *Builder) emitStored(bw *bitio.Writer, raw []byte) bool {
	if !bw.PadToByte() {
		return false
	}
	n := len(raw)
	if !bw.PutBits(uint32(n), 16) || !bw.PutBits(uint32(uint16(^n)), 16) {
		return false
	}
	for _, c := range raw {
		if !bw.PutBits(uint32(c), 8) {
			return false
		}
	}
	return true
}

func (b *Builder) emitDynamic(bw *bitio.Writer, p planDynamic) bool {
	if !bw.PutBits(uint32(p.hlit), 5) || !bw.PutBits(uint32(p.hdist), 5) || !bw.PutBits(uint32(p.hclen), 4) {
		return false
	}
	for i := 0; i < p.hclen+4; i++ {
		l := p.clLens[codeLengthOrder[i]]
		if !bw.PutBits(uint32(l), 3) {
			return false
		}
	}
	for _, s := range p.clSyms {
		if !bw.PutBits(uint32(p.clCodes[s.sym]), uint(p.clLens[s.sym])) {
			return false
		}
		if xb := clExtraBits(s.sym); xb > 0 {
			if !bw.PutBits(uint32(s.extra), xb) {
				return false
			}
		}
	}
	return b.emitSymbols(bw, p.litCodes, p.litLens, p.distCodes, p.distLens)
}

func (b *Builder) emitSymbols(bw *bitio.Writer, litCodes []uint16, litLens []int, distCodes []uint16, distLens []int) bool {
	for _, s := range b.syms {
		if s.dist == 0 {
			if !bw.PutBits(uint32(litCodes[s.lit]), uint(litLens[s.lit])) {
				return false
			}
			continue
		}
		lsym, lextra, lxb := lengthToSymbol(int(s.lit))
		if !bw.PutBits(uint32(litCodes[lsym]), uint(litLens[lsym])) {
			return false
		}
		if lxb > 0 {
			if !bw.PutBits(uint32(lextra), lxb) {
				return false
			}
		}
		dsym, dextra, dxb := distToSymbol(int(s.dist))
		if !bw.PutBits(uint32(distCodes[dsym]), uint(distLens[dsym])) {
			return false
		}
		if dxb > 0 {
			if !bw.PutBits(uint32(dextra), dxb) {
				return false
			}
		}
	}
	if !bw.PutBits(uint32(litCodes[endOfBlock]), uint(litLens[endOfBlock])) {
		return false
	}
	return true
}

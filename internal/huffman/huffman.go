// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package huffman builds and walks the canonical Huffman tables that drive
// both sides of the DEFLATE codec: construction from an array of code
// lengths, and a fast-array-plus-tree decode structure derived from zlib's
// inflate_table/infback9 trick — the same family of idea as the standard
// library's compress/flate huffmanDecoder and its chunks/links tables,
// but built around a negative-index single-array trie instead of a
// separate links slice.
package huffman

import (
	"errors"
	"math/bits"
)

const (
	// MaxCodeLen is the longest Huffman code DEFLATE allows (litlen/dist).
	MaxCodeLen = 15
	// MaxSymbols upper-bounds the litlen alphabet (286 used + 2 spare).
	MaxSymbols = 288

	fastBits = 10
	fastSize = 1 << fastBits // 1024-entry fast lookup
	treeSize = 2 * MaxSymbols // 576 tree cells
)

// ErrBadTotalSymbols is returned when the supplied code lengths neither
// form a complete prefix code nor describe the single-symbol degenerate
// case zlib and DEFLATE both tolerate. This deliberately applies the
// stricter of the two validity checks RFC 1951 leaves as implementation-
// defined: apart from that single-symbol case, an incomplete code is
// rejected outright.
var ErrBadTotalSymbols = errors.New("huffman: code lengths do not sum to a complete tree")

// Codes computes, for every symbol with a nonzero length, the canonical
// Huffman code for that symbol, already bit-reversed so it can be written
// LSB-first with a bitio.Writer. lengths[i] == 0 means symbol i is unused;
// codes[i] is meaningless for such symbols. Shared between Table.Build
// (decode side) and the block builder (encode side) so both walk the
// same canonical assignment.
func Codes(lengths []int) (codes []uint16, ok bool) {
	total, nonzero := kraftTotal(lengths)
	if total > 1<<MaxCodeLen || (total != 1<<MaxCodeLen && nonzero > 1) {
		return nil, false
	}
	return codesCore(lengths), true
}

// kraftTotal sums 2^(MaxCodeLen-l) over every nonzero length, the Kraft
// inequality's left side scaled to an integer: exactly 1<<MaxCodeLen
// means the lengths form a complete prefix code.
func kraftTotal(lengths []int) (total, nonzero int) {
	var count [MaxCodeLen + 1]int
	for _, l := range lengths {
		if l == 0 {
			continue
		}
		count[l]++
		nonzero++
	}
	for l := 1; l <= MaxCodeLen; l++ {
		total += count[l] << (MaxCodeLen - l)
	}
	return total, nonzero
}

// codesCore assigns canonical, bit-reversed codes without checking
// whether the result is a complete prefix code. RFC 1951's fixed
// distance table (30 codes, all length 5) is a deliberately incomplete
// exception the standard hardcodes rather than derives, so the two
// fixed tables go through this path (via Table.BuildFixed) instead of
// the validated Codes/Build used for stream-supplied lengths.
func codesCore(lengths []int) []uint16 {
	var count [MaxCodeLen + 1]int
	max := 0
	for _, l := range lengths {
		if l == 0 {
			continue
		}
		count[l]++
		if l > max {
			max = l
		}
	}
	codes := make([]uint16, len(lengths))
	if max == 0 {
		return codes
	}

	var nextCode [MaxCodeLen + 2]int
	for l := 1; l <= MaxCodeLen; l++ {
		nextCode[l+1] = (nextCode[l] + count[l]) << 1
	}

	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		code := nextCode[l]
		nextCode[l]++
		codes[sym] = bits.Reverse16(uint16(code)) >> (16 - uint(l))
	}
	return codes
}

// Table is a decode-side Huffman table: a 1024-entry fast lookup for
// codes of length <= 10, falling back to a negative-index tree walk for
// longer codes.
type Table struct {
	fast [fastSize]int16
	tree [treeSize]int16
	next int16 // next free tree-cell pair, grows by 2; 0 means "no tree yet"

	Min int // shortest nonzero code length, 0 if the table is empty
}

// Build constructs the fast/tree decode structure from an array of code
// lengths indexed by symbol (0 = absent). An empty table (every length 0)
// is permitted and simply never matches anything in Decode.
func (t *Table) Build(lengths []int) error {
	codes, ok := Codes(lengths)
	if !ok {
		*t = Table{}
		return ErrBadTotalSymbols
	}
	t.populate(lengths, codes)
	return nil
}

// BuildFixed builds the table from RFC 1951's predefined code lengths
// (fixedLitLenLengths/fixedDistLengths), bypassing the completeness
// check Build applies to stream-supplied lengths: the fixed distance
// table is a known, deliberately incomplete exception (see codesCore).
func (t *Table) BuildFixed(lengths []int) {
	t.populate(lengths, codesCore(lengths))
}

// CodesFixed is Codes without the completeness check, for the encode
// side's static block (it needs the same canonical codes BuildFixed
// derives internally, to write bits rather than to decode them).
func CodesFixed(lengths []int) []uint16 {
	return codesCore(lengths)
}

func (t *Table) populate(lengths []int, codes []uint16) {
	*t = Table{}

	min := 0
	for _, l := range lengths {
		if l == 0 {
			continue
		}
		if min == 0 || l < min {
			min = l
		}
	}
	t.Min = min
	if min == 0 {
		return // empty table
	}

	t.next = 2 // reserve tree[0:2] so 0 can mean "unallocated"
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		reversed := uint32(codes[sym])
		if l <= fastBits {
			step := 1 << uint(l)
			for off := int(reversed); off < fastSize; off += step {
				t.fast[off] = int16(l<<9 | sym)
			}
			continue
		}
		t.insertLong(reversed, l, sym)
	}
}

func (t *Table) insertLong(reversed uint32, length, sym int) {
	cellPtr := &t.fast[reversed&(fastSize-1)]
	rest := reversed >> fastBits
	restLen := length - fastBits

	for d := 0; d < restLen; d++ {
		bit := (rest >> uint(d)) & 1
		if *cellPtr == 0 {
			idx := t.next
			t.next += 2
			*cellPtr = -idx
		}
		idx := int(-*cellPtr)
		if d == restLen-1 {
			t.tree[idx+int(bit)] = int16(sym)
		} else {
			cellPtr = &t.tree[idx+int(bit)]
		}
	}
}

// Decode reads one symbol from the low bits of buf, which must hold at
// least MaxCodeLen valid bits unless the stream is ending (in which case
// fewer bits may still resolve a short code, since shorter codes always
// precede longer ones in the canonical assignment). It returns the
// decoded symbol and the number of bits it consumed; ok is false if buf's
// low bits do not resolve to any code in this table (either the table is
// empty, or not enough bits were supplied to reach a leaf).
func (t *Table) Decode(buf uint32) (symbol, length int, ok bool) {
	cell := t.fast[buf&(fastSize-1)]
	if cell >= 0 {
		length = int(cell) >> 9
		if length == 0 {
			return 0, 0, false
		}
		return int(cell) & 0x1ff, length, true
	}

	idx := int(-cell)
	bitpos := uint(fastBits)
	for {
		bit := (buf >> bitpos) & 1
		cell = t.tree[idx+int(bit)]
		bitpos++
		if cell < 0 {
			idx = int(-cell)
			if bitpos > MaxCodeLen {
				return 0, 0, false
			}
			continue
		}
		return int(cell), int(bitpos), true
	}
}

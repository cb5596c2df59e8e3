// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package lzdict is the deflate side's sliding window and 3-byte hash
// chain: an xxhash-backed positional index, here used to find earlier
// occurrences of a byte run for LZ77 match finding.
package lzdict

import "github.com/cespare/xxhash/v2"

const (
	// WindowSize is the maximum back-reference distance DEFLATE allows.
	WindowSize = 1 << 15
	windowMask = WindowSize - 1

	// MinMatchLen and MaxMatchLen bound what the match finder may
	// report; the dictionary only ever inserts positions that have at
	// least MinMatchLen bytes of lookahead behind them.
	MinMatchLen = 3
	MaxMatchLen = 258

	hashBits = 15
	hashSize = 1 << hashBits
	hashMask = hashSize - 1

	// compactThreshold is when Compact actually trims: keeping the live
	// buffer at up to 2x WindowSize means Compact fires rarely, and always
	// by exactly WindowSize bytes so that pos&windowMask is preserved
	// across the trim, the same fixup zlib's own deflate.c performs under
	// the name "slide_hash".
	compactThreshold = 2 * WindowSize
)

// Dict holds the bytes fed to it so far (for match comparison) plus a
// head/next hash-chain index over 3-byte runs. Positions are relative to
// the live buffer and only ever move backwards, by exactly WindowSize,
// when Compact trims the front; callers that hold onto a position across
// a Compact call must subtract its return value.
type Dict struct {
	buf  []byte
	head [hashSize]int32  // 1+position of the most recent run with this hash, 0 = none
	next [WindowSize]int32 // 1+position of the prior run with the same hash as the run at pos&windowMask
}

// New returns an empty dictionary.
func New() *Dict {
	return &Dict{buf: make([]byte, 0, compactThreshold)}
}

// Feed appends p to the live buffer. It does not insert any hash entries;
// callers call Insert explicitly as the match finder advances past each
// position, so that positions still within the lookahead are not
// prematurely indexed.
func (d *Dict) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Len reports the size of the live buffer.
func (d *Dict) Len() int { return len(d.buf) }

// Bytes returns the live buffer. The slice is invalidated by the next
// Feed or Compact call.
func (d *Dict) Bytes() []byte { return d.buf }

// At returns the byte at buffer-relative position pos.
func (d *Dict) At(pos int) byte { return d.buf[pos] }

func hash3(a, b, c byte) uint32 {
	var buf [3]byte
	buf[0], buf[1], buf[2] = a, b, c
	return uint32(xxhash.Sum64(buf[:])) & hashMask
}

// Insert records the 3-byte run starting at buffer-relative position pos
// in the hash chain. pos+MinMatchLen must not exceed Len().
func (d *Dict) Insert(pos int) {
	h := hash3(d.buf[pos], d.buf[pos+1], d.buf[pos+2])
	prev := d.head[h]
	d.head[h] = int32(pos + 1)
	d.next[pos&windowMask] = prev
}

// Head returns the most recent position with the same 3-byte hash as the
// run starting at pos, and whether one exists.
func (d *Dict) Head(pos int) (int, bool) {
	h := hash3(d.buf[pos], d.buf[pos+1], d.buf[pos+2])
	v := d.head[h]
	if v == 0 {
		return 0, false
	}
	return int(v - 1), true
}

// Chain returns the position chained before cur, or false if the chain
// ends there.
func (d *Dict) Chain(cur int) (int, bool) {
	v := d.next[cur&windowMask]
	if v == 0 {
		return 0, false
	}
	return int(v - 1), true
}

// MatchLen compares the bytes at a and b (both buffer-relative positions,
// a < b) and returns how many are equal, capped at MaxMatchLen and at the
// live buffer's length.
func (d *Dict) MatchLen(a, b int) int {
	limit := len(d.buf) - b
	if limit > MaxMatchLen {
		limit = MaxMatchLen
	}
	n := 0
	for n < limit && d.buf[a+n] == d.buf[b+n] {
		n++
	}
	return n
}

// NeedsCompact reports whether the live buffer has grown large enough
// that Compact should be called before further inserts.
func (d *Dict) NeedsCompact() bool { return len(d.buf) >= compactThreshold }

// Compact discards the oldest WindowSize bytes of the live buffer and
// rebases every stored hash-chain position by the same amount, returning
// how many bytes were trimmed (always WindowSize, or 0 if the buffer was
// not yet large enough). Callers must subtract the return value from any
// buffer-relative position they are holding (scan cursor, pending match).
func (d *Dict) Compact() int {
	if len(d.buf) < compactThreshold {
		return 0
	}
	const trim = WindowSize
	copy(d.buf, d.buf[trim:])
	d.buf = d.buf[:len(d.buf)-trim]
	for i := range d.head {
		if d.head[i] != 0 {
			if v := int(d.head[i]) - trim; v >= 1 {
				d.head[i] = int32(v)
			} else {
				d.head[i] = 0
			}
		}
	}
	for i := range d.next {
		if d.next[i] != 0 {
			if v := int(d.next[i]) - trim; v >= 1 {
				d.next[i] = int32(v)
			} else {
				d.next[i] = 0
			}
		}
	}
	return trim
}

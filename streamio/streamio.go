// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package streamio is a seekable io.ReaderAt over a raw DEFLATE stream:
// a binary search over checkpointed decompressed offsets locates the
// nearest resumable point behind a requested byte, then decoding
// continues forward from there.
//
// A simpler design would keep one ever-growing []byte per checkpoint
// (everything decompressed so far, trimmed only once a later checkpoint
// exists). This package stores only a frozen internal/inflate.State plus
// the trailing window's worth of decompressed bytes per Checkpoint.
// internal/inflate.State already carries everything needed to resume
// mid-stream, so there is no need to replay from byte zero or retain the
// whole prefix: checkpoint memory is O(checkpoints * windowSize), not
// O(stream size).
package streamio

import (
	"io"
	"log/slog"
	"sort"

	"github.com/elliotnunn/miniflate/internal/checkpointcache"
	"github.com/elliotnunn/miniflate/internal/inflate"
	"github.com/elliotnunn/miniflate/internal/lzdict"
	"github.com/elliotnunn/miniflate/internal/obuf"
)

// ringSize is the decode window: exactly large enough to hold the longest
// back-reference DEFLATE allows, so every Checkpoint's tail is self-sufficient.
const ringSize = lzdict.WindowSize

// checkpointInterval is how many decompressed bytes separate consecutive
// checkpoints: frequent enough that a cold ReadAt never has to redecode
// much, not so frequent that checkpoint bookkeeping dominates.
const checkpointInterval = 512 * 1024

// feedChunk bounds how much compressed input is handed to inflate.State
// per internal step. Because the decode ring (wrapping mode) never
// reports "out of room", a single Inflate call fed highly compressible
// input could in principle expand far past ringSize before returning
// control, overwriting bytes not yet delivered. A 258-byte match costs at
// least 2 bits, so 16 compressed bytes (plus the few bits the decoder
// carries over) expand to under 20 KiB: everything one Inflate call
// produces is still in the ring when it is copied out. The cost is more
// Inflate calls per interval, a tradeoff recorded in DESIGN.md.
const feedChunk = 16

// Checkpoint is a frozen resumption point: inPos/outPos are the
// compressed/decompressed byte offsets it sits at, state is a snapshot of
// the decoder exactly as it stood at that point, and tail holds the
// trailing ringSize bytes of decompressed output (fewer, near the start of
// the stream) needed to satisfy any back-reference a resumed decode makes.
type Checkpoint struct {
	inPos, outPos int // byte offsets; int is 64 bits on every realistic target
	state         inflate.State
	tail          []byte
}

// Reader is a seekable, resumable decompressor: io.ReaderAt over the
// logical decompressed stream, backed by src's raw DEFLATE bytes.
type Reader struct {
	src                     io.ReaderAt
	compressedSize, rawSize int

	checkpoints []Checkpoint

	cache    *checkpointcache.Cache
	streamID string
}

// NewReader returns a Reader over a raw (headerless) DEFLATE stream of
// compressedSize bytes at src, known to inflate to exactly rawSize bytes.
func NewReader(src io.ReaderAt, compressedSize, rawSize int64) *Reader {
	return newReader(src, compressedSize, rawSize, nil, "")
}

// NewCachedReader is NewReader, additionally consulting/populating cache
// (keyed by streamID) so repeated ReadAt calls against logically the same
// stream (e.g. across separate Reader instances) skip redundant inflate
// work for intervals already decoded once.
func NewCachedReader(src io.ReaderAt, compressedSize, rawSize int64, cache *checkpointcache.Cache, streamID string) *Reader {
	return newReader(src, compressedSize, rawSize, cache, streamID)
}

func newReader(src io.ReaderAt, compressedSize, rawSize int64, cache *checkpointcache.Cache, streamID string) *Reader {
	start := Checkpoint{state: *inflate.New(false)}
	return &Reader{
		src: src, compressedSize: int(compressedSize), rawSize: int(rawSize),
		checkpoints: []Checkpoint{start},
		cache:       cache, streamID: streamID,
	}
}

// Size reports the decompressed stream length.
func (r *Reader) Size() int64 { return int64(r.rawSize) }

// ReadAt decompresses, resuming from the nearest preceding checkpoint
// (creating intermediate checkpoints as it passes checkpointInterval
// boundaries), to satisfy p at the decompressed offset off64.
func (r *Reader) ReadAt(p []byte, off64 int64) (int, error) {
	off := int(off64)
	if off < 0 || off >= r.rawSize {
		return 0, io.EOF
	}
	end := off + len(p)
	if end > r.rawSize {
		end = r.rawSize
		p = p[:end-off]
	}

	idx := sort.Search(len(r.checkpoints), func(i int) bool {
		return r.checkpoints[i].outPos > off
	}) - 1

	got := 0
	for off+got < end {
		cp := r.checkpoints[idx]

		// A cached blob only short-circuits decoding when it alone
		// satisfies the rest of this request: beyond that we'd need the
		// next interval's frozen decoder state too, which the cache (a
		// pure byte-range cache, not a state store) does not carry.
		if blob, ok := r.cacheGet(cp.outPos); ok {
			slog.Info("checkpointCacheHit", "streamID", r.streamID, "outPos", cp.outPos)
			if n := copyOverlap(p, off, blob, cp.outPos); off+n >= end {
				return n, nil
			}
		}

		next, produced, err := r.resumeInterval(cp, off, p, &got)
		if next.outPos > cp.outPos && idx+1 >= len(r.checkpoints) {
			r.checkpoints = append(r.checkpoints, next)
		}
		if err != nil {
			return got, err
		}
		if produced == 0 {
			return got, io.ErrNoProgress // avoid spinning on no forward progress
		}
		idx++
	}
	return got, nil
}

// resumeInterval decodes forward from cp until it has either produced
// checkpointInterval bytes (yielding the next Checkpoint) or reached the
// end of the stream, copying any bytes that fall within [off, off+len(p))
// into p (bumping *got) as they are produced.
func (r *Reader) resumeInterval(cp Checkpoint, off int, p []byte, got *int) (next Checkpoint, produced int, err error) {
	state := cp.state // value copy: an independent, resumable snapshot

	ring, rerr := obuf.NewWrapping(make([]byte, ringSize))
	if rerr != nil {
		return cp, 0, rerr
	}
	ring.Pos = cp.outPos - len(cp.tail)
	ring.Write(cp.tail)

	deliveredTo := cp.outPos
	inPos := cp.inPos
	scratch := make([]byte, feedChunk)
	target := cp.outPos + checkpointInterval
	next = cp

	// capture holds the leading bytes of this interval, for the checkpoint
	// cache: it stops growing at ringSize rather than following ring.Pos,
	// so a cached blob's first byte is always cp.outPos, never some later
	// offset the ring happens to still hold once it has wrapped past
	// ringSize bytes of this interval.
	capture := make([]byte, 0, ringSize)

	for {
		n, rerr := r.src.ReadAt(scratch, int64(inPos))
		eofInput := rerr == io.EOF
		if rerr != nil && !eofInput {
			return next, ring.Pos - cp.outPos, rerr
		}

		flush := inflate.HasMoreInput
		if inPos+n >= r.compressedSize {
			flush = inflate.NoMoreInput
		}

		beforePos := ring.Pos
		status, inN, _ := state.Inflate(scratch[:n], ring, flush)
		inPos += inN

		for pos := beforePos; pos < ring.Pos && len(capture) < ringSize; pos++ {
			capture = append(capture, ring.ReadAt(pos))
		}

		for deliveredTo < ring.Pos {
			if deliveredTo >= off && deliveredTo < off+len(p) {
				p[deliveredTo-off] = ring.ReadAt(deliveredTo)
				*got = deliveredTo - off + 1
			}
			deliveredTo++
		}

		if ring.Pos >= target && next.outPos == cp.outPos {
			next = Checkpoint{inPos: inPos, outPos: ring.Pos, state: state, tail: ringTail(ring)}
			slog.Info("checkpointCreated", "outPos", next.outPos, "inPos", next.inPos)
		}

		switch status {
		case inflate.StatusDone:
			if next.outPos == cp.outPos {
				next = Checkpoint{inPos: inPos, outPos: ring.Pos, state: state, tail: ringTail(ring)}
			}
			r.cachePut(cp.outPos, capture)
			return next, ring.Pos - cp.outPos, nil
		case inflate.StatusNeedsMoreInput:
			if n == 0 {
				return next, ring.Pos - cp.outPos, io.ErrUnexpectedEOF
			}
		case inflate.StatusAdler32Mismatch, inflate.StatusFailed, inflate.StatusFailedCannotMakeProgress, inflate.StatusBadParam:
			return next, ring.Pos - cp.outPos, state.Err()
		}

		if off+len(p) <= deliveredTo {
			return next, ring.Pos - cp.outPos, nil
		}
	}
}

// ringTail copies out the trailing (up to) ringSize decompressed bytes
// currently held in ring, in outPos order, for a Checkpoint snapshot.
func ringTail(ring *obuf.Buffer) []byte {
	n := ring.Pos
	if n > ringSize {
		n = ringSize
	}
	tail := make([]byte, n)
	for i := range tail {
		tail[i] = ring.ReadAt(ring.Pos - len(tail) + i)
	}
	return tail
}

func (r *Reader) cacheGet(outPos int) ([]byte, bool) {
	if r.cache == nil {
		return nil, false
	}
	return r.cache.Get(r.streamID, int64(outPos))
}

func (r *Reader) cachePut(outPos int, blob []byte) {
	if r.cache == nil || len(blob) == 0 {
		return
	}
	r.cache.Set(r.streamID, int64(outPos), blob)
}

// copyOverlap copies the portion of blob (starting at blobOff) that
// overlaps p's window (starting at pOff) into p, returning the number of
// leading bytes of p it was able to fill contiguously from blobOff.
func copyOverlap(p []byte, pOff int, blob []byte, blobOff int) int {
	n := 0
	for n < len(p) {
		src := pOff + n - blobOff
		if src < 0 || src >= len(blob) {
			break
		}
		p[n] = blob[src]
		n++
	}
	return n
}

package inflate

import (
	"bytes"
	"testing"

	"github.com/elliotnunn/miniflate/adler32"
	"github.com/elliotnunn/miniflate/internal/bitio"
	"github.com/elliotnunn/miniflate/internal/blockbuilder"
	"github.com/elliotnunn/miniflate/internal/obuf"
)

// encodeStored hand-writes a single stored (uncompressed) deflate block,
// bypassing blockbuilder's cost heuristic so a test can rely on the raw
// path (mRawPad/mRawHeader/mRawCopy/mRawWriteByte) specifically.
func encodeStored(data []byte, final bool) []byte {
	out := make([]byte, len(data)+16)
	var bw bitio.Writer
	bw.SetOutput(out)
	var fbit uint32
	if final {
		fbit = 1
	}
	bw.PutBits(fbit, 3) // btype 00 = stored
	bw.PadToByte()
	n := uint16(len(data))
	bw.PutBits(uint32(n), 16)
	bw.PutBits(uint32(^n), 16)
	for _, c := range data {
		bw.PutBits(uint32(c), 8)
	}
	bw.FlushByte()
	return out[:bw.OutPos()]
}

// encodeLiterals runs plain text through the real block builder, letting
// it choose whichever of static/dynamic costs less — this is the same
// encoder the compress side uses, so decoding its output exercises the
// litlen/dist Huffman paths with realistic bit layouts.
func encodeLiterals(t *testing.T, text string) []byte {
	t.Helper()
	b := blockbuilder.NewBuilder()
	for _, c := range []byte(text) {
		b.AddLiteral(c)
	}
	out := make([]byte, len(text)*2+256)
	var bw bitio.Writer
	bw.SetOutput(out)
	if !b.Emit(&bw, nil, true) {
		t.Fatal("Emit ran out of room")
	}
	bw.FlushByte()
	return out[:bw.OutPos()]
}

func decodeAll(t *testing.T, zlibHeader bool, data []byte) ([]byte, Status) {
	t.Helper()
	s := New(zlibHeader)
	buf := obuf.New(make([]byte, 4096))
	in := data
	for {
		status, inN, _ := s.Inflate(in, buf, NoMoreInput)
		in = in[inN:]
		switch status {
		case StatusDone:
			return buf.Data[:buf.Pos], StatusDone
		case StatusHasMoreOutput:
			grown := make([]byte, len(buf.Data)+4096)
			copy(grown, buf.Data)
			buf.Data = grown
			continue
		default:
			return buf.Data[:buf.Pos], status
		}
	}
}

func TestInflateStoredBlockRoundTrip(t *testing.T) {
	data := encodeStored([]byte("hello, stored world"), true)
	out, status := decodeAll(t, false, data)
	if status != StatusDone {
		t.Fatalf("status = %v, want StatusDone", status)
	}
	if string(out) != "hello, stored world" {
		t.Fatalf("out = %q", out)
	}
}

func TestInflateTwoStoredBlocks(t *testing.T) {
	var data []byte
	data = append(data, encodeStored([]byte("first "), false)...)
	data = append(data, encodeStored([]byte("second"), true)...)
	out, status := decodeAll(t, false, data)
	if status != StatusDone {
		t.Fatalf("status = %v, want StatusDone", status)
	}
	if string(out) != "first second" {
		t.Fatalf("out = %q", out)
	}
}

func TestInflateLiteralRoundTrip(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog, the quick brown fox"
	data := encodeLiterals(t, text)
	out, status := decodeAll(t, false, data)
	if status != StatusDone {
		t.Fatalf("status = %v, want StatusDone", status)
	}
	if string(out) != text {
		t.Fatalf("out = %q, want %q", out, text)
	}
}

func TestInflateMatchRoundTrip(t *testing.T) {
	b := blockbuilder.NewBuilder()
	for _, c := range []byte("abc") {
		b.AddLiteral(c)
	}
	b.AddMatch(6, 3) // repeat "abc" twice more: "abcabcabc"
	out := make([]byte, 256)
	var bw bitio.Writer
	bw.SetOutput(out)
	if !b.Emit(&bw, nil, true) {
		t.Fatal("Emit ran out of room")
	}
	bw.FlushByte()

	got, status := decodeAll(t, false, out[:bw.OutPos()])
	if status != StatusDone {
		t.Fatalf("status = %v, want StatusDone", status)
	}
	if string(got) != "abcabcabc" {
		t.Fatalf("out = %q, want %q", got, "abcabcabc")
	}
}

func TestInflateByteAtATimeResumes(t *testing.T) {
	text := "resumability must survive arbitrarily small input chunks"
	data := encodeLiterals(t, text)

	s := New(false)
	buf := obuf.New(make([]byte, 4096))
	var done bool
	for i := 0; i < len(data) && !done; i++ {
		chunk := data[i : i+1]
		for {
			flush := HasMoreInput
			if i == len(data)-1 {
				flush = NoMoreInput
			}
			status, inN, _ := s.Inflate(chunk, buf, flush)
			chunk = chunk[inN:]
			if status == StatusDone {
				done = true
				break
			}
			if status == StatusNeedsMoreInput {
				break
			}
			if status == StatusHasMoreOutput {
				grown := make([]byte, len(buf.Data)+4096)
				copy(grown, buf.Data)
				buf.Data = grown
				continue
			}
			t.Fatalf("unexpected status %v at byte %d", status, i)
		}
	}
	if !done {
		t.Fatal("stream never reached StatusDone")
	}
	if string(buf.Data[:buf.Pos]) != text {
		t.Fatalf("out = %q, want %q", buf.Data[:buf.Pos], text)
	}
}

func buildZlibStream(t *testing.T, payload []byte, badTrailer bool) []byte {
	t.Helper()
	body := encodeLiterals(t, string(payload))
	var out bytes.Buffer
	out.WriteByte(0x78) // CMF: CM=8, CINFO=7 (32K window)
	out.WriteByte(0x9c) // FLG: default compression, (CMF*256+FLG)%31==0
	out.Write(body)
	sum := adler32.Update(adler32.New(1), payload)
	if badTrailer {
		sum ^= 0xffffffff
	}
	out.WriteByte(byte(sum >> 24))
	out.WriteByte(byte(sum >> 16))
	out.WriteByte(byte(sum >> 8))
	out.WriteByte(byte(sum))
	return out.Bytes()
}

func TestInflateZlibFramingRoundTrip(t *testing.T) {
	payload := []byte("zlib-wrapped payload data")
	data := buildZlibStream(t, payload, false)
	out, status := decodeAll(t, true, data)
	if status != StatusDone {
		t.Fatalf("status = %v, want StatusDone", status)
	}
	if string(out) != string(payload) {
		t.Fatalf("out = %q, want %q", out, payload)
	}
}

func TestInflateZlibAdlerMismatch(t *testing.T) {
	payload := []byte("this payload's checksum will be corrupted")
	data := buildZlibStream(t, payload, true)
	_, status := decodeAll(t, true, data)
	if status != StatusAdler32Mismatch {
		t.Fatalf("status = %v, want StatusAdler32Mismatch", status)
	}
}

func TestInflateRejectsBadCMF(t *testing.T) {
	data := []byte{0x59, 0x00} // low nibble 9: CM must be 8
	_, status := decodeAll(t, true, data)
	if status != StatusFailed {
		t.Fatalf("status = %v, want StatusFailed", status)
	}
}

func TestInflateRejectsFDICT(t *testing.T) {
	// CMF=0x78, FLG=0x20: FDICT set, and 0x78*256+0x20 happens to already
	// be a multiple of 31 so the header otherwise parses cleanly.
	data := []byte{0x78, 0x20}
	_, status := decodeAll(t, true, data)
	if status != StatusBadParam {
		t.Fatalf("status = %v, want StatusBadParam", status)
	}
}

func TestInflateRejectsStoredLenMismatch(t *testing.T) {
	out := make([]byte, 16)
	var bw bitio.Writer
	bw.SetOutput(out)
	bw.PutBits(1, 3) // final, btype=00
	bw.PadToByte()
	bw.PutBits(5, 16)
	bw.PutBits(^uint32(6)&0xffff, 16) // NLEN doesn't complement LEN
	bw.FlushByte()

	_, status := decodeAll(t, false, out[:bw.OutPos()])
	if status != StatusFailed {
		t.Fatalf("status = %v, want StatusFailed", status)
	}
}

func TestInflateNeedsMoreInputWithoutFlushFails(t *testing.T) {
	data := encodeLiterals(t, "a longer message than one byte")
	s := New(false)
	buf := obuf.New(make([]byte, 4096))
	// Only the first byte, and no promise of more input.
	status, _, _ := s.Inflate(data[:1], buf, NoMoreInput)
	if status != StatusFailedCannotMakeProgress {
		t.Fatalf("status = %v, want StatusFailedCannotMakeProgress", status)
	}
}

// TestInflateDecodesReferenceZlibVector decodes the well-known 20-byte
// zlib-framed encoding of "Hello, zlib!", checking both the output bytes
// and the Adler-32 the trailer carries.
func TestInflateDecodesReferenceZlibVector(t *testing.T) {
	data := []byte{
		0x78, 0x9C, 0xF3, 0x48, 0xCD, 0xC9, 0xC9, 0xD7, 0x51, 0xA8,
		0xCA, 0xC9, 0x4C, 0x52, 0x04, 0x00, 0x1B, 0x65, 0x04, 0x13,
	}
	s := New(true)
	buf := obuf.New(make([]byte, 64))
	status, _, _ := s.Inflate(data, buf, NoMoreInput)
	if status != StatusDone {
		t.Fatalf("status = %v, want StatusDone", status)
	}
	if got := string(buf.Data[:buf.Pos]); got != "Hello, zlib!" {
		t.Fatalf("out = %q, want %q", got, "Hello, zlib!")
	}
	if got, want := s.Adler32(), uint32(0x1B650413); got != want {
		t.Fatalf("Adler32() = %#08x, want %#08x", got, want)
	}
}

// TestInflateDecodesReferenceDeflateLateVector decodes the canonical raw
// (headerless) DEFLATE encoding of "Deflate late" — a fixed third-party
// encoder's actual output, not one this module generated itself — proof
// this decoder interoperates with streams it never produced.
func TestInflateDecodesReferenceDeflateLateVector(t *testing.T) {
	data := []byte{0x73, 0x49, 0x4D, 0xCB, 0x49, 0x2C, 0x49, 0x55, 0x00, 0x11, 0x00}
	out, status := decodeAll(t, false, data)
	if status != StatusDone {
		t.Fatalf("status = %v, want StatusDone", status)
	}
	if got := string(out); got != "Deflate late" {
		t.Fatalf("out = %q, want %q", got, "Deflate late")
	}
}

// TestInflateWrapModeBufferValidity decodes the reference "Hello, zlib!"
// zlib stream in non-wrap mode with a 32-byte buffer (Done, 12 bytes),
// and separately confirms wrap mode's power-of-two requirement: a
// non-power-of-two output length must be rejected before any decoding is
// attempted, the same invariant that governs wrap-mode output buffers
// sized by a caller rather than chosen to be a power of two.
func TestInflateWrapModeBufferValidity(t *testing.T) {
	data := []byte{
		0x78, 0x9C, 0xF3, 0x48, 0xCD, 0xC9, 0xC9, 0xD7, 0x51, 0xA8,
		0xCA, 0xC9, 0x4C, 0x52, 0x04, 0x00, 0x1B, 0x65, 0x04, 0x13,
	}

	s := New(true)
	nonWrap := obuf.New(make([]byte, 32))
	status, _, _ := s.Inflate(data, nonWrap, NoMoreInput)
	if status != StatusDone {
		t.Fatalf("non-wrap status = %v, want StatusDone", status)
	}
	if got := string(nonWrap.Data[:nonWrap.Pos]); got != "Hello, zlib!" {
		t.Fatalf("non-wrap out = %q, want %q", got, "Hello, zlib!")
	}
	if nonWrap.Pos != 12 {
		t.Fatalf("non-wrap wrote %d bytes, want 12", nonWrap.Pos)
	}

	if _, err := obuf.NewWrapping(make([]byte, 30)); err == nil {
		t.Fatal("NewWrapping(30) should reject a non-power-of-two length")
	}
}

// TestInflateStoredBlockReferenceVector decodes a hand-written stored
// block — 01 0C 00 F3 FF followed by the 12 literal bytes of
// "Hello, zlib!" — in non-wrap mode.
func TestInflateStoredBlockReferenceVector(t *testing.T) {
	data := append([]byte{0x01, 0x0C, 0x00, 0xF3, 0xFF}, "Hello, zlib!"...)
	out, status := decodeAll(t, false, data)
	if status != StatusDone {
		t.Fatalf("status = %v, want StatusDone", status)
	}
	if got := string(out); got != "Hello, zlib!" {
		t.Fatalf("out = %q, want %q", got, "Hello, zlib!")
	}
}

// TestInflateRejectsReservedBlockType decodes a single byte whose block
// header selects the reserved BTYPE=3.
func TestInflateRejectsReservedBlockType(t *testing.T) {
	_, status := decodeAll(t, false, []byte{0x06})
	if status != StatusFailed {
		t.Fatalf("status = %v, want StatusFailed", status)
	}
}

// TestInflateRejectsOutOfBoundsDistance decodes a match whose distance
// precedes the start of a non-wrapping output buffer.
func TestInflateRejectsOutOfBoundsDistance(t *testing.T) {
	data := []byte{
		0x0C, 0xC0, 0x81, 0x00, 0x00, 0x00, 0x00, 0x00, 0x90, 0xFF, 0x6B, 0x04, 0x00,
	}
	s := New(false)
	buf := obuf.New(make([]byte, 64))
	status, _, _ := s.Inflate(data, buf, NoMoreInput)
	if status != StatusFailed {
		t.Fatalf("status = %v, want StatusFailed", status)
	}
	if s.Err() != errDistanceOutOfBounds {
		t.Fatalf("err = %v, want %v", s.Err(), errDistanceOutOfBounds)
	}
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package blockbuilder

// These mirror internal/inflate's RFC 1951 tables exactly; kept as a
// separate copy because the decode and encode cores are independent
// packages (zlib's own trees.c/inftrees.c duplicate the same tables for
// the same reason).
var lengthBase = [29]int{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31, 35, 43, 51, 59,
	67, 83, 99, 115, 131, 163, 195, 227, 258,
}

var lengthExtraBits = [29]uint{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3,
	4, 4, 4, 4, 5, 5, 5, 5, 0,
}

var distBase = [30]int{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
	257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}

var distExtraBits = [30]uint{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
	7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

var codeLengthOrder = [19]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

const (
	maxNumLit  = 286
	maxNumDist = 30
	numCLCodes = 19

	endOfBlock = 256

	btypeStored  = 0
	btypeStatic  = 1
	btypeDynamic = 2
)

func fixedLitLenLengths() []int {
	lens := make([]int, maxNumLit+2)
	for i := 0; i < 144; i++ {
		lens[i] = 8
	}
	for i := 144; i < 256; i++ {
		lens[i] = 9
	}
	for i := 256; i < 280; i++ {
		lens[i] = 7
	}
	for i := 280; i < 288; i++ {
		lens[i] = 8
	}
	return lens
}

func fixedDistLengths() []int {
	lens := make([]int, maxNumDist)
	for i := range lens {
		lens[i] = 5
	}
	return lens
}

// lengthToSymbol returns the litlen symbol (257..285) for a match length
// in [3,258], along with the extra-bits value and width to follow it.
func lengthToSymbol(length int) (sym, extra int, extraBits uint) {
	i := len(lengthBase) - 1
	for i > 0 && lengthBase[i] > length {
		i--
	}
	return 257 + i, length - lengthBase[i], lengthExtraBits[i]
}

// distToSymbol returns the distance symbol (0..29) for a match distance
// in [1,32768], along with the extra-bits value and width to follow it.
func distToSymbol(dist int) (sym, extra int, extraBits uint) {
	i := len(distBase) - 1
	for i > 0 && distBase[i] > dist {
		i--
	}
	return i, dist - distBase[i], distExtraBits[i]
}

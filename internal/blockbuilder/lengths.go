// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package blockbuilder

import (
	"container/heap"
	"sort"
)

// limitedLengths is the classical length-limited Huffman construction:
// build an ordinary (unbounded) Huffman tree from frequency counts, then
// fold any code longer than maxLen back down using the bit-length
// histogram reflow zlib's trees.c (gen_bitlen) applies, re-deriving final
// per-symbol lengths from the reflowed histogram by handing the longest
// surviving lengths to the least-frequent symbols.
func limitedLengths(freq []uint32, maxLen int) []int {
	lengths := make([]int, len(freq))

	type leaf struct {
		sym  int
		freq uint32
	}
	var leaves []leaf
	for sym, f := range freq {
		if f > 0 {
			leaves = append(leaves, leaf{sym, f})
		}
	}
	switch len(leaves) {
	case 0:
		return lengths
	case 1:
		lengths[leaves[0].sym] = 1
		return lengths
	}

	type node struct {
		freq   uint64
		parent int
	}
	nodes := make([]node, 0, 2*len(leaves)-1)
	pq := make(freqHeap, 0, len(leaves))
	for _, l := range leaves {
		id := len(nodes)
		nodes = append(nodes, node{freq: uint64(l.freq), parent: -1})
		heap.Push(&pq, pqItem{freq: uint64(l.freq), id: id})
	}
	for len(pq) > 1 {
		a := heap.Pop(&pq).(pqItem)
		b := heap.Pop(&pq).(pqItem)
		id := len(nodes)
		nodes = append(nodes, node{freq: a.freq + b.freq, parent: -1})
		nodes[a.id].parent = id
		nodes[b.id].parent = id
		heap.Push(&pq, pqItem{freq: a.freq + b.freq, id: id})
	}

	depthOf := func(id int) int {
		d := 0
		for nodes[id].parent != -1 {
			id = nodes[id].parent
			d++
		}
		return d
	}

	var bl [64]int
	maxSeen := 0
	for i := range leaves {
		d := depthOf(i)
		bl[d]++
		if d > maxSeen {
			maxSeen = d
		}
	}

	if maxSeen > maxLen {
		for b := maxLen + 1; b <= maxSeen; b++ {
			bl[maxLen] += bl[b]
			bl[b] = 0
		}
		// excess is how far the Kraft sum, in units of 2^-maxLen, now
		// exceeds a complete code; each step below removes one unit.
		excess := -(1 << maxLen)
		for b := 1; b <= maxLen; b++ {
			excess += bl[b] << (maxLen - b)
		}
		for excess > 0 {
			b := maxLen - 1
			for bl[b] == 0 {
				b--
			}
			bl[b]--
			bl[b+1] += 2
			bl[maxLen]--
			excess--
		}
	}

	order := make([]int, len(leaves))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return leaves[order[a]].freq < leaves[order[b]].freq })

	pos := 0
	for length := maxLen; length >= 1; length-- {
		for n := bl[length]; n > 0; n-- {
			lengths[leaves[order[pos]].sym] = length
			pos++
		}
	}
	return lengths
}

type pqItem struct {
	freq uint64
	id   int
}

// freqHeap is a container/heap min-heap ordered by frequency, breaking
// ties by insertion order (id) so the result is deterministic.
type freqHeap []pqItem

func (h freqHeap) Len() int { return len(h) }
func (h freqHeap) Less(i, j int) bool {
	if h[i].freq != h[j].freq {
		return h[i].freq < h[j].freq
	}
	return h[i].id < h[j].id
}
func (h freqHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *freqHeap) Push(x any)        { *h = append(*h, x.(pqItem)) }
func (h *freqHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

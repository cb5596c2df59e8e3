// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package matchfinder walks an internal/lzdict hash chain to find LZ77
// matches, and drives the greedy/lazy/RLE/filter strategy decision: the
// block builder downstream only ever sees a Literal or Match symbol
// coming back out of this package's Finder.
package matchfinder

import "github.com/elliotnunn/miniflate/internal/lzdict"

// Strategy selects how the finder turns candidate matches into symbols.
type Strategy int

const (
	StrategyGreedy Strategy = iota
	StrategyLazy
	StrategyRLE
	StrategyFilter
	StrategyStaticOnly
	StrategyRawOnly
)

// lazyDeferLimit is the match length below which the lazy strategy
// bothers looking one byte ahead for something longer; a match at least
// this long is assumed unlikely to be beaten by the next position.
const lazyDeferLimit = 128

// filterMinLen is the shortest match the filter strategy will accept.
const filterMinLen = 5

// level describes one compression-level preset: how many chain links to
// walk per probe, and which Strategy governs the greedy/lazy decision.
type level struct {
	probes   int
	strategy Strategy
}

// NumProbes is the level-to-probe-count table, monotone in level:
// 0 disables matching entirely, 1 is a single-probe greedy pass, 2..8
// climb from 6 to 256 probes, and 9/10 are the lazy, deep-search
// high-ratio presets — the same broad shape as zlib's own configuration
// table, re-tuned rather than copied verbatim.
var NumProbes = [11]int{0, 1, 6, 16, 32, 64, 96, 128, 256, 768, 1500}

var levels = [11]level{
	0:  {probes: 0, strategy: StrategyStaticOnly},
	1:  {probes: 1, strategy: StrategyGreedy},
	2:  {probes: 6, strategy: StrategyLazy},
	3:  {probes: 16, strategy: StrategyLazy},
	4:  {probes: 32, strategy: StrategyLazy},
	5:  {probes: 64, strategy: StrategyLazy},
	6:  {probes: 96, strategy: StrategyLazy},
	7:  {probes: 128, strategy: StrategyLazy},
	8:  {probes: 256, strategy: StrategyLazy},
	9:  {probes: 768, strategy: StrategyLazy},
	10: {probes: 1500, strategy: StrategyLazy},
}

// ForLevel returns the probe count and default strategy for a 0..10
// compression level, clamping out-of-range values.
func ForLevel(lvl int) (probes int, strategy Strategy) {
	if lvl < 0 {
		lvl = 0
	}
	if lvl > 10 {
		lvl = 10
	}
	l := levels[lvl]
	return l.probes, l.strategy
}

// Match is the outcome of a lookahead-bounded match search: Length==0
// means no qualifying match was found at this position.
type Match struct {
	Length int
	Dist   int
}

// Finder holds the probe budget and strategy used to turn each position
// the caller visits into a match (or a declined search, for a literal).
type Finder struct {
	Dict     *lzdict.Dict
	Probes   int
	Strategy Strategy

	pending    Match // a match found by Lazy's one-byte lookahead, not yet consumed
	pendingPos int
	havePending bool
}

// Rebase adjusts any position this Finder is holding onto across a
// lzdict.Dict.Compact call, by the same trim amount Compact returned.
func (f *Finder) Rebase(trim int) {
	if f.havePending {
		f.pendingPos -= trim
	}
}

// New returns a Finder over dict configured for a 0..10 compression
// level (see ForLevel), or an explicit override if strategy/probes are
// set directly on the returned value afterwards.
func New(dict *lzdict.Dict, lvl int) *Finder {
	probes, strategy := ForLevel(lvl)
	return &Finder{Dict: dict, Probes: probes, Strategy: strategy}
}

// best walks the hash chain starting at the dictionary's most recent
// occurrence of the 3-byte run at pos, comparing at most f.Probes
// candidates (or until the candidate distance exceeds the window), and
// returns the longest match of length >= lzdict.MinMatchLen. Ties go to
// the shorter distance, which chain order already guarantees (the chain
// walks from most to least recent).
func (f *Finder) best(pos int) Match {
	if f.Strategy == StrategyRawOnly || f.Strategy == StrategyStaticOnly {
		return Match{}
	}
	if f.Strategy == StrategyRLE {
		if pos < 1 {
			return Match{}
		}
		n := f.Dict.MatchLen(pos-1, pos)
		if n < lzdict.MinMatchLen {
			return Match{}
		}
		return Match{Length: n, Dist: 1}
	}

	if pos+lzdict.MinMatchLen > f.Dict.Len() {
		return Match{}
	}
	cand, ok := f.Dict.Head(pos)
	var best Match
	for i := 0; ok && i < f.Probes; i++ {
		dist := pos - cand
		if dist <= 0 || dist > lzdict.WindowSize {
			break
		}
		n := f.Dict.MatchLen(cand, pos)
		if n > best.Length && n >= lzdict.MinMatchLen {
			best = Match{Length: n, Dist: dist}
			if n >= lzdict.MaxMatchLen {
				break
			}
		}
		cand, ok = f.Dict.Chain(cand)
	}

	if f.Strategy == StrategyFilter && best.Length < filterMinLen {
		return Match{}
	}
	return best
}

// Next returns the symbol (literal or match) the finder chooses at
// position pos, plus how far the caller should advance before its next
// call. pos (and, for the lazy strategy's one-byte lookahead, pos+1)
// must NOT have been inserted into Dict yet: Next's search needs the
// chain as it stood before pos's own 3-byte run was recorded, or the
// most recent candidate would always be pos itself at distance zero.
// The caller inserts pos (and the rest of the returned span) only after
// Next has returned.
func (f *Finder) Next(pos int) (m Match, advance int) {
	if f.havePending && f.pendingPos == pos {
		f.havePending = false
		if m := f.pending; m.Length > 0 {
			return m, m.Length
		}
		return Match{}, 1
	}

	m = f.best(pos)
	if m.Length == 0 {
		return Match{}, 1
	}
	if f.Strategy != StrategyLazy || m.Length >= lazyDeferLimit {
		return m, m.Length
	}

	// Lazy strategy: peek one byte ahead before committing.
	if pos+1+lzdict.MinMatchLen > f.Dict.Len() {
		return m, m.Length
	}
	next := f.best(pos + 1)
	if next.Length > m.Length {
		// Emit a literal for pos, then let the caller's next call land on
		// pos+1 and immediately reuse this already-computed match.
		f.pending = next
		f.pendingPos = pos + 1
		f.havePending = true
		return Match{}, 1
	}
	return m, m.Length
}

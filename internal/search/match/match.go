// Package match computes the lexical match score of one document field
// against the query tokens, from the positions at which each token occurs.
package match

import "sort"

// MaxDistance caps the token span considered by the scorer; windows wider
// than this score as if they were exactly this wide.
const MaxDistance = 100

// Match holds the outcome of the minimum-window search: how many distinct
// query tokens occur in the field and the width of the tightest window
// containing one occurrence of each.
type Match struct {
	WordsPresent uint8
	Distance     uint8
}

// New finds the minimum-span window over the given per-token position lists.
// Empty lists are tokens absent from the field; they reduce WordsPresent but
// do not widen the window.
func New(tokenPositions [][]uint32) Match {
	type posToken struct {
		pos   uint32
		token int
	}
	var all []posToken
	present := 0
	for ti, positions := range tokenPositions {
		if len(positions) == 0 {
			continue
		}
		present++
		for _, p := range positions {
			all = append(all, posToken{pos: p, token: ti})
		}
	}
	if present == 0 {
		return Match{}
	}
	if present == 1 {
		return Match{WordsPresent: 1, Distance: 0}
	}

	// positions per token are sorted; a full sort keeps the window sweep simple
	sort.Slice(all, func(i, j int) bool { return all[i].pos < all[j].pos })

	counts := make(map[int]int, present)
	covered := 0
	best := uint32(MaxDistance)
	left := 0
	for right := 0; right < len(all); right++ {
		if counts[all[right].token] == 0 {
			covered++
		}
		counts[all[right].token]++
		for covered == present {
			span := all[right].pos - all[left].pos
			if span < best {
				best = span
			}
			counts[all[left].token]--
			if counts[all[left].token] == 0 {
				covered--
			}
			left++
		}
	}
	if best > MaxDistance {
		best = MaxDistance
	}
	return Match{WordsPresent: uint8(present), Distance: uint8(best)}
}

// Score packs the match outcome into a 64-bit sort key: documents with more
// query tokens present rank strictly before documents with fewer, ties broken
// by typo cost, then window span, then field weight (higher field id = higher
// priority field).
func (m Match) Score(totalCost uint32, fieldID uint8) uint64 {
	cost := totalCost
	if cost > 255 {
		cost = 255
	}
	return uint64(m.WordsPresent)<<24 |
		uint64(255-cost)<<16 |
		uint64(MaxDistance-uint32(m.Distance))<<8 |
		uint64(fieldID)
}

// ScoreApprox builds a coarse score used when a document was not scored in a
// field: only a token-occurrence count is known.
func ScoreApprox(wordsPresent uint32, fieldID uint8) uint64 {
	if wordsPresent > 255 {
		wordsPresent = 255
	}
	m := Match{WordsPresent: uint8(wordsPresent), Distance: MaxDistance}
	return m.Score(0, fieldID)
}

package art

import (
	"sort"
)

// Order ranks fuzzy candidates: by posting frequency or by max posting score.
type Order int

const (
	Frequency Order = iota
	MaxScore
)

type candidate struct {
	leaf *node
	cost int
}

// fuzzyState carries the Levenshtein machinery for one search.
type fuzzyState struct {
	t       *Tree
	term    []byte
	minCost int
	maxCost int
	prefix  bool
	found   []candidate
}

// FuzzySearch returns up to maxCandidates leaves whose keys are within edit
// distance [minCost, maxCost] of term. With prefix set, distance is measured
// against each key's prefix around the length of term, so "foo" at cost 0
// matches the leaf "football". Candidates are ranked by order.
//
// Edit distance is classical insert/delete/substitute. Traversal prunes a
// subtree as soon as the minimum value of the distance row exceeds maxCost,
// using the shared path prefix to avoid re-deriving rows per key.
func (t *Tree) FuzzySearch(term []byte, minCost, maxCost, maxCandidates int, order Order, prefix bool) []*Leaf {
	if t.root == 0 || maxCandidates <= 0 {
		return nil
	}
	n := len(term)
	row := make([]int, n+1)
	for j := 0; j <= n; j++ {
		row[j] = j
	}
	s := &fuzzyState{
		t:       t,
		term:    term,
		minCost: minCost,
		maxCost: maxCost,
		prefix:  prefix,
	}
	s.recurse(t.root, 0, row, row[n])

	sort.SliceStable(s.found, func(i, j int) bool {
		a, b := s.found[i].leaf.posting, s.found[j].leaf.posting
		if order == MaxScore {
			return a.MaxScore() > b.MaxScore()
		}
		return a.Len() > b.Len()
	})
	if len(s.found) > maxCandidates {
		s.found = s.found[:maxCandidates]
	}
	leaves := make([]*Leaf, len(s.found))
	for i, c := range s.found {
		leaves[i] = &Leaf{Key: c.leaf.key, Posting: c.leaf.posting}
	}
	return leaves
}

// advance extends the distance row by one key byte.
func (s *fuzzyState) advance(row []int, c byte) []int {
	n := len(s.term)
	next := make([]int, n+1)
	next[0] = row[0] + 1
	for j := 1; j <= n; j++ {
		sub := row[j-1]
		if s.term[j-1] != c {
			sub++
		}
		next[j] = min(sub, min(row[j]+1, next[j-1]+1))
	}
	return next
}

func rowMin(row []int) int {
	m := row[0]
	for _, v := range row[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// recurse walks the subtree at r. depth counts key bytes consumed so far, row
// is the distance row after those bytes, and best is the smallest full-term
// distance seen at any consumed depth (prefix matching uses it).
func (s *fuzzyState) recurse(r ref, depth int, row []int, best int) {
	n := s.t.at(r)
	full := len(s.term)

	if n.kind == kindLeaf {
		for _, c := range n.key[depth:] {
			row = s.advance(row, c)
			best = min(best, row[full])
			if rowMin(row) > s.maxCost && (!s.prefix || best > s.maxCost) {
				return
			}
		}
		cost := row[full]
		if s.prefix {
			cost = best
		}
		if cost >= s.minCost && cost <= s.maxCost {
			s.found = append(s.found, candidate{leaf: n, cost: cost})
		}
		return
	}

	for _, c := range n.prefix {
		row = s.advance(row, c)
		best = min(best, row[full])
		if rowMin(row) > s.maxCost && (!s.prefix || best > s.maxCost) {
			return
		}
	}
	depth += len(n.prefix)

	if s.prefix && best <= s.maxCost {
		// every key below already matches the term as a prefix at this cost;
		// lower-cost subtrees were emitted on earlier cost iterations
		if best >= s.minCost {
			s.collect(r, best)
		}
		return
	}

	s.t.eachChild(r, func(b byte, c ref) bool {
		if b == 0 {
			// terminator edge: the leaf key ends here
			s.recurse(c, depth, row, best)
			return true
		}
		next := s.advance(row, b)
		nextBest := min(best, next[full])
		if rowMin(next) > s.maxCost && (!s.prefix || nextBest > s.maxCost) {
			return true
		}
		s.recurse(c, depth+1, next, nextBest)
		return true
	})
}

// collect gathers every leaf under r at the given cost.
func (s *fuzzyState) collect(r ref, cost int) {
	n := s.t.at(r)
	if n.kind == kindLeaf {
		s.found = append(s.found, candidate{leaf: n, cost: cost})
		return
	}
	s.t.eachChild(r, func(_ byte, c ref) bool {
		s.collect(c, cost)
		return true
	})
}

package executor

import (
	"sort"
	"strconv"

	"github.com/voldyman/typesense/internal/index"
	"github.com/voldyman/typesense/internal/index/art"
	"github.com/voldyman/typesense/internal/index/posting"
	"github.com/voldyman/typesense/internal/search/topster"
)

// tokenCandidates holds the trie leaves found for one query token at one
// edit cost.
type tokenCandidates struct {
	token  string
	cost   int
	leaves []*art.Leaf
}

func (s *searchState) candidateOrder() art.Order {
	if s.p.MaxScoreOrder {
		return art.MaxScore
	}
	return art.Frequency
}

// searchWildcard answers "*" queries straight from the filter ids, or from
// the default sort index when no filters are present.
func (s *searchState) searchWildcard() {
	var ids []uint32
	if s.filterIDs != nil {
		ids = s.filterIDs.ToArray()
	} else {
		ids = s.e.idx.AllSeqIDs()
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	kept := ids[:0]
	for _, id := range ids {
		if !s.excludeIDs.Contains(id) {
			kept = append(kept, id)
		}
	}
	s.allResultIDs.AddMany(kept)
	s.scoreResults(index.FieldLimitNum, uint16(len(s.searchedQueries)), 0, s.topster, nil, kept)
	s.searchedQueries = append(s.searchedQueries, nil)
}

// searchFields runs the per-field candidate search (stage 3) and the
// cross-field aggregation (stage 4).
func (s *searchState) searchFields() {
	if s.filterIDs != nil && s.filterIDs.IsEmpty() {
		return
	}
	numFields := len(s.p.SearchFields)
	topsterIDs := make(map[uint32][]*topster.KV)

	for i, field := range s.p.SearchFields {
		fieldID := uint8(index.FieldLimitNum - 2*i)

		fieldTopster := s.topster
		var local *topster.Topster
		if numFields > 1 {
			local = topster.New(s.topster.Capacity(), s.p.GroupLimit)
			fieldTopster = local
		}

		queryTokens := append([]string(nil), s.p.Query.IncludeTokens...)
		searchTokens := append([]string(nil), s.p.Query.IncludeTokens...)
		s.searchField(fieldID, field, queryTokens, searchTokens, 0, fieldTopster)

		// one synonym tier: synonym matches carry a lower field id so that
		// original-token matches outrank them on ties
		for _, synTokens := range s.p.Synonyms {
			queryTokens = append([]string(nil), synTokens...)
			searchTokens = append([]string(nil), synTokens...)
			s.searchField(fieldID-1, field, queryTokens, searchTokens, 0, fieldTopster)
		}

		if local != nil {
			for _, kv := range local.AllKVs() {
				topsterIDs[kv.SeqID] = append(topsterIDs[kv.SeqID], kv)
			}
		}
	}

	if numFields > 1 {
		s.aggregateFields(topsterIDs)
	}
}

// aggregateFields merges per-field entries for each document: match scores
// of fields that scored the document are summed, and fields that never scored
// it contribute a lightweight approximation from their token offsets.
func (s *searchState) aggregateFields(topsterIDs map[uint32][]*topster.KV) {
	canAggregate := func(kv *topster.KV) bool {
		return kv.MatchScoreIndex < len(s.p.SortBy) &&
			s.p.SortBy[kv.MatchScoreIndex].Field == sortTextMatch
	}

	for seqID, kvs := range topsterIDs {
		best := kvs[0]
		existing := make(map[uint8]*topster.KV, len(kvs))
		for _, kv := range kvs {
			if _, ok := existing[kv.FieldID]; !ok {
				existing[kv.FieldID] = kv
			}
		}

		if canAggregate(best) {
			for i, field := range s.p.SearchFields {
				fieldID := uint8(index.FieldLimitNum - 2*i)
				if fieldID == best.FieldID {
					continue
				}
				if kv, ok := existing[fieldID]; ok {
					best.Scores[best.MatchScoreIndex] += kv.Scores[kv.MatchScoreIndex]
					continue
				}
				if approx := s.approxFieldScore(field, fieldID, seqID); approx != 0 {
					best.Scores[best.MatchScoreIndex] += int64(approx)
				}
			}
		}
		s.topster.Add(best)
	}
}

// approxFieldScore estimates a field's contribution for a document that was
// not scored there, from each query token's offset count in that field.
func (s *searchState) approxFieldScore(field string, fieldID uint8, seqID uint32) uint64 {
	tree := s.e.idx.SearchTree(field)
	wordsPresent := uint32(0)
	for tokenIndex, token := range s.p.Query.IncludeTokens {
		prefixSearch := s.p.Prefix && tokenIndex == len(s.p.Query.IncludeTokens)-1
		leaves := tree.FuzzySearch([]byte(token), 0, 0, 1, s.candidateOrder(), prefixSearch)
		if len(leaves) == 0 {
			continue
		}
		docIndex := leaves[0].Posting.IndexOf(seqID)
		if docIndex == leaves[0].Posting.Len() {
			continue
		}
		wordsPresent += uint32(len(leaves[0].Posting.OffsetsAt(docIndex)))
	}
	if wordsPresent == 0 {
		return 0
	}
	return approxMatchScore(wordsPresent, fieldID)
}

// searchField expands each token into cost-bounded fuzzy candidates and walks
// the cost cross product in lexicographic order, dropping tokens from the
// query when too few results accumulate.
func (s *searchState) searchField(fieldID uint8, field string, queryTokens, searchTokens []string,
	numTokensDropped int, tops *topster.Topster) {

	tree := s.e.idx.SearchTree(field)
	fieldNumResults := 0

	// cache leaves per token+cost so combination re-runs skip the trie
	costCache := make(map[string][]*art.Leaf)

	tokenToCosts := make([][]int, len(searchTokens))
	for i, token := range searchTokens {
		bounded := boundedTypoCost(s.p.MaxTypos, len(token))
		for cost := 0; cost <= bounded; cost++ {
			tokenToCosts[i] = append(tokenToCosts[i], cost)
		}
	}

	product := func() int64 {
		n := int64(1)
		for _, costs := range tokenToCosts {
			n *= int64(len(costs))
		}
		return n
	}

	n := int64(0)
	total := product()

combinations:
	for n < total && n < combinationLimit {
		// decompose n into one cost per token, lexicographically
		costs := make([]int, len(tokenToCosts))
		quot := n
		for i := len(tokenToCosts) - 1; i >= 0; i-- {
			size := int64(len(tokenToCosts[i]))
			costs[i] = tokenToCosts[i][quot%size]
			quot /= size
		}

		candidates := make([]tokenCandidates, 0, len(searchTokens))
		for tokenIndex := 0; tokenIndex < len(searchTokens); tokenIndex++ {
			token := searchTokens[tokenIndex]
			cacheKey := token + "/" + strconv.Itoa(costs[tokenIndex])

			leaves, cached := costCache[cacheKey]
			if !cached {
				prefixSearch := s.p.Prefix && tokenIndex == len(searchTokens)-1
				maxCandidates := 3
				if prefixSearch {
					maxCandidates = 10
				}
				leaves = tree.FuzzySearch([]byte(token), costs[tokenIndex], costs[tokenIndex],
					maxCandidates, s.candidateOrder(), prefixSearch)
				if len(leaves) > 0 {
					costCache[cacheKey] = leaves
				}
			}

			if len(leaves) > 0 {
				candidates = append(candidates, tokenCandidates{
					token:  token,
					cost:   costs[tokenIndex],
					leaves: leaves,
				})
				continue
			}

			// no leaves at this cost: drop the cost, and the token itself
			// once it has no costs left, then restart the combinations
			tokenToCosts[tokenIndex] = removeCost(tokenToCosts[tokenIndex], costs[tokenIndex])
			if len(tokenToCosts[tokenIndex]) == 0 {
				tokenToCosts = append(tokenToCosts[:tokenIndex], tokenToCosts[tokenIndex+1:]...)
				searchTokens = append(searchTokens[:tokenIndex], searchTokens[tokenIndex+1:]...)
			}
			if len(searchTokens) == 0 {
				break combinations
			}
			n = -1
			total = product()
			n++
			continue combinations
		}

		if len(candidates) > 0 {
			s.searchCandidates(fieldID, candidates, numTokensDropped, tops, &fieldNumResults)
		}
		if fieldNumResults >= s.p.DropTokensThreshold || fieldNumResults >= s.p.TypoTokensThreshold {
			return
		}
		n++
	}

	// token dropping: drop from the right down to the midpoint, then from
	// the left, re-running the search with the truncated token list
	if len(queryTokens) > 0 && numTokensDropped < len(queryTokens) && len(queryTokens) > 1 &&
		fieldNumResults < s.p.DropTokensThreshold {
		numTokensDropped++
		var truncated []string
		mid := len(queryTokens) / 2
		if numTokensDropped <= mid {
			truncated = append(truncated, queryTokens[:len(queryTokens)-numTokensDropped]...)
		} else {
			start := numTokensDropped - mid
			if start >= len(queryTokens) {
				return
			}
			truncated = append(truncated, queryTokens[start:]...)
		}
		if len(truncated) == 0 {
			return
		}
		s.searchField(fieldID, field, queryTokens, truncated, numTokensDropped, tops)
	}
}

func removeCost(costs []int, cost int) []int {
	for i, c := range costs {
		if c == cost {
			return append(costs[:i], costs[i+1:]...)
		}
	}
	return costs
}

// boundedTypoCost caps the allowed edit cost by token length: tokens of
// length 1 or 2 cap at length-1.
func boundedTypoCost(maxCost, tokenLen int) int {
	if tokenLen > 0 && maxCost >= tokenLen && (tokenLen == 1 || tokenLen == 2) {
		return tokenLen - 1
	}
	return maxCost
}

// searchCandidates iterates combinations of one leaf per token, intersects
// their postings, applies excludes and filters, and scores the survivors.
// Every token already dropped from the query counts as one more edit, so
// matches found after deeper truncation rank below earlier ones.
func (s *searchState) searchCandidates(fieldID uint8, candidates []tokenCandidates,
	numTokensDropped int, tops *topster.Topster, fieldNumResults *int) {

	total := int64(1)
	for _, tc := range candidates {
		total *= int64(len(tc.leaves))
	}

	totalCost := numTokensDropped
	for _, tc := range candidates {
		totalCost += tc.cost
	}

	for n := int64(0); n < total && n < combinationLimit; n++ {
		// actual preserves query token order; suggestion is re-ordered by
		// posting length so the intersection starts from the rarest token
		actual := make([]*art.Leaf, len(candidates))
		quot := n
		for i := len(candidates) - 1; i >= 0; i-- {
			size := int64(len(candidates[i].leaves))
			actual[i] = candidates[i].leaves[quot%size]
			quot /= size
		}
		suggestion := append([]*art.Leaf(nil), actual...)
		sort.SliceStable(suggestion, func(i, j int) bool {
			return suggestion[i].Posting.Len() < suggestion[j].Posting.Len()
		})

		resultIDs := suggestion[0].Posting.Uncompress()
		for i := 1; i < len(suggestion) && len(resultIDs) > 0; i++ {
			resultIDs = posting.Intersect(resultIDs, suggestion[i].Posting.Uncompress())
		}
		if len(resultIDs) == 0 {
			continue
		}

		kept := resultIDs[:0]
		for _, id := range resultIDs {
			if s.excludeIDs.Contains(id) {
				continue
			}
			if s.filterIDs != nil && !s.filterIDs.Contains(id) {
				continue
			}
			kept = append(kept, id)
		}

		s.allResultIDs.AddMany(kept)
		s.scoreResults(fieldID, uint16(len(s.searchedQueries)), totalCost, tops, actual, kept)
		*fieldNumResults += len(kept)
		s.searchedQueries = append(s.searchedQueries, leafKeys(actual))

		if *fieldNumResults >= s.p.TypoTokensThreshold {
			break
		}
	}
}

func leafKeys(leaves []*art.Leaf) []string {
	keys := make([]string, len(leaves))
	for i, l := range leaves {
		keys[i] = string(l.Key)
	}
	return keys
}

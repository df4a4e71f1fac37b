package executor

import (
	"github.com/voldyman/typesense/internal/index/art"
	"github.com/voldyman/typesense/internal/index/posting"
	"github.com/voldyman/typesense/internal/search/match"
	"github.com/voldyman/typesense/internal/search/parser"
	"github.com/voldyman/typesense/internal/search/topster"
)

const sortTextMatch = parser.TextMatchField

func approxMatchScore(wordsPresent uint32, fieldID uint8) uint64 {
	return match.ScoreApprox(wordsPresent, fieldID)
}

// scoreResults computes each result's match score from the token positions
// recorded in the suggestion's postings and pushes an entry into the topster.
func (s *searchState) scoreResults(fieldID uint8, queryIndex uint16, totalCost int,
	tops *topster.Topster, suggestion []*art.Leaf, resultIDs []uint32) {

	if len(resultIDs) == 0 {
		return
	}

	indicesPerLeaf := make([][]int, len(suggestion))
	for li, leaf := range suggestion {
		indices := make([]int, len(resultIDs))
		leaf.Posting.IndicesOf(resultIDs, indices)
		indicesPerLeaf[li] = indices
	}

	singleTokenScore := match.Match{WordsPresent: 1, Distance: 0}.Score(uint32(totalCost), fieldID)

	for ri, seqID := range resultIDs {
		var matchScore uint64
		if len(suggestion) <= 1 {
			matchScore = singleTokenScore
		} else {
			matchScore = s.multiTokenScore(fieldID, totalCost, suggestion, indicesPerLeaf, ri)
		}

		scores, matchScoreIndex := s.sortScores(seqID, matchScore)

		distinctID := uint64(seqID)
		if s.p.GroupLimit > 0 {
			distinctID = s.getDistinctID(seqID)
			s.groupsProcessed[distinctID] = struct{}{}
		}

		kv := &topster.KV{
			FieldID:         fieldID,
			QueryIndex:      queryIndex,
			SeqID:           seqID,
			DistinctID:      distinctID,
			MatchScoreIndex: matchScoreIndex,
			Scores:          scores,
		}
		tops.Add(kv)
	}
}

// multiTokenScore reconstructs per-array-element position lists for every
// suggestion token and takes the best-scoring element's window.
func (s *searchState) multiTokenScore(fieldID uint8, totalCost int,
	suggestion []*art.Leaf, indicesPerLeaf [][]int, resultIndex int) uint64 {

	// array element index => per-token position lists
	arrayPositions := make(map[int][][]uint32)
	for li, leaf := range suggestion {
		docIndex := indicesPerLeaf[li][resultIndex]
		if docIndex == leaf.Posting.Len() {
			continue
		}
		offs := leaf.Posting.OffsetsAt(docIndex)
		for arrayIndex, positions := range posting.DecodeOffsets(offs) {
			lists := arrayPositions[arrayIndex]
			if lists == nil {
				lists = make([][]uint32, len(suggestion))
				arrayPositions[arrayIndex] = lists
			}
			lists[li] = positions
		}
	}

	var best uint64
	for _, tokenPositions := range arrayPositions {
		m := match.New(tokenPositions)
		if score := m.Score(uint32(totalCost), fieldID); score > best {
			best = score
		}
	}
	return best
}

// sortScores fills the up-to-three sort keys for a document. The synthetic
// _text_match criterion uses the computed match score; field criteria read
// the sort index, defaulting to zero when absent. Ascending order negates.
func (s *searchState) sortScores(seqID uint32, matchScore uint64) ([3]int64, int) {
	var scores [3]int64
	matchScoreIndex := 0
	for i, sb := range s.p.SortBy {
		if i >= 3 {
			break
		}
		if sb.Field == sortTextMatch {
			scores[i] = int64(matchScore)
			matchScoreIndex = i
		} else {
			if v, ok := s.e.idx.SortValue(sb.Field, seqID); ok {
				scores[i] = v
			}
		}
		if sb.Ascending {
			scores[i] = -scores[i]
		}
	}
	return scores, matchScoreIndex
}

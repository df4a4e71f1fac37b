package executor

import (
	"math"

	"github.com/voldyman/typesense/internal/index"
	"github.com/voldyman/typesense/internal/index/tokenizer"
	"github.com/voldyman/typesense/internal/schema"
)

// TokenPos maps a matched token to its position within a facet value and the
// cost at which it matched; used downstream for facet-value highlighting.
type TokenPos struct {
	Pos  int
	Cost int
}

// FacetCount accumulates one facet value's tally. DocSeqID and ArrayPos
// record a sample document holding the value so the collection layer can
// resolve the hash back to a display string.
type FacetCount struct {
	Count         int
	Groups        map[uint64]struct{}
	DocSeqID      uint32
	ArrayPos      int
	QueryTokenPos map[int]TokenPos
}

// FacetStats carries running numeric aggregates for a numeric facet field.
type FacetStats struct {
	Min   float64
	Max   float64
	Sum   float64
	Count int
}

// FacetResult is the aggregation output for one facet field.
type FacetResult struct {
	Field    string
	Counts   map[uint64]*FacetCount
	Stats    FacetStats
	HasStats bool
}

// facetInfo is the precomputed per-facet context for one aggregation pass.
type facetInfo struct {
	field          schema.Field
	useQuery       bool
	computeStats   bool
	numQueryTokens int
	hashQTokenPos  map[uint64]TokenPos
}

// doFacets aggregates facet counts and stats over the given result ids.
func (s *searchState) doFacets(resultIDs []uint32) ([]FacetResult, error) {
	facets := make([]FacetResult, 0, len(s.p.FacetFields))
	for _, name := range s.p.FacetFields {
		facets = append(facets, FacetResult{
			Field:  name,
			Counts: make(map[uint64]*FacetCount),
			Stats:  FacetStats{Min: math.Inf(1), Max: math.Inf(-1)},
		})
	}
	if len(facets) == 0 {
		return facets, nil
	}
	return s.doFacetsInto(facets, resultIDs)
}

// doFacetsInto runs one aggregation pass over resultIDs, accumulating into
// the given facet results. Curated hits reuse this to join the same tallies.
func (s *searchState) doFacetsInto(facets []FacetResult, resultIDs []uint32) ([]FacetResult, error) {
	infos := make([]facetInfo, len(facets))
	for fi := range facets {
		field, _ := s.e.idx.Schema().FieldByName(facets[fi].Field)
		infos[fi].field = field
		infos[fi].computeStats = !field.IsString() && !field.IsBool()

		if facets[fi].Field == s.p.FacetQuery.Field && s.p.FacetQuery.Query != "" {
			infos[fi].useQuery = true
			infos[fi].hashQTokenPos, infos[fi].numQueryTokens = s.expandFacetQuery(field)
		}
	}

	for _, seqID := range resultIDs {
		entry := s.e.idx.FacetEntry(seqID)
		if entry == nil {
			continue
		}
		var distinctID uint64
		if s.p.GroupLimit > 0 {
			distinctID = s.getDistinctID(seqID)
		}

		for fi := range facets {
			ord, ok := s.e.idx.FacetOrdinal(facets[fi].Field)
			if !ok || ord >= len(entry) {
				continue
			}
			s.accumulateFacet(&facets[fi], &infos[fi], entry[ord], seqID, distinctID)
		}
	}
	return facets, nil
}

// expandFacetQuery prefix-expands the facet query's last token through the
// facet field's trie and maps every matching token hash to the query token it
// answers. When several query tokens reach the same hash, the earliest query
// token keeps it; the recorded cost is always 0.
func (s *searchState) expandFacetQuery(field schema.Field) (map[uint64]TokenPos, int) {
	query := s.p.FacetQuery.Query
	if field.IsBool() {
		switch query {
		case "true":
			query = "1"
		case "false":
			query = "0"
		}
	}

	tree := s.e.idx.SearchTree(field.FacetedName())
	out := make(map[uint64]TokenPos)

	var queryTokens []string
	if field.IsString() {
		queryTokens = tokenizer.Terms(query)
	} else {
		queryTokens = []string{tokenizer.Normalize(query)}
	}

	for qtIndex, token := range queryTokens {
		bounded := 1
		if len(token) < 3 {
			bounded = 0
		}
		prefixSearch := qtIndex == len(queryTokens)-1
		leaves := tree.FuzzySearch([]byte(token), 0, bounded, 10000, s.candidateOrder(), prefixSearch)
		for _, leaf := range leaves {
			hash := index.FacetTokenHash(field, string(leaf.Key))
			if _, seen := out[hash]; !seen {
				out[hash] = TokenPos{Pos: qtIndex, Cost: 0}
			}
		}
	}
	return out, len(queryTokens)
}

// accumulateFacet walks one document's facet hash vector for one field:
// string facets count combined value hashes, numeric facets update running
// stats, and a facet query restricts which values are counted.
func (s *searchState) accumulateFacet(facet *FacetResult, info *facetInfo,
	hashes []uint64, seqID uint32, distinctID uint64) {

	arrayPos := 0
	valueFound := false
	combined := uint64(1)
	fieldTokenIndex := -1
	queryTokenPositions := make(map[int]TokenPos)

	flush := func() {
		if info.useQuery {
			// a value counts only when every query token matched one of its
			// tokens
			valueFound = valueFound && len(queryTokenPositions) == info.numQueryTokens
		}
		if !info.useQuery || valueFound {
			fc, ok := facet.Counts[combined]
			if !ok {
				fc = &FacetCount{QueryTokenPos: make(map[int]TokenPos)}
				if s.p.GroupLimit > 0 {
					fc.Groups = make(map[uint64]struct{})
				}
				facet.Counts[combined] = fc
			}
			fc.DocSeqID = seqID
			fc.ArrayPos = arrayPos
			if s.p.GroupLimit > 0 {
				fc.Groups[distinctID] = struct{}{}
			} else {
				fc.Count++
			}
			if info.useQuery {
				for pos, tp := range queryTokenPositions {
					fc.QueryTokenPos[pos] = tp
				}
			}
		}
		arrayPos++
		valueFound = false
		combined = 1
		fieldTokenIndex = -1
		queryTokenPositions = make(map[int]TokenPos)
	}

	for j, h := range hashes {
		if h != uint64(index.FacetArrayDelimiter) {
			fieldTokenIndex++
			combined = index.CombineFacetValue(combined, h, fieldTokenIndex)

			if info.computeStats {
				facet.HasStats = true
				updateStats(&facet.Stats, info.field, h)
			}

			if !info.useQuery {
				valueFound = true
			} else if qt, ok := info.hashQTokenPos[h]; ok {
				valueFound = true
				existing, have := queryTokenPositions[qt.Pos]
				if !have || existing.Cost >= qt.Cost {
					queryTokenPositions[qt.Pos] = TokenPos{Pos: fieldTokenIndex, Cost: qt.Cost}
				}
			}
			if j == len(hashes)-1 && hashes[len(hashes)-1] != uint64(index.FacetArrayDelimiter) {
				flush()
			}
			continue
		}
		flush()
	}
}

// updateStats folds one raw facet hash (the identity-encoded value for
// numeric fields) into the running aggregates.
func updateStats(stats *FacetStats, field schema.Field, raw uint64) {
	var v float64
	switch {
	case field.IsFloat():
		v = math.Float64frombits(raw)
	default:
		v = float64(int64(raw))
	}
	if v < stats.Min {
		stats.Min = v
	}
	if v > stats.Max {
		stats.Max = v
	}
	stats.Sum += v
	stats.Count++
}

// Package executor runs search queries against a collection index: fuzzy
// candidate expansion, cost-bounded combination enumeration, posting
// intersection, match scoring, filtering, faceting, and top-K aggregation.
package executor

import (
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/voldyman/typesense/internal/index"
	"github.com/voldyman/typesense/internal/search/parser"
	"github.com/voldyman/typesense/internal/search/topster"
	"github.com/voldyman/typesense/pkg/errors"
)

// MaxPerPage is the hard ceiling on page size.
const MaxPerPage = 250

// combinationLimit bounds both the typo-cost cross product and the candidate
// cross product per field.
const combinationLimit = 10

// FacetQuery restricts which values of one facet field are counted, matching
// the last token by prefix.
type FacetQuery struct {
	Field string
	Query string
}

// Params is the full search request consumed by the executor. Token lists
// are pre-normalised; filters and sorts are pre-parsed.
type Params struct {
	Query        parser.Query
	Synonyms     [][]string
	SearchFields []string
	Filters      []parser.Filter
	FacetFields  []string
	FacetQuery   FacetQuery
	SortBy       []parser.SortBy

	MaxTypos int
	Page     int
	PerPage  int
	Prefix   bool

	DropTokensThreshold int
	TypoTokensThreshold int

	GroupBy    []string
	GroupLimit int

	// IncludedIDs maps a curated rank position to the sequence-ids pinned
	// there; ExcludedIDs are hidden from organic results.
	IncludedIDs map[int][]uint32
	ExcludedIDs []uint32

	MaxFacetValues int

	// Order ranks fuzzy candidates by token frequency or max score.
	MaxScoreOrder bool
}

// Result carries the raw scored output; the collection layer turns it into
// API documents.
type Result struct {
	Topster         *topster.Topster
	CuratedTopster  *topster.Topster
	Found           int
	Facets          []FacetResult
	SearchedQueries [][]string
}

// Executor evaluates queries against one collection's index. It must run on
// the index worker goroutine.
type Executor struct {
	idx    *index.Index
	logger *slog.Logger
}

// New creates an executor bound to an index.
func New(idx *index.Index) *Executor {
	return &Executor{
		idx:    idx,
		logger: slog.Default().With("component", "query-executor", "collection", idx.Name()),
	}
}

// searchState carries the per-query working set through the stages.
type searchState struct {
	e *Executor
	p Params

	filterIDs  *roaring.Bitmap // nil when no filters
	excludeIDs *roaring.Bitmap // docs holding excluded tokens + curated ids
	curatedIDs *roaring.Bitmap

	allResultIDs    *roaring.Bitmap
	groupsProcessed map[uint64]struct{}
	searchedQueries [][]string

	topster        *topster.Topster
	curatedTopster *topster.Topster
}

// Execute validates params and runs the staged query plan.
func (e *Executor) Execute(p Params) (*Result, error) {
	if err := e.validate(&p); err != nil {
		return nil, err
	}

	k := p.Page * p.PerPage
	if k < 1 {
		k = 1
	}
	s := &searchState{
		e:               e,
		p:               p,
		excludeIDs:      roaring.New(),
		curatedIDs:      roaring.New(),
		allResultIDs:    roaring.New(),
		groupsProcessed: make(map[uint64]struct{}),
		topster:         topster.New(k, p.GroupLimit),
		curatedTopster:  topster.New(k, p.GroupLimit),
	}

	// stage 1: filters
	if len(p.Filters) > 0 {
		ids, err := e.doFiltering(p.Filters)
		if err != nil {
			return nil, err
		}
		s.filterIDs = ids
	}

	// stage 2: curated ids and token-based excludes
	for _, ids := range p.IncludedIDs {
		s.curatedIDs.AddMany(ids)
	}
	s.curatedIDs.AddMany(p.ExcludedIDs)
	for _, field := range p.SearchFields {
		t := e.idx.SearchTree(field)
		for _, exclude := range p.Query.ExcludeTokens {
			if leaf := t.Search([]byte(exclude)); leaf != nil {
				s.excludeIDs.AddMany(leaf.Posting.Uncompress())
			}
		}
	}
	s.excludeIDs.Or(s.curatedIDs)

	// stages 3-5
	if p.Query.Wildcard {
		s.searchWildcard()
	} else {
		s.searchFields()
	}

	// stage 6: curated merging
	s.collateIncludedIDs()

	// stage 7: faceting over organic and curated result sets
	resultIDs := s.allResultIDs.ToArray()
	facets, err := s.doFacets(resultIDs)
	if err != nil {
		return nil, err
	}
	var includedIDs []uint32
	for _, ids := range p.IncludedIDs {
		includedIDs = append(includedIDs, ids...)
	}
	if len(includedIDs) > 0 {
		if _, err := s.doFacetsInto(facets, includedIDs); err != nil {
			return nil, err
		}
	}

	found := len(resultIDs) + s.curatedTopster.Size()
	e.logger.Debug("query executed",
		"tokens", p.Query.IncludeTokens,
		"fields", p.SearchFields,
		"found", found,
	)
	return &Result{
		Topster:         s.topster,
		CuratedTopster:  s.curatedTopster,
		Found:           found,
		Facets:          facets,
		SearchedQueries: s.searchedQueries,
	}, nil
}

func (e *Executor) validate(p *Params) error {
	if !p.Query.Wildcard && len(p.Query.IncludeTokens) == 0 {
		return errors.Validation("query string cannot be empty")
	}
	if p.Page < 1 {
		return errors.Validation("page must be 1 or greater")
	}
	if p.PerPage < 1 {
		p.PerPage = 10
	}
	if p.PerPage > MaxPerPage {
		return errors.Capacity("only up to %d hits can be fetched per page", MaxPerPage)
	}
	if len(p.SearchFields) == 0 {
		return errors.Validation("no fields given to search on")
	}
	if len(p.SearchFields) > index.FieldLimitNum {
		p.SearchFields = p.SearchFields[:index.FieldLimitNum]
	}
	for _, field := range p.SearchFields {
		f, ok := e.idx.Schema().FieldByName(field)
		if !ok {
			return errors.NotFound("could not find a field named %s in the schema", field)
		}
		if !f.IsString() {
			return errors.Validation("field %s should be a string or a string array", field)
		}
	}
	for _, g := range p.GroupBy {
		f, ok := e.idx.Schema().FieldByName(g)
		if !ok {
			return errors.NotFound("could not find a group-by field named %s in the schema", g)
		}
		if !f.Facet {
			return errors.Validation("group-by field %s must be a facet field", g)
		}
	}
	for _, facetField := range p.FacetFields {
		f, ok := e.idx.Schema().FieldByName(facetField)
		if !ok {
			return errors.NotFound("could not find a facet field named %s in the schema", facetField)
		}
		if !f.Facet {
			return errors.Validation("field %s is not a facet field in the schema", facetField)
		}
	}
	if p.DropTokensThreshold == 0 {
		p.DropTokensThreshold = index.DropTokensThreshold
	}
	if p.TypoTokensThreshold == 0 {
		p.TypoTokensThreshold = index.TypoTokensThreshold
	}
	if p.MaxTypos < 0 || p.MaxTypos > 2 {
		p.MaxTypos = 2
	}
	if p.MaxFacetValues == 0 {
		p.MaxFacetValues = 10
	}
	return nil
}

// getDistinctID hashes the group-by fields' facet values of a document into
// the 64-bit group key.
func (s *searchState) getDistinctID(seqID uint32) uint64 {
	var distinctID uint64 = 1
	entry := s.e.idx.FacetEntry(seqID)
	if entry == nil {
		return distinctID
	}
	for _, field := range s.p.GroupBy {
		ord, ok := s.e.idx.FacetOrdinal(field)
		if !ok || ord >= len(entry) {
			continue
		}
		for _, hash := range entry[ord] {
			distinctID = index.HashCombine(distinctID, hash)
		}
	}
	return distinctID
}

// collateIncludedIDs fills the curated topster with pinned hits at synthetic
// scores that reproduce the caller-requested ranking.
func (s *searchState) collateIncludedIDs() {
	for outerPos, ids := range s.p.IncludedIDs {
		for innerPos, seqID := range ids {
			score := int64(64000 - outerPos - innerPos)
			kv := &topster.KV{
				FieldID:         index.FieldLimitNum,
				QueryIndex:      0,
				SeqID:           seqID,
				DistinctID:      uint64(outerPos),
				MatchScoreIndex: 0,
			}
			kv.Scores[0] = score
			s.curatedTopster.Add(kv)
		}
	}
}

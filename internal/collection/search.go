package collection

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/voldyman/typesense/internal/index/tokenizer"
	"github.com/voldyman/typesense/internal/schema"
	"github.com/voldyman/typesense/internal/search/executor"
	"github.com/voldyman/typesense/internal/search/parser"
	"github.com/voldyman/typesense/internal/search/topster"
	"github.com/voldyman/typesense/pkg/errors"
)

// SearchParams is the caller-facing search request.
type SearchParams struct {
	Q        string
	QueryBy  []string
	FilterBy string
	FacetBy  []string
	SortBy   []string

	NumTypos int
	Page     int
	PerPage  int
	Prefix   bool

	DropTokensThreshold int
	TypoTokensThreshold int

	IncludeFields []string
	ExcludeFields []string

	FacetQuery     string
	MaxFacetValues int

	HighlightFullFields     []string
	HighlightAffixNumTokens int
	HighlightStartTag       string
	HighlightEndTag         string

	GroupBy    []string
	GroupLimit int

	PinnedHits string
	HiddenHits string
}

// Highlight is one field's highlighted snippet for a hit.
type Highlight struct {
	Field         string   `json:"field"`
	Snippet       string   `json:"snippet"`
	MatchedTokens []string `json:"matched_tokens"`
}

// Hit is one result document.
type Hit struct {
	Document   schema.Document `json:"document"`
	Highlights []Highlight     `json:"highlights,omitempty"`
	TextMatch  uint64          `json:"text_match"`
	Curated    bool            `json:"curated,omitempty"`
}

// GroupedHit is one collapsed group of results.
type GroupedHit struct {
	GroupKey []any `json:"group_key"`
	Hits     []Hit `json:"hits"`
}

// FacetValueCount is one facet value's tally.
type FacetValueCount struct {
	Value       string `json:"value"`
	Highlighted string `json:"highlighted"`
	Count       int    `json:"count"`
}

// FacetCounts is the aggregation result for one facet field.
type FacetCounts struct {
	FieldName string             `json:"field_name"`
	Counts    []FacetValueCount  `json:"counts"`
	Stats     map[string]float64 `json:"stats,omitempty"`
}

// SearchResult is the API search response.
type SearchResult struct {
	Found       int           `json:"found"`
	OutOf       int           `json:"out_of"`
	Page        int           `json:"page"`
	Hits        []Hit         `json:"hits"`
	GroupedHits []GroupedHit  `json:"grouped_hits,omitempty"`
	FacetCounts []FacetCounts `json:"facet_counts"`
	TookMS      int64         `json:"search_time_ms"`
}

// Search runs a query on the collection's index worker and assembles the API
// response.
func (c *Collection) Search(p SearchParams) (*SearchResult, error) {
	start := time.Now()
	applySearchDefaults(&p)

	query := parser.ParseQuery(p.Q)
	if !query.Wildcard && len(query.IncludeTokens) == 0 {
		if len(query.ExcludeTokens) > 0 {
			// a pure negation runs as a wildcard with exclusions
			query.Wildcard = true
			query.IncludeTokens = []string{"*"}
		}
	}

	filters, err := parser.ParseFilter(p.FilterBy, c.schema)
	if err != nil {
		return nil, err
	}
	sorts, err := parser.ParseSort(p.SortBy, c.schema)
	if err != nil {
		return nil, err
	}
	if len(sorts) == 0 {
		sorts = []parser.SortBy{
			{Field: parser.TextMatchField},
			{Field: c.schema.DefaultSortField},
		}
	}

	includedIDs, excludedIDs, err := c.resolveCuratedIDs(p.PinnedHits, p.HiddenHits)
	if err != nil {
		return nil, err
	}

	var facetQuery executor.FacetQuery
	if p.FacetQuery != "" {
		colon := strings.Index(p.FacetQuery, ":")
		if colon < 0 {
			return nil, errors.Validation("facet query must be in the `facet_field: value` format")
		}
		facetQuery = executor.FacetQuery{
			Field: strings.TrimSpace(p.FacetQuery[:colon]),
			Query: tokenizer.Normalize(strings.TrimSpace(p.FacetQuery[colon+1:])),
		}
	}

	params := executor.Params{
		Query:               query,
		Synonyms:            c.synonyms,
		SearchFields:        p.QueryBy,
		Filters:             filters,
		FacetFields:         p.FacetBy,
		FacetQuery:          facetQuery,
		SortBy:              sorts,
		MaxTypos:            p.NumTypos,
		Page:                p.Page,
		PerPage:             p.PerPage,
		Prefix:              p.Prefix,
		DropTokensThreshold: p.DropTokensThreshold,
		TypoTokensThreshold: p.TypoTokensThreshold,
		GroupBy:             p.GroupBy,
		GroupLimit:          p.GroupLimit,
		IncludedIDs:         includedIDs,
		ExcludedIDs:         excludedIDs,
		MaxFacetValues:      p.MaxFacetValues,
	}

	var (
		res     *executor.Result
		numDocs int
		execErr error
	)
	c.idx.Do(func() {
		res, execErr = c.exec.Execute(params)
		numDocs = c.idx.NumDocuments()
	})
	if execErr != nil {
		return nil, execErr
	}

	out, err := c.assembleResult(p, sorts, res, numDocs)
	if err != nil {
		return nil, err
	}
	out.TookMS = time.Since(start).Milliseconds()
	return out, nil
}

func applySearchDefaults(p *SearchParams) {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.PerPage == 0 {
		p.PerPage = 10
	}
	if p.NumTypos == 0 {
		p.NumTypos = 2
	}
	if p.HighlightAffixNumTokens == 0 {
		p.HighlightAffixNumTokens = 4
	}
	if p.HighlightStartTag == "" {
		p.HighlightStartTag = "<mark>"
	}
	if p.HighlightEndTag == "" {
		p.HighlightEndTag = "</mark>"
	}
	if p.MaxFacetValues == 0 {
		p.MaxFacetValues = 10
	}
}

// resolveCuratedIDs parses pinned ("id:position") and hidden ("id") document
// references into sequence-ids; unknown ids are skipped.
func (c *Collection) resolveCuratedIDs(pinned, hidden string) (map[int][]uint32, []uint32, error) {
	var includedIDs map[int][]uint32
	if pinned != "" {
		includedIDs = make(map[int][]uint32)
		for _, pair := range strings.Split(pinned, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			colon := strings.LastIndex(pair, ":")
			if colon < 0 {
				continue
			}
			id := strings.TrimSpace(pair[:colon])
			pos, err := strconv.Atoi(strings.TrimSpace(pair[colon+1:]))
			if err != nil || pos < 1 {
				continue
			}
			seqID, found, err := c.seqIDForDoc(id)
			if err != nil {
				return nil, nil, err
			}
			if found {
				includedIDs[pos] = append(includedIDs[pos], seqID)
			}
		}
	}
	var excludedIDs []uint32
	if hidden != "" {
		for _, id := range strings.Split(hidden, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			seqID, found, err := c.seqIDForDoc(id)
			if err != nil {
				return nil, nil, err
			}
			if found {
				excludedIDs = append(excludedIDs, seqID)
			}
		}
	}
	return includedIDs, excludedIDs, nil
}

// assembleResult merges curated and organic entries, paginates, loads the
// documents, and renders highlights and facet counts.
func (c *Collection) assembleResult(p SearchParams, sorts []parser.SortBy,
	res *executor.Result, numDocs int) (*SearchResult, error) {

	organic := res.Topster.Sorted()
	curatedByPos := make(map[int][]*topster.KV)
	for _, kv := range res.CuratedTopster.Sorted() {
		pos := int(kv.DistinctID)
		curatedByPos[pos] = append(curatedByPos[pos], kv)
	}

	type slot struct {
		kv      *topster.KV
		curated bool
	}
	curatedPositions := make([]int, 0, len(curatedByPos))
	for pos := range curatedByPos {
		curatedPositions = append(curatedPositions, pos)
	}
	sort.Ints(curatedPositions)

	merged := make([]slot, 0, len(organic)+res.CuratedTopster.Size())
	organicIdx := 0
	nextCurated := 0
	for organicIdx < len(organic) || nextCurated < len(curatedPositions) {
		pos := len(merged) + 1
		if nextCurated < len(curatedPositions) && curatedPositions[nextCurated] <= pos {
			for _, kv := range curatedByPos[curatedPositions[nextCurated]] {
				merged = append(merged, slot{kv: kv, curated: true})
			}
			nextCurated++
			continue
		}
		if organicIdx < len(organic) {
			merged = append(merged, slot{kv: organic[organicIdx]})
			organicIdx++
			continue
		}
		// only curated entries remain, pinned beyond the organic tail
		for _, kv := range curatedByPos[curatedPositions[nextCurated]] {
			merged = append(merged, slot{kv: kv, curated: true})
		}
		nextCurated++
	}

	startIdx := (p.Page - 1) * p.PerPage
	endIdx := startIdx + p.PerPage
	if startIdx > len(merged) {
		startIdx = len(merged)
	}
	if endIdx > len(merged) {
		endIdx = len(merged)
	}
	pageSlots := merged[startIdx:endIdx]

	result := &SearchResult{
		Found: res.Found,
		OutOf: numDocs,
		Page:  p.Page,
		Hits:  []Hit{},
	}

	makeHit := func(kv *topster.KV, curated bool) (Hit, error) {
		doc, err := c.fetchDoc(kv.SeqID)
		if err != nil {
			return Hit{}, err
		}
		highlights := c.highlightDocument(doc, p, res, kv)
		textMatch := uint64(0)
		if kv.MatchScoreIndex < len(sorts) && sorts[kv.MatchScoreIndex].Field == parser.TextMatchField {
			textMatch = uint64(kv.Scores[kv.MatchScoreIndex])
		}
		return Hit{
			Document:   projectFields(doc, p.IncludeFields, p.ExcludeFields),
			Highlights: highlights,
			TextMatch:  textMatch,
			Curated:    curated,
		}, nil
	}

	if p.GroupLimit > 0 {
		for _, s := range pageSlots {
			members := res.Topster.Group(s.kv.DistinctID)
			if members == nil {
				members = []*topster.KV{s.kv}
			}
			var hits []Hit
			for _, kv := range members {
				hit, err := makeHit(kv, s.curated)
				if err != nil {
					return nil, err
				}
				hits = append(hits, hit)
			}
			groupKey := c.groupKey(p.GroupBy, hits)
			result.GroupedHits = append(result.GroupedHits, GroupedHit{GroupKey: groupKey, Hits: hits})
		}
	} else {
		for _, s := range pageSlots {
			hit, err := makeHit(s.kv, s.curated)
			if err != nil {
				return nil, err
			}
			result.Hits = append(result.Hits, hit)
		}
	}

	facetCounts, err := c.renderFacets(p, res)
	if err != nil {
		return nil, err
	}
	result.FacetCounts = facetCounts
	return result, nil
}

func (c *Collection) groupKey(groupBy []string, hits []Hit) []any {
	if len(hits) == 0 {
		return nil
	}
	key := make([]any, 0, len(groupBy))
	for _, field := range groupBy {
		key = append(key, hits[0].Document[field])
	}
	return key
}

// projectFields applies include_fields / exclude_fields; the id always
// survives projection.
func projectFields(doc schema.Document, include, exclude []string) schema.Document {
	if len(include) == 0 && len(exclude) == 0 {
		return doc
	}
	out := make(schema.Document, len(doc))
	if len(include) > 0 {
		for _, f := range include {
			if v, ok := doc[f]; ok {
				out[f] = v
			}
		}
	} else {
		for k, v := range doc {
			out[k] = v
		}
	}
	for _, f := range exclude {
		if f != "id" {
			delete(out, f)
		}
	}
	if v, ok := doc["id"]; ok {
		out["id"] = v
	}
	return out
}

// renderFacets resolves facet hashes back to display values via each sample
// document and applies facet-query highlighting.
func (c *Collection) renderFacets(p SearchParams, res *executor.Result) ([]FacetCounts, error) {
	out := make([]FacetCounts, 0, len(res.Facets))
	for _, facet := range res.Facets {
		field, _ := c.schema.FieldByName(facet.Field)
		fc := FacetCounts{FieldName: facet.Field, Counts: []FacetValueCount{}}

		type entry struct {
			count int
			fcRef *executor.FacetCount
		}
		entries := make([]entry, 0, len(facet.Counts))
		for _, v := range facet.Counts {
			count := v.Count
			if v.Groups != nil {
				count = len(v.Groups)
			}
			entries = append(entries, entry{count: count, fcRef: v})
		}
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].count > entries[j].count })
		if len(entries) > p.MaxFacetValues {
			entries = entries[:p.MaxFacetValues]
		}

		for _, e := range entries {
			value, err := c.facetValueString(field, e.fcRef)
			if err != nil {
				continue
			}
			highlighted := value
			if len(e.fcRef.QueryTokenPos) > 0 {
				highlighted = highlightFacetValue(value, e.fcRef.QueryTokenPos, p.HighlightStartTag, p.HighlightEndTag)
			}
			fc.Counts = append(fc.Counts, FacetValueCount{
				Value:       value,
				Highlighted: highlighted,
				Count:       e.count,
			})
		}

		if facet.HasStats && facet.Stats.Count > 0 {
			fc.Stats = map[string]float64{
				"min": facet.Stats.Min,
				"max": facet.Stats.Max,
				"sum": facet.Stats.Sum,
				"avg": facet.Stats.Sum / float64(facet.Stats.Count),
			}
		}
		out = append(out, fc)
	}
	return out, nil
}

// facetValueString loads the sample document recorded for a facet value and
// renders the value at its array position.
func (c *Collection) facetValueString(field schema.Field, fc *executor.FacetCount) (string, error) {
	doc, err := c.fetchDoc(fc.DocSeqID)
	if err != nil {
		return "", err
	}
	v, ok := doc[field.Name]
	if !ok {
		return "", nil
	}
	if field.IsArray() {
		arr, ok := v.([]any)
		if !ok || fc.ArrayPos >= len(arr) {
			return "", nil
		}
		v = arr[fc.ArrayPos]
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return tokenizer.CanonicalString(v), nil
}

// highlightFacetValue wraps the facet value's matched tokens, identified by
// their token positions, in the highlight tags.
func highlightFacetValue(value string, matched map[int]executor.TokenPos, startTag, endTag string) string {
	positions := make(map[int]struct{}, len(matched))
	for _, tp := range matched {
		positions[tp.Pos] = struct{}{}
	}
	words := strings.Fields(value)
	tokenIndex := -1
	for wi, word := range words {
		if len(tokenizer.Terms(word)) == 0 {
			continue
		}
		tokenIndex++
		if _, ok := positions[tokenIndex]; ok {
			words[wi] = startTag + word + endTag
		}
	}
	return strings.Join(words, " ")
}

package executor

import (
	"strconv"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/voldyman/typesense/internal/index"
	"github.com/voldyman/typesense/internal/index/numtree"
	"github.com/voldyman/typesense/internal/index/posting"
	"github.com/voldyman/typesense/internal/index/tokenizer"
	"github.com/voldyman/typesense/internal/search/parser"
	"github.com/voldyman/typesense/internal/schema"
	"github.com/voldyman/typesense/pkg/errors"
)

// doFiltering resolves every filter clause to a sorted id set and intersects
// the clauses. Values inside one clause are disjunctive.
func (e *Executor) doFiltering(filters []parser.Filter) (*roaring.Bitmap, error) {
	var filterIDs *roaring.Bitmap
	for _, f := range filters {
		field, ok := e.idx.Schema().FieldByName(f.Field)
		if !ok {
			return nil, errors.NotFound("could not find a filter field named %s in the schema", f.Field)
		}

		var clauseIDs []uint32
		var err error
		if field.IsNumerical() {
			clauseIDs, err = e.filterNumeric(field, f)
		} else {
			clauseIDs, err = e.filterString(field, f)
		}
		if err != nil {
			return nil, err
		}

		clause := roaring.New()
		clause.AddMany(clauseIDs)
		if filterIDs == nil {
			filterIDs = clause
		} else {
			filterIDs.And(clause)
		}
	}
	return filterIDs, nil
}

func (e *Executor) filterNumeric(field schema.Field, f parser.Filter) ([]uint32, error) {
	nt := e.idx.NumTree(field.Name)
	var ids []uint32
	for _, raw := range f.Values {
		value, err := encodeFilterValue(field, raw)
		if err != nil {
			return nil, err
		}
		ids = posting.Union(ids, nt.Search(numComparator(f.Comparator), value))
	}
	return ids, nil
}

func encodeFilterValue(field schema.Field, raw string) (int64, error) {
	switch {
	case field.IsFloat():
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, errors.Validation("error with filter field %s: not a float", field.Name)
		}
		return index.FloatToInt64(v), nil
	case field.IsBool():
		switch raw {
		case "true", "1":
			return 1, nil
		case "false", "0":
			return 0, nil
		}
		return 0, errors.Validation("error with filter field %s: not a boolean", field.Name)
	default:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, errors.Validation("error with filter field %s: not an integer", field.Name)
		}
		return v, nil
	}
}

func numComparator(c parser.Comparator) numtree.Comparator {
	switch c {
	case parser.LessThan:
		return numtree.LessThan
	case parser.LessThanEquals:
		return numtree.LessThanEquals
	case parser.GreaterThan:
		return numtree.GreaterThan
	case parser.GreaterThanEquals:
		return numtree.GreaterThanEquals
	case parser.NotEquals:
		return numtree.NotEquals
	default:
		return numtree.Equals
	}
}

// filterString intersects the postings of every token in each filter value.
// Exact-match filters on faceted fields additionally check the document's
// facet entry (see exactStringMatches), rejecting superstring matches.
func (e *Executor) filterString(field schema.Field, f parser.Filter) ([]uint32, error) {
	tree := e.idx.SearchTree(field.FacetedName())
	var ids []uint32
	for _, raw := range f.Values {
		tokens := tokenizer.Terms(raw)
		if len(tokens) == 0 {
			continue
		}
		var valueIDs []uint32
		for ti, token := range tokens {
			leaf := tree.Search([]byte(token))
			if leaf == nil {
				valueIDs = nil
				break
			}
			if ti == 0 {
				valueIDs = leaf.Posting.Uncompress()
			} else {
				valueIDs = posting.Intersect(valueIDs, leaf.Posting.Uncompress())
			}
		}
		if f.Comparator == parser.ExactMatch && field.Facet && len(valueIDs) > 0 {
			valueIDs = e.exactStringMatches(field, tokens, valueIDs)
		}
		ids = posting.Union(ids, valueIDs)
	}
	return ids, nil
}

// exactStringMatches keeps only documents whose facet entry for the field is
// exactly the filter value. For array fields an element's combined token hash
// must equal the filter value's (same tokens, same order, nothing more). For
// scalar fields only the token count is compared with the filter's; token
// order is not checked.
func (e *Executor) exactStringMatches(field schema.Field, tokens []string, candidates []uint32) []uint32 {
	ord, ok := e.idx.FacetOrdinal(field.Name)
	if !ok {
		return candidates
	}

	filterHash := uint64(1)
	for ti, token := range tokens {
		filterHash = index.CombineFacetValue(filterHash, index.FacetTokenHash(field, token), ti)
	}

	out := candidates[:0]
	for _, seqID := range candidates {
		entry := e.idx.FacetEntry(seqID)
		if entry == nil || ord >= len(entry) {
			continue
		}
		hashes := entry[ord]
		if !field.IsArray() {
			// scalar: token count must match exactly
			if len(hashes) == len(tokens) {
				out = append(out, seqID)
			}
			continue
		}
		valueHash := uint64(1)
		tokenIndex := 0
		for _, h := range hashes {
			if h == uint64(index.FacetArrayDelimiter) {
				if valueHash == filterHash {
					out = append(out, seqID)
					break
				}
				valueHash = 1
				tokenIndex = 0
				continue
			}
			valueHash = index.CombineFacetValue(valueHash, h, tokenIndex)
			tokenIndex++
		}
	}
	return out
}

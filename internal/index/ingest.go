package index

import (
	"fmt"

	"github.com/voldyman/typesense/internal/index/tokenizer"
	"github.com/voldyman/typesense/internal/schema"
)

// IndexDocument validates doc and writes it into every per-field structure.
// points is the document's default-sort value, stored redundantly in postings
// for heap comparisons. With isUpdate set, absent fields are skipped and the
// live document count is unchanged.
func (i *Index) IndexDocument(doc schema.Document, seqID uint32, points int64, isUpdate bool) error {
	if err := ValidateDocument(doc, i.schema, isUpdate); err != nil {
		return err
	}

	numFacets := len(i.facetOrdinals)
	entry := i.facetIndex[seqID]
	if entry == nil && numFacets > 0 {
		entry = make([][]uint64, numFacets)
		i.facetIndex[seqID] = entry
	}

	for _, f := range i.schema.Fields {
		v, present := doc[f.Name]
		if !present || v == nil {
			continue
		}
		if err := i.indexField(f, v, seqID, points, entry); err != nil {
			return fmt.Errorf("indexing field %s: %w", f.Name, err)
		}
	}
	if !isUpdate {
		i.numDocuments++
	}
	return nil
}

func (i *Index) indexField(f schema.Field, v any, seqID uint32, points int64, facetEntry [][]uint64) error {
	values, err := fieldStrings(f, v)
	if err != nil {
		return err
	}

	// string fields and faceted fields of any type are trie-indexed
	if f.IsString() || f.Facet {
		t := i.searchIndex[f.FacetedName()]
		var offsets map[string][]uint32
		if f.IsArray() {
			offsets = arrayTokenOffsets(values)
		} else {
			offsets = tokenOffsets(values[0])
		}
		for token, offs := range offsets {
			t.Insert([]byte(token), seqID, points, offs)
		}
	}

	if f.Facet {
		ord := i.facetOrdinals[f.Name]
		facetEntry[ord] = facetHashes(f, values)
	}

	if f.IsNumerical() {
		nt := i.numIndex[f.Name]
		for _, enc := range encodedNumbers(f, v) {
			nt.Insert(enc, seqID)
		}
	}

	if f.IsSortable() {
		if encs := encodedNumbers(f, v); len(encs) == 1 {
			i.sortIndex[f.Name][seqID] = encs[0]
		}
	}
	return nil
}

// fieldStrings renders a field value as one string per element, canonical for
// non-string types so facet hashing and trie keys line up.
func fieldStrings(f schema.Field, v any) ([]string, error) {
	if f.IsArray() {
		arr, ok := asArray(v)
		if !ok {
			return nil, fmt.Errorf("expected array value")
		}
		out := make([]string, 0, len(arr))
		for _, el := range arr {
			out = append(out, elementString(f, el))
		}
		return out, nil
	}
	return []string{elementString(f, v)}, nil
}

func elementString(f schema.Field, v any) string {
	if f.IsString() {
		s, _ := asString(v)
		return s
	}
	if f.IsInteger() {
		n, _ := asInt64(v)
		return tokenizer.CanonicalString(n)
	}
	if f.IsFloat() {
		fv, _ := asFloat64(v)
		return tokenizer.CanonicalString(fv)
	}
	b, _ := asBool(v)
	return tokenizer.CanonicalString(b)
}

// encodedNumbers returns a field's numeric values in the shared int64 sort
// encoding, one per array element.
func encodedNumbers(f schema.Field, v any) []int64 {
	elements := []any{v}
	if f.IsArray() {
		if arr, ok := asArray(v); ok {
			elements = arr
		}
	}
	out := make([]int64, 0, len(elements))
	for _, el := range elements {
		switch {
		case f.IsFloat():
			fv, ok := asFloat64(el)
			if !ok {
				continue
			}
			out = append(out, FloatToInt64(fv))
		case f.IsInteger():
			n, ok := asInt64(el)
			if !ok {
				continue
			}
			out = append(out, n)
		case f.IsBool():
			b, ok := asBool(el)
			if !ok {
				continue
			}
			if b {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out
}

// tokenOffsets maps each token of one field value to its positions.
func tokenOffsets(text string) map[string][]uint32 {
	out := make(map[string][]uint32)
	for _, tok := range tokenizer.Tokenize(text) {
		out[tok.Term] = append(out[tok.Term], uint32(tok.Position))
	}
	return out
}

// arrayTokenOffsets maps tokens across all array elements to their encoded
// offsets: per element, the token's positions followed by a repeat of the
// last position and the element's array index.
func arrayTokenOffsets(values []string) map[string][]uint32 {
	out := make(map[string][]uint32)
	for arrayIndex, value := range values {
		for token, positions := range tokenOffsets(value) {
			encoded := append([]uint32(nil), positions...)
			encoded = append(encoded, positions[len(positions)-1], uint32(arrayIndex))
			out[token] = append(out[token], encoded...)
		}
	}
	return out
}

// facetHashes renders a field's facet entry: token hashes in order, with the
// array delimiter closing each element of an array field.
func facetHashes(f schema.Field, values []string) []uint64 {
	var out []uint64
	for _, value := range values {
		if f.IsString() {
			for _, tok := range tokenizer.Tokenize(value) {
				out = append(out, FacetTokenHash(f, tok.Term))
			}
		} else {
			out = append(out, FacetTokenHash(f, value))
		}
		if f.IsArray() {
			out = append(out, uint64(FacetArrayDelimiter))
		}
	}
	return out
}

// RemoveDocument purges every index entry for the document. doc must be the
// stored record (or the fields being removed on a partial reindex).
func (i *Index) RemoveDocument(seqID uint32, doc schema.Document, partial bool) {
	for _, f := range i.schema.Fields {
		v, present := doc[f.Name]
		if !present || v == nil {
			continue
		}
		values, err := fieldStrings(f, v)
		if err != nil {
			continue
		}
		if f.IsString() || f.Facet {
			t := i.searchIndex[f.FacetedName()]
			seen := make(map[string]struct{})
			for _, value := range values {
				for _, tok := range tokenizer.Tokenize(value) {
					if _, dup := seen[tok.Term]; dup {
						continue
					}
					seen[tok.Term] = struct{}{}
					if leaf := t.Search([]byte(tok.Term)); leaf != nil {
						leaf.Posting.Remove(seqID)
						if leaf.Posting.Len() == 0 {
							t.Delete([]byte(tok.Term))
						}
					}
				}
			}
		}
		if f.Facet {
			if entry := i.facetIndex[seqID]; entry != nil {
				entry[i.facetOrdinals[f.Name]] = nil
			}
		}
		if f.IsNumerical() {
			nt := i.numIndex[f.Name]
			for _, enc := range encodedNumbers(f, v) {
				nt.Remove(enc, seqID)
			}
		}
		if f.IsSortable() {
			delete(i.sortIndex[f.Name], seqID)
		}
	}
	if !partial {
		delete(i.facetIndex, seqID)
		if i.numDocuments > 0 {
			i.numDocuments--
		}
	}
}

// ScrubReindexDoc drops unchanged fields from updateDoc and delDoc by
// comparing tokenised old and new values, so an update only churns the tries
// for fields that actually changed.
func (i *Index) ScrubReindexDoc(updateDoc, delDoc, oldDoc schema.Document) {
	for name := range updateDoc {
		f, ok := i.schema.FieldByName(name)
		if !ok {
			continue
		}
		oldVal, hasOld := oldDoc[name]
		if !hasOld {
			continue
		}
		newStrings, errNew := fieldStrings(f, updateDoc[name])
		oldStrings, errOld := fieldStrings(f, oldVal)
		if errNew != nil || errOld != nil {
			continue
		}
		if tokensMatch(newStrings, oldStrings) {
			delete(updateDoc, name)
			delete(delDoc, name)
		}
	}
}

func tokensMatch(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		at := tokenizer.Terms(a[i])
		bt := tokenizer.Terms(b[i])
		if len(at) != len(bt) {
			return false
		}
		for j := range at {
			if at[j] != bt[j] {
				return false
			}
		}
	}
	return true
}

// Package index bundles the per-collection search structures: one radix trie
// per string (or faceted) field, one numeric tree per scalar field, the facet
// hash table, and the sort-value table. All mutation and query execution for
// a collection happens on its single index worker goroutine.
package index

import (
	"log/slog"

	"github.com/voldyman/typesense/internal/index/art"
	"github.com/voldyman/typesense/internal/index/numtree"
	"github.com/voldyman/typesense/internal/schema"
)

const (
	// FieldLimitNum bounds the number of searchable fields per query; field
	// ids count down from it so earlier fields outrank later ones.
	FieldLimitNum = 100

	// DropTokensThreshold is the default minimum result count below which the
	// executor starts dropping query tokens.
	DropTokensThreshold = 10

	// TypoTokensThreshold is the default result count above which the
	// executor stops expanding typo cost combinations.
	TypoTokensThreshold = 100
)

// Index owns the in-memory search state for one collection.
type Index struct {
	name string

	schema       schema.Schema
	searchFields map[string]schema.Field // string + faceted fields, keyed by (faceted) name
	sortFields   map[string]schema.Field

	searchIndex map[string]*art.Tree
	numIndex    map[string]*numtree.Tree

	// seq-id => facet ordinal => ordered token hashes
	facetIndex map[uint32][][]uint64

	// sort field => seq-id => encoded value
	sortIndex map[string]map[uint32]int64

	facetOrdinals map[string]int
	numDocuments  int

	requests chan request
	logger   *slog.Logger
}

type request struct {
	run  func()
	done chan struct{}
}

// New builds an empty Index for the given schema.
func New(name string, s schema.Schema) *Index {
	idx := &Index{
		name:          name,
		schema:        s,
		searchFields:  make(map[string]schema.Field),
		sortFields:    make(map[string]schema.Field),
		searchIndex:   make(map[string]*art.Tree),
		numIndex:      make(map[string]*numtree.Tree),
		facetIndex:    make(map[uint32][][]uint64),
		sortIndex:     make(map[string]map[uint32]int64),
		facetOrdinals: make(map[string]int),
		requests:      make(chan request, 1),
		logger:        slog.Default().With("component", "index", "collection", name),
	}
	for _, f := range s.Fields {
		if f.IsString() || f.Facet {
			idx.searchFields[f.FacetedName()] = f
			idx.searchIndex[f.FacetedName()] = art.New()
		}
		if f.IsNumerical() {
			idx.numIndex[f.Name] = numtree.New()
		}
		if f.IsSortable() {
			idx.sortFields[f.Name] = f
			idx.sortIndex[f.Name] = make(map[uint32]int64)
		}
	}
	for i, f := range s.FacetFields() {
		idx.facetOrdinals[f.Name] = i
	}
	return idx
}

// Name returns the collection name this index serves.
func (i *Index) Name() string {
	return i.name
}

// Schema returns the collection schema.
func (i *Index) Schema() schema.Schema {
	return i.schema
}

// NumDocuments returns the live document count.
func (i *Index) NumDocuments() int {
	return i.numDocuments
}

// SearchTree returns the radix trie for a (faceted) field name.
func (i *Index) SearchTree(field string) *art.Tree {
	return i.searchIndex[field]
}

// NumTree returns the numeric tree for a field name.
func (i *Index) NumTree(field string) *numtree.Tree {
	return i.numIndex[field]
}

// FacetEntry returns the facet hash vector for a document.
func (i *Index) FacetEntry(seqID uint32) [][]uint64 {
	return i.facetIndex[seqID]
}

// FacetOrdinal returns the dense ordinal of a faceted field.
func (i *Index) FacetOrdinal(field string) (int, bool) {
	ord, ok := i.facetOrdinals[field]
	return ord, ok
}

// SortValue looks up the encoded sort value of a document, reporting whether
// it is present.
func (i *Index) SortValue(field string, seqID uint32) (int64, bool) {
	m, ok := i.sortIndex[field]
	if !ok {
		return 0, false
	}
	v, ok := m[seqID]
	return v, ok
}

// AllSeqIDs returns every live document's sequence-id, unsorted, derived from
// the default sorting field's entries.
func (i *Index) AllSeqIDs() []uint32 {
	m := i.sortIndex[i.schema.DefaultSortField]
	out := make([]uint32, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// Run executes the worker loop: receive a request, run it to completion,
// signal the caller. Closing the index (via Close) ends the loop.
func (i *Index) Run() {
	for req := range i.requests {
		req.run()
		close(req.done)
	}
}

// Do schedules fn on the index worker and blocks until it completes. All
// reads and writes against the index state go through here, serializing
// access without locks.
func (i *Index) Do(fn func()) {
	done := make(chan struct{})
	i.requests <- request{run: fn, done: done}
	<-done
}

// Close stops the worker loop. No requests may be submitted afterwards.
func (i *Index) Close() {
	close(i.requests)
}

package index

import (
	"math"
	"sort"
	"testing"

	"github.com/voldyman/typesense/internal/index/numtree"
	"github.com/voldyman/typesense/internal/schema"
	"github.com/voldyman/typesense/pkg/errors"
)

func testSchema() schema.Schema {
	return schema.Schema{
		Fields: []schema.Field{
			{Name: "title", Type: schema.TypeString},
			{Name: "points", Type: schema.TypeInt32},
			{Name: "tags", Type: schema.TypeStringArray, Facet: true},
			{Name: "rating", Type: schema.TypeFloat, Optional: true},
		},
		DefaultSortField: "points",
	}
}

func TestFloatToInt64PreservesOrdering(t *testing.T) {
	values := []float64{math.Inf(-1), -1e12, -3.5, -0.0001, 0, 0.0001, 1, 3.5, 1e12, math.Inf(1)}
	encoded := make([]int64, len(values))
	for i, v := range values {
		encoded[i] = FloatToInt64(v)
	}
	if !sort.SliceIsSorted(encoded, func(i, j int) bool { return encoded[i] < encoded[j] }) {
		t.Fatalf("encoding does not preserve order: %v -> %v", values, encoded)
	}
}

func TestFloatToInt64BitExact(t *testing.T) {
	// positive floats map to their raw bit pattern
	if got := FloatToInt64(1.5); got != int64(math.Float64bits(1.5)) {
		t.Fatalf("positive encoding = %d", got)
	}
	// negative floats flip all non-sign bits
	want := int64(math.Float64bits(-2.0)) ^ math.MaxInt64
	if got := FloatToInt64(-2.0); got != want {
		t.Fatalf("negative encoding = %d, want %d", got, want)
	}
}

func TestValidateDocument(t *testing.T) {
	s := testSchema()
	cases := []struct {
		name     string
		doc      schema.Document
		isUpdate bool
		wantErr  bool
	}{
		{
			name: "valid",
			doc:  schema.Document{"title": "ok", "points": float64(3), "tags": []any{"a"}},
		},
		{
			name:    "missing required field",
			doc:     schema.Document{"points": float64(3), "tags": []any{}},
			wantErr: true,
		},
		{
			name:    "wrong type",
			doc:     schema.Document{"title": 42, "points": float64(3), "tags": []any{}},
			wantErr: true,
		},
		{
			name:    "int32 out of bounds",
			doc:     schema.Document{"title": "x", "points": float64(math.MaxInt32) + 10, "tags": []any{}},
			wantErr: true,
		},
		{
			name: "int widens to float",
			doc:  schema.Document{"title": "x", "points": float64(1), "tags": []any{}, "rating": float64(4)},
		},
		{
			name:     "update may omit required fields",
			doc:      schema.Document{"title": "patched"},
			isUpdate: true,
		},
		{
			name:    "missing default sort field",
			doc:     schema.Document{"title": "x", "tags": []any{}},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateDocument(tc.doc, s, tc.isUpdate)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr && !errors.Is(err, errors.ErrValidation) {
				t.Fatalf("error %v is not a validation error", err)
			}
		})
	}
}

func indexDoc(t *testing.T, idx *Index, doc schema.Document, seqID uint32) {
	t.Helper()
	var err error
	idx.Do(func() {
		err = idx.IndexDocument(doc, seqID, GetPoints(doc, idx.Schema()), false)
	})
	if err != nil {
		t.Fatalf("indexing: %v", err)
	}
}

func TestIndexedTokensHaveOffsets(t *testing.T) {
	idx := New("coll", testSchema())
	defer idx.Close()
	go idx.Run()

	doc := schema.Document{
		"title":  "the quick brown fox the end",
		"points": float64(10),
		"tags":   []any{"red panda", "fox"},
	}
	indexDoc(t, idx, doc, 1)

	idx.Do(func() {
		tree := idx.SearchTree("title")
		for term, wantPositions := range map[string][]uint32{
			"the":   {0, 4},
			"quick": {1},
			"fox":   {3},
		} {
			leaf := tree.Search([]byte(term))
			if leaf == nil {
				t.Errorf("token %q not indexed", term)
				continue
			}
			pos := leaf.Posting.IndexOf(1)
			if pos == leaf.Posting.Len() {
				t.Errorf("token %q has no posting for doc", term)
				continue
			}
			offs := leaf.Posting.OffsetsAt(pos)
			if len(offs) != len(wantPositions) {
				t.Errorf("token %q offsets = %v, want %v", term, offs, wantPositions)
				continue
			}
			for i := range wantPositions {
				if offs[i] != wantPositions[i] {
					t.Errorf("token %q offsets = %v, want %v", term, offs, wantPositions)
				}
			}
		}

		if v, ok := idx.SortValue("points", 1); !ok || v != 10 {
			t.Errorf("sort value = %d present=%v, want 10", v, ok)
		}
	})
}

func TestArrayFacetSentinels(t *testing.T) {
	idx := New("coll", testSchema())
	defer idx.Close()
	go idx.Run()

	doc := schema.Document{
		"title":  "x",
		"points": float64(1),
		"tags":   []any{"red panda", "fox"},
	}
	indexDoc(t, idx, doc, 1)

	idx.Do(func() {
		entry := idx.FacetEntry(1)
		if entry == nil {
			t.Error("facet entry missing")
			return
		}
		ord, _ := idx.FacetOrdinal("tags")
		hashes := entry[ord]

		sentinels := 0
		for _, h := range hashes {
			if h == uint64(FacetArrayDelimiter) {
				sentinels++
			}
		}
		if sentinels != 2 {
			t.Errorf("sentinel count = %d, want array length 2", sentinels)
		}
	})
}

func TestRemoveDocumentPurgesEverything(t *testing.T) {
	idx := New("coll", testSchema())
	defer idx.Close()
	go idx.Run()

	doc := schema.Document{
		"title":  "solitary token",
		"points": float64(5),
		"tags":   []any{"a"},
	}
	indexDoc(t, idx, doc, 7)

	idx.Do(func() {
		idx.RemoveDocument(7, doc, false)
	})
	idx.Do(func() {
		if idx.SearchTree("title").Search([]byte("solitary")) != nil {
			t.Error("token leaf survived deletion")
		}
		if _, ok := idx.SortValue("points", 7); ok {
			t.Error("sort entry survived deletion")
		}
		if idx.FacetEntry(7) != nil {
			t.Error("facet entry survived deletion")
		}
		if got := idx.NumTree("points").Search(numtree.Equals, 5); len(got) != 0 {
			t.Errorf("numeric entry survived deletion: %v", got)
		}
		if idx.NumDocuments() != 0 {
			t.Errorf("num documents = %d", idx.NumDocuments())
		}
	})
}

func TestScrubReindexDocSkipsUnchanged(t *testing.T) {
	idx := New("coll", testSchema())
	defer idx.Close()
	go idx.Run()

	oldDoc := schema.Document{"title": "same words", "points": float64(1), "tags": []any{"a"}}
	updateDoc := schema.Document{"title": "same words", "points": float64(99)}
	delDoc := schema.Document{"title": "same words", "points": float64(1)}

	idx.Do(func() {
		idx.ScrubReindexDoc(updateDoc, delDoc, oldDoc)
	})
	if _, kept := updateDoc["title"]; kept {
		t.Error("unchanged title should be scrubbed from the update")
	}
	if _, kept := updateDoc["points"]; !kept {
		t.Error("changed points must survive the scrub")
	}
}

func TestFacetTokenHashStability(t *testing.T) {
	f := schema.Field{Name: "tags", Type: schema.TypeString, Facet: true}
	if FacetTokenHash(f, "red") != FacetTokenHash(f, "red") {
		t.Fatal("string hash must be stable")
	}
	intField := schema.Field{Name: "points", Type: schema.TypeInt32, Facet: true}
	if FacetTokenHash(intField, "42") != 42 {
		t.Fatal("numeric facet hash must be the identity")
	}
	boolField := schema.Field{Name: "ok", Type: schema.TypeBool, Facet: true}
	if FacetTokenHash(boolField, "1") != 1 || FacetTokenHash(boolField, "0") != 0 {
		t.Fatal("bool facet hash must be the identity")
	}
}

func TestTokensMatchHelper(t *testing.T) {
	if !tokensMatch([]string{"Quick Fox"}, []string{"quick   fox"}) {
		t.Fatal("tokenisation-equal values must match")
	}
	if tokensMatch([]string{"quick fox"}, []string{"quick cat"}) {
		t.Fatal("different tokens must not match")
	}
}

package collection

import (
	"strings"
	"testing"

	"github.com/voldyman/typesense/internal/schema"
	"github.com/voldyman/typesense/internal/store"
	"github.com/voldyman/typesense/pkg/errors"
)

func testSchema() schema.Schema {
	return schema.Schema{
		Fields: []schema.Field{
			{Name: "title", Type: schema.TypeString},
			{Name: "points", Type: schema.TypeInt32},
			{Name: "tags", Type: schema.TypeStringArray, Facet: true},
		},
		DefaultSortField: "points",
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	m, err := NewManager(st)
	if err != nil {
		t.Fatalf("creating manager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func newTestCollection(t *testing.T) *Collection {
	t.Helper()
	m := newTestManager(t)
	c, err := m.Create("books", testSchema())
	if err != nil {
		t.Fatalf("creating collection: %v", err)
	}
	return c
}

func mustAdd(t *testing.T, c *Collection, doc schema.Document) {
	t.Helper()
	if _, err := c.Add(doc, ModeCreate); err != nil {
		t.Fatalf("adding %v: %v", doc["id"], err)
	}
}

func seedScenarioDocs(t *testing.T, c *Collection) {
	t.Helper()
	mustAdd(t, c, schema.Document{
		"id": "1", "title": "The quick brown fox", "points": float64(10),
		"tags": []any{"a", "b"},
	})
	mustAdd(t, c, schema.Document{
		"id": "2", "title": "State Trooper", "points": float64(5),
		"tags": []any{"c"},
	})
	mustAdd(t, c, schema.Document{
		"id": "3", "title": "Down There by the Train", "points": float64(7),
		"tags": []any{"c"},
	})
}

func hitIDs(res *SearchResult) []string {
	out := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, _ := h.Document["id"].(string)
		out = append(out, id)
	}
	return out
}

func assertIDs(t *testing.T, res *SearchResult, want ...string) {
	t.Helper()
	got := hitIDs(res)
	if len(got) != len(want) {
		t.Fatalf("hits = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("hits = %v, want %v", got, want)
		}
	}
}

func TestTypoSearchWithHighlight(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	res, err := c.Search(SearchParams{Q: "quik", NumTypos: 1, QueryBy: []string{"title"}})
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, res, "1")

	if len(res.Hits[0].Highlights) == 0 {
		t.Fatal("expected a highlight")
	}
	hl := res.Hits[0].Highlights[0]
	if hl.Field != "title" {
		t.Fatalf("highlight field = %s", hl.Field)
	}
	if !strings.Contains(hl.Snippet, "<mark>quick</mark>") {
		t.Fatalf("snippet = %q", hl.Snippet)
	}
	if len(hl.MatchedTokens) != 1 || hl.MatchedTokens[0] != "quick" {
		t.Fatalf("matched tokens = %v", hl.MatchedTokens)
	}
}

func TestPartialTokenMatchesRankByFewerDrops(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	res, err := c.Search(SearchParams{Q: "trooper train", QueryBy: []string{"title"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Found != 2 {
		t.Fatalf("found = %d, want 2", res.Found)
	}
	assertIDs(t, res, "2", "3")
}

func TestWildcardWithFilterAndSort(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	res, err := c.Search(SearchParams{
		Q:        "*",
		QueryBy:  []string{"title"},
		FilterBy: "points:>=7",
		SortBy:   []string{"points:DESC"},
	})
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, res, "1", "3")
}

func TestExcludeToken(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	res, err := c.Search(SearchParams{Q: "-trooper", QueryBy: []string{"title"}})
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, res, "1", "3")
}

func TestUpdateChangesSortOrder(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	if _, err := c.Add(schema.Document{"id": "1", "points": float64(100)}, ModeUpdate); err != nil {
		t.Fatal(err)
	}

	res, err := c.Search(SearchParams{
		Q:       "*",
		QueryBy: []string{"title"},
		SortBy:  []string{"points:DESC"},
	})
	if err != nil {
		t.Fatal(err)
	}
	ids := hitIDs(res)
	if len(ids) == 0 || ids[0] != "1" {
		t.Fatalf("hits = %v, want id 1 first", ids)
	}

	doc, err := c.Get("1")
	if err != nil {
		t.Fatal(err)
	}
	if doc["points"].(float64) != 100 {
		t.Fatalf("points = %v after update", doc["points"])
	}
	if doc["title"].(string) != "The quick brown fox" {
		t.Fatalf("title lost in update: %v", doc["title"])
	}
}

func TestDuplicateCreateConflicts(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	_, err := c.Add(schema.Document{
		"id": "1", "title": "imposter", "points": float64(1), "tags": []any{},
	}, ModeCreate)
	if err == nil {
		t.Fatal("expected conflict")
	}
	if errors.HTTPStatusCode(err) != 409 {
		t.Fatalf("status = %d, want 409", errors.HTTPStatusCode(err))
	}
}

func TestAddGetRoundTrip(t *testing.T) {
	c := newTestCollection(t)
	doc := schema.Document{
		"id": "42", "title": "Round Trip", "points": float64(3),
		"tags": []any{"x", "y"},
	}
	mustAdd(t, c, doc)

	got, err := c.Get("42")
	if err != nil {
		t.Fatal(err)
	}
	if got["title"] != "Round Trip" || got["points"].(float64) != 3 {
		t.Fatalf("got = %v", got)
	}
	tags := got["tags"].([]any)
	if len(tags) != 2 || tags[0] != "x" {
		t.Fatalf("tags = %v", tags)
	}
}

func TestRemovePurgesSearch(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	if _, err := c.Remove("2"); err != nil {
		t.Fatal(err)
	}
	res, err := c.Search(SearchParams{Q: "trooper", QueryBy: []string{"title"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Found != 0 || len(res.Hits) != 0 {
		t.Fatalf("removed document still matches: %v", hitIDs(res))
	}
	if _, err := c.Get("2"); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("get after remove = %v", err)
	}
}

func TestRemoveIfFound(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	removed, err := c.RemoveIfFound(0)
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("seq 0 should be the first document")
	}
	removed, err = c.RemoveIfFound(999)
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Fatal("unknown seq id must not remove")
	}
}

func TestUpsertIdempotence(t *testing.T) {
	c := newTestCollection(t)
	doc := schema.Document{
		"id": "9", "title": "Steady State", "points": float64(4), "tags": []any{"z"},
	}
	if _, err := c.Add(doc, ModeUpsert); err != nil {
		t.Fatal(err)
	}
	again := schema.Document{
		"id": "9", "title": "Steady State", "points": float64(4), "tags": []any{"z"},
	}
	if _, err := c.Add(again, ModeUpsert); err != nil {
		t.Fatal(err)
	}

	if n := c.NumDocuments(); n != 1 {
		t.Fatalf("num documents = %d, want 1", n)
	}
	res, err := c.Search(SearchParams{Q: "steady", QueryBy: []string{"title"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Found != 1 {
		t.Fatalf("found = %d, want 1", res.Found)
	}
}

func TestPerPageCeiling(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	_, err := c.Search(SearchParams{Q: "*", QueryBy: []string{"title"}, PerPage: 251})
	if err == nil {
		t.Fatal("expected capacity error")
	}
	if errors.HTTPStatusCode(err) != 422 {
		t.Fatalf("status = %d, want 422", errors.HTTPStatusCode(err))
	}
}

func TestBadPage(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	_, err := c.Search(SearchParams{Q: "*", QueryBy: []string{"title"}, Page: -1})
	if err == nil || !errors.Is(err, errors.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestSingleCharTokenOnlyExact(t *testing.T) {
	c := newTestCollection(t)
	mustAdd(t, c, schema.Document{
		"id": "1", "title": "a borderline case", "points": float64(1), "tags": []any{},
	})
	mustAdd(t, c, schema.Document{
		"id": "2", "title": "b side", "points": float64(2), "tags": []any{},
	})

	res, err := c.Search(SearchParams{Q: "a", NumTypos: 2, QueryBy: []string{"title"}})
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, res, "1")
}

func TestUnknownSearchField(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	_, err := c.Search(SearchParams{Q: "x", QueryBy: []string{"missing"}})
	if err == nil || !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("err = %v, want not-found", err)
	}

	_, err = c.Search(SearchParams{Q: "x", QueryBy: []string{"points"}})
	if err == nil || !errors.Is(err, errors.ErrValidation) {
		t.Fatalf("err = %v, want validation for non-string field", err)
	}
}

func TestEmptyQueryFails(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	_, err := c.Search(SearchParams{Q: "", QueryBy: []string{"title"}})
	if err == nil || !errors.Is(err, errors.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestFacetCounts(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	res, err := c.Search(SearchParams{
		Q:       "*",
		QueryBy: []string{"title"},
		FacetBy: []string{"tags"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.FacetCounts) != 1 {
		t.Fatalf("facet results = %d", len(res.FacetCounts))
	}
	counts := map[string]int{}
	for _, v := range res.FacetCounts[0].Counts {
		counts[v.Value] = v.Count
	}
	if counts["c"] != 2 || counts["a"] != 1 || counts["b"] != 1 {
		t.Fatalf("facet counts = %v", counts)
	}
}

func TestFacetQueryPrefixRefinement(t *testing.T) {
	c := newTestCollection(t)
	mustAdd(t, c, schema.Document{
		"id": "1", "title": "x", "points": float64(1),
		"tags": []any{"action", "adventure"},
	})
	mustAdd(t, c, schema.Document{
		"id": "2", "title": "y", "points": float64(2),
		"tags": []any{"drama"},
	})

	res, err := c.Search(SearchParams{
		Q:          "*",
		QueryBy:    []string{"title"},
		FacetBy:    []string{"tags"},
		FacetQuery: "tags:ac",
	})
	if err != nil {
		t.Fatal(err)
	}
	values := res.FacetCounts[0].Counts
	if len(values) != 1 || values[0].Value != "action" {
		t.Fatalf("facet query values = %v", values)
	}
	if !strings.Contains(values[0].Highlighted, "<mark>") {
		t.Fatalf("highlighted = %q", values[0].Highlighted)
	}
}

func TestGroupBy(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	res, err := c.Search(SearchParams{
		Q:          "*",
		QueryBy:    []string{"title"},
		GroupBy:    []string{"tags"},
		GroupLimit: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.GroupedHits) == 0 {
		t.Fatal("expected grouped hits")
	}
	// docs 2 and 3 share tag "c" and must collapse into one group
	for _, g := range res.GroupedHits {
		ids := map[string]bool{}
		for _, h := range g.Hits {
			ids[h.Document["id"].(string)] = true
		}
		if ids["2"] && !ids["3"] || ids["3"] && !ids["2"] {
			t.Fatalf("docs 2 and 3 should group together: %v", ids)
		}
	}
}

func TestPinnedAndHiddenHits(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	res, err := c.Search(SearchParams{
		Q:          "*",
		QueryBy:    []string{"title"},
		SortBy:     []string{"points:DESC"},
		PinnedHits: "2:1",
		HiddenHits: "3",
	})
	if err != nil {
		t.Fatal(err)
	}
	ids := hitIDs(res)
	if len(ids) != 2 || ids[0] != "2" || ids[1] != "1" {
		t.Fatalf("hits = %v, want [2 1]", ids)
	}
	if !res.Hits[0].Curated {
		t.Fatal("pinned hit must be marked curated")
	}
}

func TestIncludeExcludeFields(t *testing.T) {
	c := newTestCollection(t)
	seedScenarioDocs(t, c)

	res, err := c.Search(SearchParams{
		Q:             "quick",
		QueryBy:       []string{"title"},
		IncludeFields: []string{"title"},
	})
	if err != nil {
		t.Fatal(err)
	}
	doc := res.Hits[0].Document
	if _, ok := doc["points"]; ok {
		t.Fatalf("points should be projected away: %v", doc)
	}
	if _, ok := doc["id"]; !ok {
		t.Fatal("id must survive projection")
	}

	res, err = c.Search(SearchParams{
		Q:             "quick",
		QueryBy:       []string{"title"},
		ExcludeFields: []string{"tags"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Hits[0].Document["tags"]; ok {
		t.Fatal("tags should be excluded")
	}
}

func TestAddManyReportsPerRecordOutcomes(t *testing.T) {
	c := newTestCollection(t)
	docs := []schema.Document{
		{"id": "1", "title": "ok one", "points": float64(1), "tags": []any{}},
		{"id": "1", "title": "dup", "points": float64(2), "tags": []any{}},
		{"id": "3", "title": "ok two", "points": float64(3), "tags": []any{}},
	}
	results := c.AddMany(docs, ModeCreate)
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("good records failed: %v %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Fatal("duplicate record must fail")
	}
	if c.NumDocuments() != 2 {
		t.Fatalf("num documents = %d, want 2", c.NumDocuments())
	}
}

func TestExactStringFilter(t *testing.T) {
	c := newTestCollection(t)
	mustAdd(t, c, schema.Document{
		"id": "1", "title": "x", "points": float64(1), "tags": []any{"science fiction"},
	})
	mustAdd(t, c, schema.Document{
		"id": "2", "title": "y", "points": float64(2), "tags": []any{"science fiction extended"},
	})

	res, err := c.Search(SearchParams{
		Q:        "*",
		QueryBy:  []string{"title"},
		FilterBy: "tags:= science fiction",
	})
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, res, "1")

	// contains-match accepts the superstring value too
	res, err = c.Search(SearchParams{
		Q:        "*",
		QueryBy:  []string{"title"},
		FilterBy: "tags: science fiction",
		SortBy:   []string{"points:DESC"},
	})
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, res, "2", "1")
}

func TestManagerLifecycle(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Create("one", testSchema()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create("one", testSchema()); !errors.Is(err, errors.ErrCollectionExists) {
		t.Fatalf("duplicate create = %v", err)
	}
	if _, err := m.Get("one"); err != nil {
		t.Fatal(err)
	}
	if len(m.List()) != 1 {
		t.Fatalf("list = %v", m.List())
	}
	if err := m.Drop("one"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get("one"); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("get after drop = %v", err)
	}
	if err := m.Drop("one"); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("double drop = %v", err)
	}
}

func TestCollectionRebuildFromStore(t *testing.T) {
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	m1, err := NewManager(st)
	if err != nil {
		t.Fatal(err)
	}
	c, err := m1.Create("books", testSchema())
	if err != nil {
		t.Fatal(err)
	}
	mustAdd(t, c, schema.Document{
		"id": "1", "title": "persistent fox", "points": float64(10), "tags": []any{"a"},
	})
	m1.Close()

	m2, err := NewManager(st)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m2.Close)

	c2, err := m2.Get("books")
	if err != nil {
		t.Fatal(err)
	}
	res, err := c2.Search(SearchParams{Q: "fox", QueryBy: []string{"title"}})
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, res, "1")
}

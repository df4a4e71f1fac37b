package parser

import (
	"testing"

	"github.com/voldyman/typesense/internal/schema"
	"github.com/voldyman/typesense/pkg/errors"
)

func testSchema() schema.Schema {
	return schema.Schema{
		Fields: []schema.Field{
			{Name: "title", Type: schema.TypeString},
			{Name: "tags", Type: schema.TypeStringArray, Facet: true},
			{Name: "points", Type: schema.TypeInt32},
			{Name: "rating", Type: schema.TypeFloat, Optional: true},
		},
		DefaultSortField: "points",
	}
}

func TestParseQuery(t *testing.T) {
	q := ParseQuery("quick -trooper Brown")
	if len(q.IncludeTokens) != 2 || q.IncludeTokens[0] != "quick" || q.IncludeTokens[1] != "brown" {
		t.Fatalf("include = %v", q.IncludeTokens)
	}
	if len(q.ExcludeTokens) != 1 || q.ExcludeTokens[0] != "trooper" {
		t.Fatalf("exclude = %v", q.ExcludeTokens)
	}

	if !ParseQuery("*").Wildcard {
		t.Fatal("* must parse as wildcard")
	}
	if ParseQuery("star *").Wildcard {
		t.Fatal("embedded * is not a wildcard")
	}
}

func TestParseFilterNumeric(t *testing.T) {
	filters, err := ParseFilter("points:>=7", testSchema())
	if err != nil {
		t.Fatal(err)
	}
	if len(filters) != 1 {
		t.Fatalf("filters = %v", filters)
	}
	f := filters[0]
	if f.Field != "points" || f.Comparator != GreaterThanEquals || f.Values[0] != "7" {
		t.Fatalf("filter = %+v", f)
	}
}

func TestParseFilterConjunctionAndList(t *testing.T) {
	filters, err := ParseFilter("points:<100 && tags:= [alpha, beta]", testSchema())
	if err != nil {
		t.Fatal(err)
	}
	if len(filters) != 2 {
		t.Fatalf("filters = %v", filters)
	}
	if filters[0].Comparator != LessThan {
		t.Fatalf("first = %+v", filters[0])
	}
	second := filters[1]
	if second.Comparator != ExactMatch || len(second.Values) != 2 || second.Values[1] != "beta" {
		t.Fatalf("second = %+v", second)
	}
}

func TestParseFilterUnknownField(t *testing.T) {
	_, err := ParseFilter("missing:7", testSchema())
	if err == nil || !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("err = %v, want not-found", err)
	}
}

func TestParseFilterStringComparatorRejected(t *testing.T) {
	_, err := ParseFilter("title:>abc", testSchema())
	if err == nil || !errors.Is(err, errors.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestParseSort(t *testing.T) {
	sorts, err := ParseSort([]string{"points:DESC", "_text_match:ASC"}, testSchema())
	if err != nil {
		t.Fatal(err)
	}
	if len(sorts) != 2 {
		t.Fatalf("sorts = %v", sorts)
	}
	if sorts[0].Field != "points" || sorts[0].Ascending {
		t.Fatalf("first = %+v", sorts[0])
	}
	if sorts[1].Field != TextMatchField || !sorts[1].Ascending {
		t.Fatalf("second = %+v", sorts[1])
	}
}

func TestParseSortRejectsTooMany(t *testing.T) {
	_, err := ParseSort([]string{"points:DESC", "points:ASC", "points:DESC", "points:ASC"}, testSchema())
	if err == nil {
		t.Fatal("expected error for 4 sort fields")
	}
}

func TestParseSortRejectsOptionalField(t *testing.T) {
	_, err := ParseSort([]string{"rating:DESC"}, testSchema())
	if err == nil || !errors.Is(err, errors.ErrCapacity) {
		t.Fatalf("err = %v, want capacity", err)
	}
}

func TestParseSortRejectsStringField(t *testing.T) {
	_, err := ParseSort([]string{"title:DESC"}, testSchema())
	if err == nil || !errors.Is(err, errors.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

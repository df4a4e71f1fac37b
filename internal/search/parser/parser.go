// Package parser turns the textual query surface (the q string, the
// filter_by and sort_by grammars) into typed structures consumed by the
// executor.
package parser

import (
	"strings"

	"github.com/voldyman/typesense/internal/index/tokenizer"
	"github.com/voldyman/typesense/internal/schema"
	"github.com/voldyman/typesense/pkg/errors"
)

// Comparator is a filter predicate.
type Comparator int

const (
	Contains Comparator = iota
	ExactMatch
	Equals
	NotEquals
	GreaterThan
	GreaterThanEquals
	LessThan
	LessThanEquals
)

// Filter is one parsed filter clause: conjunctive across clauses, disjunctive
// across a clause's values.
type Filter struct {
	Field      string
	Comparator Comparator
	Values     []string
}

// TextMatchField is the synthetic sort field denoting the match score.
const TextMatchField = "_text_match"

// SortBy is one parsed sort criterion.
type SortBy struct {
	Field     string
	Ascending bool
}

// Query is the parsed q string.
type Query struct {
	IncludeTokens []string
	ExcludeTokens []string
	Wildcard      bool
}

// ParseQuery splits q into normalised include and exclude tokens. Tokens
// prefixed with '-' are excluded. A lone "*" selects every document.
func ParseQuery(q string) Query {
	q = strings.TrimSpace(q)
	if q == "*" {
		return Query{Wildcard: true, IncludeTokens: []string{"*"}}
	}
	var parsed Query
	for _, word := range strings.Fields(q) {
		if strings.HasPrefix(word, "-") && len(word) > 1 {
			parsed.ExcludeTokens = append(parsed.ExcludeTokens, tokenizer.Terms(word[1:])...)
			continue
		}
		parsed.IncludeTokens = append(parsed.IncludeTokens, tokenizer.Terms(word)...)
	}
	return parsed
}

// ParseFilter parses the filter_by grammar: clauses joined with "&&", each
// `field:op value` or `field:op [v1, v2]` with op in {=, :=, >, >=, <, <=, !=}
// (a bare ":" means contains for strings, equals for numerics).
func ParseFilter(raw string, s schema.Schema) ([]Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var filters []Filter
	for _, clause := range strings.Split(raw, "&&") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		colon := strings.Index(clause, ":")
		if colon < 0 {
			return nil, errors.Validation("filter clause %q must be of the form field:value", clause)
		}
		fieldName := strings.TrimSpace(clause[:colon])
		rest := strings.TrimSpace(clause[colon+1:])

		f, ok := s.FieldByName(fieldName)
		if !ok {
			return nil, errors.NotFound("could not find a filter field named %s in the schema", fieldName)
		}

		cmp := Contains
		switch {
		case strings.HasPrefix(rest, "="):
			cmp = ExactMatch
			rest = strings.TrimSpace(rest[1:])
		case strings.HasPrefix(rest, ">="):
			cmp = GreaterThanEquals
			rest = strings.TrimSpace(rest[2:])
		case strings.HasPrefix(rest, "<="):
			cmp = LessThanEquals
			rest = strings.TrimSpace(rest[2:])
		case strings.HasPrefix(rest, ">"):
			cmp = GreaterThan
			rest = strings.TrimSpace(rest[1:])
		case strings.HasPrefix(rest, "<"):
			cmp = LessThan
			rest = strings.TrimSpace(rest[1:])
		case strings.HasPrefix(rest, "!="):
			cmp = NotEquals
			rest = strings.TrimSpace(rest[2:])
		}
		if f.IsNumerical() {
			switch cmp {
			case Contains, ExactMatch:
				cmp = Equals
			}
		} else if f.IsString() {
			switch cmp {
			case GreaterThan, GreaterThanEquals, LessThan, LessThanEquals:
				return nil, errors.Validation("numeric comparator used on the string field %s", fieldName)
			}
		}

		var values []string
		if strings.HasPrefix(rest, "[") && strings.HasSuffix(rest, "]") {
			inner := rest[1 : len(rest)-1]
			for _, v := range strings.Split(inner, ",") {
				v = strings.TrimSpace(v)
				if v != "" {
					values = append(values, v)
				}
			}
		} else if rest != "" {
			values = append(values, rest)
		}
		if len(values) == 0 {
			return nil, errors.Validation("filter on field %s has no value", fieldName)
		}
		filters = append(filters, Filter{Field: fieldName, Comparator: cmp, Values: values})
	}
	return filters, nil
}

// ParseSort parses up to three `field:ASC|DESC` criteria. The synthetic
// `_text_match` field denotes the computed match score.
func ParseSort(entries []string, s schema.Schema) ([]SortBy, error) {
	if len(entries) > 3 {
		return nil, errors.Validation("only up to 3 sort fields are allowed")
	}
	var sorts []SortBy
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name := entry
		ascending := false
		if colon := strings.LastIndex(entry, ":"); colon >= 0 {
			name = strings.TrimSpace(entry[:colon])
			switch strings.ToUpper(strings.TrimSpace(entry[colon+1:])) {
			case "ASC":
				ascending = true
			case "DESC":
				ascending = false
			default:
				return nil, errors.Validation("sort order of %s must be either ASC or DESC", name)
			}
		}
		if name != TextMatchField {
			f, ok := s.FieldByName(name)
			if !ok {
				return nil, errors.NotFound("could not find a sort field named %s in the schema", name)
			}
			if !f.IsSortable() {
				return nil, errors.Validation("sort field %s must be a scalar numeric field", name)
			}
			if f.Optional {
				return nil, errors.Capacity("cannot sort by optional field %s", name)
			}
		}
		sorts = append(sorts, SortBy{Field: name, Ascending: ascending})
	}
	return sorts, nil
}

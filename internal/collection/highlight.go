package collection

import (
	"sort"
	"strings"

	"github.com/voldyman/typesense/internal/index/tokenizer"
	"github.com/voldyman/typesense/internal/schema"
	"github.com/voldyman/typesense/internal/search/executor"
	"github.com/voldyman/typesense/internal/search/topster"
)

// snippetThreshold is the token count above which a field value is windowed
// down to the matched region instead of highlighted in full.
const snippetThreshold = 30

// highlightDocument renders per-field snippets for a hit, wrapping the
// matched tokens in the configured tags. Only searched string fields with at
// least one matched token produce a highlight.
func (c *Collection) highlightDocument(doc schema.Document, p SearchParams,
	res *executor.Result, kv *topster.KV) []Highlight {

	if int(kv.QueryIndex) >= len(res.SearchedQueries) {
		return nil
	}
	queryTokens := res.SearchedQueries[kv.QueryIndex]
	if len(queryTokens) == 0 {
		return nil
	}
	tokenSet := make(map[string]struct{}, len(queryTokens))
	for _, t := range queryTokens {
		tokenSet[t] = struct{}{}
	}

	fullFields := make(map[string]struct{}, len(p.HighlightFullFields))
	for _, f := range p.HighlightFullFields {
		fullFields[f] = struct{}{}
	}

	var highlights []Highlight
	for _, fieldName := range p.QueryBy {
		field, ok := c.schema.FieldByName(fieldName)
		if !ok || !field.IsString() {
			continue
		}
		v, present := doc[fieldName]
		if !present {
			continue
		}

		var values []string
		if field.IsArray() {
			arr, ok := v.([]any)
			if !ok {
				continue
			}
			for _, el := range arr {
				if s, ok := el.(string); ok {
					values = append(values, s)
				}
			}
		} else if s, ok := v.(string); ok {
			values = append(values, s)
		}

		best := Highlight{Field: fieldName}
		bestMatches := 0
		for _, value := range values {
			_, fullField := fullFields[fieldName]
			snippet, matched := buildSnippet(value, tokenSet, p, fullField)
			if len(matched) > bestMatches {
				best.Snippet = snippet
				best.MatchedTokens = matched
				bestMatches = len(matched)
			}
		}
		if bestMatches > 0 {
			highlights = append(highlights, best)
		}
	}

	// fields with more matched tokens first
	sort.SliceStable(highlights, func(i, j int) bool {
		return len(highlights[i].MatchedTokens) > len(highlights[j].MatchedTokens)
	})
	return highlights
}

// buildSnippet wraps matched words of value in the highlight tags. Long
// values are windowed to the matched region with the configured number of
// affix tokens on each side, unless the field is highlighted in full.
func buildSnippet(value string, tokenSet map[string]struct{}, p SearchParams, fullField bool) (string, []string) {
	words := strings.Fields(value)
	matchedIdx := make([]int, 0, 4)
	var matchedTokens []string

	for wi, word := range words {
		terms := tokenizer.Terms(word)
		if len(terms) == 0 {
			continue
		}
		if _, ok := tokenSet[terms[0]]; ok {
			matchedIdx = append(matchedIdx, wi)
			matchedTokens = append(matchedTokens, terms[0])
		}
	}
	if len(matchedIdx) == 0 {
		return "", nil
	}

	start, end := 0, len(words)
	if !fullField && len(words) > snippetThreshold {
		start = matchedIdx[0] - p.HighlightAffixNumTokens
		if start < 0 {
			start = 0
		}
		end = matchedIdx[len(matchedIdx)-1] + p.HighlightAffixNumTokens + 1
		if end > len(words) {
			end = len(words)
		}
	}

	out := make([]string, 0, end-start)
	matchSet := make(map[int]struct{}, len(matchedIdx))
	for _, wi := range matchedIdx {
		matchSet[wi] = struct{}{}
	}
	for wi := start; wi < end; wi++ {
		if _, ok := matchSet[wi]; ok {
			out = append(out, p.HighlightStartTag+words[wi]+p.HighlightEndTag)
		} else {
			out = append(out, words[wi])
		}
	}
	return strings.Join(out, " "), matchedTokens
}

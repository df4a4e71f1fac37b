// Package tokenizer provides Unicode-aware text tokenisation for the search
// engine. It lower-cases input, folds common diacritics to ASCII, and splits
// on non-alphanumeric boundaries, emitting tokens with their positional index.
package tokenizer

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Token is a single normalised term and its 0-based position in the source
// field value.
type Token struct {
	Term     string
	Position int
}

// stripMarks removes combining marks after NFD decomposition, folding
// diacritics like é or ñ down to their ASCII base letters.
var stripMarks = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize lower-cases a single term and folds diacritics, without
// splitting. Filter values and facet queries are normalised with this same
// policy so they hash identically to indexed tokens.
func Normalize(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Tokenize breaks text into normalised tokens with positions.
func Tokenize(text string) []Token {
	words := strings.FieldsFunc(Normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words))
	for pos, word := range words {
		tokens = append(tokens, Token{
			Term:     word,
			Position: pos,
		})
	}
	return tokens
}

// Terms returns just the token strings of Tokenize(text).
func Terms(text string) []string {
	tokens := Tokenize(text)
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}

// CanonicalString renders a non-string facet value in its canonical string
// form so numeric and bool facet values share the token hashing scheme.
func CanonicalString(v any) string {
	switch val := v.(type) {
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case string:
		return val
	default:
		return ""
	}
}

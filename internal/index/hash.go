package index

import (
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/voldyman/typesense/internal/schema"
)

// FacetArrayDelimiter separates array elements inside a facet hash vector.
const FacetArrayDelimiter = math.MaxUint64

// FloatToInt64 maps a float64 to an int64 that preserves numeric ordering:
// reinterpret the bits, then flip all non-sign bits when negative. The
// transform is reproduced bit-exactly so range queries and sorting agree with
// floating-point order everywhere the encoded value travels.
func FloatToInt64(f float64) int64 {
	i := int64(math.Float64bits(f))
	if i < 0 {
		i ^= math.MaxInt64
	}
	return i
}

// HashCombine folds hash into combined, order-sensitively.
func HashCombine(combined, hash uint64) uint64 {
	combined ^= hash + 0x517cc1b727220a95 + (combined << 6) + (combined >> 2)
	return combined
}

// FacetTokenHash hashes one facet token. The hash is the identity for
// numeric and bool fields (the raw encoded value) and a stable 64-bit string
// hash otherwise.
func FacetTokenHash(f schema.Field, token string) uint64 {
	switch {
	case f.IsInteger():
		v, err := parseInt64(token)
		if err != nil {
			return 0
		}
		return uint64(v)
	case f.IsFloat():
		v, err := parseFloat64(token)
		if err != nil {
			return 0
		}
		return math.Float64bits(v)
	case f.IsBool():
		if token == "1" || token == "true" {
			return 1
		}
		return 0
	default:
		return xxhash.Sum64String(token)
	}
}

// CombineFacetValue folds per-token hashes of one facet value into a single
// order-sensitive hash, matching the scheme used by facet counting and exact
// string filtering.
func CombineFacetValue(combined, tokenHash uint64, tokenIndex int) uint64 {
	return combined * (1779033703 + 2*tokenHash*uint64(tokenIndex+1))
}

// Package posting implements the per-token posting container: a sorted
// sequence-id list with a parallel offset structure recording each document's
// token positions.
//
// Array fields use the trailing-marker offset convention: within a document's
// offset slice, each array element's positions are followed by a repeat of the
// last position and then the element's array index. Positions within one
// element are strictly increasing, so the repeat is unambiguous.
package posting

import (
	"sort"
)

// List stores, for one token, the sorted document sequence-ids together with
// every document's token offsets. offsetIndex[i] is the starting position of
// document i's offsets in the flat offsets slice.
type List struct {
	ids         []uint32
	offsetIndex []uint32
	offsets     []uint32
	maxScore    int64
}

// New returns an empty posting list.
func New() *List {
	return &List{}
}

// Len returns the number of documents in the list.
func (l *List) Len() int {
	return len(l.ids)
}

// MaxScore returns the highest document score observed on insert. It is used
// to rank fuzzy candidates by score.
func (l *List) MaxScore() int64 {
	return l.maxScore
}

// Insert adds seq-id with its token offsets, keeping ids sorted. Re-inserting
// an existing id replaces its offsets.
func (l *List) Insert(seqID uint32, score int64, offsets []uint32) {
	if len(l.ids) == 0 || seqID > l.ids[len(l.ids)-1] {
		// common case: sequence ids arrive in increasing order
		l.ids = append(l.ids, seqID)
		l.offsetIndex = append(l.offsetIndex, uint32(len(l.offsets)))
		l.offsets = append(l.offsets, offsets...)
	} else {
		pos := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= seqID })
		if pos < len(l.ids) && l.ids[pos] == seqID {
			l.Remove(seqID)
			l.Insert(seqID, score, offsets)
			return
		}
		start := l.offsetIndexAt(pos)
		l.ids = append(l.ids, 0)
		copy(l.ids[pos+1:], l.ids[pos:])
		l.ids[pos] = seqID

		l.offsets = append(l.offsets, make([]uint32, len(offsets))...)
		copy(l.offsets[int(start)+len(offsets):], l.offsets[start:])
		copy(l.offsets[start:], offsets)

		l.offsetIndex = append(l.offsetIndex, 0)
		copy(l.offsetIndex[pos+1:], l.offsetIndex[pos:])
		l.offsetIndex[pos] = start
		for i := pos + 1; i < len(l.offsetIndex); i++ {
			l.offsetIndex[i] += uint32(len(offsets))
		}
	}
	if score > l.maxScore || len(l.ids) == 1 {
		l.maxScore = score
	}
}

// offsetIndexAt returns the offset start for the document that would sit at
// position pos, treating positions past the end as the offsets length.
func (l *List) offsetIndexAt(pos int) uint32 {
	if pos >= len(l.offsetIndex) {
		return uint32(len(l.offsets))
	}
	return l.offsetIndex[pos]
}

// Remove splices out seq-id along with its offsets, shifting later
// offset-index entries down. It reports whether the id was present.
func (l *List) Remove(seqID uint32) bool {
	pos := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= seqID })
	if pos >= len(l.ids) || l.ids[pos] != seqID {
		return false
	}
	start := l.offsetIndex[pos]
	end := l.offsetIndexAt(pos + 1)
	removed := end - start

	l.ids = append(l.ids[:pos], l.ids[pos+1:]...)
	l.offsets = append(l.offsets[:start], l.offsets[end:]...)
	l.offsetIndex = append(l.offsetIndex[:pos], l.offsetIndex[pos+1:]...)
	for i := pos; i < len(l.offsetIndex); i++ {
		l.offsetIndex[i] -= removed
	}
	return true
}

// IndexOf returns the position of seq-id in the list, or Len() when absent.
func (l *List) IndexOf(seqID uint32) int {
	pos := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= seqID })
	if pos < len(l.ids) && l.ids[pos] == seqID {
		return pos
	}
	return len(l.ids)
}

// IndicesOf writes, for each element of the sorted probe slice, its position
// in this list (or Len() when absent) into indices. Both slices must have the
// same length.
func (l *List) IndicesOf(probe []uint32, indices []int) {
	cursor := 0
	for i, id := range probe {
		for cursor < len(l.ids) && l.ids[cursor] < id {
			cursor++
		}
		if cursor < len(l.ids) && l.ids[cursor] == id {
			indices[i] = cursor
		} else {
			indices[i] = len(l.ids)
		}
	}
}

// Contains reports whether seq-id is present.
func (l *List) Contains(seqID uint32) bool {
	return l.IndexOf(seqID) != len(l.ids)
}

// OffsetsAt returns the offsets slice for the document at position pos. The
// returned slice aliases the container and must not be mutated.
func (l *List) OffsetsAt(pos int) []uint32 {
	if pos < 0 || pos >= len(l.ids) {
		return nil
	}
	start := l.offsetIndex[pos]
	end := l.offsetIndexAt(pos + 1)
	return l.offsets[start:end]
}

// Uncompress returns a copy of the contiguous sequence-id slice for bulk set
// operations.
func (l *List) Uncompress() []uint32 {
	out := make([]uint32, len(l.ids))
	copy(out, l.ids)
	return out
}

// Intersect merges two sorted id lists, preserving order.
func Intersect(a, b []uint32) []uint32 {
	out := make([]uint32, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// Union merges two sorted id lists into one sorted, de-duplicated list.
func Union(a, b []uint32) []uint32 {
	out := make([]uint32, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// Exclude returns the elements of a that are not present in b. Both inputs
// must be sorted.
func Exclude(a, b []uint32) []uint32 {
	out := make([]uint32, 0, len(a))
	j := 0
	for _, id := range a {
		for j < len(b) && b[j] < id {
			j++
		}
		if j < len(b) && b[j] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

// checkInvariants verifies the container contract; used by tests.
func (l *List) checkInvariants() bool {
	if len(l.ids) != len(l.offsetIndex) {
		return false
	}
	for i := 1; i < len(l.ids); i++ {
		if l.ids[i-1] >= l.ids[i] {
			return false
		}
		if l.offsetIndex[i-1] > l.offsetIndex[i] {
			return false
		}
	}
	if len(l.offsetIndex) > 0 && int(l.offsetIndex[len(l.offsetIndex)-1]) > len(l.offsets) {
		return false
	}
	return true
}

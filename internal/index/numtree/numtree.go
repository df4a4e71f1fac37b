// Package numtree implements the ordered numeric index: an int64-keyed tree
// mapping each value to the sorted set of document sequence-ids holding it.
// Float values enter through the order-preserving integer transform applied
// upstream, so range semantics match floating-point order.
package numtree

import (
	"sort"

	"github.com/google/btree"

	"github.com/voldyman/typesense/internal/index/posting"
)

// Comparator selects the range predicate for Search.
type Comparator int

const (
	LessThan Comparator = iota
	LessThanEquals
	Equals
	GreaterThanEquals
	GreaterThan
	NotEquals
)

type item struct {
	key uint64 // sign-flipped int64 so btree ordering matches numeric order
	ids []uint32
}

func lessItem(a, b item) bool {
	return a.key < b.key
}

// flip maps int64 to uint64 preserving order.
func flip(v int64) uint64 {
	return uint64(v) ^ (1 << 63)
}

// Tree is the ordered numeric index for one field.
type Tree struct {
	bt *btree.BTreeG[item]
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{bt: btree.NewG[item](16, lessItem)}
}

// Insert records seq-id under value.
func (t *Tree) Insert(value int64, seqID uint32) {
	k := flip(value)
	existing, ok := t.bt.Get(item{key: k})
	if !ok {
		t.bt.ReplaceOrInsert(item{key: k, ids: []uint32{seqID}})
		return
	}
	pos := sort.Search(len(existing.ids), func(i int) bool { return existing.ids[i] >= seqID })
	if pos < len(existing.ids) && existing.ids[pos] == seqID {
		return
	}
	existing.ids = append(existing.ids, 0)
	copy(existing.ids[pos+1:], existing.ids[pos:])
	existing.ids[pos] = seqID
	t.bt.ReplaceOrInsert(existing)
}

// Remove deletes seq-id from under value, dropping the key when empty.
func (t *Tree) Remove(value int64, seqID uint32) {
	k := flip(value)
	existing, ok := t.bt.Get(item{key: k})
	if !ok {
		return
	}
	pos := sort.Search(len(existing.ids), func(i int) bool { return existing.ids[i] >= seqID })
	if pos >= len(existing.ids) || existing.ids[pos] != seqID {
		return
	}
	existing.ids = append(existing.ids[:pos], existing.ids[pos+1:]...)
	if len(existing.ids) == 0 {
		t.bt.Delete(item{key: k})
		return
	}
	t.bt.ReplaceOrInsert(existing)
}

// Search returns the sorted sequence-ids matching the comparator against
// value.
func (t *Tree) Search(cmp Comparator, value int64) []uint32 {
	k := flip(value)
	var out []uint32
	switch cmp {
	case Equals:
		if it, ok := t.bt.Get(item{key: k}); ok {
			out = append(out, it.ids...)
		}
	case NotEquals:
		t.bt.Ascend(func(it item) bool {
			if it.key != k {
				out = posting.Union(out, it.ids)
			}
			return true
		})
	case LessThan:
		t.bt.AscendLessThan(item{key: k}, func(it item) bool {
			out = posting.Union(out, it.ids)
			return true
		})
	case LessThanEquals:
		if k == ^uint64(0) {
			t.bt.Ascend(func(it item) bool {
				out = posting.Union(out, it.ids)
				return true
			})
			break
		}
		t.bt.AscendLessThan(item{key: k + 1}, func(it item) bool {
			out = posting.Union(out, it.ids)
			return true
		})
	case GreaterThanEquals:
		t.bt.AscendGreaterOrEqual(item{key: k}, func(it item) bool {
			out = posting.Union(out, it.ids)
			return true
		})
	case GreaterThan:
		if k == ^uint64(0) {
			break
		}
		t.bt.AscendGreaterOrEqual(item{key: k + 1}, func(it item) bool {
			out = posting.Union(out, it.ids)
			return true
		})
	}
	return out
}

// Size returns the number of distinct values indexed.
func (t *Tree) Size() int {
	return t.bt.Len()
}

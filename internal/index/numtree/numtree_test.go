package numtree

import (
	"testing"
)

func buildTree() *Tree {
	t := New()
	t.Insert(-5, 1)
	t.Insert(0, 2)
	t.Insert(7, 3)
	t.Insert(7, 4)
	t.Insert(100, 5)
	return t
}

func ids(t *testing.T, got []uint32, want ...uint32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

func TestComparators(t *testing.T) {
	tree := buildTree()

	ids(t, tree.Search(Equals, 7), 3, 4)
	ids(t, tree.Search(LessThan, 7), 1, 2)
	ids(t, tree.Search(LessThanEquals, 7), 1, 2, 3, 4)
	ids(t, tree.Search(GreaterThan, 7), 5)
	ids(t, tree.Search(GreaterThanEquals, 7), 3, 4, 5)
	ids(t, tree.Search(NotEquals, 7), 1, 2, 5)
	ids(t, tree.Search(Equals, 8))
}

func TestNegativeOrdering(t *testing.T) {
	tree := New()
	tree.Insert(-100, 1)
	tree.Insert(-1, 2)
	tree.Insert(50, 3)

	ids(t, tree.Search(GreaterThan, -50), 2, 3)
	ids(t, tree.Search(LessThanEquals, -1), 1, 2)
}

func TestRemove(t *testing.T) {
	tree := buildTree()
	tree.Remove(7, 3)
	ids(t, tree.Search(Equals, 7), 4)

	tree.Remove(7, 4)
	ids(t, tree.Search(Equals, 7))
	if tree.Size() != 3 {
		t.Fatalf("size = %d, want 3", tree.Size())
	}

	// removing an absent pair is a no-op
	tree.Remove(7, 4)
	tree.Remove(12345, 1)
	if tree.Size() != 3 {
		t.Fatalf("size = %d, want 3", tree.Size())
	}
}

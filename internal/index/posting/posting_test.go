package posting

import (
	"testing"
)

func checkContract(t *testing.T, l *List) {
	t.Helper()
	if !l.checkInvariants() {
		t.Fatalf("posting invariants violated: ids=%v offsetIndex=%v offsets=%v",
			l.ids, l.offsetIndex, l.offsets)
	}
}

func TestInsertKeepsIDsSorted(t *testing.T) {
	l := New()
	l.Insert(5, 50, []uint32{0, 3})
	l.Insert(2, 20, []uint32{1})
	l.Insert(9, 90, []uint32{2, 4, 6})
	l.Insert(7, 70, []uint32{5})
	checkContract(t, l)

	want := []uint32{2, 5, 7, 9}
	got := l.Uncompress()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestOffsetsSurviveOutOfOrderInsert(t *testing.T) {
	l := New()
	l.Insert(10, 1, []uint32{7, 8})
	l.Insert(3, 1, []uint32{1, 2, 3})
	l.Insert(6, 1, []uint32{4})
	checkContract(t, l)

	cases := []struct {
		seqID uint32
		want  []uint32
	}{
		{3, []uint32{1, 2, 3}},
		{6, []uint32{4}},
		{10, []uint32{7, 8}},
	}
	for _, tc := range cases {
		pos := l.IndexOf(tc.seqID)
		if pos == l.Len() {
			t.Fatalf("seq %d not found", tc.seqID)
		}
		got := l.OffsetsAt(pos)
		if len(got) != len(tc.want) {
			t.Fatalf("seq %d: offsets %v, want %v", tc.seqID, got, tc.want)
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("seq %d: offsets %v, want %v", tc.seqID, got, tc.want)
			}
		}
	}
}

func TestRemoveSplicesOffsets(t *testing.T) {
	l := New()
	l.Insert(1, 1, []uint32{0, 1})
	l.Insert(2, 1, []uint32{5})
	l.Insert(3, 1, []uint32{9, 10, 11})
	checkContract(t, l)

	if !l.Remove(2) {
		t.Fatal("expected remove to report presence")
	}
	checkContract(t, l)
	if l.Len() != 2 {
		t.Fatalf("len = %d, want 2", l.Len())
	}
	got := l.OffsetsAt(l.IndexOf(3))
	if len(got) != 3 || got[0] != 9 {
		t.Fatalf("offsets after remove = %v", got)
	}

	if l.Remove(42) {
		t.Fatal("removing an absent id should report false")
	}
}

func TestReinsertReplacesOffsets(t *testing.T) {
	l := New()
	l.Insert(4, 1, []uint32{1})
	l.Insert(8, 1, []uint32{2})
	l.Insert(4, 1, []uint32{6, 7})
	checkContract(t, l)

	if l.Len() != 2 {
		t.Fatalf("len = %d, want 2", l.Len())
	}
	got := l.OffsetsAt(l.IndexOf(4))
	if len(got) != 2 || got[0] != 6 || got[1] != 7 {
		t.Fatalf("offsets = %v, want [6 7]", got)
	}
}

func TestIndicesOf(t *testing.T) {
	l := New()
	for _, id := range []uint32{2, 4, 6, 8} {
		l.Insert(id, 1, []uint32{0})
	}
	probe := []uint32{1, 4, 5, 8}
	indices := make([]int, len(probe))
	l.IndicesOf(probe, indices)

	want := []int{4, 1, 4, 3}
	for i := range want {
		if indices[i] != want[i] {
			t.Fatalf("indices = %v, want %v", indices, want)
		}
	}
}

func TestSetAlgebra(t *testing.T) {
	a := []uint32{1, 3, 5, 7}
	b := []uint32{3, 4, 5, 9}

	inter := Intersect(a, b)
	if len(inter) != 2 || inter[0] != 3 || inter[1] != 5 {
		t.Fatalf("intersect = %v", inter)
	}

	union := Union(a, b)
	wantUnion := []uint32{1, 3, 4, 5, 7, 9}
	if len(union) != len(wantUnion) {
		t.Fatalf("union = %v", union)
	}
	for i := range wantUnion {
		if union[i] != wantUnion[i] {
			t.Fatalf("union = %v", union)
		}
	}

	excl := Exclude(a, b)
	if len(excl) != 2 || excl[0] != 1 || excl[1] != 7 {
		t.Fatalf("exclude = %v", excl)
	}
}

func TestDecodeOffsetsPlain(t *testing.T) {
	decoded := DecodeOffsets([]uint32{0, 4, 9})
	if len(decoded) != 1 {
		t.Fatalf("decoded = %v", decoded)
	}
	if got := decoded[0]; len(got) != 3 || got[2] != 9 {
		t.Fatalf("element 0 = %v", got)
	}
}

func TestDecodeOffsetsArray(t *testing.T) {
	// element 0 has positions [1 3], element 2 has position [0]
	encoded := []uint32{1, 3, 3, 0, 0, 0, 2}
	decoded := DecodeOffsets(encoded)
	if len(decoded) != 2 {
		t.Fatalf("decoded = %v", decoded)
	}
	if got := decoded[0]; len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("element 0 = %v", got)
	}
	if got := decoded[2]; len(got) != 1 || got[0] != 0 {
		t.Fatalf("element 2 = %v", got)
	}
}

package art

import (
	"fmt"
	"testing"
)

func insertKey(t *Tree, key string, seqID uint32) {
	t.Insert([]byte(key), seqID, int64(seqID), []uint32{0})
}

func TestExactSearch(t *testing.T) {
	tree := New()
	keys := []string{"quick", "quicker", "quickest", "brown", "fox", "the", "then", "theory"}
	for i, k := range keys {
		insertKey(tree, k, uint32(i+1))
	}
	if tree.Size() != len(keys) {
		t.Fatalf("size = %d, want %d", tree.Size(), len(keys))
	}

	for _, k := range keys {
		leaf := tree.Search([]byte(k))
		if leaf == nil {
			t.Fatalf("key %q not found", k)
		}
		if string(leaf.Key) != k {
			t.Fatalf("found %q, want %q", leaf.Key, k)
		}
	}
	if tree.Search([]byte("quic")) != nil {
		t.Fatal("prefix must not match exactly")
	}
	if tree.Search([]byte("zebra")) != nil {
		t.Fatal("absent key matched")
	}
}

func TestInsertSharedPrefixSplit(t *testing.T) {
	tree := New()
	insertKey(tree, "romane", 1)
	insertKey(tree, "romanus", 2)
	insertKey(tree, "romulus", 3)
	insertKey(tree, "rubens", 4)
	insertKey(tree, "ruber", 5)
	insertKey(tree, "rubicon", 6)

	for _, k := range []string{"romane", "romanus", "romulus", "rubens", "ruber", "rubicon"} {
		if tree.Search([]byte(k)) == nil {
			t.Fatalf("key %q lost after splits", k)
		}
	}
}

func TestKeyIsPrefixOfAnother(t *testing.T) {
	tree := New()
	insertKey(tree, "foo", 1)
	insertKey(tree, "food", 2)
	insertKey(tree, "fo", 3)

	for _, k := range []string{"fo", "foo", "food"} {
		leaf := tree.Search([]byte(k))
		if leaf == nil || string(leaf.Key) != k {
			t.Fatalf("key %q not retrievable", k)
		}
	}
}

func TestDeleteCollapses(t *testing.T) {
	tree := New()
	insertKey(tree, "alpha", 1)
	insertKey(tree, "alpine", 2)
	insertKey(tree, "beta", 3)

	if !tree.Delete([]byte("alpha")) {
		t.Fatal("delete reported absence")
	}
	if tree.Search([]byte("alpha")) != nil {
		t.Fatal("deleted key still found")
	}
	if tree.Search([]byte("alpine")) == nil || tree.Search([]byte("beta")) == nil {
		t.Fatal("sibling keys lost on delete")
	}
	if tree.Delete([]byte("alpha")) {
		t.Fatal("double delete reported presence")
	}
	if tree.Size() != 2 {
		t.Fatalf("size = %d, want 2", tree.Size())
	}
}

func TestNodeGrowth(t *testing.T) {
	tree := New()
	// 256 distinct first bytes force growth through node4/16/48 to node256
	for i := 0; i < 256; i++ {
		key := fmt.Sprintf("%c-key", byte(i))
		insertKey(tree, key, uint32(i+1))
	}
	for i := 0; i < 256; i++ {
		key := fmt.Sprintf("%c-key", byte(i))
		if tree.Search([]byte(key)) == nil {
			t.Fatalf("key %q lost during node growth", key)
		}
	}
}

func TestFuzzyExactCost(t *testing.T) {
	tree := New()
	insertKey(tree, "quick", 1)
	insertKey(tree, "quack", 2)
	insertKey(tree, "track", 3)

	leaves := tree.FuzzySearch([]byte("quik"), 1, 1, 10, Frequency, false)
	if len(leaves) != 1 || string(leaves[0].Key) != "quick" {
		t.Fatalf("cost-1 candidates = %v", leafKeyStrings(leaves))
	}

	leaves = tree.FuzzySearch([]byte("quick"), 0, 0, 10, Frequency, false)
	if len(leaves) != 1 || string(leaves[0].Key) != "quick" {
		t.Fatalf("cost-0 candidates = %v", leafKeyStrings(leaves))
	}

	// at cost 2, quack is reachable from quik (substitute + insert)
	leaves = tree.FuzzySearch([]byte("quik"), 2, 2, 10, Frequency, false)
	found := map[string]bool{}
	for _, l := range leaves {
		found[string(l.Key)] = true
	}
	if !found["quack"] {
		t.Fatalf("cost-2 candidates = %v", leafKeyStrings(leaves))
	}
}

func TestFuzzyPrefix(t *testing.T) {
	tree := New()
	insertKey(tree, "football", 1)
	insertKey(tree, "footwear", 2)
	insertKey(tree, "fortune", 3)

	leaves := tree.FuzzySearch([]byte("foot"), 0, 0, 10, Frequency, true)
	found := map[string]bool{}
	for _, l := range leaves {
		found[string(l.Key)] = true
	}
	if !found["football"] || !found["footwear"] || found["fortune"] {
		t.Fatalf("prefix candidates = %v", leafKeyStrings(leaves))
	}
}

func TestFuzzyMaxCandidatesAndOrdering(t *testing.T) {
	tree := New()
	// "common" appears in many documents, "comma" in one
	common := tree.Insert([]byte("common"), 1, 10, []uint32{0})
	for i := uint32(2); i <= 5; i++ {
		common.Insert(i, 10, []uint32{0})
	}
	insertKey(tree, "comma", 9)

	leaves := tree.FuzzySearch([]byte("commo"), 0, 2, 1, Frequency, false)
	if len(leaves) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(leaves))
	}
	if string(leaves[0].Key) != "common" {
		t.Fatalf("frequency ordering picked %q", leaves[0].Key)
	}
}

func leafKeyStrings(leaves []*Leaf) []string {
	out := make([]string, len(leaves))
	for i, l := range leaves {
		out[i] = string(l.Key)
	}
	return out
}

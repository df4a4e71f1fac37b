package art

import (
	"fmt"
	"testing"
)

// BenchmarkInsert measures per-token insert throughput.
func BenchmarkInsert(b *testing.B) {
	tree := New()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("token-%d", i)
		tree.Insert([]byte(key), uint32(i), int64(i), []uint32{0, 1, 2})
	}
}

// BenchmarkExactSearch measures lookup latency over 10 000 keys.
func BenchmarkExactSearch(b *testing.B) {
	tree := New()
	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("token-%d", i)
		tree.Insert([]byte(key), uint32(i), int64(i), []uint32{0})
	}
	probe := []byte("token-5000")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		leaf := tree.Search(probe)
		_ = leaf
	}
}

// BenchmarkFuzzySearch measures a cost-1 fuzzy expansion over 10 000 keys.
func BenchmarkFuzzySearch(b *testing.B) {
	tree := New()
	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("token-%d", i)
		tree.Insert([]byte(key), uint32(i), int64(i), []uint32{0})
	}
	probe := []byte("token-50000")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		leaves := tree.FuzzySearch(probe, 1, 1, 10, Frequency, false)
		_ = leaves
	}
}

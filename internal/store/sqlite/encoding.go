package sqlite

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/Basilakis/kai-sub003/pkg/types"
)

// encodeEmbedding serializes v as little-endian float32
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// decodeEmbedding copies b into a new slice. Blobs that are not a whole number of floats decode to nil.
func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// ranksBefore orders by similarity descending, then record ID for stable output
func ranksBefore(a, b types.MatchResult) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	return a.Record.ID < b.Record.ID
}

// sortBySimilarity sorts results best first
func sortBySimilarity(results []types.MatchResult) {
	if len(results) <= 16 {
		insertionSort(results)
		return
	}
	sort.Slice(results, func(i, j int) bool { return ranksBefore(results[i], results[j]) })
}

func insertionSort(results []types.MatchResult) {
	for i := 1; i < len(results); i++ {
		key := results[i]
		j := i - 1
		for j >= 0 && ranksBefore(key, results[j]) {
			results[j+1] = results[j]
			j--
		}
		results[j+1] = key
	}
}

// topKResults returns the k best results in order. A min-heap keeps the scan O(n log k).
func topKResults(results []types.MatchResult, k int) []types.MatchResult {
	if k <= 0 {
		return nil
	}
	if k >= len(results) {
		sortBySimilarity(results)
		return results
	}

	heap := make([]types.MatchResult, 0, k)
	for _, r := range results {
		if len(heap) < k {
			heap = append(heap, r)
			siftUp(heap, len(heap)-1)
		} else if ranksBefore(r, heap[0]) {
			heap[0] = r
			siftDown(heap, 0)
		}
	}
	sortBySimilarity(heap)
	return heap
}

// heap[0] is the worst-ranked kept result
func siftUp(heap []types.MatchResult, i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !ranksBefore(heap[parent], heap[i]) {
			break
		}
		heap[parent], heap[i] = heap[i], heap[parent]
		i = parent
	}
}

func siftDown(heap []types.MatchResult, i int) {
	n := len(heap)
	for {
		worst := i
		left, right := 2*i+1, 2*i+2
		if left < n && ranksBefore(heap[worst], heap[left]) {
			worst = left
		}
		if right < n && ranksBefore(heap[worst], heap[right]) {
			worst = right
		}
		if worst == i {
			return
		}
		heap[i], heap[worst] = heap[worst], heap[i]
		i = worst
	}
}

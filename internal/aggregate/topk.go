package aggregate

import (
	"container/heap"
	"sort"

	"github.com/allensuvorov/logamizer/internal/model"
)

// topK is the bounded-multiset approximation from spec.md §4.4 and §9: an
// exact map capped at 4*K keys, backed by a min-heap indexing the smallest
// count so an insert of a brand-new key can evict the current minimum in
// O(log n) instead of a linear scan. Counts for keys already tracked are
// never decreased, only incremented — so once a key earns a place it can
// only climb, which is what gives the Top-K monotonicity property
// (spec.md §8, property 3) within a single run.
type topK struct {
	k       int
	cap     int
	counts  map[string]int64
	entries map[string]*heapEntry
	h       minHeap
}

type heapEntry struct {
	key   string
	count int64
	index int
}

type minHeap []*heapEntry

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	if h[i].count != h[j].count {
		return h[i].count < h[j].count
	}
	// Deterministic tie-break so eviction order is stable across runs.
	return h[i].key > h[j].key
}
func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *minHeap) Push(x any) {
	e := x.(*heapEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

func newTopK(k int) *topK {
	return &topK{
		k:       k,
		cap:     4 * k,
		counts:  make(map[string]int64),
		entries: make(map[string]*heapEntry),
	}
}

// Add records one occurrence of key.
func (t *topK) Add(key string) {
	if key == "" {
		return
	}
	if e, ok := t.entries[key]; ok {
		e.count++
		t.counts[key] = e.count
		heap.Fix(&t.h, e.index)
		return
	}
	if len(t.entries) < t.cap {
		e := &heapEntry{key: key, count: 1}
		t.entries[key] = e
		t.counts[key] = 1
		heap.Push(&t.h, e)
		return
	}
	// Map is full: evict the current minimum in favor of the new key,
	// per spec.md §4.4 ("replace the lowest-count entry on inserts of
	// unseen keys").
	min := t.h[0]
	delete(t.entries, min.key)
	delete(t.counts, min.key)
	min.key = key
	min.count = 1
	t.entries[key] = min
	t.counts[key] = 1
	heap.Fix(&t.h, 0)
}

// Snapshot returns the current top-K entries, descending by count with a
// lexicographic tie-break, per spec.md §3.
func (t *topK) Snapshot() []model.TopEntry {
	all := make([]model.TopEntry, 0, len(t.counts))
	for k, c := range t.counts {
		all = append(all, model.TopEntry{Key: k, Count: c})
	}
	sortTop(all)
	if len(all) > t.k {
		all = all[:t.k]
	}
	return all
}

func sortTop(entries []model.TopEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
}

// MergeTop combines two Top-K snapshots by summing counts per key and
// retaining the top K by count with the documented lexicographic
// tie-break (spec.md §4.4: "commutative-additive" merge for concurrent
// flushes).
func MergeTop(a, b []model.TopEntry, k int) []model.TopEntry {
	sums := make(map[string]int64, len(a)+len(b))
	for _, e := range a {
		sums[e.Key] += e.Count
	}
	for _, e := range b {
		sums[e.Key] += e.Count
	}
	out := make([]model.TopEntry, 0, len(sums))
	for key, count := range sums {
		out = append(out, model.TopEntry{Key: key, Count: count})
	}
	sortTop(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

package nilsimsa_test

import (
	"testing"

	"github.com/dwarfs-go/dwarfs/internal/nilsimsa"
)

func TestOrderEmpty(t *testing.T) {
	if got := nilsimsa.Order(nil, nilsimsa.DefaultOptions); got != nil {
		t.Fatalf("Order(nil) = %v, want nil", got)
	}
}

func TestOrderIsAPermutation(t *testing.T) {
	items := make([]nilsimsa.Item, 0, 40)
	for i := 0; i < 40; i++ {
		items = append(items, nilsimsa.Item{
			ID:     i,
			Digest: nilsimsa.Sum([]byte{byte(i), byte(i * 3), byte(i * 7)}),
			Weight: uint64(i + 1),
			Key:    nilsimsa.SecondaryKey{Size: uint64(i + 1)},
		})
	}

	order := nilsimsa.Order(items, nilsimsa.DefaultOptions)
	if len(order) != len(items) {
		t.Fatalf("Order returned %d ids, want %d", len(order), len(items))
	}
	seen := make(map[int]bool, len(order))
	for _, id := range order {
		if seen[id] {
			t.Fatalf("id %d appears more than once in Order output", id)
		}
		seen[id] = true
	}
	for i := range items {
		if !seen[i] {
			t.Fatalf("id %d missing from Order output", i)
		}
	}
}

// TestOrderDuplicatesAreContiguous checks property 5: items sharing an
// identical signature must appear contiguously, representative first,
// then duplicates sorted by size descending then reverse-path.
func TestOrderDuplicatesAreContiguous(t *testing.T) {
	dup := nilsimsa.Sum([]byte("duplicate payload shared by several items"))
	unique1 := nilsimsa.Sum([]byte("a completely different unrelated blob of bytes, number one"))
	unique2 := nilsimsa.Sum([]byte("a completely different unrelated blob of bytes, number two"))

	items := []nilsimsa.Item{
		{ID: 0, Digest: unique1, Weight: 10, Key: nilsimsa.SecondaryKey{Size: 10, ReversePath: "a"}},
		{ID: 1, Digest: dup, Weight: 30, Key: nilsimsa.SecondaryKey{Size: 30, ReversePath: "b"}},
		{ID: 2, Digest: dup, Weight: 50, Key: nilsimsa.SecondaryKey{Size: 50, ReversePath: "c"}},
		{ID: 3, Digest: unique2, Weight: 20, Key: nilsimsa.SecondaryKey{Size: 20, ReversePath: "d"}},
		{ID: 4, Digest: dup, Weight: 50, Key: nilsimsa.SecondaryKey{Size: 50, ReversePath: "a"}},
	}

	order := nilsimsa.Order(items, nilsimsa.DefaultOptions)

	pos := make(map[int]int, len(order))
	for i, id := range order {
		pos[id] = i
	}

	// The three duplicate ids (1, 2, 4) must be consecutive positions.
	positions := []int{pos[1], pos[2], pos[4]}
	min, max := positions[0], positions[0]
	for _, p := range positions {
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
	}
	if max-min != 2 {
		t.Fatalf("duplicate group not contiguous: positions=%v", positions)
	}

	// Within the group: size desc (50, 50, 30) then reverse-path asc for ties (a before c).
	wantOrder := []int{4, 2, 1}
	gotOrder := order[min : max+1]
	for i, id := range gotOrder {
		if id != wantOrder[i] {
			t.Fatalf("duplicate group order = %v, want %v", gotOrder, wantOrder)
		}
	}
}

func TestOrderGroupsSimilarItemsAdjacently(t *testing.T) {
	// Two clusters of near-identical text vs. unrelated content; after
	// ordering, items from the same cluster should end up closer
	// together than interleaved with the other cluster.
	clusterA := [][]byte{
		[]byte("alpha file one with shared boilerplate text repeated for length"),
		[]byte("alpha file two with shared boilerplate text repeated for length"),
		[]byte("alpha file three with shared boilerplate text repeated for length"),
	}
	clusterB := [][]byte{
		[]byte("zzz totally different binary-looking content 918273645 !@#$%^&*"),
		[]byte("zzz totally different binary-looking content 918273646 !@#$%^&*"),
		[]byte("zzz totally different binary-looking content 918273647 !@#$%^&*"),
	}

	var items []nilsimsa.Item
	id := 0
	group := map[int]string{}
	for _, b := range clusterA {
		items = append(items, nilsimsa.Item{ID: id, Digest: nilsimsa.Sum(b), Weight: uint64(len(b)), Key: nilsimsa.SecondaryKey{Size: uint64(len(b))}})
		group[id] = "A"
		id++
	}
	for _, b := range clusterB {
		items = append(items, nilsimsa.Item{ID: id, Digest: nilsimsa.Sum(b), Weight: uint64(len(b)), Key: nilsimsa.SecondaryKey{Size: uint64(len(b))}})
		group[id] = "B"
		id++
	}

	order := nilsimsa.Order(items, nilsimsa.DefaultOptions)

	// Count how many adjacent pairs cross cluster boundaries; a good
	// ordering should group same-cluster items together, so there
	// should be at most a couple of crossings (entering/leaving each
	// cluster), not an alternating pattern.
	crossings := 0
	for i := 1; i < len(order); i++ {
		if group[order[i]] != group[order[i-1]] {
			crossings++
		}
	}
	if crossings > 2 {
		t.Fatalf("expected similar items to cluster together (<=2 boundary crossings), got %d crossings in order %v", crossings, order)
	}
}
